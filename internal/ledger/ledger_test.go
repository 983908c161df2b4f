package ledger

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOwner = solana.MustPublicKeyFromBase58("11111111111111111111111111111111")

type fakeSource struct {
	mu       sync.Mutex
	lamports uint64
	err      error
	calls    int
	block    chan struct{}
}

func (f *fakeSource) set(sol float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lamports = uint64(math.Round(sol * lamportsPerSOL))
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSource) GetBalance(ctx context.Context, _ solana.PublicKey) (uint64, error) {
	f.mu.Lock()
	f.calls++
	lamports, err, block := f.lamports, f.err, f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err != nil {
		return 0, err
	}
	return lamports, nil
}

func newTestLedger(t *testing.T, src *fakeSource) *Ledger {
	t.Helper()
	l, err := New(context.Background(), src, testOwner, "", zerolog.Nop())
	require.NoError(t, err)
	return l
}

func TestNew_InitialisesFromChain(t *testing.T) {
	src := &fakeSource{}
	src.set(5.0)

	l := newTestLedger(t, src)

	assert.InDelta(t, 5.0, l.Balance(context.Background()), 1e-9)
	assert.Equal(t, 1, src.callCount())
	assert.Equal(t, int64(0), l.Discrepancies())
}

func TestNew_FailsWithoutChainRead(t *testing.T) {
	src := &fakeSource{}
	src.setErr(errors.New("rpc down"))

	_, err := New(context.Background(), src, testOwner, "", zerolog.Nop())
	require.Error(t, err)
}

func TestRecordTx_AdjustsBalance(t *testing.T) {
	src := &fakeSource{}
	src.set(5.0)
	l := newTestLedger(t, src)

	// Keep the fake in step so each post-tx verification agrees, and
	// wait for it to land before moving the chain value again.
	awaitCalls := func(n int) {
		require.Eventually(t, func() bool {
			return src.callCount() >= n
		}, time.Second, 5*time.Millisecond)
	}

	src.set(3.99)
	l.RecordTx(TxBuy, 1.0, 0.01)
	assert.InDelta(t, 3.99, l.Balance(context.Background()), 1e-9)
	awaitCalls(2)

	src.set(4.98)
	l.RecordTx(TxSell, 1.0, 0.01)
	assert.InDelta(t, 4.98, l.Balance(context.Background()), 1e-9)
	awaitCalls(3)

	src.set(4.975)
	l.RecordTx(TxFee, 0, 0.005)
	assert.InDelta(t, 4.975, l.Balance(context.Background()), 1e-9)
	awaitCalls(4)

	assert.Equal(t, int64(0), l.Discrepancies())
}

func TestVerify_CorrectsDiscrepancy(t *testing.T) {
	src := &fakeSource{}
	src.set(5.0)
	l := newTestLedger(t, src)

	src.set(4.5)
	require.NoError(t, l.Verify(context.Background(), "periodic"))

	assert.InDelta(t, 4.5, l.Balance(context.Background()), 1e-9)
	assert.Equal(t, int64(1), l.Discrepancies())

	// Agreeing values leave the counter alone.
	require.NoError(t, l.Verify(context.Background(), "periodic"))
	assert.Equal(t, int64(1), l.Discrepancies())
}

func TestVerify_IgnoresDust(t *testing.T) {
	src := &fakeSource{}
	src.set(5.0)
	l := newTestLedger(t, src)

	src.set(5.00005)
	require.NoError(t, l.Verify(context.Background(), "periodic"))

	assert.InDelta(t, 5.0, l.Balance(context.Background()), 1e-9)
	assert.Equal(t, int64(0), l.Discrepancies())
}

func TestBalance_ForcesVerifyWhenStale(t *testing.T) {
	src := &fakeSource{}
	src.set(5.0)
	l := newTestLedger(t, src)

	src.set(4.2)
	l.now = func() time.Time { return time.Now().Add(3 * time.Minute) }

	assert.InDelta(t, 4.2, l.Balance(context.Background()), 1e-9)
	assert.Equal(t, 2, src.callCount())
	assert.Equal(t, int64(1), l.Discrepancies())
}

func TestBalance_ServesStaleOnVerifyFailure(t *testing.T) {
	src := &fakeSource{}
	src.set(5.0)
	l := newTestLedger(t, src)

	src.setErr(errors.New("budget exhausted"))
	l.now = func() time.Time { return time.Now().Add(3 * time.Minute) }

	assert.InDelta(t, 5.0, l.Balance(context.Background()), 1e-9)
}

func TestVerify_SingleFlight(t *testing.T) {
	src := &fakeSource{}
	src.set(5.0)
	l := newTestLedger(t, src)

	block := make(chan struct{})
	src.mu.Lock()
	src.block = block
	src.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- l.Verify(context.Background(), "periodic")
	}()

	// Wait until the first verification is holding the flag.
	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.verifying
	}, time.Second, 5*time.Millisecond)

	// A concurrent verification returns immediately without an RPC call.
	require.NoError(t, l.Verify(context.Background(), "post-tx"))
	assert.Equal(t, 2, src.callCount())

	close(block)
	require.NoError(t, <-done)
}

func TestPersistence_KeepsDiscrepancyCounter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	src := &fakeSource{}
	src.set(5.0)

	l, err := New(context.Background(), src, testOwner, path, zerolog.Nop())
	require.NoError(t, err)

	src.set(4.0)
	require.NoError(t, l.Verify(context.Background(), "periodic"))
	src.set(3.0)
	require.NoError(t, l.Verify(context.Background(), "periodic"))
	require.NoError(t, l.Close())

	l2, err := New(context.Background(), src, testOwner, path, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(2), l2.Discrepancies())
	assert.InDelta(t, 3.0, l2.Balance(context.Background()), 1e-9)
}
