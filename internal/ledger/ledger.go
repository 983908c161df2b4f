// Package ledger keeps the authoritative local view of the wallet's SOL
// balance, verified against the chain after every trade and on a timer.
package ledger

import (
	"context"
	"math"
	"os"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solfunk/internal/metrics"
	"github.com/ajitpratap0/solfunk/internal/state"
)

const (
	lamportsPerSOL = 1_000_000_000

	// Corrections smaller than this are noise, not discrepancies.
	tolerance = 0.0001

	forceVerifyAfter     = 120 * time.Second
	periodicInterval     = 60 * time.Second
	discrepancyWarnAfter = 3
)

// TxType classifies a balance mutation.
type TxType string

const (
	TxBuy  TxType = "buy"
	TxSell TxType = "sell"
	TxFee  TxType = "fee"
)

// BalanceSource reads the chain balance. Satisfied by chain.Client.
type BalanceSource interface {
	GetBalance(ctx context.Context, owner solana.PublicKey) (uint64, error)
}

type persisted struct {
	Balance       float64   `json:"balance"`
	LastVerified  time.Time `json:"last_verified"`
	Discrepancies int64     `json:"discrepancies"`
}

// Ledger is the local SOL balance authority.
type Ledger struct {
	source BalanceSource
	owner  solana.PublicKey
	path   string
	log    zerolog.Logger

	mu            sync.Mutex
	balance       float64
	lastVerified  time.Time
	discrepancies int64
	verifying     bool
	now           func() time.Time
}

// New initialises the ledger with one fresh chain read. The persisted
// file only carries the discrepancy counter across restarts; the
// balance itself always starts from the chain.
func New(ctx context.Context, source BalanceSource, owner solana.PublicKey, path string, log zerolog.Logger) (*Ledger, error) {
	l := &Ledger{
		source: source,
		owner:  owner,
		path:   path,
		now:    time.Now,
		log:    log.With().Str("component", "ledger").Logger(),
	}

	if path != "" {
		var p persisted
		if err := state.LoadJSON(path, &p); err == nil {
			l.discrepancies = p.Discrepancies
		} else if !os.IsNotExist(err) {
			l.log.Warn().Err(err).Msg("Could not read ledger state, starting clean")
		}
	}

	lamports, err := source.GetBalance(ctx, owner)
	if err != nil {
		return nil, err
	}
	l.balance = float64(lamports) / lamportsPerSOL
	l.lastVerified = l.now()
	metrics.SolBalance.Set(l.balance)

	l.log.Info().Float64("balance_sol", l.balance).Msg("Ledger initialised from chain")
	l.persist()
	return l, nil
}

// RecordTx applies a trade's effect to the local balance and triggers a
// post-transaction verification in the background.
func (l *Ledger) RecordTx(typ TxType, amount, fee float64) {
	l.mu.Lock()
	switch typ {
	case TxBuy:
		l.balance -= amount + fee
	case TxSell:
		l.balance += amount - fee
	case TxFee:
		l.balance -= amount + fee
	}
	if l.balance < 0 {
		l.balance = 0
	}
	balance := l.balance
	l.mu.Unlock()

	metrics.SolBalance.Set(balance)
	l.log.Debug().
		Str("type", string(typ)).
		Float64("amount", amount).
		Float64("fee", fee).
		Float64("balance_sol", balance).
		Msg("Recorded transaction")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = l.Verify(ctx, "post-tx")
	}()
}

// Balance returns the ledger value, forcing a verification first when
// the last successful one is too old.
func (l *Ledger) Balance(ctx context.Context) float64 {
	l.mu.Lock()
	stale := l.now().Sub(l.lastVerified) > forceVerifyAfter
	balance := l.balance
	l.mu.Unlock()

	if stale {
		if err := l.Verify(ctx, "forced"); err == nil {
			l.mu.Lock()
			balance = l.balance
			l.mu.Unlock()
		}
	}
	return balance
}

// Verify compares the local balance against the chain and corrects it
// when they diverge beyond tolerance. Only one verification runs at a
// time; concurrent calls return immediately.
func (l *Ledger) Verify(ctx context.Context, reason string) error {
	l.mu.Lock()
	if l.verifying {
		l.mu.Unlock()
		return nil
	}
	l.verifying = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.verifying = false
		l.mu.Unlock()
	}()

	lamports, err := l.source.GetBalance(ctx, l.owner)
	if err != nil {
		// Budget denial or transport failure: keep serving the local value
		l.log.Debug().Err(err).Str("reason", reason).Msg("Balance verification skipped")
		return err
	}
	chainBalance := float64(lamports) / lamportsPerSOL

	l.mu.Lock()
	delta := chainBalance - l.balance
	corrected := math.Abs(delta) > tolerance
	if corrected {
		l.balance = chainBalance
		l.discrepancies++
	}
	count := l.discrepancies
	l.lastVerified = l.now()
	balance := l.balance
	l.mu.Unlock()

	metrics.SolBalance.Set(balance)
	if corrected {
		metrics.BalanceDiscrepancies.Inc()
		evt := l.log.Info()
		if count > discrepancyWarnAfter {
			evt = l.log.Warn()
		}
		evt.
			Str("reason", reason).
			Float64("delta_sol", delta).
			Float64("balance_sol", balance).
			Int64("discrepancies", count).
			Msg("Corrected ledger balance from chain")
		l.persist()
	}
	return nil
}

// Run drives the periodic verifier until the context ends.
func (l *Ledger) Run(ctx context.Context) {
	ticker := time.NewTicker(periodicInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = l.Verify(ctx, "periodic")
		}
	}
}

// Discrepancies returns how many corrections have been applied.
func (l *Ledger) Discrepancies() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.discrepancies
}

// Close persists the final ledger view.
func (l *Ledger) Close() error {
	l.persist()
	return nil
}

func (l *Ledger) persist() {
	if l.path == "" {
		return
	}
	l.mu.Lock()
	p := persisted{
		Balance:       l.balance,
		LastVerified:  l.lastVerified,
		Discrepancies: l.discrepancies,
	}
	l.mu.Unlock()

	if err := state.SaveJSON(l.path, p); err != nil {
		l.log.Error().Err(err).Msg("Failed to persist ledger state")
	}
}
