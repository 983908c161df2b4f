package budget

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/solfunk/internal/errs"
	"github.com/ajitpratap0/solfunk/internal/state"
)

func day(offset int) string {
	return time.Now().UTC().AddDate(0, 0, offset).Format("2006-01-02")
}

func TestNew_FreshState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budget.json")

	g, err := New(path, 2_500_000, 5_000_000, zerolog.Nop())
	require.NoError(t, err)

	snap := g.Snapshot()
	assert.Equal(t, day(0), snap.Date)
	assert.Equal(t, int64(0), snap.CallsUsed)
	assert.Equal(t, int64(0), snap.RolloverBank)
	assert.Equal(t, int64(2_500_000), snap.TotalBudget)
}

func TestRollover_BanksUnusedBudget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budget.json")

	// Yesterday ended with 1.5M of the 2.5M budget unused
	require.NoError(t, state.SaveJSON(path, State{
		Date:        day(-1),
		CallsUsed:   1_000_000,
		PerMethod:   map[string]int64{"getBalance": 1_000_000},
		TotalBudget: 2_500_000,
	}))

	g, err := New(path, 2_500_000, 5_000_000, zerolog.Nop())
	require.NoError(t, err)

	snap := g.Snapshot()
	assert.Equal(t, day(0), snap.Date)
	assert.Equal(t, int64(0), snap.CallsUsed)
	assert.Equal(t, int64(1_500_000), snap.RolloverBank)
	assert.Equal(t, int64(4_000_000), snap.TotalBudget)
	assert.Empty(t, snap.PerMethod)
}

func TestRollover_BankIsCapped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budget.json")

	require.NoError(t, state.SaveJSON(path, State{
		Date:         day(-1),
		CallsUsed:    0,
		RolloverBank: 4_800_000,
		TotalBudget:  7_300_000,
	}))

	g, err := New(path, 2_500_000, 5_000_000, zerolog.Nop())
	require.NoError(t, err)

	snap := g.Snapshot()
	assert.Equal(t, int64(5_000_000), snap.RolloverBank)
	assert.Equal(t, int64(7_500_000), snap.TotalBudget)
}

func TestRollover_MidRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budget.json")

	g, err := New(path, 100, 1000, zerolog.Nop())
	require.NoError(t, err)

	for i := 0; i < 40; i++ {
		g.Record("getBalance")
	}
	assert.Equal(t, int64(60), g.Remaining())

	// Jump the clock past midnight UTC
	g.now = func() time.Time { return time.Now().UTC().AddDate(0, 0, 1) }

	assert.True(t, g.MayCall("getBalance"))
	snap := g.Snapshot()
	assert.Equal(t, int64(0), snap.CallsUsed)
	assert.Equal(t, int64(60), snap.RolloverBank)
	assert.Equal(t, int64(160), snap.TotalBudget)
}

func TestMayCall_DeniesWhenExhausted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budget.json")

	g, err := New(path, 2, 10, zerolog.Nop())
	require.NoError(t, err)

	assert.True(t, g.MayCall("sendTransaction"))
	g.Record("sendTransaction")
	assert.True(t, g.MayCall("sendTransaction"))
	g.Record("sendTransaction")

	assert.False(t, g.MayCall("sendTransaction"))
	assert.True(t, g.Exhausted())
	assert.Equal(t, int64(0), g.Remaining())
}

func TestNew_ExhaustedAtStartup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budget.json")

	require.NoError(t, state.SaveJSON(path, State{
		Date:        day(0),
		CallsUsed:   2_500_000,
		TotalBudget: 2_500_000,
	}))

	_, err := New(path, 2_500_000, 5_000_000, zerolog.Nop())
	assert.ErrorIs(t, err, errs.ErrBudgetExhausted)
}

func TestWarnOnce_At80Percent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budget.json")

	g, err := New(path, 10, 100, zerolog.Nop())
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		g.Record("getBalance")
	}
	assert.False(t, g.Snapshot().Warned)

	g.Record("getBalance")
	assert.True(t, g.Snapshot().Warned)

	// Stays set; no second warning trigger
	g.Record("getBalance")
	assert.True(t, g.Snapshot().Warned)
}

func TestPersistence_AcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budget.json")

	g, err := New(path, 1000, 5000, zerolog.Nop())
	require.NoError(t, err)
	g.Record("getBalance")
	g.Record("getBalance")
	g.Record("getTokenAccountsByOwner")
	require.NoError(t, g.Close())

	g2, err := New(path, 1000, 5000, zerolog.Nop())
	require.NoError(t, err)

	snap := g2.Snapshot()
	assert.Equal(t, int64(3), snap.CallsUsed)
	assert.Equal(t, int64(2), snap.PerMethod["getBalance"])
	assert.Equal(t, int64(1), snap.PerMethod["getTokenAccountsByOwner"])
}

func TestSnapshot_IsACopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budget.json")

	g, err := New(path, 100, 100, zerolog.Nop())
	require.NoError(t, err)
	g.Record("getBalance")

	snap := g.Snapshot()
	snap.PerMethod["getBalance"] = 999

	assert.Equal(t, int64(1), g.Snapshot().PerMethod["getBalance"])
}
