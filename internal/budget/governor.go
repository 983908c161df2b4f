// Package budget enforces the daily RPC call budget with a rollover bank.
//
// Every RPC caller asks MayCall before issuing a request and Record after.
// Unused budget carries into the next UTC day up to a capped bank, so a
// quiet Sunday buys headroom for a busy Monday.
package budget

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solfunk/internal/errs"
	"github.com/ajitpratap0/solfunk/internal/metrics"
	"github.com/ajitpratap0/solfunk/internal/state"
)

const (
	warnFraction = 0.8
	// Persist every N records so a crash loses at most a sliver of the count.
	persistEvery = 50
)

// State is the persisted view of one budget day.
type State struct {
	Date         string           `json:"date"`
	CallsUsed    int64            `json:"calls_used"`
	PerMethod    map[string]int64 `json:"per_method"`
	RolloverBank int64            `json:"rollover_bank"`
	TotalBudget  int64            `json:"total_budget"`
	Warned       bool             `json:"warned"`
}

// Governor is the per-process budget singleton.
type Governor struct {
	mu      sync.Mutex
	base    int64
	maxBank int64
	path    string
	st      State
	pending int
	now     func() time.Time
	log     zerolog.Logger
}

// New loads persisted budget state (or starts fresh) and applies any
// pending day rollover. Returns ErrBudgetExhausted when today's budget
// is already spent, so startup can abort instead of running blind.
func New(path string, baseDaily, maxBank int64, log zerolog.Logger) (*Governor, error) {
	g := &Governor{
		base:    baseDaily,
		maxBank: maxBank,
		path:    path,
		now:     time.Now,
		log:     log.With().Str("component", "budget").Logger(),
	}

	if err := state.LoadJSON(path, &g.st); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load budget state: %w", err)
		}
		g.st = g.freshDay(g.today())
		g.log.Info().Int64("total_budget", g.st.TotalBudget).Msg("Starting with a fresh budget day")
	}
	if g.st.PerMethod == nil {
		g.st.PerMethod = make(map[string]int64)
	}

	g.mu.Lock()
	g.rollIfNeeded()
	exhausted := g.st.CallsUsed >= g.st.TotalBudget
	g.publishGauges()
	g.mu.Unlock()

	if err := g.Flush(); err != nil {
		return nil, err
	}
	if exhausted {
		return nil, fmt.Errorf("%w: %d of %d calls used for %s",
			errs.ErrBudgetExhausted, g.st.CallsUsed, g.st.TotalBudget, g.st.Date)
	}

	g.log.Info().
		Str("date", g.st.Date).
		Int64("calls_used", g.st.CallsUsed).
		Int64("rollover_bank", g.st.RolloverBank).
		Int64("total_budget", g.st.TotalBudget).
		Msg("Budget governor ready")
	return g, nil
}

// MayCall reports whether one more RPC fits in today's budget.
func (g *Governor) MayCall(method string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollIfNeeded()
	if g.st.CallsUsed >= g.st.TotalBudget {
		metrics.RPCBudgetDenied.Inc()
		return false
	}
	return true
}

// Record counts one issued RPC against the budget.
func (g *Governor) Record(method string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollIfNeeded()
	g.st.CallsUsed++
	g.st.PerMethod[method]++
	metrics.RPCCalls.WithLabelValues(method).Inc()
	metrics.RPCBudgetRemaining.Set(float64(g.st.TotalBudget - g.st.CallsUsed))

	if !g.st.Warned && float64(g.st.CallsUsed) >= warnFraction*float64(g.st.TotalBudget) {
		g.st.Warned = true
		g.log.Warn().
			Int64("calls_used", g.st.CallsUsed).
			Int64("total_budget", g.st.TotalBudget).
			Msg("RPC budget at 80 percent")
		g.persistLocked()
		return
	}

	g.pending++
	if g.pending >= persistEvery {
		g.persistLocked()
	}
}

// Remaining returns calls left in today's budget, never negative.
func (g *Governor) Remaining() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollIfNeeded()
	if r := g.st.TotalBudget - g.st.CallsUsed; r > 0 {
		return r
	}
	return 0
}

// Exhausted reports whether today's budget is spent.
func (g *Governor) Exhausted() bool {
	return g.Remaining() == 0
}

// Snapshot returns a copy of the current state for status reporting.
func (g *Governor) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollIfNeeded()
	cp := g.st
	cp.PerMethod = make(map[string]int64, len(g.st.PerMethod))
	for k, v := range g.st.PerMethod {
		cp.PerMethod[k] = v
	}
	return cp
}

// Flush persists the current state immediately.
func (g *Governor) Flush() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.persistLocked()
}

// Close flushes state on shutdown.
func (g *Governor) Close() error {
	return g.Flush()
}

func (g *Governor) today() string {
	return g.now().UTC().Format("2006-01-02")
}

func (g *Governor) freshDay(date string) State {
	return State{
		Date:        date,
		PerMethod:   make(map[string]int64),
		TotalBudget: g.base,
	}
}

// rollIfNeeded applies the day-boundary rollover. Caller holds the lock.
func (g *Governor) rollIfNeeded() {
	day := g.today()
	if g.st.Date == day {
		return
	}

	carry := g.st.TotalBudget - g.st.CallsUsed
	if carry < 0 {
		carry = 0
	}
	bank := g.st.RolloverBank + carry
	if bank > g.maxBank {
		bank = g.maxBank
	}

	prev := g.st.Date
	g.st = State{
		Date:         day,
		PerMethod:    make(map[string]int64),
		RolloverBank: bank,
		TotalBudget:  g.base + bank,
	}
	g.publishGauges()
	g.persistLocked()

	g.log.Info().
		Str("previous_day", prev).
		Int64("rollover_bank", bank).
		Int64("total_budget", g.st.TotalBudget).
		Msg("Budget rolled to a new day")
}

func (g *Governor) publishGauges() {
	metrics.RPCBudgetRemaining.Set(float64(g.st.TotalBudget - g.st.CallsUsed))
	metrics.RPCRolloverBank.Set(float64(g.st.RolloverBank))
}

func (g *Governor) persistLocked() error {
	g.pending = 0
	if err := state.SaveJSON(g.path, g.st); err != nil {
		g.log.Error().Err(err).Msg("Failed to persist budget state")
		return err
	}
	return nil
}
