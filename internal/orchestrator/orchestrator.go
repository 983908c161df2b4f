// Package orchestrator runs the trading agent: the scan loop feeding
// the decision pipeline, the periodic jobs, and the lifecycle around
// every other manager.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solfunk/internal/alerts"
	"github.com/ajitpratap0/solfunk/internal/api"
	"github.com/ajitpratap0/solfunk/internal/budget"
	"github.com/ajitpratap0/solfunk/internal/chain"
	"github.com/ajitpratap0/solfunk/internal/config"
	"github.com/ajitpratap0/solfunk/internal/discovery"
	"github.com/ajitpratap0/solfunk/internal/events"
	"github.com/ajitpratap0/solfunk/internal/learner"
	"github.com/ajitpratap0/solfunk/internal/llm"
	"github.com/ajitpratap0/solfunk/internal/market"
	"github.com/ajitpratap0/solfunk/internal/positions"
	"github.com/ajitpratap0/solfunk/internal/risk"
	"github.com/ajitpratap0/solfunk/internal/strategy"
	"github.com/ajitpratap0/solfunk/internal/swap"
	"github.com/ajitpratap0/solfunk/internal/validator"
)

// Agent states.
const (
	StateInit     = "INIT"
	StateRunning  = "RUNNING"
	StateStopping = "STOPPING"
)

// raydiumAMMProgram is the pool program whose logs announce new pools.
var raydiumAMMProgram = solana.MustPublicKeyFromBase58("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8")

const (
	healthInterval = time.Minute
	shutdownGrace  = 2 * time.Second
)

// Discoverer produces the candidate batch for one scan cycle.
// Satisfied by *discovery.Aggregator.
type Discoverer interface {
	Discover(ctx context.Context) []discovery.Candidate
}

// TokenChecker is the base validation gate. Satisfied by
// *validator.Validator; nil skips validation.
type TokenChecker interface {
	Validate(ctx context.Context, mint string) validator.Result
}

// Decider runs the strategy ensemble. Satisfied by
// *strategy.Combiner.
type Decider interface {
	Decide(ctx context.Context, view strategy.TokenView) strategy.Decision
}

// RiskGate is the capital-protection check. Satisfied by
// *risk.Manager.
type RiskGate interface {
	Evaluate(ctx context.Context, mkt *market.Metrics, pf risk.Portfolio, pos *risk.PositionState) risk.Assessment
}

// Learn is the slice of the adaptive learner the pipeline consults.
// Satisfied by *learner.Learner.
type Learn interface {
	SelectPattern(candidates []string) (string, bool)
	AdjustConfidence(base float64, pattern, state string, c learner.Context) (float64, []string)
	Snapshot() learner.Snapshot
}

// EntryGate is the optional LLM final gate. Satisfied by
// *llm.Validator; nil approves on strategy conviction alone.
type EntryGate interface {
	ValidateEntry(ctx context.Context, req llm.EntryRequest) llm.Verdict
}

// Trader executes swaps. Satisfied by *swap.Executor.
type Trader interface {
	Execute(ctx context.Context, targetMint string, solAmount float64, opts swap.Options) (*swap.Result, error)
	ExecuteRoundTrip(ctx context.Context, mint string, solAmount float64, opts swap.Options) (*swap.Result, error)
	ExecuteMultiInput(ctx context.Context, targetMint string, solAmount float64, opts swap.Options) (*swap.Result, error)
	Live() bool
}

// Inventory is the holdings view. Satisfied by *positions.Store.
type Inventory interface {
	Positions(ctx context.Context) ([]positions.Position, error)
	EntryPrice(mint string) (float64, bool)
	SetEntryPrice(mint string, price float64) error
	Invalidate()
}

// Balance is the SOL ledger. Satisfied by *ledger.Ledger; Run is the
// periodic verifier loop.
type Balance interface {
	Balance(ctx context.Context) float64
	Run(ctx context.Context)
}

// MetricsSource serves fresh pair metrics for forced-token mode and
// position views. Satisfied by *market.DexScreener.
type MetricsSource interface {
	TokenMetrics(ctx context.Context, mint string) (*market.Metrics, error)
}

// Tracker is the position lifecycle manager. Satisfied by
// *swap.PositionManager.
type Tracker interface {
	Run(ctx context.Context)
	Track(mint string, entryPrice float64, meta swap.EntryMeta) error
	Meta(mint string) (swap.EntryMeta, bool)
	RepairEntries(ctx context.Context) int
}

// Subscriber is the chain subscription surface. Satisfied by
// *chain.Mux; nil disables the new-pool trigger.
type Subscriber interface {
	OnLogs(program solana.PublicKey, commitment rpc.CommitmentType, fn chain.LogObserver) (func(), error)
	ObserverFailures() int64
}

// BudgetView reports RPC budget consumption. Satisfied by
// *budget.Governor.
type BudgetView interface {
	Snapshot() budget.State
	Remaining() int64
	Exhausted() bool
}

// Deps bundles the agent's collaborators. Discovery, Strategies, Risk,
// Exec, Positions and Ledger are required; the rest degrade to
// disabled when nil.
type Deps struct {
	Discovery  Discoverer
	Validator  TokenChecker
	Strategies Decider
	Risk       RiskGate
	Learner    Learn
	Entry      EntryGate
	Exec       Trader
	Positions  Inventory
	Ledger     Balance
	Screener   MetricsSource
	PosMan     Tracker
	Subs       Subscriber
	Budget     BudgetView
	Alerts     *alerts.Manager
	Events     *events.Bus
	Hub        *api.Hub
}

// Agent drives the whole pipeline and owns the lifetime of the
// periodic jobs.
type Agent struct {
	cfg  *config.Config
	deps Deps
	log  zerolog.Logger

	mu          sync.Mutex
	state       string
	baselineSOL float64
	targetSOL   float64
	tradesTotal int
	wins        int
	winStreak   int
	blacklist   map[string]struct{}

	seen *seenSet
	kick chan struct{}

	unsubscribe func()
	startedAt   time.Time
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	now func() time.Time
}

// New builds the agent. Nothing runs until Initialize and Run.
func New(cfg *config.Config, deps Deps, log zerolog.Logger) *Agent {
	return &Agent{
		cfg:       cfg,
		deps:      deps,
		log:       log.With().Str("component", "orchestrator").Logger(),
		state:     StateInit,
		blacklist: make(map[string]struct{}),
		seen:      newSeenSet(cfg.SeenTTL()),
		kick:      make(chan struct{}, 1),
		now:       time.Now,
	}
}

// State returns the lifecycle state.
func (a *Agent) State() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Initialize records the baseline balance, repairs positions with
// missing entry prices, and subscribes to new-pool events.
func (a *Agent) Initialize(ctx context.Context) error {
	a.startedAt = a.now()

	baseline := a.deps.Ledger.Balance(ctx)
	a.mu.Lock()
	a.baselineSOL = baseline
	if mult := a.cfg.Trading.TargetMultiplier; mult > 1 {
		a.targetSOL = baseline * mult
	}
	target := a.targetSOL
	a.mu.Unlock()

	log := a.log.Info().Float64("baseline_sol", baseline)
	if target > 0 {
		log = log.Float64("target_sol", target)
	}
	log.Bool("live", a.deps.Exec.Live()).Msg("Agent initialised")

	if a.deps.PosMan != nil {
		if repaired := a.deps.PosMan.RepairEntries(ctx); repaired > 0 {
			a.log.Warn().Int("repaired", repaired).Msg("Recorded current price as entry for positions missing one")
		}
	}

	if a.deps.Subs != nil {
		unsub, err := a.deps.Subs.OnLogs(raydiumAMMProgram, rpc.CommitmentType(a.cfg.RPC.Commitment), func(_ *chain.LogEvent) {
			// A pool event just nudges the scan forward; discovery
			// still decides what is worth a look.
			select {
			case a.kick <- struct{}{}:
			default:
			}
		})
		if err != nil {
			a.log.Warn().Err(err).Msg("New-pool subscription unavailable, relying on the scan timer")
		} else {
			a.unsubscribe = unsub
		}
	}
	return nil
}

// Run starts the periodic jobs and blocks in the scan loop until the
// context is cancelled or the profit target is reached.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.mu.Lock()
	a.state = StateRunning
	a.mu.Unlock()

	a.spawn(func() { a.deps.Ledger.Run(ctx) })
	if a.deps.PosMan != nil {
		a.spawn(func() { a.deps.PosMan.Run(ctx) })
	}
	a.spawn(func() { a.statusLoop(ctx) })
	a.spawn(func() { a.healthLoop(ctx) })

	interval := a.cfg.ScanInterval()
	a.log.Info().Dur("interval", interval).Msg("Scan loop started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// One immediate cycle so a fresh start does not idle a full
	// interval before looking at the market.
	a.scanCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			a.log.Info().Msg("Scan loop stopped")
			return ctx.Err()
		case <-a.kick:
			a.scanCycle(ctx)
		case <-ticker.C:
			if a.targetReached(ctx) {
				a.log.Info().Msg("Profit target reached, stopping")
				return nil
			}
			a.scanCycle(ctx)
		}
	}
}

// ScanOnce runs a single scan cycle. Used by --once.
func (a *Agent) ScanOnce(ctx context.Context) {
	a.mu.Lock()
	a.state = StateRunning
	a.mu.Unlock()
	a.scanCycle(ctx)
}

func (a *Agent) targetReached(ctx context.Context) bool {
	a.mu.Lock()
	target := a.targetSOL
	a.mu.Unlock()
	if target <= 0 {
		return false
	}
	return a.deps.Ledger.Balance(ctx) >= target
}

func (a *Agent) spawn(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Shutdown unsubscribes, stops the jobs, and gives in-flight work a
// short grace window.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.state = StateStopping
	a.mu.Unlock()
	a.log.Info().Msg("Shutting down")

	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	grace := shutdownGrace
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); until < grace {
			grace = until
		}
	}
	select {
	case <-done:
	case <-time.After(grace):
		a.log.Warn().Msg("Shutdown grace expired, abandoning tasks")
	}

	a.mu.Lock()
	trades, wins := a.tradesTotal, a.wins
	a.mu.Unlock()
	a.log.Info().
		Int("trades", trades).
		Int("wins", wins).
		Dur("uptime", a.now().Sub(a.startedAt)).
		Msg("Final session metrics")

	if a.deps.Alerts != nil {
		a.deps.Alerts.Drain(grace)
	}
	return nil
}

// HandleExit receives closed-position events from the position
// manager and fans them out to alerts, the event bus, and the
// dashboard.
func (a *Agent) HandleExit(ev swap.ExitEvent) {
	a.mu.Lock()
	a.tradesTotal++
	if ev.PnLPct > 0 {
		a.wins++
		a.winStreak++
	} else {
		a.winStreak = 0
	}
	a.mu.Unlock()

	if a.deps.Alerts != nil {
		a.deps.Alerts.SendTradeAlert(alerts.TradeAlert{
			Action: "SELL",
			Mint:   ev.Mint,
			Kind:   ev.Reason,
			PnLPct: ev.PnLPct,
			HasPnL: true,
			DryRun: ev.Result != nil && ev.Result.DryRun,
			Signature: func() string {
				if ev.Result != nil {
					return ev.Result.Signature
				}
				return ""
			}(),
			Reason: ev.Reason,
		})
	}
	if a.deps.Events != nil {
		tc := events.TradeClosed{Mint: ev.Mint, Reason: ev.Reason, PnLPct: ev.PnLPct}
		if ev.Result != nil {
			tc.Signature = ev.Result.Signature
		}
		if meta, ok := a.metaFor(ev.Mint); ok && !meta.OpenedAt.IsZero() {
			tc.HoldMinutes = a.now().Sub(meta.OpenedAt).Minutes()
		}
		if err := a.deps.Events.PublishTradeClosed(context.Background(), tc); err != nil {
			a.log.Debug().Err(err).Msg("Trade-closed event not published")
		}
	}
	if a.deps.Hub != nil {
		a.deps.Hub.BroadcastTrade(ev)
	}
}

func (a *Agent) metaFor(mint string) (swap.EntryMeta, bool) {
	if a.deps.PosMan == nil {
		return swap.EntryMeta{}, false
	}
	return a.deps.PosMan.Meta(mint)
}

// Status builds the live snapshot for the API and status job.
func (a *Agent) Status(ctx context.Context) api.Status {
	a.mu.Lock()
	state := a.state
	baseline := a.baselineSOL
	trades, wins := a.tradesTotal, a.wins
	a.mu.Unlock()

	open := 0
	if a.deps.Positions != nil {
		if ps, err := a.deps.Positions.Positions(ctx); err == nil {
			open = len(ps)
		}
	}
	winRate := 0.0
	if trades > 0 {
		winRate = 100 * float64(wins) / float64(trades)
	}
	return api.Status{
		State:         state,
		Live:          a.deps.Exec.Live(),
		BalanceSOL:    a.deps.Ledger.Balance(ctx),
		BaselineSOL:   baseline,
		OpenPositions: open,
		TradesTotal:   trades,
		WinRatePct:    winRate,
		StartedAt:     a.startedAt,
		UptimeSeconds: a.now().Sub(a.startedAt).Seconds(),
	}
}

func (a *Agent) statusLoop(ctx context.Context) {
	interval := time.Duration(a.cfg.Trading.StatusIntervalMin) * time.Minute
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.emitStatus(ctx)
		}
	}
}

func (a *Agent) emitStatus(ctx context.Context) {
	st := a.Status(ctx)

	budgetUsed := 0.0
	if a.deps.Budget != nil {
		if snap := a.deps.Budget.Snapshot(); snap.TotalBudget > 0 {
			budgetUsed = 100 * float64(snap.CallsUsed) / float64(snap.TotalBudget)
		}
	}

	if a.deps.Alerts != nil {
		a.deps.Alerts.SendStatusUpdate(alerts.StatusUpdate{
			BalanceSOL:    st.BalanceSOL,
			BaselineSOL:   st.BaselineSOL,
			OpenPositions: st.OpenPositions,
			TradesTotal:   st.TradesTotal,
			WinRatePct:    st.WinRatePct,
			BudgetUsedPct: budgetUsed,
			Uptime:        a.now().Sub(a.startedAt),
		})
	}
	if a.deps.Events != nil {
		if err := a.deps.Events.PublishStatus(ctx, events.StatusSnapshot{
			State:         st.State,
			BalanceSOL:    st.BalanceSOL,
			OpenPositions: st.OpenPositions,
			TradesTotal:   st.TradesTotal,
			BudgetUsedPct: budgetUsed,
			UptimeSeconds: st.UptimeSeconds,
		}); err != nil {
			a.log.Debug().Err(err).Msg("Status event not published")
		}
	}
	if a.deps.Hub != nil {
		a.deps.Hub.BroadcastStatus(st)
	}
}

func (a *Agent) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.healthCheck()
		}
	}
}

func (a *Agent) healthCheck() {
	log := a.log.Debug()
	if a.deps.Budget != nil {
		log = log.Int64("budget_remaining", a.deps.Budget.Remaining())
		if a.deps.Budget.Exhausted() {
			a.log.Warn().Msg("RPC budget exhausted, serving stale data until rollover")
		}
	}
	if a.deps.Subs != nil {
		log = log.Int64("observer_failures", a.deps.Subs.ObserverFailures())
	}
	log.Int("recently_analysed", a.seen.Len()).Msg("Health check")
}
