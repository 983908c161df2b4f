package swap

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solfunk/internal/config"
	"github.com/ajitpratap0/solfunk/internal/discovery"
	"github.com/ajitpratap0/solfunk/internal/learner"
	"github.com/ajitpratap0/solfunk/internal/market"
	"github.com/ajitpratap0/solfunk/internal/metrics"
	"github.com/ajitpratap0/solfunk/internal/positions"
	"github.com/ajitpratap0/solfunk/internal/strategy"
)

// Exit gates for profit-taking sells: the route impact stays under
// five percent and the floor output is not dust. Protective sells lift
// the impact cap instead, because refusing the only route available
// holds a crashing position into zero. The executor treats a zero
// impact cap as "use the config default", so the lifted cap has to be
// an explicit out-of-band value.
const (
	exitMaxImpactPct           = 5.0
	exitMinOutSOL              = 0.001
	protectiveExitMaxImpactPct = 100.0
)

const (
	defaultTPInterval = 20 * time.Second
	defaultSLInterval = 30 * time.Second

	emergencyLossPct   = -25.0
	emergencyProfitPct = 75.0

	reversalMinConfidence = 0.7
	reversalMinRVOL       = 1.0

	patternTargetShare = 0.9
	patternMinTrades   = 3

	stagnantAfter   = 4 * time.Hour
	stagnantBandPct = 1.0
	stagnantMaxRVOL = 0.5

	fastPumpWindow = 30 * time.Minute
	fastPumpMinPct = 25.0
)

// EntryMeta is what the pipeline knew about a position at entry time.
// It feeds the learner outcome and the dynamic profit target.
type EntryMeta struct {
	Pattern       string
	Regime        string
	MarketState   string
	TargetPct     float64
	InvestedSOL   float64
	SizePct       float64
	AIConfidence  float64
	Volume24hUSD  float64
	LiquidityUSD  float64
	RVOL          float64
	Signals       []string
	OpenedAt      time.Time
	Extended      bool
	LargePosition bool
	Doublings     int

	// MaxDrawdownPct is the running low-water p&l, maintained by the
	// mark loop. Zero until the position first trades under entry.
	MaxDrawdownPct float64
}

// ExitEvent describes one closed position for alerting and event
// publication.
type ExitEvent struct {
	Mint   string
	Reason string
	PnLPct float64
	Result *Result
}

// TradeExecutor is the sell surface the manager drives. Satisfied by
// Executor.
type TradeExecutor interface {
	Sell(ctx context.Context, mint string, rawAmount uint64, decimals uint8, opts Options) (*Result, error)
}

// PriceSource serves current prices. Satisfied by market.PriceCache.
type PriceSource interface {
	Price(ctx context.Context, mint string, kind market.Lookup) (float64, error)
}

// PositionBook is the inventory view. Satisfied by positions.Store.
type PositionBook interface {
	Positions(ctx context.Context) ([]positions.Position, error)
	EntryPrice(mint string) (float64, bool)
	SetEntryPrice(mint string, price float64) error
	RemoveEntry(mint string) error
	Invalidate()
}

// OutcomeRecorder receives closed-trade outcomes. Satisfied by
// learner.Learner; nil disables feedback.
type OutcomeRecorder interface {
	RecordTrade(o learner.TradeOutcome)
}

// PairSource serves fresh pair metrics for the AI exit checks.
// Satisfied by market.DexScreener; nil reduces the overlay to the
// price-only rules.
type PairSource interface {
	TokenMetrics(ctx context.Context, mint string) (*market.Metrics, error)
}

// PatternSource exposes learned pattern statistics. Satisfied by
// learner.Learner; nil disables the pattern-target exit.
type PatternSource interface {
	Pattern(name string) (learner.PatternStats, bool)
}

// ManagerDeps bundles the position manager's collaborators. Exec,
// Prices, and Book are required; the rest degrade gracefully when nil.
type ManagerDeps struct {
	Exec     TradeExecutor
	Prices   PriceSource
	Book     PositionBook
	Learn    OutcomeRecorder
	Screener PairSource
	Patterns PatternSource
	OnExit   func(ExitEvent)
}

// PositionManager runs the take-profit and stop-loss timers over the
// open inventory, with the AI exit overlay consulted first on every
// evaluation. Work on one mint is serialised so the two timers never
// race a sell.
type PositionManager struct {
	exec     TradeExecutor
	prices   PriceSource
	book     PositionBook
	learn    OutcomeRecorder
	screener PairSource
	patterns PatternSource
	onExit   func(ExitEvent)

	cfg    config.TradingConfig
	candle *strategy.Candlestick
	log    zerolog.Logger

	mu       sync.Mutex
	meta     map[string]EntryMeta
	inFlight map[string]bool
}

// NewPositionManager builds the manager around the trading config.
func NewPositionManager(deps ManagerDeps, cfg config.TradingConfig, log zerolog.Logger) *PositionManager {
	return &PositionManager{
		exec:     deps.Exec,
		prices:   deps.Prices,
		book:     deps.Book,
		learn:    deps.Learn,
		screener: deps.Screener,
		patterns: deps.Patterns,
		onExit:   deps.OnExit,
		cfg:      cfg,
		candle:   strategy.NewCandlestick(strategy.DefaultCandlestickParams()),
		log:      log.With().Str("component", "position_manager").Logger(),
		meta:     make(map[string]EntryMeta),
		inFlight: make(map[string]bool),
	}
}

// Track records the entry price and pipeline context for a freshly
// opened position.
func (m *PositionManager) Track(mint string, entryPrice float64, meta EntryMeta) error {
	if meta.OpenedAt.IsZero() {
		meta.OpenedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.meta[mint] = meta
	m.mu.Unlock()

	if entryPrice > 0 {
		if err := m.book.SetEntryPrice(mint, entryPrice); err != nil {
			return err
		}
	}
	m.log.Info().
		Str("mint", mint).
		Float64("entry_price", entryPrice).
		Float64("target_pct", meta.TargetPct).
		Str("pattern", meta.Pattern).
		Msg("Position tracked")
	return nil
}

// Meta returns the recorded entry context for a mint.
func (m *PositionManager) Meta(mint string) (EntryMeta, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.meta[mint]
	return meta, ok
}

// RepairEntries back-fills missing entry prices with the current price
// so stop-loss has a baseline for positions that predate the store.
// Returns how many positions were repaired.
func (m *PositionManager) RepairEntries(ctx context.Context) int {
	poss, err := m.book.Positions(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("Entry repair skipped, positions unavailable")
		return 0
	}

	repaired := 0
	for _, pos := range poss {
		if pos.EntryPrice > 0 || pos.Mint == WSOLMint || stableMints[pos.Mint] {
			continue
		}
		price, perr := m.prices.Price(ctx, pos.Mint, market.Critical)
		if perr != nil || price <= 0 {
			m.log.Warn().Err(perr).Str("mint", pos.Mint).Msg("Entry repair failed, no price")
			continue
		}
		if serr := m.book.SetEntryPrice(pos.Mint, price); serr != nil {
			m.log.Warn().Err(serr).Str("mint", pos.Mint).Msg("Entry repair persist failed")
			continue
		}
		repaired++
		m.log.Info().Str("mint", pos.Mint).Float64("price", price).Msg("Entry price repaired from current")
	}
	return repaired
}

// Run blocks until ctx is cancelled, driving whichever of the two
// timers the config enables.
func (m *PositionManager) Run(ctx context.Context) {
	var wg sync.WaitGroup

	if m.cfg.AutoTakeProfit {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.loop(ctx, m.tpInterval(), m.takeProfitPass)
		}()
	}
	if m.cfg.AutoStopLoss {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.loop(ctx, m.slInterval(), m.stopLossPass)
		}()
	}

	wg.Wait()
}

func (m *PositionManager) tpInterval() time.Duration {
	if m.cfg.TPIntervalMS > 0 {
		return time.Duration(m.cfg.TPIntervalMS) * time.Millisecond
	}
	return defaultTPInterval
}

func (m *PositionManager) slInterval() time.Duration {
	if m.cfg.SLIntervalMS > 0 {
		return time.Duration(m.cfg.SLIntervalMS) * time.Millisecond
	}
	return defaultSLInterval
}

func (m *PositionManager) loop(ctx context.Context, every time.Duration, pass func(context.Context)) {
	pass(ctx)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pass(ctx)
		}
	}
}

func (m *PositionManager) takeProfitPass(ctx context.Context) {
	m.forEachPosition(ctx, m.evaluateTakeProfit)
}

func (m *PositionManager) stopLossPass(ctx context.Context) {
	m.forEachPosition(ctx, m.evaluateStopLoss)
}

func (m *PositionManager) forEachPosition(ctx context.Context, evaluate func(context.Context, positions.Position)) {
	poss, err := m.book.Positions(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("Position pass skipped, inventory unavailable")
		return
	}
	for _, pos := range poss {
		if ctx.Err() != nil {
			return
		}
		if pos.Mint == WSOLMint || stableMints[pos.Mint] {
			continue
		}
		if !m.acquire(pos.Mint) {
			continue
		}
		evaluate(ctx, pos)
		m.release(pos.Mint)
	}
}

func (m *PositionManager) evaluateTakeProfit(ctx context.Context, pos positions.Position) {
	entry, ok := m.book.EntryPrice(pos.Mint)
	if !ok || entry <= 0 {
		// Without a recorded entry there is no profit to measure.
		// Estimating one would sell blind.
		m.log.Debug().Str("mint", pos.Mint).Msg("Entry price unknown, take-profit skipped")
		return
	}
	price, pnl, ok := m.mark(ctx, pos.Mint, entry)
	if !ok {
		return
	}

	meta, _ := m.Meta(pos.Mint)
	if m.cfg.EnableAIExits {
		if reason, fire := m.aiExitReason(ctx, pos, meta, entry, price, pnl); fire {
			m.closePosition(ctx, pos, entry, price, pnl, reason)
			return
		}
	}

	target := meta.TargetPct
	if target <= 0 {
		target = m.cfg.TakeProfitMinPct
	}
	if target <= 0 {
		target = 2.0
	}
	if pnl >= target {
		m.log.Info().
			Str("mint", pos.Mint).
			Float64("pnl_pct", pnl).
			Float64("target_pct", target).
			Msg("Take-profit target reached")
		m.closePosition(ctx, pos, entry, price, pnl, "take_profit")
	}
}

func (m *PositionManager) evaluateStopLoss(ctx context.Context, pos positions.Position) {
	entry, ok := m.book.EntryPrice(pos.Mint)
	if !ok || entry <= 0 {
		return
	}
	price, pnl, ok := m.mark(ctx, pos.Mint, entry)
	if !ok {
		return
	}

	meta, _ := m.Meta(pos.Mint)
	if m.cfg.EnableAIExits {
		if reason, fire := m.aiExitReason(ctx, pos, meta, entry, price, pnl); fire {
			m.closePosition(ctx, pos, entry, price, pnl, reason)
			return
		}
	}

	slPct := m.cfg.StopLossPct
	if slPct <= 0 {
		slPct = 8.0
	}
	if price < entry*(1-slPct/100) {
		m.log.Warn().
			Str("mint", pos.Mint).
			Float64("pnl_pct", pnl).
			Float64("stop_pct", slPct).
			Msg("Stop-loss breached")
		m.closePosition(ctx, pos, entry, price, pnl, "stop_loss")
	}
}

// mark reads the monitoring price and returns it with the position p&l
// in percent, folding the mark into the running drawdown.
func (m *PositionManager) mark(ctx context.Context, mint string, entry float64) (float64, float64, bool) {
	price, err := m.prices.Price(ctx, mint, market.Monitoring)
	if err != nil || price <= 0 {
		m.log.Debug().Err(err).Str("mint", mint).Msg("No monitoring price, position unmarked")
		return 0, 0, false
	}
	pnl := (price - entry) / entry * 100
	m.recordDrawdown(mint, pnl)
	return price, pnl, true
}

// recordDrawdown ratchets the low-water p&l for a tracked mint. A
// later recovery never resets it.
func (m *PositionManager) recordDrawdown(mint string, pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.meta[mint]
	if !ok || pnl >= meta.MaxDrawdownPct {
		return
	}
	meta.MaxDrawdownPct = pnl
	m.meta[mint] = meta
}

// aiExitReason applies the dynamic exit overlay in priority order:
// emergency band, candlestick reversal, learned pattern target, then
// the stagnation and fast-pump heuristics.
func (m *PositionManager) aiExitReason(ctx context.Context, pos positions.Position, meta EntryMeta, entry, price, pnl float64) (string, bool) {
	if pnl <= emergencyLossPct || pnl >= emergencyProfitPct {
		return "ai_emergency", true
	}

	var met *market.Metrics
	if m.screener != nil {
		if fetched, err := m.screener.TokenMetrics(ctx, pos.Mint); err == nil {
			met = fetched
		}
	}

	if met != nil {
		view := strategy.TokenView{
			Candidate: discovery.Candidate{Metrics: *met},
			Position: &strategy.PositionView{
				EntryPrice:     entry,
				CurrentPrice:   price,
				AmountTokens:   pos.Amount,
				InvestedSOL:    meta.InvestedSOL,
				HeldFor:        m.heldFor(meta),
				PnLPct:         pnl,
				MaxDrawdownPct: meta.MaxDrawdownPct,
				Doublings:      meta.Doublings,
			},
		}
		if sig, err := m.candle.Analyse(ctx, view); err == nil {
			if sig.Action == strategy.Sell && sig.Confidence >= reversalMinConfidence && met.RVOL() >= reversalMinRVOL {
				return "ai_reversal", true
			}
		}
	}

	if m.patterns != nil && meta.Pattern != "" {
		if st, ok := m.patterns.Pattern(meta.Pattern); ok &&
			st.Trades >= patternMinTrades && st.ProfitEMA > 0 && pnl >= patternTargetShare*st.ProfitEMA {
			return "ai_pattern_target", true
		}
	}

	if held := m.heldFor(meta); held > 0 && met != nil {
		if held >= stagnantAfter && math.Abs(pnl) < stagnantBandPct && met.RVOL() < stagnantMaxRVOL {
			return "ai_stagnant", true
		}
		if held < fastPumpWindow && pnl >= fastPumpMinPct && met.Change5m < 0 {
			return "ai_fast_pump", true
		}
	}

	return "", false
}

func (m *PositionManager) heldFor(meta EntryMeta) time.Duration {
	if meta.OpenedAt.IsZero() {
		return 0
	}
	return time.Since(meta.OpenedAt)
}

// exitOptions picks the sell gates by exit reason. Profit-taking keeps
// the impact and dust floors so a thin route does not eat the gain;
// stop-loss and emergency sells lift them, because holding a crashing
// illiquid token is worse than a bad fill.
func exitOptions(reason string) Options {
	switch reason {
	case "stop_loss", "ai_emergency":
		return Options{MaxImpactPct: protectiveExitMaxImpactPct}
	default:
		return Options{MaxImpactPct: exitMaxImpactPct, MinOutSOL: exitMinOutSOL}
	}
}

// closePosition sells the whole position and, on confirmation, clears
// the book entry, notifies the learner, and publishes the exit.
func (m *PositionManager) closePosition(ctx context.Context, pos positions.Position, entry, price, pnl float64, reason string) {
	raw, err := strconv.ParseUint(pos.RawAmount, 10, 64)
	if err != nil || raw == 0 {
		m.log.Warn().Str("mint", pos.Mint).Str("raw", pos.RawAmount).Msg("Unsellable raw amount")
		return
	}

	res, err := m.exec.Sell(ctx, pos.Mint, raw, pos.Decimals, exitOptions(reason))
	if err != nil {
		m.log.Warn().Err(err).Str("mint", pos.Mint).Str("reason", reason).Msg("Exit sell failed")
		return
	}
	if !res.Success {
		m.log.Info().Str("mint", pos.Mint).Str("why", res.Reason).Msg("Exit sell rejected")
		return
	}

	if rerr := m.book.RemoveEntry(pos.Mint); rerr != nil {
		m.log.Warn().Err(rerr).Str("mint", pos.Mint).Msg("Entry removal failed after sell")
	}
	m.book.Invalidate()

	meta := m.takeMeta(pos.Mint)
	if m.learn != nil {
		hour := -1
		holdMinutes := 0.0
		if !meta.OpenedAt.IsZero() {
			hour = meta.OpenedAt.UTC().Hour()
			holdMinutes = time.Since(meta.OpenedAt).Minutes()
		}
		m.learn.RecordTrade(learner.TradeOutcome{
			Mint:            pos.Mint,
			Pattern:         meta.Pattern,
			Regime:          meta.Regime,
			MarketState:     meta.MarketState,
			PnLPct:          pnl,
			MaxDrawdownPct:  math.Min(meta.MaxDrawdownPct, pnl),
			EntryPrice:      entry,
			ExitPrice:       price,
			HoldMinutes:     holdMinutes,
			Volume24hUSD:    meta.Volume24hUSD,
			LiquidityUSD:    meta.LiquidityUSD,
			RVOL:            meta.RVOL,
			AIConfidence:    meta.AIConfidence,
			PositionSizePct: meta.SizePct,
			Signals:         meta.Signals,
			EntryHour:       hour,
			Extended:        meta.Extended,
			LargePosition:   meta.LargePosition,
			Doubled:         meta.Doublings > 0,
			ClosedAt:        time.Now().UTC(),
		})
	}

	metrics.PositionExits.WithLabelValues(reason).Inc()
	if m.onExit != nil {
		m.onExit(ExitEvent{Mint: pos.Mint, Reason: reason, PnLPct: pnl, Result: res})
	}
	m.log.Info().
		Str("mint", pos.Mint).
		Str("reason", reason).
		Float64("pnl_pct", pnl).
		Bool("dry_run", res.DryRun).
		Msg("Position closed")
}

func (m *PositionManager) takeMeta(mint string) EntryMeta {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta := m.meta[mint]
	delete(m.meta, mint)
	return meta
}

func (m *PositionManager) acquire(mint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[mint] {
		return false
	}
	m.inFlight[mint] = true
	return true
}

func (m *PositionManager) release(mint string) {
	m.mu.Lock()
	delete(m.inFlight, mint)
	m.mu.Unlock()
}
