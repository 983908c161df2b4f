// Package learner closes the feedback loop: every finished trade
// updates per-pattern value estimates, and the estimates feed back
// into pattern selection and confidence shading on the next entry.
package learner

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solfunk/internal/config"
	"github.com/ajitpratap0/solfunk/internal/metrics"
	"github.com/ajitpratap0/solfunk/internal/state"
)

const (
	winRateAlpha     = 0.3
	qAlpha           = 0.1
	explorationDecay = 0.995
	explorationFloor = 0.05
	baseExploration  = 0.15
	ucbBonus         = 2.0

	defaultHistoryDays = 14

	// Adjustment magnitudes for AdjustConfidence.
	qAdjustmentMax       = 0.3
	conditionAdjustment  = 0.15
	hourAdjustment       = 0.08
	appetiteBoost        = 0.15
	appetitePenalty      = 0.2
	appetiteHotWinRate   = 0.7
	appetiteColdWinRate  = 0.3
	conditionMinSamples  = 5
	hourMinSamples       = 3
	hourStrongWinRate    = 0.6
	hourWeakWinRate      = 0.4
	conditionHotWinRate  = 0.6
	conditionColdWinRate = 0.4
	appetiteWindow       = 24 * time.Hour
	appetiteMinSamples   = 3
)

// stateSchemaVersion is bumped when the persisted layout changes.
// Files outside the accepted range are discarded, not migrated.
const (
	stateSchemaVersion    = "2.1.0"
	stateSchemaConstraint = ">=2.0.0 <3.0.0"
)

// TradeOutcome is one closed trade as reported by the position manager.
type TradeOutcome struct {
	Mint            string    `json:"mint"`
	Pattern         string    `json:"pattern"`
	Regime          string    `json:"regime"`
	MarketState     string    `json:"market_state"`
	PnLPct          float64   `json:"pnl_pct"`
	MaxDrawdownPct  float64   `json:"max_drawdown_pct"`
	EntryPrice      float64   `json:"entry_price"`
	ExitPrice       float64   `json:"exit_price"`
	HoldMinutes     float64   `json:"hold_minutes"`
	Volume24hUSD    float64   `json:"volume_24h_usd"`
	LiquidityUSD    float64   `json:"liquidity_usd"`
	RVOL            float64   `json:"rvol"`
	AIConfidence    float64   `json:"ai_confidence"`
	PositionSizePct float64   `json:"position_size_pct"`
	Signals         []string  `json:"signals,omitempty"`
	EntryHour       int       `json:"entry_hour"`
	Extended        bool      `json:"extended"`
	LargePosition   bool      `json:"large_position"`
	Doubled         bool      `json:"doubled"`
	ClosedAt        time.Time `json:"closed_at"`
}

// PatternStats is the learned view of one pattern.
type PatternStats struct {
	Trades     int     `json:"trades"`
	Wins       int     `json:"wins"`
	WinRateEMA float64 `json:"win_rate_ema"`
	ProfitEMA  float64 `json:"profit_ema"`
	Q          float64 `json:"q"`
	Regret     float64 `json:"regret"`
}

type hourStats struct {
	Trades int `json:"trades"`
	Wins   int `json:"wins"`
}

type conditionStats struct {
	Trades int `json:"trades"`
	Wins   int `json:"wins"`
}

func (c conditionStats) winRate() float64 {
	if c.Trades == 0 {
		return 0
	}
	return float64(c.Wins) / float64(c.Trades)
}

type tradeRecord struct {
	Pattern        string    `json:"pattern"`
	PnLPct         float64   `json:"pnl_pct"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct,omitempty"`
	HoldMinutes    float64   `json:"hold_minutes,omitempty"`
	Win            bool      `json:"win"`
	ClosedAt       time.Time `json:"closed_at"`
}

// learnerState is the persisted snapshot.
type learnerState struct {
	SchemaVersion   string                   `json:"schema_version"`
	ExplorationRate float64                  `json:"exploration_rate"`
	TotalTrades     int                      `json:"total_trades"`
	Patterns        map[string]*PatternStats `json:"patterns"`
	StateQ          map[string]float64       `json:"state_q"`
	StateN          map[string]int           `json:"state_n"`
	Hours           [24]hourStats            `json:"hours"`
	Extended        conditionStats           `json:"extended"`
	Large           conditionStats           `json:"large"`
	Doubling        conditionStats           `json:"doubling"`
	History         []tradeRecord            `json:"history"`
}

// Context carries the entry conditions AdjustConfidence shades by.
type Context struct {
	Extended      bool
	LargePosition bool
	Doubling      bool
	Hour          int
}

// Learner accumulates trade outcomes and serves selection and
// confidence adjustments. Safe for concurrent use.
type Learner struct {
	mu        sync.Mutex
	st        learnerState
	path      string
	retention time.Duration
	rng       *rand.Rand
	now       func() time.Time
	log       zerolog.Logger
}

// New loads persisted learning state. A missing file starts fresh; a
// file outside the schema range is discarded with a warning.
func New(cfg config.LearnerConfig, log zerolog.Logger) *Learner {
	l := &Learner{
		path: cfg.StateFile,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- exploration sampling, not crypto
		now:  time.Now,
		log:  log.With().Str("component", "learner").Logger(),
	}
	days := cfg.HistoryDays
	if days <= 0 {
		days = defaultHistoryDays
	}
	l.retention = time.Duration(days) * 24 * time.Hour

	base := cfg.BaseExplorationRate
	if base <= 0 {
		base = baseExploration
	}
	l.st = freshState(base)

	if cfg.StateFile != "" {
		var loaded learnerState
		if err := state.LoadJSON(cfg.StateFile, &loaded); err != nil {
			l.log.Info().Err(err).Msg("No learner state loaded, starting fresh")
		} else if !schemaAccepted(loaded.SchemaVersion) {
			l.log.Warn().Str("schema", loaded.SchemaVersion).Msg("Discarding learner state with unsupported schema")
		} else {
			l.st = loaded
			if l.st.Patterns == nil {
				l.st.Patterns = make(map[string]*PatternStats)
			}
			if l.st.StateQ == nil {
				l.st.StateQ = make(map[string]float64)
			}
			if l.st.StateN == nil {
				l.st.StateN = make(map[string]int)
			}
			if l.st.ExplorationRate <= 0 {
				l.st.ExplorationRate = base
			}
		}
	}
	metrics.ExplorationRate.Set(l.st.ExplorationRate)
	return l
}

func freshState(exploration float64) learnerState {
	return learnerState{
		SchemaVersion:   stateSchemaVersion,
		ExplorationRate: exploration,
		Patterns:        make(map[string]*PatternStats),
		StateQ:          make(map[string]float64),
		StateN:          make(map[string]int),
	}
}

func schemaAccepted(version string) bool {
	c, err := semver.NewConstraint(stateSchemaConstraint)
	if err != nil {
		return false
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return c.Check(v)
}

// RecordTrade folds one closed trade into every estimate and decays
// the exploration rate.
func (l *Learner) RecordTrade(o TradeOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	win := o.PnLPct > 0
	p := l.st.Patterns[o.Pattern]
	if p == nil {
		p = &PatternStats{}
		l.st.Patterns[o.Pattern] = p
	}

	first := p.Trades == 0
	p.Trades++
	if win {
		p.Wins++
	}
	winVal := 0.0
	if win {
		winVal = 1.0
	}
	if first {
		p.WinRateEMA = winVal
		p.ProfitEMA = o.PnLPct
	} else {
		p.WinRateEMA = winRateAlpha*winVal + (1-winRateAlpha)*p.WinRateEMA
		p.ProfitEMA = winRateAlpha*o.PnLPct + (1-winRateAlpha)*p.ProfitEMA
	}

	// Pattern value: normalised reward centred so -50% maps to 0.
	r := clamp((o.PnLPct+50)/100, 0, 1)
	p.Q = clamp(p.Q+qAlpha*(r-p.Q), -1, 1)

	if o.MarketState != "" {
		key := o.MarketState + "|" + o.Pattern
		q := l.st.StateQ[key]
		l.st.StateQ[key] = clamp(q+qAlpha*(o.PnLPct/100-q), -1, 1)
		l.st.StateN[key]++
	}

	// Regret of the chosen pattern against the best-known pattern. The
	// chosen pattern is already in the map, so maxQ is never below p.Q.
	maxQ := math.Inf(-1)
	for _, ps := range l.st.Patterns {
		if ps.Q > maxQ {
			maxQ = ps.Q
		}
	}
	p.Regret += math.Max(0, maxQ-p.Q)

	if o.EntryHour >= 0 && o.EntryHour < 24 {
		l.st.Hours[o.EntryHour].Trades++
		if win {
			l.st.Hours[o.EntryHour].Wins++
		}
	}
	bumpCondition(&l.st.Extended, o.Extended, win)
	bumpCondition(&l.st.Large, o.LargePosition, win)
	bumpCondition(&l.st.Doubling, o.Doubled, win)

	l.st.TotalTrades++
	l.st.ExplorationRate = math.Max(explorationFloor, l.st.ExplorationRate*explorationDecay)

	closedAt := o.ClosedAt
	if closedAt.IsZero() {
		closedAt = l.now()
	}
	l.st.History = append(l.st.History, tradeRecord{
		Pattern:        o.Pattern,
		PnLPct:         o.PnLPct,
		MaxDrawdownPct: o.MaxDrawdownPct,
		HoldMinutes:    o.HoldMinutes,
		Win:            win,
		ClosedAt:       closedAt,
	})
	l.evictLocked()

	metrics.TradesRecorded.Inc()
	metrics.ExplorationRate.Set(l.st.ExplorationRate)
	l.log.Info().
		Str("pattern", o.Pattern).
		Float64("pnl_pct", o.PnLPct).
		Bool("win", win).
		Float64("q", p.Q).
		Float64("exploration_rate", l.st.ExplorationRate).
		Msg("Trade recorded")

	l.persistLocked()
}

func bumpCondition(c *conditionStats, applies, win bool) {
	if !applies {
		return
	}
	c.Trades++
	if win {
		c.Wins++
	}
}

func (l *Learner) evictLocked() {
	cutoff := l.now().Add(-l.retention)
	kept := l.st.History[:0]
	for _, rec := range l.st.History {
		if rec.ClosedAt.After(cutoff) {
			kept = append(kept, rec)
		}
	}
	l.st.History = kept
}

func (l *Learner) persistLocked() {
	if l.path == "" {
		return
	}
	if err := state.SaveJSON(l.path, &l.st); err != nil {
		l.log.Error().Err(err).Msg("Failed to persist learner state")
	}
}

// SelectPattern picks a pattern by UCB1, or uniformly at random with
// probability equal to the current exploration rate. The second return
// reports whether this pick explored.
func (l *Learner) SelectPattern(candidates []string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rng.Float64() < l.st.ExplorationRate {
		return candidates[l.rng.Intn(len(candidates))], true
	}

	total := 0
	for _, name := range candidates {
		if p := l.st.Patterns[name]; p != nil {
			total += p.Trades
		}
	}
	best := candidates[0]
	bestScore := math.Inf(-1)
	for _, name := range candidates {
		p := l.st.Patterns[name]
		if p == nil || p.Trades == 0 {
			// Untried patterns have infinite upside; take the first.
			return name, false
		}
		score := p.Q + ucbBonus*math.Sqrt(math.Log(float64(total))/float64(p.Trades))
		if score > bestScore {
			bestScore = score
			best = name
		}
	}
	return best, false
}

// AdjustConfidence shades a base confidence by what the learner knows:
// the pattern's Q (and its Q under the current regime), how entries
// under the same conditions have fared, the entry hour, and the
// trailing 24h win rate. Returns the clamped result with one reason
// per applied term.
func (l *Learner) AdjustConfidence(base float64, pattern, regime string, ctx Context) (float64, []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	adjusted := base
	var reasons []string

	q := 0.0
	if p := l.st.Patterns[pattern]; p != nil {
		q = p.Q
	}
	if regime != "" {
		if sq, ok := l.st.StateQ[regime+"|"+pattern]; ok {
			q = (q + sq) / 2
		}
	}
	if term := clamp(q*qAdjustmentMax, -qAdjustmentMax, qAdjustmentMax); term != 0 {
		adjusted += term
		reasons = append(reasons, fmt.Sprintf("pattern value %+.2f", term))
	}

	if term := l.conditionTermLocked(ctx); term != 0 {
		adjusted += term
		reasons = append(reasons, fmt.Sprintf("condition history %+.2f", term))
	}

	if ctx.Hour >= 0 && ctx.Hour < 24 {
		h := l.st.Hours[ctx.Hour]
		if h.Trades >= hourMinSamples {
			rate := float64(h.Wins) / float64(h.Trades)
			switch {
			case rate >= hourStrongWinRate:
				adjusted += hourAdjustment
				reasons = append(reasons, fmt.Sprintf("hour %02d favourable %+.2f", ctx.Hour, hourAdjustment))
			case rate < hourWeakWinRate:
				adjusted -= hourAdjustment
				reasons = append(reasons, fmt.Sprintf("hour %02d unfavourable %+.2f", ctx.Hour, -hourAdjustment))
			}
		}
	}

	if term := l.appetiteTermLocked(); term != 0 {
		adjusted += term
		reasons = append(reasons, fmt.Sprintf("24h form %+.2f", term))
	}

	return clamp(adjusted, 0, 1), reasons
}

// conditionTermLocked sums the per-condition nudges and clamps the
// total into the single condition budget.
func (l *Learner) conditionTermLocked(ctx Context) float64 {
	var term float64
	for _, c := range []struct {
		applies bool
		stats   conditionStats
	}{
		{ctx.Extended, l.st.Extended},
		{ctx.LargePosition, l.st.Large},
		{ctx.Doubling, l.st.Doubling},
	} {
		if !c.applies || c.stats.Trades < conditionMinSamples {
			continue
		}
		switch rate := c.stats.winRate(); {
		case rate >= conditionHotWinRate:
			term += conditionAdjustment
		case rate < conditionColdWinRate:
			term -= conditionAdjustment
		}
	}
	return clamp(term, -conditionAdjustment, conditionAdjustment)
}

func (l *Learner) appetiteTermLocked() float64 {
	cutoff := l.now().Add(-appetiteWindow)
	trades, wins := 0, 0
	for _, rec := range l.st.History {
		if rec.ClosedAt.After(cutoff) {
			trades++
			if rec.Win {
				wins++
			}
		}
	}
	if trades < appetiteMinSamples {
		return 0
	}
	switch rate := float64(wins) / float64(trades); {
	case rate >= appetiteHotWinRate:
		return appetiteBoost
	case rate < appetiteColdWinRate:
		return -appetitePenalty
	}
	return 0
}

// ExplorationRate returns the current epsilon.
func (l *Learner) ExplorationRate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st.ExplorationRate
}

// Pattern returns a copy of one pattern's stats.
func (l *Learner) Pattern(name string) (PatternStats, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.st.Patterns[name]
	if !ok {
		return PatternStats{}, false
	}
	return *p, true
}

// Snapshot reports the learned state for the status API, patterns
// sorted by name.
type Snapshot struct {
	TotalTrades     int                     `json:"total_trades"`
	ExplorationRate float64                 `json:"exploration_rate"`
	Patterns        map[string]PatternStats `json:"patterns"`
	PatternOrder    []string                `json:"pattern_order"`
	RecentTrades    int                     `json:"recent_trades"`
}

func (l *Learner) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Snapshot{
		TotalTrades:     l.st.TotalTrades,
		ExplorationRate: l.st.ExplorationRate,
		Patterns:        make(map[string]PatternStats, len(l.st.Patterns)),
		RecentTrades:    len(l.st.History),
	}
	for name, p := range l.st.Patterns {
		s.Patterns[name] = *p
		s.PatternOrder = append(s.PatternOrder, name)
	}
	sort.Strings(s.PatternOrder)
	return s
}

// Close flushes the state file.
func (l *Learner) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.persistLocked()
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
