package risk

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/solfunk/internal/config"
	"github.com/ajitpratap0/solfunk/internal/market"
	"github.com/ajitpratap0/solfunk/internal/metrics"
)

// Extension thresholds. A token clearing any of these has already run
// too far to chase.
const (
	maxGain1hPct      = 15.0
	maxGain4hPct      = 30.0
	maxGain24hPct     = 50.0
	maxGain7dPct      = 200.0
	minDistFromHigh   = 5.0
	maxDistFrom7dLow  = 100.0
	historyMinPoints  = 24
	historyWindowDays = 30
)

// doublingLadder is the P&L each successive add must clear.
var doublingLadder = []float64{5, 10, 15}

// Timeframes holds the multi-horizon gains behind the extension gate.
// Estimated is set when history was unavailable and the long horizons
// come from pair-ratio heuristics.
type Timeframes struct {
	Gain1h            float64 `json:"gain_1h"`
	Gain4h            float64 `json:"gain_4h"`
	Gain24h           float64 `json:"gain_24h"`
	Gain7d            float64 `json:"gain_7d"`
	Gain30d           float64 `json:"gain_30d"`
	DistFromMonthHigh float64 `json:"dist_from_month_high"`
	DistFrom7dLow     float64 `json:"dist_from_7d_low"`
	Estimated         bool    `json:"estimated"`
}

// Portfolio is the capital context for one evaluation.
type Portfolio struct {
	CapitalSOL  float64 // baseline capital the concentration cap is taken from
	InvestedSOL float64 // SOL already committed to this mint
	ProposedSOL float64 // size of the buy under consideration
}

// PositionState describes an open position when the proposed buy is an
// add rather than a fresh entry.
type PositionState struct {
	Doublings      int
	PnLPct         float64
	MaxDrawdownPct float64
}

// Assessment is the gate's verdict.
type Assessment struct {
	Allowed              bool       `json:"allowed"`
	Extended             bool       `json:"extended"`
	MaxPositionSOL       float64    `json:"max_position_sol"`
	ConfidenceMultiplier float64    `json:"confidence_multiplier"`
	Warnings             []string   `json:"warnings,omitempty"`
	Timeframes           Timeframes `json:"timeframes"`
}

// HistorySource supplies hourly prices for the real multi-timeframe
// path. Nil is allowed; the manager then estimates.
type HistorySource interface {
	HourlyPrices(ctx context.Context, mint string, days int) ([]market.PricePoint, error)
}

// Manager applies the capital-protection rules between the strategy
// ensemble and the validator.
type Manager struct {
	cfg     config.RiskConfig
	history HistorySource
	log     zerolog.Logger
}

func NewManager(cfg config.RiskConfig, history HistorySource, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		history: history,
		log:     log.With().Str("component", "risk").Logger(),
	}
}

// Evaluate gates one proposed buy. pos is nil for fresh entries.
func (m *Manager) Evaluate(ctx context.Context, mkt *market.Metrics, pf Portfolio, pos *PositionState) Assessment {
	tf := m.timeframes(ctx, mkt)

	a := Assessment{
		Allowed:              true,
		ConfidenceMultiplier: 1.0,
		Timeframes:           tf,
	}

	if triggers := extensionTriggers(tf); len(triggers) > 0 {
		a.Extended = true
		a.Allowed = false
		a.warn("market extended: " + strings.Join(triggers, ", "))
	}

	m.applyConcentration(&a, pf)

	if pos != nil && pf.InvestedSOL > 0 {
		m.applyDoubling(&a, pos)
	}

	m.applySoftFactors(&a, mkt)

	if !a.Allowed {
		metrics.RiskBlocks.Inc()
	}
	m.log.Debug().
		Str("mint", mkt.Mint).
		Bool("allowed", a.Allowed).
		Bool("extended", a.Extended).
		Float64("max_position_sol", a.MaxPositionSOL).
		Float64("confidence_multiplier", a.ConfidenceMultiplier).
		Strs("warnings", a.Warnings).
		Msg("Risk evaluation")
	return a
}

func (a *Assessment) warn(msg string) {
	a.Warnings = append(a.Warnings, msg)
}

func extensionTriggers(tf Timeframes) []string {
	var triggers []string
	if tf.Gain1h > maxGain1hPct {
		triggers = append(triggers, fmt.Sprintf("+%.1f%% in 1h", tf.Gain1h))
	}
	if tf.Gain4h > maxGain4hPct {
		triggers = append(triggers, fmt.Sprintf("+%.1f%% in 4h", tf.Gain4h))
	}
	if tf.Gain24h > maxGain24hPct {
		triggers = append(triggers, fmt.Sprintf("+%.1f%% in 24h", tf.Gain24h))
	}
	if tf.Gain7d > maxGain7dPct {
		triggers = append(triggers, fmt.Sprintf("+%.1f%% in 7d", tf.Gain7d))
	}
	if tf.DistFromMonthHigh < minDistFromHigh {
		triggers = append(triggers, fmt.Sprintf("%.1f%% below month high", tf.DistFromMonthHigh))
	}
	if tf.DistFrom7dLow > maxDistFrom7dLow && tf.Gain7d < maxGain7dPct {
		triggers = append(triggers, fmt.Sprintf("+%.1f%% off the 7d low", tf.DistFrom7dLow))
	}
	return triggers
}

// applyConcentration caps the position at MaxPositionPct of capital,
// scaled by the configured risk appetite.
func (m *Manager) applyConcentration(a *Assessment, pf Portfolio) {
	appetite := m.cfg.RiskAppetite
	if appetite <= 0 || appetite > 1 {
		appetite = 1
	}
	ceiling := pf.CapitalSOL * m.cfg.MaxPositionPct / 100 * appetite
	headroom := ceiling - pf.InvestedSOL
	if headroom <= 0 {
		a.Allowed = false
		a.MaxPositionSOL = 0
		a.warn(fmt.Sprintf("position at concentration cap (%.1f%% of capital)", m.cfg.MaxPositionPct))
		return
	}
	a.MaxPositionSOL = headroom
	if pf.ProposedSOL > headroom {
		a.warn(fmt.Sprintf("size capped to %.4f SOL by concentration limit", headroom))
	}
}

// applyDoubling enforces the add ladder: each add needs more unrealised
// profit, and a position that has drawn down past the floor never adds.
func (m *Manager) applyDoubling(a *Assessment, pos *PositionState) {
	if pos.Doublings >= m.cfg.MaxDoublings {
		a.Allowed = false
		a.warn(fmt.Sprintf("doubling limit reached (%d)", m.cfg.MaxDoublings))
		return
	}
	need := doublingLadder[len(doublingLadder)-1]
	if pos.Doublings < len(doublingLadder) {
		need = doublingLadder[pos.Doublings]
	}
	if pos.PnLPct < need {
		a.Allowed = false
		a.warn(fmt.Sprintf("pnl %.1f%% below +%.0f%% required for add %d", pos.PnLPct, need, pos.Doublings+1))
	}
	if pos.MaxDrawdownPct < m.cfg.MaxDrawdownPct {
		a.Allowed = false
		a.warn(fmt.Sprintf("max drawdown %.1f%% breached %.1f%% floor", pos.MaxDrawdownPct, m.cfg.MaxDrawdownPct))
	}
}

// applySoftFactors shades confidence down without blocking.
func (m *Manager) applySoftFactors(a *Assessment, mkt *market.Metrics) {
	if age := mkt.PairAge(); age > 0 && age < 24*time.Hour {
		a.ConfidenceMultiplier *= 0.8
		a.warn(fmt.Sprintf("pair only %.0fh old", age.Hours()))
	}
	if mkt.LiquidityUSD > 0 && mkt.FDV/mkt.LiquidityUSD > 50 {
		a.ConfidenceMultiplier *= 0.85
		a.warn(fmt.Sprintf("FDV %.0fx liquidity", mkt.FDV/mkt.LiquidityUSD))
	}
	if math.Abs(mkt.Change1h) > 10 {
		a.ConfidenceMultiplier *= 0.9
		a.warn(fmt.Sprintf("%.1f%% move in the last hour", mkt.Change1h))
	}
}

// timeframes prefers real history and falls back to pair-ratio
// estimates when the history source is missing, failing, or thin.
func (m *Manager) timeframes(ctx context.Context, mkt *market.Metrics) Timeframes {
	if m.history != nil {
		points, err := m.history.HourlyPrices(ctx, mkt.Mint, historyWindowDays)
		if err != nil {
			m.log.Warn().Err(err).Str("mint", mkt.Mint).Msg("Price history unavailable, estimating timeframes")
		} else if len(points) >= historyMinPoints {
			return realTimeframes(mkt, points)
		}
	}
	return estimateTimeframes(mkt)
}

func realTimeframes(mkt *market.Metrics, points []market.PricePoint) Timeframes {
	now := mkt.PriceUSD
	if now <= 0 {
		now = points[len(points)-1].Value
	}
	latest := points[len(points)-1].Time

	tf := Timeframes{
		Gain1h:  mkt.Change1h,
		Gain24h: mkt.Change24h,
		Gain4h:  gainSince(points, now, latest.Add(-4*time.Hour)),
		Gain7d:  gainSince(points, now, latest.Add(-7*24*time.Hour)),
		Gain30d: pctChange(points[0].Value, now),
	}

	high := now
	low7d := now
	weekAgo := latest.Add(-7 * 24 * time.Hour)
	for _, p := range points {
		if p.Value > high {
			high = p.Value
		}
		if !p.Time.Before(weekAgo) && p.Value < low7d && p.Value > 0 {
			low7d = p.Value
		}
	}
	if high > 0 {
		tf.DistFromMonthHigh = (high - now) / high * 100
	}
	if low7d > 0 {
		tf.DistFrom7dLow = (now - low7d) / low7d * 100
	}
	return tf
}

// gainSince finds the last point at or before the cutoff and returns
// the percent change to now. Short histories use their oldest point.
func gainSince(points []market.PricePoint, now float64, cutoff time.Time) float64 {
	ref := points[0].Value
	for i := len(points) - 1; i >= 0; i-- {
		if !points[i].Time.After(cutoff) {
			ref = points[i].Value
			break
		}
	}
	return pctChange(ref, now)
}

func pctChange(from, to float64) float64 {
	if from <= 0 {
		return 0
	}
	return (to - from) / from * 100
}

// estimateTimeframes guesses the long horizons from what the pair data
// implies. The 4h gain interpolates the 1h and 6h windows; the 7d gain
// scales the daily move by root-time, bumped when FDV has run far
// beyond the pool; the range distances stay conservative unless the
// ratios look like a pump.
func estimateTimeframes(mkt *market.Metrics) Timeframes {
	tf := Timeframes{
		Gain1h:    mkt.Change1h,
		Gain24h:   mkt.Change24h,
		Gain4h:    mkt.Change1h + (mkt.Change6h-mkt.Change1h)*0.6,
		Estimated: true,
	}

	var fdvToLiq, volToLiq float64
	if mkt.LiquidityUSD > 0 {
		fdvToLiq = mkt.FDV / mkt.LiquidityUSD
		volToLiq = mkt.Volume24h / mkt.LiquidityUSD
	}
	ageDays := mkt.PairAge().Hours() / 24
	if ageDays < 1.0/24 {
		ageDays = 1.0 / 24
	}

	tf.Gain7d = mkt.Change24h
	if mkt.Change24h > 0 {
		tf.Gain7d = mkt.Change24h * math.Sqrt(math.Min(ageDays, 7))
		switch {
		case fdvToLiq > 100:
			tf.Gain7d += 100
		case fdvToLiq > 50:
			tf.Gain7d += 50
		}
	}
	tf.Gain30d = tf.Gain7d * 1.5

	tf.DistFromMonthHigh = 50
	if fdvToLiq > 100 && mkt.Change24h > 30 {
		tf.DistFromMonthHigh = 3
	}

	tf.DistFrom7dLow = math.Max(mkt.Change24h, 0)
	if volToLiq > 5 && mkt.Change24h > 0 {
		tf.DistFrom7dLow += 50
	}
	return tf
}
