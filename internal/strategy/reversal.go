package strategy

import (
	"context"
	"fmt"
	"time"
)

// ReversalParams tunes the oversold-reversal detector.
type ReversalParams struct {
	MinRVOL       float64       `yaml:"min_rvol" json:"min_rvol"`
	TakeProfitPct float64       `yaml:"take_profit_pct" json:"take_profit_pct"`
	StopLossPct   float64       `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	MaxHold       time.Duration `yaml:"max_hold" json:"max_hold"`
}

// DefaultReversalParams returns the stock tuning.
func DefaultReversalParams() ReversalParams {
	return ReversalParams{
		MinRVOL:       2,
		TakeProfitPct: 15,
		StopLossPct:   7,
		MaxHold:       12 * time.Hour,
	}
}

// Reversal buys when an oversold RSI meets a volume spike and a bullish
// divergence. It needs the validator's technical pass to act at all.
type Reversal struct {
	p ReversalParams
}

func NewReversal(p ReversalParams) *Reversal { return &Reversal{p: p} }

func (r *Reversal) Name() string { return NameReversal }

func (r *Reversal) Analyse(_ context.Context, v TokenView) (Signal, error) {
	if v.Position != nil {
		return r.exit(v), nil
	}

	if !v.Validation.Passed {
		return hold(NameReversal, "quality filters not passed"), nil
	}
	tech := v.Validation.Technical
	if tech == nil {
		return hold(NameReversal, "no technical data"), nil
	}
	m := &v.Candidate.Metrics

	switch {
	case !tech.Oversold:
		return hold(NameReversal, fmt.Sprintf("rsi %.1f not oversold", tech.RSI)), nil
	case m.RVOL() < r.p.MinRVOL:
		return hold(NameReversal, fmt.Sprintf("no volume spike (rvol %.2f)", m.RVOL())), nil
	case !tech.BullishDivergence:
		return hold(NameReversal, "oversold but awaiting divergence"), nil
	}

	return Signal{
		Strategy:   NameReversal,
		Action:     Buy,
		Confidence: 0.75,
		Reason:     fmt.Sprintf("oversold rsi %.1f with divergence and rvol %.2f", tech.RSI, m.RVOL()),
		Metadata:   map[string]any{"rsi": tech.RSI},
	}, nil
}

func (r *Reversal) exit(v TokenView) Signal {
	pos := v.Position
	switch {
	case pos.PnLPct >= r.p.TakeProfitPct:
		return Signal{Strategy: NameReversal, Action: Sell, Confidence: 0.85,
			Reason: fmt.Sprintf("take profit at %+.1f%%", pos.PnLPct)}
	case pos.PnLPct <= -r.p.StopLossPct:
		return Signal{Strategy: NameReversal, Action: Sell, Confidence: 0.95,
			Reason: fmt.Sprintf("stop loss at %+.1f%%", pos.PnLPct)}
	case pos.HeldFor > r.p.MaxHold:
		return Signal{Strategy: NameReversal, Action: Sell, Confidence: 0.6,
			Reason: fmt.Sprintf("reversal window closed after %s", pos.HeldFor.Round(time.Minute))}
	}
	return Signal{Strategy: NameReversal, Action: Hold, Confidence: 0.4, Reason: "reversal playing out"}
}
