package strategy

import (
	"context"
	"fmt"
	"math"
)

// AntiMartingaleParams tunes uptrend entries and winner scaling.
type AntiMartingaleParams struct {
	BaseSOL       float64    `yaml:"base_sol" json:"base_sol"`
	MaxDoublings  int        `yaml:"max_doublings" json:"max_doublings"`
	TPLadderPct   [3]float64 `yaml:"tp_ladder_pct" json:"tp_ladder_pct"`
	StopLossPct   float64    `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	MinChange24h  float64    `yaml:"min_change_24h" json:"min_change_24h"`
	MinChange1h   float64    `yaml:"min_change_1h" json:"min_change_1h"`
}

// DefaultAntiMartingaleParams returns the stock tuning.
func DefaultAntiMartingaleParams() AntiMartingaleParams {
	return AntiMartingaleParams{
		BaseSOL:      0.05,
		MaxDoublings: 3,
		TPLadderPct:  [3]float64{10, 15, 20},
		StopLossPct:  8,
		MinChange24h: 2,
		MinChange1h:  0.5,
	}
}

// AntiMartingale rides uptrends, doubling size on winners up to the
// doubling cap, with a laddered take-profit and a hard stop.
type AntiMartingale struct {
	p AntiMartingaleParams
}

func NewAntiMartingale(p AntiMartingaleParams) *AntiMartingale { return &AntiMartingale{p: p} }

func (a *AntiMartingale) Name() string { return NameAntiMartingale }

func (a *AntiMartingale) Analyse(_ context.Context, v TokenView) (Signal, error) {
	m := &v.Candidate.Metrics
	trending := m.Change24h > a.p.MinChange24h && m.Change1h > a.p.MinChange1h
	momentum := m.Change5m >= 0

	if v.Position == nil {
		if !v.Validation.Passed {
			return hold(NameAntiMartingale, "quality filters not passed"), nil
		}
		if !trending || !momentum {
			return hold(NameAntiMartingale, fmt.Sprintf("no uptrend (24h %+.1f%%, 1h %+.1f%%, 5m %+.1f%%)",
				m.Change24h, m.Change1h, m.Change5m)), nil
		}
		return Signal{
			Strategy:   NameAntiMartingale,
			Action:     Buy,
			Confidence: 0.65,
			AmountSOL:  a.p.BaseSOL,
			Reason:     fmt.Sprintf("uptrend with momentum (24h %+.1f%%)", m.Change24h),
		}, nil
	}

	pos := v.Position
	if pos.PnLPct <= -a.p.StopLossPct {
		return Signal{Strategy: NameAntiMartingale, Action: Sell, Confidence: 0.95,
			Reason: fmt.Sprintf("stop loss at %+.1f%%", pos.PnLPct)}, nil
	}

	ladder := a.p.TPLadderPct
	switch {
	case pos.PnLPct >= ladder[2]:
		return Signal{Strategy: NameAntiMartingale, Action: Sell, Confidence: 0.9,
			Reason: fmt.Sprintf("ladder top at %+.1f%%", pos.PnLPct)}, nil
	case pos.PnLPct >= ladder[1]:
		return Signal{Strategy: NameAntiMartingale, Action: Sell, Confidence: 0.8,
			Reason: fmt.Sprintf("ladder middle at %+.1f%%", pos.PnLPct)}, nil
	case pos.PnLPct >= ladder[0]:
		return Signal{Strategy: NameAntiMartingale, Action: Sell, Confidence: 0.7,
			Reason: fmt.Sprintf("ladder bottom at %+.1f%%", pos.PnLPct)}, nil
	}

	if trending && momentum && pos.PnLPct > 0 && pos.Doublings < a.p.MaxDoublings {
		size := a.p.BaseSOL * math.Pow(2, float64(pos.Doublings+1))
		return Signal{
			Strategy:   NameAntiMartingale,
			Action:     Buy,
			Confidence: 0.65,
			AmountSOL:  size,
			Reason:     fmt.Sprintf("scaling winner, double %d of %d", pos.Doublings+1, a.p.MaxDoublings),
			Metadata:   map[string]any{"doublings": pos.Doublings + 1},
		}, nil
	}
	return Signal{Strategy: NameAntiMartingale, Action: Hold, Confidence: 0.4, Reason: "riding the trend"}, nil
}
