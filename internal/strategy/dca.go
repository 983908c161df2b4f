package strategy

import (
	"context"
	"fmt"
)

// DCAParams tunes the dip-buying ladder.
type DCAParams struct {
	MinDipPct       float64 `yaml:"min_dip_pct" json:"min_dip_pct"`
	MaxDipPct       float64 `yaml:"max_dip_pct" json:"max_dip_pct"`
	MinRVOL         float64 `yaml:"min_rvol" json:"min_rvol"`
	StepSOL         float64 `yaml:"step_sol" json:"step_sol"`
	MaxPerTokenSOL  float64 `yaml:"max_per_token_sol" json:"max_per_token_sol"`
	ProfitTargetPct float64 `yaml:"profit_target_pct" json:"profit_target_pct"`
}

// DefaultDCAParams returns the stock tuning.
func DefaultDCAParams() DCAParams {
	return DCAParams{
		MinDipPct:       3,
		MaxDipPct:       25,
		MinRVOL:         1.1,
		StepSOL:         0.05,
		MaxPerTokenSOL:  0.25,
		ProfitTargetPct: 10,
	}
}

// DCA buys quality dips in fixed steps up to a per-token cap and exits
// at the profit target.
type DCA struct {
	p DCAParams
}

func NewDCA(p DCAParams) *DCA { return &DCA{p: p} }

func (d *DCA) Name() string { return NameDCA }

func (d *DCA) Analyse(_ context.Context, v TokenView) (Signal, error) {
	m := &v.Candidate.Metrics

	if v.Position == nil {
		if !v.Validation.Passed {
			return hold(NameDCA, "quality filters not passed"), nil
		}
		dip := -m.Change24h
		if dip < d.p.MinDipPct || dip > d.p.MaxDipPct {
			return hold(NameDCA, fmt.Sprintf("no quality dip (24h %+.1f%%)", m.Change24h)), nil
		}
		if m.RVOL() < d.p.MinRVOL {
			return hold(NameDCA, fmt.Sprintf("dip without volume (rvol %.2f)", m.RVOL())), nil
		}
		if m.Change5m < -1 {
			return hold(NameDCA, "dip still falling"), nil
		}
		return Signal{
			Strategy:   NameDCA,
			Action:     Buy,
			Confidence: 0.6,
			AmountSOL:  d.p.StepSOL,
			Reason:     fmt.Sprintf("quality dip %+.1f%% with rvol %.2f", m.Change24h, m.RVOL()),
		}, nil
	}

	pos := v.Position
	if pos.PnLPct >= d.p.ProfitTargetPct {
		return Signal{Strategy: NameDCA, Action: Sell, Confidence: 0.8,
			Reason: fmt.Sprintf("profit target at %+.1f%%", pos.PnLPct)}, nil
	}
	if pos.InvestedSOL >= d.p.MaxPerTokenSOL {
		return Signal{Strategy: NameDCA, Action: Hold, Confidence: 0.5,
			Reason: "max investment reached"}, nil
	}
	if pos.PnLPct <= -d.p.MinDipPct && m.Change5m >= -1 {
		step := d.p.StepSOL
		if remaining := d.p.MaxPerTokenSOL - pos.InvestedSOL; remaining < step {
			step = remaining
		}
		return Signal{
			Strategy:   NameDCA,
			Action:     Buy,
			Confidence: 0.55,
			AmountSOL:  step,
			Reason:     fmt.Sprintf("averaging down at %+.1f%%", pos.PnLPct),
		}, nil
	}
	return Signal{Strategy: NameDCA, Action: Hold, Confidence: 0.4, Reason: "waiting between steps"}, nil
}
