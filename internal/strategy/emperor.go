package strategy

import (
	"context"
	"fmt"
	"time"
)

// EmperorParams tunes the confirmation-based entry and layered exits.
type EmperorParams struct {
	TakeProfitPct    float64       `yaml:"take_profit_pct" json:"take_profit_pct"`
	StopLossPct      float64       `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	MaxHold          time.Duration `yaml:"max_hold" json:"max_hold"`
	SmallGainPct     float64       `yaml:"small_gain_pct" json:"small_gain_pct"`
	HighLiquidityUSD float64       `yaml:"high_liquidity_usd" json:"high_liquidity_usd"`
	ActiveVolumeUSD  float64       `yaml:"active_volume_usd" json:"active_volume_usd"`
	LowRugScore      float64       `yaml:"low_rug_score" json:"low_rug_score"`
	VolumeSpikeRVOL  float64       `yaml:"volume_spike_rvol" json:"volume_spike_rvol"`
	MaxRiskScore     float64       `yaml:"max_risk_score" json:"max_risk_score"`
}

// DefaultEmperorParams returns the stock tuning.
func DefaultEmperorParams() EmperorParams {
	return EmperorParams{
		TakeProfitPct:    12,
		StopLossPct:      8,
		MaxHold:          6 * time.Hour,
		SmallGainPct:     1,
		HighLiquidityUSD: 100_000,
		ActiveVolumeUSD:  50_000,
		LowRugScore:      150,
		VolumeSpikeRVOL:  2.5,
		MaxRiskScore:     0.3,
	}
}

// Emperor requires at least two independent confirmations before a buy
// and exits on profit target, stop, deterioration, or age.
type Emperor struct {
	p EmperorParams
}

func NewEmperor(p EmperorParams) *Emperor { return &Emperor{p: p} }

func (e *Emperor) Name() string { return NameEmperor }

func (e *Emperor) Analyse(_ context.Context, v TokenView) (Signal, error) {
	if v.Position != nil {
		return e.exit(v), nil
	}
	return e.entry(v), nil
}

func (e *Emperor) entry(v TokenView) Signal {
	if !v.Validation.Passed {
		return hold(NameEmperor, "quality filters not passed")
	}

	m := &v.Candidate.Metrics
	var confirmations []string
	if m.LiquidityUSD >= e.p.HighLiquidityUSD {
		confirmations = append(confirmations, "high-liquidity")
	}
	if m.Volume24h >= e.p.ActiveVolumeUSD && m.RVOL() >= 1.2 {
		confirmations = append(confirmations, "active-trading")
	}
	if v.Validation.Whitelisted || (v.Validation.RugScore > 0 && v.Validation.RugScore <= e.p.LowRugScore) {
		confirmations = append(confirmations, "low-rug")
	}
	if v.Validation.Technical != nil && v.Validation.Technical.Oversold {
		confirmations = append(confirmations, "oversold-rsi")
	}
	if m.RVOL() >= e.p.VolumeSpikeRVOL {
		confirmations = append(confirmations, "volume-spike")
	}

	if len(confirmations) < 2 {
		return hold(NameEmperor, fmt.Sprintf("%d of 2 required confirmations", len(confirmations)))
	}

	risk := e.riskScore(v)
	if risk >= e.p.MaxRiskScore {
		return hold(NameEmperor, fmt.Sprintf("risk score %.2f at or above %.2f", risk, e.p.MaxRiskScore))
	}

	return Signal{
		Strategy:   NameEmperor,
		Action:     Buy,
		Confidence: clamp01(0.45 + 0.1*float64(len(confirmations))),
		Reason:     fmt.Sprintf("%d confirmations, risk %.2f", len(confirmations), risk),
		Metadata:   map[string]any{"confirmations": confirmations, "risk_score": risk},
	}
}

// riskScore composes rug risk, 24h swing, and thin liquidity into [0,1].
func (e *Emperor) riskScore(v TokenView) float64 {
	m := &v.Candidate.Metrics

	rug := v.Validation.RugScore / 1000
	if v.Validation.Whitelisted {
		rug = 0
	}
	if rug > 1 {
		rug = 1
	}

	swing := m.Change24h
	if swing < 0 {
		swing = -swing
	}
	swing = swing / 100
	if swing > 1 {
		swing = 1
	}

	liqDepth := m.LiquidityUSD / (2 * e.p.HighLiquidityUSD)
	if liqDepth > 1 {
		liqDepth = 1
	}

	return clamp01(rug*0.4 + swing*0.3 + (1-liqDepth)*0.3)
}

func (e *Emperor) exit(v TokenView) Signal {
	pos := v.Position
	m := &v.Candidate.Metrics

	switch {
	case pos.PnLPct >= e.p.TakeProfitPct:
		return Signal{Strategy: NameEmperor, Action: Sell, Confidence: 0.85,
			Reason: fmt.Sprintf("take profit at %+.1f%%", pos.PnLPct)}
	case pos.PnLPct <= -e.p.StopLossPct:
		return Signal{Strategy: NameEmperor, Action: Sell, Confidence: 0.95,
			Reason: fmt.Sprintf("stop loss at %+.1f%%", pos.PnLPct)}
	case m.Change1h < -5 && m.Change5m < -2:
		return Signal{Strategy: NameEmperor, Action: Sell, Confidence: 0.7,
			Reason: fmt.Sprintf("conditions deteriorating (1h %+.1f%%, 5m %+.1f%%)", m.Change1h, m.Change5m)}
	case pos.HeldFor > e.p.MaxHold && pos.PnLPct > e.p.SmallGainPct:
		return Signal{Strategy: NameEmperor, Action: Sell, Confidence: 0.6,
			Reason: fmt.Sprintf("aged out after %s with %+.1f%%", pos.HeldFor.Round(time.Minute), pos.PnLPct)}
	}
	return Signal{Strategy: NameEmperor, Action: Hold, Confidence: 0.4, Reason: "within exit bands"}
}
