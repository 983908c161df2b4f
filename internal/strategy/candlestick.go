package strategy

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/solfunk/internal/market"
)

// CandlestickParams tunes the pin-bar detector.
type CandlestickParams struct {
	MinWickBodyRatio float64 `yaml:"min_wick_body_ratio" json:"min_wick_body_ratio"`
	MinRVOL          float64 `yaml:"min_rvol" json:"min_rvol"`
}

// DefaultCandlestickParams returns the stock tuning.
func DefaultCandlestickParams() CandlestickParams {
	return CandlestickParams{
		MinWickBodyRatio: 2,
		MinRVOL:          1.5,
	}
}

// candle is a synthetic OHLC bar reconstructed from the price-change
// windows: open at the 1h-ago price, close now, with the 5m-ago price
// supplying the intrabar extreme.
type candle struct {
	open, high, low, close float64
}

// synthCandle rebuilds the recent bar from percentage changes. ok is
// false when a change implies a non-positive past price.
func synthCandle(m *market.Metrics) (candle, bool) {
	if m.PriceUSD <= 0 {
		return candle{}, false
	}
	d5 := 1 + m.Change5m/100
	d1 := 1 + m.Change1h/100
	if d5 <= 0 || d1 <= 0 {
		return candle{}, false
	}

	now := m.PriceUSD
	p5 := now / d5
	p1 := now / d1

	c := candle{open: p1, close: now}
	c.high = max3(p1, p5, now)
	c.low = min3(p1, p5, now)
	return c, true
}

func (c candle) body() float64 {
	b := c.close - c.open
	if b < 0 {
		b = -b
	}
	// A doji body still needs a finite wick ratio.
	if floor := c.close * 0.0005; b < floor {
		b = floor
	}
	return b
}

func (c candle) lowerWick() float64 {
	base := c.open
	if c.close < base {
		base = c.close
	}
	return base - c.low
}

func (c candle) upperWick() float64 {
	top := c.open
	if c.close > top {
		top = c.close
	}
	return c.high - top
}

// Candlestick trades wick-rejection pin bars with volume confirmation
// and a dip context score, exiting on the opposite pattern.
type Candlestick struct {
	p CandlestickParams
}

func NewCandlestick(p CandlestickParams) *Candlestick { return &Candlestick{p: p} }

func (s *Candlestick) Name() string { return NameCandlestick }

func (s *Candlestick) Analyse(_ context.Context, v TokenView) (Signal, error) {
	m := &v.Candidate.Metrics
	c, ok := synthCandle(m)
	if !ok {
		return hold(NameCandlestick, "cannot reconstruct candle"), nil
	}

	if v.Position != nil {
		if s.bearishPin(c) {
			return Signal{Strategy: NameCandlestick, Action: Sell, Confidence: 0.7,
				Reason: "bearish reversal pattern"}, nil
		}
		return Signal{Strategy: NameCandlestick, Action: Hold, Confidence: 0.4,
			Reason: "no reversal pattern"}, nil
	}

	if !v.Validation.Passed {
		return hold(NameCandlestick, "quality filters not passed"), nil
	}
	if !s.bullishPin(c) {
		return hold(NameCandlestick, "no pin bar"), nil
	}
	if m.RVOL() < s.p.MinRVOL {
		return hold(NameCandlestick, fmt.Sprintf("pin bar without volume (rvol %.2f)", m.RVOL())), nil
	}

	score := 0
	if m.Change24h < 0 {
		score++
	}
	if m.Change6h < 0 {
		score++
	}
	if m.RVOL() >= 2*s.p.MinRVOL {
		score++
	}

	return Signal{
		Strategy:   NameCandlestick,
		Action:     Buy,
		Confidence: clamp01(0.6 + 0.05*float64(score)),
		Reason:     fmt.Sprintf("bullish pin bar, context %d, rvol %.2f", score, m.RVOL()),
		Metadata:   map[string]any{"context_score": score},
	}, nil
}

func (s *Candlestick) bullishPin(c candle) bool {
	return c.close >= c.open &&
		c.lowerWick() >= s.p.MinWickBodyRatio*c.body() &&
		c.lowerWick() > c.upperWick()
}

func (s *Candlestick) bearishPin(c candle) bool {
	return c.close <= c.open &&
		c.upperWick() >= s.p.MinWickBodyRatio*c.body() &&
		c.upperWick() > c.lowerWick()
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
