// Package indicators wraps the streaming cinar calculators with
// slice-based helpers for the validator and the strategy ensemble.
package indicators

import (
	"fmt"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
)

const (
	// RSIPeriod is the standard lookback used across the pipeline.
	RSIPeriod = 14

	RSIOversold   = 30.0
	RSIOverbought = 70.0
)

func toChan(xs []float64) chan float64 {
	ch := make(chan float64, len(xs))
	for _, x := range xs {
		ch <- x
	}
	close(ch)
	return ch
}

func drain(ch <-chan float64) []float64 {
	var out []float64
	for v := range ch {
		out = append(out, v)
	}
	return out
}

func checkPeriod(period, n int) error {
	if period < 1 || period > n {
		return fmt.Errorf("invalid period %d for %d prices", period, n)
	}
	return nil
}

// RSI returns the relative strength index series. The last value
// corresponds to the last price.
func RSI(prices []float64, period int) ([]float64, error) {
	if err := checkPeriod(period, len(prices)); err != nil {
		return nil, err
	}
	out := drain(momentum.NewRsiWithPeriod[float64](period).Compute(toChan(prices)))
	if len(out) == 0 {
		return nil, fmt.Errorf("rsi produced no values for %d prices", len(prices))
	}
	return out, nil
}

// LastRSI returns the most recent RSI value.
func LastRSI(prices []float64, period int) (float64, error) {
	out, err := RSI(prices, period)
	if err != nil {
		return 0, err
	}
	return out[len(out)-1], nil
}

// EMA returns the exponential moving average series.
func EMA(prices []float64, period int) ([]float64, error) {
	if err := checkPeriod(period, len(prices)); err != nil {
		return nil, err
	}
	out := drain(trend.NewEmaWithPeriod[float64](period).Compute(toChan(prices)))
	if len(out) == 0 {
		return nil, fmt.Errorf("ema produced no values for %d prices", len(prices))
	}
	return out, nil
}

// MACD returns the MACD and signal lines with 12/26/9 periods.
func MACD(prices []float64) (macd, signal []float64, err error) {
	if err := checkPeriod(26, len(prices)); err != nil {
		return nil, nil, err
	}
	macdChan, signalChan := trend.NewMacdWithPeriod[float64](12, 26, 9).Compute(toChan(prices))
	macdOut := make(chan []float64, 1)
	go func() { macdOut <- drain(macdChan) }()
	signal = drain(signalChan)
	macd = <-macdOut
	if len(macd) == 0 || len(signal) == 0 {
		return nil, nil, fmt.Errorf("macd produced no values for %d prices", len(prices))
	}
	return macd, signal, nil
}

// Bollinger returns the lower, middle, and upper bands.
func Bollinger(prices []float64, period int) (lower, middle, upper []float64, err error) {
	if err := checkPeriod(period, len(prices)); err != nil {
		return nil, nil, nil, err
	}
	lowerChan, middleChan, upperChan := volatility.NewBollingerBandsWithPeriod[float64](period).Compute(toChan(prices))

	lowerOut := make(chan []float64, 1)
	middleOut := make(chan []float64, 1)
	go func() { lowerOut <- drain(lowerChan) }()
	go func() { middleOut <- drain(middleChan) }()
	upper = drain(upperChan)
	lower = <-lowerOut
	middle = <-middleOut
	if len(lower) == 0 {
		return nil, nil, nil, fmt.Errorf("bollinger produced no values for %d prices", len(prices))
	}
	return lower, middle, upper, nil
}

// BullishDivergence reports whether, over the trailing window, the most
// recent price low came strictly later than the most recent RSI low.
// Both series must be tail-aligned, as RSI and EMA outputs here are.
func BullishDivergence(prices, rsi []float64, window int) bool {
	n := window
	if len(prices) < n {
		n = len(prices)
	}
	if len(rsi) < n {
		n = len(rsi)
	}
	if n < 3 {
		return false
	}

	pTail := prices[len(prices)-n:]
	rTail := rsi[len(rsi)-n:]

	priceLow, rsiLow := 0, 0
	for i := 1; i < n; i++ {
		if pTail[i] <= pTail[priceLow] {
			priceLow = i
		}
		if rTail[i] <= rTail[rsiLow] {
			rsiLow = i
		}
	}
	return priceLow > rsiLow
}
