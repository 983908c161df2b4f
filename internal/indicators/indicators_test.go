package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constantSeries(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func rampSeries(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestRSI_ExtremesFollowDirection(t *testing.T) {
	up, err := LastRSI(rampSeries(100, 1, 40), RSIPeriod)
	require.NoError(t, err)
	assert.Greater(t, up, RSIOverbought)

	down, err := LastRSI(rampSeries(100, -1, 40), RSIPeriod)
	require.NoError(t, err)
	assert.Less(t, down, RSIOversold)
}

func TestRSI_RejectsBadPeriod(t *testing.T) {
	_, err := RSI(rampSeries(1, 1, 5), 14)
	require.Error(t, err)
	_, err = RSI(rampSeries(1, 1, 5), 0)
	require.Error(t, err)
}

func TestEMA_ConstantSeriesConverges(t *testing.T) {
	out, err := EMA(constantSeries(42, 30), 10)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.InDelta(t, 42, out[len(out)-1], 1e-9)
}

func TestMACD_ConstantSeriesIsFlat(t *testing.T) {
	macd, signal, err := MACD(constantSeries(5, 60))
	require.NoError(t, err)
	require.NotEmpty(t, macd)
	require.NotEmpty(t, signal)
	assert.InDelta(t, 0, macd[len(macd)-1], 1e-9)
	assert.InDelta(t, 0, signal[len(signal)-1], 1e-9)
}

func TestBollinger_ConstantSeriesCollapses(t *testing.T) {
	lower, middle, upper, err := Bollinger(constantSeries(10, 40), 20)
	require.NoError(t, err)
	require.NotEmpty(t, lower)
	require.NotEmpty(t, middle)
	require.NotEmpty(t, upper)
	assert.InDelta(t, 10, lower[len(lower)-1], 1e-9)
	assert.InDelta(t, 10, middle[len(middle)-1], 1e-9)
	assert.InDelta(t, 10, upper[len(upper)-1], 1e-9)
}

func TestBullishDivergence(t *testing.T) {
	// Price makes its low at the end while RSI bottomed earlier.
	prices := []float64{10, 9, 8, 7.5, 7.2, 7.0}
	rsi := []float64{40, 25, 20, 24, 28, 33}
	assert.True(t, BullishDivergence(prices, rsi, 6))

	// Both series bottoming together is not a divergence.
	assert.False(t, BullishDivergence(prices, prices, 6))

	// Tiny windows never signal.
	assert.False(t, BullishDivergence(prices[:2], rsi[:2], 6))
}
