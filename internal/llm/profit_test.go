package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProfitTarget(t *testing.T) {
	cases := []struct {
		name      string
		change24h float64
		rvol      float64
		volume    float64
		liq       float64
		aiConf    float64
		streak    int
		want      float64
	}{
		// 3 base + 5 rvol + 4 momentum + 1 volume + 2 confidence
		{"steady climber", 18, 2.5, 150_000, 200_000, 0.65, 0, 15},
		// 3 + 10 + 8 + 3 + 5 + 3
		{"everything hot", 50, 6, 600_000, 300_000, 0.95, 5, 32},
		{"cold and thin floors at minimum", -10, 0.5, 10_000, 20_000, 0.2, -3, 3},
		// 3 + 3 + 2 + 1 + 1 - 1 + 1
		{"mixed mid-range", 8, 1.6, 120_000, 60_000, 0.55, 1, 10},
		// 3 + 0 + 0 + 0 + 1 - 2, floored
		{"thin liquidity drags below floor", 0, 1.0, 50_000, 40_000, 0.5, 0, 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, reasons := ProfitTarget(tc.change24h, tc.rvol, tc.volume, tc.liq, tc.aiConf, tc.streak)
			assert.InDelta(t, tc.want, got, 1e-9)
			assert.NotEmpty(t, reasons)
			assert.Contains(t, reasons[0], "base 3%")
		})
	}
}

func TestProfitTarget_StreakIsClamped(t *testing.T) {
	hot, _ := ProfitTarget(0, 0, 0, 200_000, 0, 10)
	cold, reasons := ProfitTarget(0, 0, 0, 200_000, 0, -10)

	assert.InDelta(t, 6, hot, 1e-9, "3 base + capped +3 streak")
	assert.InDelta(t, 3, cold, 1e-9, "floor holds under a capped -3 streak")

	joined := strings.Join(reasons, "; ")
	assert.Contains(t, joined, "streak -10 -3")
}

func TestProfitTarget_ReasonsNameEachTerm(t *testing.T) {
	_, reasons := ProfitTarget(25, 3.5, 300_000, 80_000, 0.75, 2)
	joined := strings.Join(reasons, "; ")

	assert.Contains(t, joined, "rvol 3.5 +7")
	assert.Contains(t, joined, "momentum +25.0% +6")
	assert.Contains(t, joined, "volume $300000 +2")
	assert.Contains(t, joined, "confidence 0.75 +3")
	assert.Contains(t, joined, "thin liquidity $80000 -1")
	assert.Contains(t, joined, "streak 2 +2")
}
