package llm

import "fmt"

// Profit target bounds in percent.
const (
	minProfitTargetPct  = 3.0
	maxProfitTargetPct  = 40.0
	baseProfitTargetPct = 3.0
)

// ProfitTarget scores a dynamic take-profit percentage for a new
// position from a deterministic rubric. Hot volume and momentum raise
// the target, thin liquidity lowers it, and the recent win streak
// nudges it either way. The result is clamped to [3, 40].
func ProfitTarget(change24hPct, rvol, volume24hUSD, liquidityUSD, aiConfidence float64, winStreak int) (float64, []string) {
	target := baseProfitTargetPct
	reasons := []string{fmt.Sprintf("base %.0f%%", baseProfitTargetPct)}

	var add float64
	switch {
	case rvol >= 5:
		add = 10
	case rvol >= 3:
		add = 7
	case rvol >= 2:
		add = 5
	case rvol >= 1.5:
		add = 3
	case rvol >= 1.2:
		add = 1
	}
	if add > 0 {
		target += add
		reasons = append(reasons, fmt.Sprintf("rvol %.1f +%.0f", rvol, add))
	}

	add = 0
	switch {
	case change24hPct >= 30:
		add = 8
	case change24hPct >= 20:
		add = 6
	case change24hPct >= 10:
		add = 4
	case change24hPct >= 5:
		add = 2
	case change24hPct > 0:
		add = 1
	}
	if add > 0 {
		target += add
		reasons = append(reasons, fmt.Sprintf("momentum %+.1f%% +%.0f", change24hPct, add))
	}

	add = 0
	switch {
	case volume24hUSD >= 500_000:
		add = 3
	case volume24hUSD >= 250_000:
		add = 2
	case volume24hUSD >= 100_000:
		add = 1
	}
	if add > 0 {
		target += add
		reasons = append(reasons, fmt.Sprintf("volume $%.0f +%.0f", volume24hUSD, add))
	}

	add = 0
	switch {
	case aiConfidence >= 0.9:
		add = 5
	case aiConfidence >= 0.8:
		add = 4
	case aiConfidence >= 0.7:
		add = 3
	case aiConfidence >= 0.6:
		add = 2
	case aiConfidence >= 0.5:
		add = 1
	}
	if add > 0 {
		target += add
		reasons = append(reasons, fmt.Sprintf("confidence %.2f +%.0f", aiConfidence, add))
	}

	var penalty float64
	switch {
	case liquidityUSD < 25_000:
		penalty = 3
	case liquidityUSD < 50_000:
		penalty = 2
	case liquidityUSD < 100_000:
		penalty = 1
	}
	if penalty > 0 {
		target -= penalty
		reasons = append(reasons, fmt.Sprintf("thin liquidity $%.0f -%.0f", liquidityUSD, penalty))
	}

	streak := winStreak
	if streak > 3 {
		streak = 3
	} else if streak < -3 {
		streak = -3
	}
	if streak != 0 {
		target += float64(streak)
		reasons = append(reasons, fmt.Sprintf("streak %d %+d", winStreak, streak))
	}

	if target < minProfitTargetPct {
		target = minProfitTargetPct
	} else if target > maxProfitTargetPct {
		target = maxProfitTargetPct
	}
	return target, reasons
}
