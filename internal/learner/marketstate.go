package learner

import (
	"fmt"
	"math"
)

// Market regimes for the discretised state space.
const (
	RegimeBull     = "BULL"
	RegimeBear     = "BEAR"
	RegimeSideways = "SIDEWAYS"
	RegimeVolatile = "VOLATILE"
)

const (
	rvolMedFloor = 2.0
	rvolHighFloor = 5.0

	liqMedFloorUSD  = 100_000.0
	liqHighFloorUSD = 500_000.0

	regimeTrendPct    = 5.0
	regimeVolatile24h = 40.0
	regimeVolatile1h  = 10.0
)

// ClassifyRegime buckets the market by its recent moves. Violent moves
// in either direction classify as VOLATILE before trend direction is
// considered.
func ClassifyRegime(change24hPct, change1hPct float64) string {
	switch {
	case math.Abs(change24hPct) > regimeVolatile24h || math.Abs(change1hPct) > regimeVolatile1h:
		return RegimeVolatile
	case change24hPct > regimeTrendPct:
		return RegimeBull
	case change24hPct < -regimeTrendPct:
		return RegimeBear
	default:
		return RegimeSideways
	}
}

// RVOLBucket discretises relative volume: LOW < 2, MED < 5, HIGH >= 5.
func RVOLBucket(rvol float64) string {
	switch {
	case rvol >= rvolHighFloor:
		return "HIGH"
	case rvol >= rvolMedFloor:
		return "MED"
	default:
		return "LOW"
	}
}

// LiquidityBucket discretises pool depth: LOW < 100K, MED < 500K,
// HIGH >= 500K.
func LiquidityBucket(liquidityUSD float64) string {
	switch {
	case liquidityUSD >= liqHighFloorUSD:
		return "HIGH"
	case liquidityUSD >= liqMedFloorUSD:
		return "MED"
	default:
		return "LOW"
	}
}

// StateKey joins regime and buckets into the key the state-action
// table is indexed by.
func StateKey(change24hPct, change1hPct, rvol, liquidityUSD float64) string {
	return fmt.Sprintf("%s|%s|%s",
		ClassifyRegime(change24hPct, change1hPct),
		RVOLBucket(rvol),
		LiquidityBucket(liquidityUSD))
}
