package signals

import (
	"math"
)

// Normalization of raw upstream values into [-1, 1].

// normalizeFlow maps net USD inflow through tanh(flow / scale).
func normalizeFlow(flowUSD, scale float64) float64 {
	if scale <= 0 {
		scale = 100_000
	}
	return bounded(math.Tanh(flowUSD / scale))
}

// normalizeFearGreed is contrarian: extreme fear (0) maps to +1 and
// extreme greed (100) to -1.
func normalizeFearGreed(index float64) float64 {
	return bounded((50 - index) / 50)
}

// normalizeLiquidity scores pool depth on a log scale ($100k = 0,
// $10M = +1, $1k = -1) and adds a small term for the 24h change.
func normalizeLiquidity(h poolHealth) float64 {
	if h.LiquidityUSD <= 0 {
		return -1
	}
	level := (math.Log10(h.LiquidityUSD) - 5) / 2
	change := math.Tanh(h.Change24hPct / 25)
	return bounded(0.8*bounded(level) + 0.2*change)
}

// normalizeSafety maps a 0..100 score to [-1, 1].
func normalizeSafety(score float64) float64 {
	return bounded((score - 50) / 50)
}

// bounded clamps v to [-1, 1] and maps NaN/Inf to 0.
func bounded(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

type poolHealth struct {
	LiquidityUSD float64
	Change24hPct float64
}
