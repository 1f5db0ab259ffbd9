package domain

import "fmt"

// StrategyVariant selects one of the predefined strategy configurations.
type StrategyVariant string

const (
	StrategyConservative StrategyVariant = "conservative"
	StrategyBalanced     StrategyVariant = "balanced"
	StrategyAggressive   StrategyVariant = "aggressive"
	StrategyDegen        StrategyVariant = "degen"
)

// StrategyVariants lists all supported variants in canonical order.
var StrategyVariants = []StrategyVariant{
	StrategyConservative,
	StrategyBalanced,
	StrategyAggressive,
	StrategyDegen,
}

// Valid reports whether v is a known variant.
func (v StrategyVariant) Valid() bool {
	_, ok := strategyConfigs[v]
	return ok
}

// StrategyConfig holds the parameters that distinguish strategy variants.
// Evaluation logic is shared; variants differ only in these values.
type StrategyConfig struct {
	Variant StrategyVariant

	// Entry
	ConvictionFloor float64 // minimum conviction to open a position (0..1)
	SizeMultiplier  float64 // fraction of MaxPositionSize to request
	MinSafetyScore  float64 // normalized safety signal below which a token is skipped
	MinLiquidityUSD float64 // pool liquidity below which a token is skipped

	// Exit
	CloseThreshold float64 // conviction <= -CloseThreshold closes an open position
	SellThreshold  float64 // conviction <= -SellThreshold reduces a profitable position
	SellFraction   float64 // fraction of the position sold on a partial exit

	// Protective pricing (percent, e.g. 10 = 10%)
	StopLossMinPct   float64
	StopLossMaxPct   float64
	TakeProfitMinPct float64
	TakeProfitMaxPct float64
	TrailPct         float64 // trailing stop distance below the highest price
	TrailArmPct      float64 // gain over entry required before the trailing stop is armed

	// BaselineWeights are the signal weights used before any history exists.
	BaselineWeights [NumSignals]float64
}

// Predefined strategy configurations.
var (
	StrategyConfigConservative = StrategyConfig{
		Variant:          StrategyConservative,
		ConvictionFloor:  0.55,
		SizeMultiplier:   0.25,
		MinSafetyScore:   0.4,
		MinLiquidityUSD:  250000,
		CloseThreshold:   0.25,
		SellThreshold:    0.10,
		SellFraction:     0.5,
		StopLossMinPct:   3,
		StopLossMaxPct:   8,
		TakeProfitMinPct: 8,
		TakeProfitMaxPct: 25,
		TrailPct:         6,
		TrailArmPct:      4,
		BaselineWeights:  [NumSignals]float64{1.2, 1.0, 0.5, 0.7, 0.8, 1.2, 1.5},
	}

	StrategyConfigBalanced = StrategyConfig{
		Variant:          StrategyBalanced,
		ConvictionFloor:  0.40,
		SizeMultiplier:   0.5,
		MinSafetyScore:   0.2,
		MinLiquidityUSD:  100000,
		CloseThreshold:   0.30,
		SellThreshold:    0.15,
		SellFraction:     0.5,
		StopLossMinPct:   5,
		StopLossMaxPct:   15,
		TakeProfitMinPct: 10,
		TakeProfitMaxPct: 60,
		TrailPct:         12,
		TrailArmPct:      5,
		BaselineWeights:  [NumSignals]float64{1.0, 1.0, 0.8, 0.8, 0.6, 1.0, 1.0},
	}

	StrategyConfigAggressive = StrategyConfig{
		Variant:          StrategyAggressive,
		ConvictionFloor:  0.30,
		SizeMultiplier:   0.75,
		MinSafetyScore:   0.0,
		MinLiquidityUSD:  25000,
		CloseThreshold:   0.35,
		SellThreshold:    0.20,
		SellFraction:     0.5,
		StopLossMinPct:   8,
		StopLossMaxPct:   25,
		TakeProfitMinPct: 20,
		TakeProfitMaxPct: 150,
		TrailPct:         18,
		TrailArmPct:      10,
		BaselineWeights:  [NumSignals]float64{1.0, 1.2, 1.0, 0.6, 0.4, 0.8, 0.7},
	}

	StrategyConfigDegen = StrategyConfig{
		Variant:          StrategyDegen,
		ConvictionFloor:  0.20,
		SizeMultiplier:   1.0,
		MinSafetyScore:   -0.5,
		MinLiquidityUSD:  5000,
		CloseThreshold:   0.45,
		SellThreshold:    0.30,
		SellFraction:     0.3,
		StopLossMinPct:   10,
		StopLossMaxPct:   40,
		TakeProfitMinPct: 30,
		TakeProfitMaxPct: 500,
		TrailPct:         25,
		TrailArmPct:      20,
		BaselineWeights:  [NumSignals]float64{0.8, 1.5, 1.3, 0.5, 0.3, 0.6, 0.4},
	}
)

var strategyConfigs = map[StrategyVariant]StrategyConfig{
	StrategyConservative: StrategyConfigConservative,
	StrategyBalanced:     StrategyConfigBalanced,
	StrategyAggressive:   StrategyConfigAggressive,
	StrategyDegen:        StrategyConfigDegen,
}

// StrategyConfigFor returns the configuration for a variant.
// The returned value is a copy; callers cannot alter the presets.
func StrategyConfigFor(v StrategyVariant) (StrategyConfig, error) {
	cfg, ok := strategyConfigs[v]
	if !ok {
		return StrategyConfig{}, fmt.Errorf("unknown strategy variant %q", v)
	}
	return cfg, nil
}

// ClampStopLossPct bounds a requested stop-loss percent to the variant's range.
func (c StrategyConfig) ClampStopLossPct(pct float64) float64 {
	return clamp(pct, c.StopLossMinPct, c.StopLossMaxPct)
}

// ClampTakeProfitPct bounds a requested take-profit percent to the variant's range.
func (c StrategyConfig) ClampTakeProfitPct(pct float64) float64 {
	return clamp(pct, c.TakeProfitMinPct, c.TakeProfitMaxPct)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
