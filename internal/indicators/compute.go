package indicators

import (
	"math"

	"agent-engine/internal/domain"
)

// Standard periods
const (
	SMAPeriod       = 20
	EMAFastPeriod   = 12
	EMASlowPeriod   = 26
	MACDSignal      = 9
	RSIPeriod       = 14
	BollingerPeriod = 20
	BollingerStdDev = 2.0
)

// Compute derives all technical indicators from candles ordered by open time.
func Compute(candles []domain.Candle) domain.TechnicalIndicators {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	macd := MACD(closes, EMAFastPeriod, EMASlowPeriod, MACDSignal)
	bb := Bollinger(closes, BollingerPeriod, BollingerStdDev)

	return domain.TechnicalIndicators{
		SMA20:          Last(SMA(closes, SMAPeriod)),
		EMA12:          Last(EMA(closes, EMAFastPeriod)),
		EMA26:          Last(EMA(closes, EMASlowPeriod)),
		RSI14:          RSI(closes, RSIPeriod),
		MACD:           macd.MACD,
		MACDSignal:     macd.Signal,
		MACDHistogram:  macd.Histogram,
		BollingerUpper: bb.Upper,
		BollingerMid:   bb.Middle,
		BollingerLower: bb.Lower,
		PercentB:       bb.PercentB,
		Volatility:     bb.Width,
	}
}

// Score maps indicators to a technical signal in [-1, 1].
// Oversold RSI, a positive MACD histogram, price near the lower band and
// a fast EMA above the slow EMA contribute positively.
func Score(ind domain.TechnicalIndicators, price float64) float64 {
	if price <= 0 {
		return 0
	}

	// RSI: 30 -> +1, 70 -> -1
	rsi := clamp((50-ind.RSI14)/20, -1, 1)

	// MACD histogram relative to price
	macd := 0.0
	if ind.MACDHistogram != 0 {
		macd = math.Tanh(ind.MACDHistogram / price * 100)
	}

	// %B: 0 -> +1, 1 -> -1
	pb := clamp(1-2*ind.PercentB, -1, 1)

	trend := 0.0
	if ind.EMA12 > 0 && ind.EMA26 > 0 {
		trend = math.Tanh((ind.EMA12 - ind.EMA26) / ind.EMA26 * 50)
	}

	return clamp(0.3*rsi+0.3*macd+0.15*pb+0.25*trend, -1, 1)
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
