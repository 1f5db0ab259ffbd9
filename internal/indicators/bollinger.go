package indicators

import "math"

// BollingerResult holds the latest Bollinger band values.
type BollingerResult struct {
	Upper    float64
	Middle   float64
	Lower    float64
	PercentB float64 // (close - lower) / (upper - lower)
	Width    float64 // (upper - lower) / middle
}

// Bollinger computes bands over the last period closes using the population
// standard deviation. PercentB is 0.5 when the bands collapse.
func Bollinger(closes []float64, period int, multiplier float64) BollingerResult {
	if period <= 0 || len(closes) < period {
		return BollingerResult{PercentB: 0.5}
	}

	window := closes[len(closes)-period:]
	sum := 0.0
	for _, c := range window {
		sum += c
	}
	mid := sum / float64(period)

	sq := 0.0
	for _, c := range window {
		d := c - mid
		sq += d * d
	}
	std := math.Sqrt(sq / float64(period))

	res := BollingerResult{
		Upper:  mid + multiplier*std,
		Middle: mid,
		Lower:  mid - multiplier*std,
	}
	if res.Upper == res.Lower {
		res.PercentB = 0.5
	} else {
		res.PercentB = (window[len(window)-1] - res.Lower) / (res.Upper - res.Lower)
	}
	if mid != 0 {
		res.Width = (res.Upper - res.Lower) / mid
	}
	return res
}
