package indicators

// SMA computes the simple moving average series.
// Entries before the first full window are zero.
func SMA(data []float64, period int) []float64 {
	out := make([]float64, len(data))
	if period <= 0 || len(data) < period {
		return out
	}

	sum := 0.0
	for i := 0; i < len(data); i++ {
		sum += data[i]
		if i >= period {
			sum -= data[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA computes the exponential moving average series, seeded with the SMA
// of the first window. Entries before the seed are zero.
func EMA(data []float64, period int) []float64 {
	out := make([]float64, len(data))
	if period <= 0 || len(data) < period {
		return out
	}

	k := 2.0 / (float64(period) + 1.0)

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	out[period-1] = sum / float64(period)

	for i := period; i < len(data); i++ {
		out[i] = data[i]*k + out[i-1]*(1-k)
	}
	return out
}

// Last returns the final element of a series, 0 for an empty series.
func Last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}
