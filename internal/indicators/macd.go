package indicators

// MACDResult holds the latest MACD values.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD computes the MACD line (fast EMA - slow EMA), its signal EMA and the
// histogram. Returns zeros when there is not enough data for the slow EMA.
func MACD(closes []float64, fast, slow, signal int) MACDResult {
	if len(closes) < slow || fast >= slow {
		return MACDResult{}
	}

	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)

	// MACD line is defined from the first slow EMA value onward.
	line := make([]float64, 0, len(closes)-slow+1)
	for i := slow - 1; i < len(closes); i++ {
		line = append(line, fastEMA[i]-slowEMA[i])
	}

	res := MACDResult{MACD: Last(line)}
	if len(line) >= signal {
		res.Signal = Last(EMA(line, signal))
		res.Histogram = res.MACD - res.Signal
	}
	return res
}
