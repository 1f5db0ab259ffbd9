package domain

// SignalPerformance aggregates trade outcomes for a signal combination
// under one strategy. Rows are only ever accumulated.
type SignalPerformance struct {
	Fingerprint string // hash of the sorted signal set
	Strategy    StrategyVariant
	Signals     []string

	Count    int
	Wins     int
	Losses   int
	TotalPnl float64
	AvgPnl   float64

	// Blacklist state
	Blacklisted           bool
	BlacklistedAt         int64 // Unix ms
	SamplesSinceBlacklist int
	WinsSinceBlacklist    int

	UpdatedAt int64 // Unix ms
}

// WinRate returns wins / count, 0 with no samples.
func (p *SignalPerformance) WinRate() float64 {
	if p.Count == 0 {
		return 0
	}
	return float64(p.Wins) / float64(p.Count)
}

// Record accumulates one outcome.
func (p *SignalPerformance) Record(pnl float64) {
	p.Count++
	if pnl > 0 {
		p.Wins++
	} else {
		p.Losses++
	}
	p.TotalPnl += pnl
	p.AvgPnl = p.TotalPnl / float64(p.Count)
}

// Clone returns a copy of the aggregate.
func (p *SignalPerformance) Clone() *SignalPerformance {
	c := *p
	if p.Signals != nil {
		c.Signals = append([]string(nil), p.Signals...)
	}
	return &c
}
