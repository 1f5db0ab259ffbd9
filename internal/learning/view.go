package learning

import (
	"math"
	"time"

	"agent-engine/internal/domain"
)

// signalKeyPrefix marks per-signal aggregates so that they never collide
// with fingerprint hashes.
const signalKeyPrefix = "signal:"

// SignalKey returns the aggregate key holding the per-signal history.
func SignalKey(s domain.Signal) string {
	return signalKeyPrefix + s.String()
}

func perfKey(fingerprint string, strategy domain.StrategyVariant) string {
	return string(strategy) + "|" + fingerprint
}

// View is an immutable snapshot of the learning state.
// A View is never modified after it is published.
type View struct {
	cfg  Config
	perf map[string]*domain.SignalPerformance
}

func emptyView(cfg Config) *View {
	return &View{cfg: cfg, perf: map[string]*domain.SignalPerformance{}}
}

// Len returns the number of aggregates.
func (v *View) Len() int {
	return len(v.perf)
}

// Performance returns a copy of the aggregate for (fingerprint, strategy).
func (v *View) Performance(fingerprint string, strategy domain.StrategyVariant) (*domain.SignalPerformance, bool) {
	p, ok := v.perf[perfKey(fingerprint, strategy)]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Weight returns the adapted weight of a signal under a strategy.
func (v *View) Weight(s domain.Signal, strategy domain.StrategyVariant) float64 {
	cfg, err := domain.StrategyConfigFor(strategy)
	if err != nil {
		return 0
	}
	baseline := cfg.BaselineWeights[s]

	p, ok := v.perf[perfKey(SignalKey(s), strategy)]
	if !ok || p.Count < v.cfg.MinSamples {
		return baseline
	}
	return baseline * v.factor(p)
}

// Weights returns the weight of every signal under a strategy.
func (v *View) Weights(strategy domain.StrategyVariant) [domain.NumSignals]float64 {
	var w [domain.NumSignals]float64
	for _, s := range domain.AllSignals() {
		w[s] = v.Weight(s, strategy)
	}
	return w
}

// factor = clamp(1 + a*(2*winRate-1) + b*tanh(avgPnl/scale), min, max)
func (v *View) factor(p *domain.SignalPerformance) float64 {
	f := 1 + v.cfg.Alpha*(2*p.WinRate()-1) + v.cfg.Beta*math.Tanh(p.AvgPnl/v.cfg.PnlScale)
	return math.Min(math.Max(f, v.cfg.MinFactor), v.cfg.MaxFactor)
}

// IsBlacklisted reports whether new positions for the fingerprint are
// blocked at now. After BlacklistTTL the fingerprint is on probation and
// tradable until its re-evaluation.
func (v *View) IsBlacklisted(fingerprint string, strategy domain.StrategyVariant, now time.Time) bool {
	p, ok := v.perf[perfKey(fingerprint, strategy)]
	if !ok || !p.Blacklisted {
		return false
	}
	return now.UnixMilli() < p.BlacklistedAt+v.cfg.BlacklistTTL.Milliseconds()
}

// OnProbation reports whether a blacklisted fingerprint's TTL has expired
// and it is collecting re-evaluation samples.
func (v *View) OnProbation(fingerprint string, strategy domain.StrategyVariant, now time.Time) bool {
	p, ok := v.perf[perfKey(fingerprint, strategy)]
	if !ok || !p.Blacklisted {
		return false
	}
	return !v.IsBlacklisted(fingerprint, strategy, now)
}

// Blacklisted returns the number of fingerprints currently flagged.
func (v *View) Blacklisted() int {
	n := 0
	for _, p := range v.perf {
		if p.Blacklisted {
			n++
		}
	}
	return n
}
