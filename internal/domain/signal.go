package domain

import "sort"

// Signal identifies one independent market-signal stream.
type Signal int

const (
	SignalTechnical Signal = iota
	SignalSmartMoney
	SignalSocial
	SignalNews
	SignalFearGreed
	SignalLiquidity
	SignalSafety

	NumSignals = 7
)

var signalNames = [NumSignals]string{
	"technical",
	"smart_money",
	"social",
	"news",
	"fear_greed",
	"liquidity",
	"safety",
}

// String returns the canonical signal name.
func (s Signal) String() string {
	if s < 0 || int(s) >= NumSignals {
		return "unknown"
	}
	return signalNames[s]
}

// AllSignals returns every signal in canonical order.
func AllSignals() []Signal {
	out := make([]Signal, NumSignals)
	for i := range out {
		out[i] = Signal(i)
	}
	return out
}

// ParseSignal maps a canonical name back to its Signal.
func ParseSignal(name string) (Signal, bool) {
	for i, n := range signalNames {
		if n == name {
			return Signal(i), true
		}
	}
	return 0, false
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime int64 // Unix ms
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// TechnicalIndicators holds indicator values computed from candles.
type TechnicalIndicators struct {
	SMA20          float64
	EMA12          float64
	EMA26          float64
	RSI14          float64
	MACD           float64
	MACDSignal     float64
	MACDHistogram  float64
	BollingerUpper float64
	BollingerMid   float64
	BollingerLower float64
	PercentB       float64
	Volatility     float64 // band width relative to the middle band
}

// PoolHealth describes liquidity-pool state for a token.
type PoolHealth struct {
	PriceUSD     float64
	LiquidityUSD float64
	Change24hPct float64
}

// TokenFeatures is the feature vector of one token in a snapshot.
type TokenFeatures struct {
	Token        string
	Price        float64
	Technical    TechnicalIndicators
	LiquidityUSD float64
	SafetyScore  float64             // raw 0..100
	Signals      [NumSignals]float64 // normalized to -1..1
}

// Signal returns the normalized value of s.
func (f TokenFeatures) Signal(s Signal) float64 {
	return f.Signals[s]
}

// QualityScore is the liquidity/safety sub-score used to break ties.
func (f TokenFeatures) QualityScore() float64 {
	return f.Signals[SignalLiquidity] + f.Signals[SignalSafety]
}

// SignalSnapshot is the immutable per-cycle market view shared by all agents.
// Fields are unexported so that evaluations cannot mutate it.
type SignalSnapshot struct {
	cycleTime int64
	fearGreed float64
	tokens    map[string]TokenFeatures
	order     []string
	degraded  []string
}

// NewSignalSnapshot freezes the given features into a snapshot.
func NewSignalSnapshot(cycleTime int64, fearGreed float64, features []TokenFeatures, degraded []string) *SignalSnapshot {
	s := &SignalSnapshot{
		cycleTime: cycleTime,
		fearGreed: fearGreed,
		tokens:    make(map[string]TokenFeatures, len(features)),
		order:     make([]string, 0, len(features)),
	}
	for _, f := range features {
		if _, dup := s.tokens[f.Token]; !dup {
			s.order = append(s.order, f.Token)
		}
		s.tokens[f.Token] = f
	}
	sort.Strings(s.order)

	s.degraded = append([]string(nil), degraded...)
	sort.Strings(s.degraded)
	return s
}

// CycleTime returns the cycle timestamp (Unix ms) the snapshot belongs to.
func (s *SignalSnapshot) CycleTime() int64 { return s.cycleTime }

// FearGreed returns the raw fear & greed index (0..100), 50 when unavailable.
func (s *SignalSnapshot) FearGreed() float64 { return s.fearGreed }

// Tokens returns token identifiers in sorted order.
func (s *SignalSnapshot) Tokens() []string {
	return append([]string(nil), s.order...)
}

// Token returns a copy of the features for token.
func (s *SignalSnapshot) Token(token string) (TokenFeatures, bool) {
	f, ok := s.tokens[token]
	return f, ok
}

// Price returns the snapshot price for token.
func (s *SignalSnapshot) Price(token string) (float64, bool) {
	f, ok := s.tokens[token]
	if !ok || f.Price <= 0 {
		return 0, false
	}
	return f.Price, true
}

// Degraded returns the sources that failed while building the snapshot.
func (s *SignalSnapshot) Degraded() []string {
	return append([]string(nil), s.degraded...)
}

// Len returns the number of tokens in the snapshot.
func (s *SignalSnapshot) Len() int { return len(s.order) }

// SnapshotData is the serializable form of a snapshot, used by shared caches.
type SnapshotData struct {
	CycleTime int64           `json:"cycle_time"`
	FearGreed float64         `json:"fear_greed"`
	Tokens    []TokenFeatures `json:"tokens"`
	Degraded  []string        `json:"degraded"`
}

// Data exports the snapshot in serializable form.
func (s *SignalSnapshot) Data() SnapshotData {
	d := SnapshotData{
		CycleTime: s.cycleTime,
		FearGreed: s.fearGreed,
		Tokens:    make([]TokenFeatures, 0, len(s.order)),
		Degraded:  s.Degraded(),
	}
	for _, t := range s.order {
		d.Tokens = append(d.Tokens, s.tokens[t])
	}
	return d
}

// SnapshotFromData rebuilds a snapshot from its serializable form.
func SnapshotFromData(d SnapshotData) *SignalSnapshot {
	return NewSignalSnapshot(d.CycleTime, d.FearGreed, d.Tokens, d.Degraded)
}
