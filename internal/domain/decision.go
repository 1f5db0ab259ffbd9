package domain

// Action is the outcome of one agent evaluation.
type Action string

const (
	ActionBuy   Action = "buy"
	ActionSell  Action = "sell"
	ActionHold  Action = "hold"
	ActionClose Action = "close"
)

// Decision is what the decision engine proposes for an agent in one cycle.
type Decision struct {
	Action        Action
	Token         string
	Confidence    float64 // 0..1
	Conviction    float64 // weighted score, -1..1
	Size          float64 // quote amount for buys, fraction of position for sells
	Reasoning     string
	Fingerprint   string
	Signals       []string
	Contributions [NumSignals]float64
	Price         float64 // snapshot price of Token

	// Protective pricing for buys, percent from entry.
	StopLossPct   float64
	TakeProfitPct float64
}

// IsTrade reports whether the decision requires execution.
func (d Decision) IsTrade() bool {
	return d.Action != ActionHold && d.Action != ""
}
