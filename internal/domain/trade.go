package domain

// Trade types
const (
	TradeTypeBuy   = "buy"
	TradeTypeSell  = "sell"
	TradeTypeClose = "close"
)

// Trade statuses
const (
	TradeStatusFilled = "filled"
	TradeStatusFailed = "failed"
)

// Trade is an immutable execution record appended on open, reduce and close.
type Trade struct {
	TradeID    string
	AgentID    string
	PositionID string // empty when an opening trade failed
	Token      string
	Type       string // buy | sell | close
	Status     string // filled | failed

	Amount      float64 // quote amount
	Price       float64 // fill price (reference price when failed)
	Quantity    float64 // token quantity
	RealizedPnl float64

	Reasoning  string
	Confidence float64
	TxID       string
	Error      string
	Timestamp  int64 // Unix ms
}

// Outcome class constants
const (
	OutcomeClassWin  = "WIN"
	OutcomeClassLoss = "LOSS"
)
