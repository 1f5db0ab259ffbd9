package domain

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionStatusOpening PositionStatus = "opening"
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosing PositionStatus = "closing"
	PositionStatusClosed  PositionStatus = "closed"
)

// Position sides. The engine only opens longs.
const (
	SideLong = "long"
)

// Exit reason codes
const (
	ExitReasonStopLoss     = "STOP_LOSS"
	ExitReasonTakeProfit   = "TAKE_PROFIT"
	ExitReasonTrailingStop = "TRAILING_STOP"
	ExitReasonSignal       = "SIGNAL_CLOSE"
)

// Position is a holding of one token by one agent.
type Position struct {
	PositionID string
	AgentID    string
	Token      string
	Side       string

	Size          float64 // token quantity
	CostBasis     float64 // quote spent on the remaining quantity
	EntryCost     float64 // quote spent at open
	AvgEntryPrice float64
	CurrentPrice  float64
	HighestPrice  float64

	StopLossPrice     float64
	TakeProfitPrice   float64
	TrailingStopPrice float64 // 0 until armed
	TrailingArmed     bool

	UnrealizedPnl float64
	RealizedPnl   float64

	Status      PositionStatus
	ExitReason  string
	Fingerprint string   // learning key of the signals that opened the position
	Signals     []string // signals in the fingerprint

	OpenedAt  int64 // Unix ms
	ClosedAt  int64 // Unix ms, 0 while open
	UpdatedAt int64 // Unix ms
}

// IsActive reports whether the position still occupies its (agent, token) slot.
func (p *Position) IsActive() bool {
	return p.Status != PositionStatusClosed
}

// ReturnPct is the realized PnL as a fraction of the opening cost.
func (p *Position) ReturnPct() float64 {
	if p.EntryCost <= 0 {
		return 0
	}
	return p.RealizedPnl / p.EntryCost
}

// Clone returns a copy of the position.
func (p *Position) Clone() *Position {
	c := *p
	if p.Signals != nil {
		c.Signals = append([]string(nil), p.Signals...)
	}
	return &c
}
