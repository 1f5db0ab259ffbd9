package domain

// Log levels used in agent logs.
const (
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// AgentLog is an immutable audit record of one agent decision or failure.
type AgentLog struct {
	LogID          string
	AgentID        string
	CycleTime      int64 // Unix ms of the cycle
	Level          string
	Action         string
	Token          string
	Confidence     float64
	TokensAnalyzed int
	Reasoning      string
	SnapshotRef    string // cycle snapshot key
	Timestamp      int64  // Unix ms
}
