package agent

import "errors"

// Sentinel errors returned by the registry.
var (
	ErrAgentNotFound     = errors.New("agent not found")
	ErrAgentRunning      = errors.New("agent is running")
	ErrAgentHasPositions = errors.New("agent has open positions")
	ErrInvalidAgent      = errors.New("invalid agent")
)
