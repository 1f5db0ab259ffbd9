package memory

import "agent-engine/internal/storage"

// NewStores returns a full set of in-memory stores.
func NewStores() storage.Stores {
	return storage.Stores{
		Agents:      NewAgentStore(),
		Positions:   NewPositionStore(),
		Trades:      NewTradeStore(),
		Logs:        NewAgentLogStore(),
		Performance: NewSignalPerformanceStore(),
	}
}
