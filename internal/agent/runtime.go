package agent

import (
	"sync"

	"agent-engine/internal/domain"
	"agent-engine/internal/position"
)

// Runtime is the live state of one agent: its record, its position book
// and the in-memory journals of recent trades and logs.
type Runtime struct {
	mu    sync.Mutex
	agent *domain.Agent
	book  *position.Book

	trades *journal[domain.Trade]
	logs   *journal[domain.AgentLog]
}

// ID returns the agent ID.
func (r *Runtime) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agent.AgentID
}

// Snapshot returns a copy of the agent record.
func (r *Runtime) Snapshot() *domain.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agent.Clone()
}

// Book returns the agent's position book.
func (r *Runtime) Book() *position.Book {
	return r.book
}

// With runs fn with exclusive access to the agent record. The record's
// open position index is refreshed from the book when fn returns.
func (r *Runtime) With(fn func(a *domain.Agent, book *position.Book) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.syncOpenPositions()
	return fn(r.agent, r.book)
}

// RecordTrade appends a trade to the journal.
func (r *Runtime) RecordTrade(t *domain.Trade) {
	r.trades.add(*t)
}

// RecordLog appends an agent log to the journal.
func (r *Runtime) RecordLog(l *domain.AgentLog) {
	r.logs.add(*l)
}

// Trades returns recent trades, newest first.
func (r *Runtime) Trades(limit int) []domain.Trade {
	return r.trades.recent(limit)
}

// Logs returns recent agent logs, newest first.
func (r *Runtime) Logs(limit int) []domain.AgentLog {
	return r.logs.recent(limit)
}

// syncOpenPositions requires r.mu.
func (r *Runtime) syncOpenPositions() {
	SyncOpenPositions(r.agent, r.book)
}

// SyncOpenPositions rebuilds a.OpenPositions from the book's active positions.
func SyncOpenPositions(a *domain.Agent, book *position.Book) {
	active := book.Active()
	open := make(map[string]string, len(active))
	for _, p := range active {
		open[p.Token] = p.PositionID
	}
	a.OpenPositions = open
}
