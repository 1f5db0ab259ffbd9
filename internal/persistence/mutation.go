// Package persistence batches state mutations produced during a cycle and
// writes them to storage sinks off the evaluation path.
package persistence

import (
	"agent-engine/internal/domain"
)

// Kind identifies a mutation type.
type Kind string

const (
	KindTrade       Kind = "trade"
	KindAgentLog    Kind = "agent_log"
	KindPosition    Kind = "position"
	KindAgent       Kind = "agent"
	KindPerformance Kind = "signal_performance"
)

// Mutation is one pending write. Exactly one payload field is set.
type Mutation struct {
	Kind        Kind
	Trade       *domain.Trade
	Log         *domain.AgentLog
	Position    *domain.Position
	Agent       *domain.Agent
	Performance *domain.SignalPerformance
}

// TradeInsert appends a trade.
func TradeInsert(t *domain.Trade) Mutation {
	c := *t
	return Mutation{Kind: KindTrade, Trade: &c}
}

// LogInsert appends an agent log.
func LogInsert(l *domain.AgentLog) Mutation {
	c := *l
	return Mutation{Kind: KindAgentLog, Log: &c}
}

// PositionUpsert writes the latest state of a position.
func PositionUpsert(p *domain.Position) Mutation {
	return Mutation{Kind: KindPosition, Position: p.Clone()}
}

// AgentUpsert writes the latest state of an agent.
func AgentUpsert(a *domain.Agent) Mutation {
	return Mutation{Kind: KindAgent, Agent: a.Clone()}
}

// PerformanceUpsert writes a signal performance aggregate.
func PerformanceUpsert(p *domain.SignalPerformance) Mutation {
	return Mutation{Kind: KindPerformance, Performance: p.Clone()}
}

// Batch is a set of mutations grouped by kind. Upserts of the same entity
// are collapsed to the latest state; appends keep their order.
type Batch struct {
	Trades      []*domain.Trade
	Logs        []*domain.AgentLog
	Positions   []*domain.Position
	Agents      []*domain.Agent
	Performance []*domain.SignalPerformance
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int {
	return len(b.Trades) + len(b.Logs) + len(b.Positions) + len(b.Agents) + len(b.Performance)
}

// NewBatch groups mutations in enqueue order.
func NewBatch(muts []Mutation) *Batch {
	b := &Batch{}
	positions := make(map[string]int)
	agents := make(map[string]int)
	perf := make(map[string]int)

	for _, m := range muts {
		switch m.Kind {
		case KindTrade:
			b.Trades = append(b.Trades, m.Trade)
		case KindAgentLog:
			b.Logs = append(b.Logs, m.Log)
		case KindPosition:
			if i, ok := positions[m.Position.PositionID]; ok {
				b.Positions[i] = m.Position
				continue
			}
			positions[m.Position.PositionID] = len(b.Positions)
			b.Positions = append(b.Positions, m.Position)
		case KindAgent:
			if i, ok := agents[m.Agent.AgentID]; ok {
				b.Agents[i] = m.Agent
				continue
			}
			agents[m.Agent.AgentID] = len(b.Agents)
			b.Agents = append(b.Agents, m.Agent)
		case KindPerformance:
			key := string(m.Performance.Strategy) + "|" + m.Performance.Fingerprint
			if i, ok := perf[key]; ok {
				b.Performance[i] = m.Performance
				continue
			}
			perf[key] = len(b.Performance)
			b.Performance = append(b.Performance, m.Performance)
		}
	}
	return b
}
