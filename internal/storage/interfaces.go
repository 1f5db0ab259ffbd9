package storage

import (
	"context"

	"agent-engine/internal/domain"
)

// AgentStore provides access to agents storage.
type AgentStore interface {
	// Upsert inserts or replaces an agent keyed by agent_id.
	Upsert(ctx context.Context, a *domain.Agent) error

	// GetByID retrieves an agent by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, agentID string) (*domain.Agent, error)

	// List retrieves all agents ordered by created_at ASC.
	List(ctx context.Context) ([]*domain.Agent, error)

	// Delete removes an agent. Returns ErrNotFound if not exists.
	Delete(ctx context.Context, agentID string) error
}

// PositionStore provides access to positions storage.
type PositionStore interface {
	// Upsert inserts or replaces a position keyed by position_id.
	// Closed positions are immutable: reopening one returns ErrClosedPosition,
	// rewriting a closed position is a no-op.
	Upsert(ctx context.Context, p *domain.Position) error

	// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, positionID string) (*domain.Position, error)

	// GetByAgent retrieves positions of an agent ordered by opened_at ASC.
	// An empty status returns positions in every state.
	GetByAgent(ctx context.Context, agentID string, status domain.PositionStatus) ([]*domain.Position, error)

	// GetActive retrieves every non-closed position across all agents.
	GetActive(ctx context.Context) ([]*domain.Position, error)
}

// TradeStore provides access to trades storage (append-only).
type TradeStore interface {
	// Insert adds a new trade. Returns ErrDuplicateKey if trade_id exists.
	Insert(ctx context.Context, t *domain.Trade) error

	// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, trades []*domain.Trade) error

	// GetByAgent retrieves the most recent trades of an agent, newest first.
	// limit <= 0 returns all trades.
	GetByAgent(ctx context.Context, agentID string, limit int) ([]*domain.Trade, error)
}

// AgentLogStore provides access to agent_logs storage (append-only).
type AgentLogStore interface {
	// InsertBulk adds multiple logs. Fails entire batch on any duplicate log_id.
	InsertBulk(ctx context.Context, logs []*domain.AgentLog) error

	// GetByAgent retrieves the most recent logs of an agent, newest first.
	// limit <= 0 returns all logs.
	GetByAgent(ctx context.Context, agentID string, limit int) ([]*domain.AgentLog, error)
}

// SignalPerformanceStore provides access to signal_performance storage.
type SignalPerformanceStore interface {
	// UpsertBulk inserts or replaces aggregates keyed by (fingerprint, strategy).
	UpsertBulk(ctx context.Context, perfs []*domain.SignalPerformance) error

	// GetByKey retrieves one aggregate. Returns ErrNotFound if not exists.
	GetByKey(ctx context.Context, fingerprint string, strategy domain.StrategyVariant) (*domain.SignalPerformance, error)

	// GetAll retrieves all aggregates ordered by (strategy, fingerprint).
	GetAll(ctx context.Context) ([]*domain.SignalPerformance, error)
}

// Stores groups the stores the engine persists to.
type Stores struct {
	Agents      AgentStore
	Positions   PositionStore
	Trades      TradeStore
	Logs        AgentLogStore
	Performance SignalPerformanceStore
}
