package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// AgentStore implements storage.AgentStore using PostgreSQL.
type AgentStore struct {
	pool *Pool
}

// NewAgentStore creates a new AgentStore.
func NewAgentStore(pool *Pool) *AgentStore {
	return &AgentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AgentStore = (*AgentStore)(nil)

const agentColumns = `
	agent_id, name, chain, wallet_address, strategy, status,
	max_position_size, stop_loss_percent, take_profit_percent, max_daily_trades, risk_level, max_daily_volume,
	tokens,
	daily_trades_used, daily_volume_used, daily_reset_day,
	total_pnl, total_trades, wins, losses, win_rate,
	consecutive_losses, cooldown_until,
	created_at, updated_at
`

// Upsert inserts or replaces an agent.
func (s *AgentStore) Upsert(ctx context.Context, a *domain.Agent) error {
	if a == nil || a.AgentID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO agents (` + agentColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13,
			$14, $15, $16,
			$17, $18, $19, $20, $21,
			$22, $23,
			$24, $25
		)
		ON CONFLICT (agent_id) DO UPDATE SET
			name = EXCLUDED.name,
			chain = EXCLUDED.chain,
			wallet_address = EXCLUDED.wallet_address,
			strategy = EXCLUDED.strategy,
			status = EXCLUDED.status,
			max_position_size = EXCLUDED.max_position_size,
			stop_loss_percent = EXCLUDED.stop_loss_percent,
			take_profit_percent = EXCLUDED.take_profit_percent,
			max_daily_trades = EXCLUDED.max_daily_trades,
			risk_level = EXCLUDED.risk_level,
			max_daily_volume = EXCLUDED.max_daily_volume,
			tokens = EXCLUDED.tokens,
			daily_trades_used = EXCLUDED.daily_trades_used,
			daily_volume_used = EXCLUDED.daily_volume_used,
			daily_reset_day = EXCLUDED.daily_reset_day,
			total_pnl = EXCLUDED.total_pnl,
			total_trades = EXCLUDED.total_trades,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			win_rate = EXCLUDED.win_rate,
			consecutive_losses = EXCLUDED.consecutive_losses,
			cooldown_until = EXCLUDED.cooldown_until,
			updated_at = EXCLUDED.updated_at
	`

	tokens := a.Tokens
	if tokens == nil {
		tokens = []string{}
	}

	_, err := s.pool.Exec(ctx, query,
		a.AgentID, a.Name, a.Chain, a.WalletAddress, string(a.Strategy), string(a.Status),
		a.Risk.MaxPositionSize, a.Risk.StopLossPercent, a.Risk.TakeProfitPercent, a.Risk.MaxDailyTrades, a.Risk.RiskLevel, a.Risk.MaxDailyVolume,
		tokens,
		a.DailyTradesUsed, a.DailyVolumeUsed, a.DailyResetDay,
		a.TotalPnl, a.TotalTrades, a.Wins, a.Losses, a.WinRate,
		a.ConsecutiveLosses, a.CooldownUntil,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// GetByID retrieves an agent by its ID. Returns ErrNotFound if not exists.
func (s *AgentStore) GetByID(ctx context.Context, agentID string) (*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE agent_id = $1`

	a, err := scanAgent(s.pool.QueryRow(ctx, query, agentID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get agent by id: %w", err)
	}
	return a, nil
}

// List retrieves all agents ordered by created_at ASC.
func (s *AgentStore) List(ctx context.Context) ([]*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents ORDER BY created_at ASC, agent_id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent rows: %w", err)
	}
	return agents, nil
}

// Delete removes an agent. Returns ErrNotFound if not exists.
func (s *AgentStore) Delete(ctx context.Context, agentID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE agent_id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanAgent scans a single row into an Agent.
func scanAgent(row pgx.Row) (*domain.Agent, error) {
	var (
		a        domain.Agent
		strategy string
		status   string
	)

	err := row.Scan(
		&a.AgentID, &a.Name, &a.Chain, &a.WalletAddress, &strategy, &status,
		&a.Risk.MaxPositionSize, &a.Risk.StopLossPercent, &a.Risk.TakeProfitPercent, &a.Risk.MaxDailyTrades, &a.Risk.RiskLevel, &a.Risk.MaxDailyVolume,
		&a.Tokens,
		&a.DailyTradesUsed, &a.DailyVolumeUsed, &a.DailyResetDay,
		&a.TotalPnl, &a.TotalTrades, &a.Wins, &a.Losses, &a.WinRate,
		&a.ConsecutiveLosses, &a.CooldownUntil,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Strategy = domain.StrategyVariant(strategy)
	a.Status = domain.AgentStatus(status)
	a.OpenPositions = make(map[string]string)
	return &a, nil
}
