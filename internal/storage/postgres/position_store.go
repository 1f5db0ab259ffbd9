package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

const positionColumns = `
	position_id, agent_id, token, side,
	size, cost_basis, entry_cost, avg_entry_price, current_price, highest_price,
	stop_loss_price, take_profit_price, trailing_stop_price, trailing_armed,
	unrealized_pnl, realized_pnl,
	status, exit_reason, fingerprint, signals,
	opened_at, closed_at, updated_at
`

// Upsert inserts or replaces a position. Rows already closed are never
// modified; reopening one returns ErrClosedPosition.
func (s *PositionStore) Upsert(ctx context.Context, p *domain.Position) error {
	if p == nil || p.PositionID == "" || p.AgentID == "" || p.Token == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO positions (` + positionColumns + `) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16,
			$17, $18, $19, $20,
			$21, $22, $23
		)
		ON CONFLICT (position_id) DO UPDATE SET
			size = EXCLUDED.size,
			cost_basis = EXCLUDED.cost_basis,
			entry_cost = EXCLUDED.entry_cost,
			avg_entry_price = EXCLUDED.avg_entry_price,
			current_price = EXCLUDED.current_price,
			highest_price = EXCLUDED.highest_price,
			stop_loss_price = EXCLUDED.stop_loss_price,
			take_profit_price = EXCLUDED.take_profit_price,
			trailing_stop_price = EXCLUDED.trailing_stop_price,
			trailing_armed = EXCLUDED.trailing_armed,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			realized_pnl = EXCLUDED.realized_pnl,
			status = EXCLUDED.status,
			exit_reason = EXCLUDED.exit_reason,
			closed_at = EXCLUDED.closed_at,
			updated_at = EXCLUDED.updated_at
		WHERE positions.status <> 'closed'
	`

	signals := p.Signals
	if signals == nil {
		signals = []string{}
	}

	tag, err := s.pool.Exec(ctx, query,
		p.PositionID, p.AgentID, p.Token, p.Side,
		p.Size, p.CostBasis, p.EntryCost, p.AvgEntryPrice, p.CurrentPrice, p.HighestPrice,
		p.StopLossPrice, p.TakeProfitPrice, p.TrailingStopPrice, p.TrailingArmed,
		p.UnrealizedPnl, p.RealizedPnl,
		string(p.Status), p.ExitReason, p.Fingerprint, signals,
		p.OpenedAt, p.ClosedAt, p.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			// Second active position for the same (agent, token).
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("upsert position: %w", err)
	}
	if tag.RowsAffected() == 0 && p.Status != domain.PositionStatusClosed {
		return storage.ErrClosedPosition
	}
	return nil
}

// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(ctx context.Context, positionID string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE position_id = $1`

	p, err := scanPosition(s.pool.QueryRow(ctx, query, positionID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position by id: %w", err)
	}
	return p, nil
}

// GetByAgent retrieves positions of an agent ordered by opened_at ASC.
func (s *PositionStore) GetByAgent(ctx context.Context, agentID string, status domain.PositionStatus) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE agent_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY opened_at ASC, position_id ASC
	`

	rows, err := s.pool.Query(ctx, query, agentID, string(status))
	if err != nil {
		return nil, fmt.Errorf("get positions by agent: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// GetActive retrieves every non-closed position.
func (s *PositionStore) GetActive(ctx context.Context) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE status <> 'closed'
		ORDER BY opened_at ASC, position_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get active positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// scanPosition scans a single row into a Position.
func scanPosition(row pgx.Row) (*domain.Position, error) {
	var (
		p      domain.Position
		status string
	)

	err := row.Scan(
		&p.PositionID, &p.AgentID, &p.Token, &p.Side,
		&p.Size, &p.CostBasis, &p.EntryCost, &p.AvgEntryPrice, &p.CurrentPrice, &p.HighestPrice,
		&p.StopLossPrice, &p.TakeProfitPrice, &p.TrailingStopPrice, &p.TrailingArmed,
		&p.UnrealizedPnl, &p.RealizedPnl,
		&status, &p.ExitReason, &p.Fingerprint, &p.Signals,
		&p.OpenedAt, &p.ClosedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = domain.PositionStatus(status)
	return &p, nil
}

// scanPositions scans multiple rows into a slice of Position.
func scanPositions(rows pgx.Rows) ([]*domain.Position, error) {
	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}
	return positions, nil
}
