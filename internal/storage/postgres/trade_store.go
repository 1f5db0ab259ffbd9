package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

const insertTradeQuery = `
	INSERT INTO trades (
		trade_id, agent_id, position_id, token, trade_type, status,
		amount, price, quantity, realized_pnl,
		reasoning, confidence, tx_id, error, timestamp_ms
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10,
		$11, $12, $13, $14, $15
	)
`

func tradeArgs(t *domain.Trade) []any {
	return []any{
		t.TradeID, t.AgentID, t.PositionID, t.Token, t.Type, t.Status,
		t.Amount, t.Price, t.Quantity, t.RealizedPnl,
		t.Reasoning, t.Confidence, t.TxID, t.Error, t.Timestamp,
	}
}

// Insert adds a new trade. Returns ErrDuplicateKey if trade_id exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.Trade) error {
	if t == nil || t.TradeID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, insertTradeQuery, tradeArgs(t)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
func (s *TradeStore) InsertBulk(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, t := range trades {
		if t == nil || t.TradeID == "" {
			return storage.ErrInvalidInput
		}
		batch.Queue(insertTradeQuery, tradeArgs(t)...)
	}

	results := tx.SendBatch(ctx, batch)
	for range trades {
		if _, err := results.Exec(); err != nil {
			results.Close()
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert trade in bulk: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByAgent retrieves the most recent trades of an agent, newest first.
func (s *TradeStore) GetByAgent(ctx context.Context, agentID string, limit int) ([]*domain.Trade, error) {
	query := `
		SELECT
			trade_id, agent_id, position_id, token, trade_type, status,
			amount, price, quantity, realized_pnl,
			reasoning, confidence, tx_id, error, timestamp_ms
		FROM trades
		WHERE agent_id = $1
		ORDER BY timestamp_ms DESC, trade_id DESC
		LIMIT NULLIF($2, 0)
	`

	rows, err := s.pool.Query(ctx, query, agentID, max(limit, 0))
	if err != nil {
		return nil, fmt.Errorf("get trades by agent: %w", err)
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		err := rows.Scan(
			&t.TradeID, &t.AgentID, &t.PositionID, &t.Token, &t.Type, &t.Status,
			&t.Amount, &t.Price, &t.Quantity, &t.RealizedPnl,
			&t.Reasoning, &t.Confidence, &t.TxID, &t.Error, &t.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		trades = append(trades, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}
	return trades, nil
}
