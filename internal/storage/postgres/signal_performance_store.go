package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// SignalPerformanceStore implements storage.SignalPerformanceStore using PostgreSQL.
type SignalPerformanceStore struct {
	pool *Pool
}

// NewSignalPerformanceStore creates a new SignalPerformanceStore.
func NewSignalPerformanceStore(pool *Pool) *SignalPerformanceStore {
	return &SignalPerformanceStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SignalPerformanceStore = (*SignalPerformanceStore)(nil)

const performanceColumns = `
	fingerprint, strategy, signals,
	sample_count, wins, losses, total_pnl, avg_pnl,
	blacklisted, blacklisted_at, samples_since_blacklist, wins_since_blacklist,
	updated_at
`

// UpsertBulk inserts or replaces aggregates in one transaction.
// A row is only replaced by an aggregate with at least as many samples.
func (s *SignalPerformanceStore) UpsertBulk(ctx context.Context, perfs []*domain.SignalPerformance) error {
	if len(perfs) == 0 {
		return nil
	}

	query := `
		INSERT INTO signal_performance (` + performanceColumns + `) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7, $8,
			$9, $10, $11, $12,
			$13
		)
		ON CONFLICT (fingerprint, strategy) DO UPDATE SET
			signals = EXCLUDED.signals,
			sample_count = EXCLUDED.sample_count,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			total_pnl = EXCLUDED.total_pnl,
			avg_pnl = EXCLUDED.avg_pnl,
			blacklisted = EXCLUDED.blacklisted,
			blacklisted_at = EXCLUDED.blacklisted_at,
			samples_since_blacklist = EXCLUDED.samples_since_blacklist,
			wins_since_blacklist = EXCLUDED.wins_since_blacklist,
			updated_at = EXCLUDED.updated_at
		WHERE signal_performance.sample_count <= EXCLUDED.sample_count
	`

	batch := &pgx.Batch{}
	for _, p := range perfs {
		if p == nil || p.Fingerprint == "" || p.Strategy == "" {
			return storage.ErrInvalidInput
		}
		signals := p.Signals
		if signals == nil {
			signals = []string{}
		}
		batch.Queue(query,
			p.Fingerprint, string(p.Strategy), signals,
			p.Count, p.Wins, p.Losses, p.TotalPnl, p.AvgPnl,
			p.Blacklisted, p.BlacklistedAt, p.SamplesSinceBlacklist, p.WinsSinceBlacklist,
			p.UpdatedAt,
		)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert signal performance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByKey retrieves one aggregate. Returns ErrNotFound if not exists.
func (s *SignalPerformanceStore) GetByKey(ctx context.Context, fingerprint string, strategy domain.StrategyVariant) (*domain.SignalPerformance, error) {
	query := `SELECT ` + performanceColumns + ` FROM signal_performance WHERE fingerprint = $1 AND strategy = $2`

	p, err := scanPerformance(s.pool.QueryRow(ctx, query, fingerprint, string(strategy)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get signal performance: %w", err)
	}
	return p, nil
}

// GetAll retrieves all aggregates ordered by (strategy, fingerprint).
func (s *SignalPerformanceStore) GetAll(ctx context.Context) ([]*domain.SignalPerformance, error) {
	query := `SELECT ` + performanceColumns + ` FROM signal_performance ORDER BY strategy ASC, fingerprint ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all signal performance: %w", err)
	}
	defer rows.Close()

	var perfs []*domain.SignalPerformance
	for rows.Next() {
		p, err := scanPerformance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal performance row: %w", err)
		}
		perfs = append(perfs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signal performance rows: %w", err)
	}
	return perfs, nil
}

func scanPerformance(row pgx.Row) (*domain.SignalPerformance, error) {
	var (
		p        domain.SignalPerformance
		strategy string
	)
	err := row.Scan(
		&p.Fingerprint, &strategy, &p.Signals,
		&p.Count, &p.Wins, &p.Losses, &p.TotalPnl, &p.AvgPnl,
		&p.Blacklisted, &p.BlacklistedAt, &p.SamplesSinceBlacklist, &p.WinsSinceBlacklist,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Strategy = domain.StrategyVariant(strategy)
	return &p, nil
}
