package clickhouse

import (
	"context"
	"fmt"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// AgentLogStore implements storage.AgentLogStore using ClickHouse.
// The table is a ReplacingMergeTree keyed by log_id, so retried batches
// collapse on merge and reads use FINAL.
type AgentLogStore struct {
	conn *Conn
}

// NewAgentLogStore creates a new AgentLogStore.
func NewAgentLogStore(conn *Conn) *AgentLogStore {
	return &AgentLogStore{conn: conn}
}

// Compile-time interface check.
var _ storage.AgentLogStore = (*AgentLogStore)(nil)

// InsertBulk appends logs in one native batch.
func (s *AgentLogStore) InsertBulk(ctx context.Context, logs []*domain.AgentLog) error {
	if len(logs) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(logs))
	for _, l := range logs {
		if l == nil || l.LogID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[l.LogID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[l.LogID] = struct{}{}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO agent_logs (
			log_id, agent_id, cycle_time, level, action, token,
			confidence, tokens_analyzed, reasoning, snapshot_ref, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, l := range logs {
		err = batch.Append(
			l.LogID, l.AgentID, l.CycleTime, l.Level, l.Action, l.Token,
			l.Confidence, uint32(l.TokensAnalyzed), l.Reasoning, l.SnapshotRef, l.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByAgent retrieves the most recent logs of an agent, newest first.
func (s *AgentLogStore) GetByAgent(ctx context.Context, agentID string, limit int) ([]*domain.AgentLog, error) {
	query := `
		SELECT
			log_id, agent_id, cycle_time, level, action, token,
			confidence, tokens_analyzed, reasoning, snapshot_ref, timestamp_ms
		FROM agent_logs FINAL
		WHERE agent_id = ?
		ORDER BY timestamp_ms DESC, log_id DESC
	`
	args := []any{agentID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query agent logs: %w", err)
	}
	defer rows.Close()

	var logs []*domain.AgentLog
	for rows.Next() {
		var (
			l        domain.AgentLog
			analyzed uint32
		)
		if err := rows.Scan(
			&l.LogID, &l.AgentID, &l.CycleTime, &l.Level, &l.Action, &l.Token,
			&l.Confidence, &analyzed, &l.Reasoning, &l.SnapshotRef, &l.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan agent log row: %w", err)
		}
		l.TokensAnalyzed = int(analyzed)
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent log rows: %w", err)
	}
	return logs, nil
}
