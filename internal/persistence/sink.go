package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// Sink receives flushed batches. Write must be safe to retry with the
// same batch.
type Sink interface {
	Name() string
	Write(ctx context.Context, b *Batch) error
}

// StoreSink writes batches to the storage layer.
type StoreSink struct {
	stores storage.Stores
	log    zerolog.Logger
}

// NewStoreSink creates a sink over stores. Nil stores are skipped.
func NewStoreSink(stores storage.Stores, log zerolog.Logger) *StoreSink {
	return &StoreSink{stores: stores, log: log.With().Str("component", "store_sink").Logger()}
}

// Name implements Sink.
func (s *StoreSink) Name() string { return "store" }

// Write implements Sink. Agents and positions are written before trades
// so that trades never reference unknown positions.
func (s *StoreSink) Write(ctx context.Context, b *Batch) error {
	if s.stores.Agents != nil {
		for _, a := range b.Agents {
			if err := s.stores.Agents.Upsert(ctx, a); err != nil {
				return fmt.Errorf("upsert agent %s: %w", a.AgentID, err)
			}
		}
	}

	if s.stores.Positions != nil {
		for _, p := range b.Positions {
			err := s.stores.Positions.Upsert(ctx, p)
			switch {
			case err == nil:
			case errors.Is(err, storage.ErrClosedPosition):
				// A stale update lost the race with the close; the closed row wins.
				s.log.Warn().Str("position_id", p.PositionID).Msg("skipping update of closed position")
			default:
				return fmt.Errorf("upsert position %s: %w", p.PositionID, err)
			}
		}
	}

	if s.stores.Trades != nil && len(b.Trades) > 0 {
		if err := s.writeTrades(ctx, b.Trades); err != nil {
			return err
		}
	}

	if s.stores.Logs != nil && len(b.Logs) > 0 {
		if err := s.writeLogs(ctx, b.Logs); err != nil {
			return err
		}
	}

	if s.stores.Performance != nil && len(b.Performance) > 0 {
		if err := s.stores.Performance.UpsertBulk(ctx, b.Performance); err != nil {
			return fmt.Errorf("upsert signal performance: %w", err)
		}
	}
	return nil
}

// writeTrades inserts trades in bulk. When the bulk insert hits a duplicate
// (a retry after a partial write), trades are inserted one by one and
// duplicates count as written.
func (s *StoreSink) writeTrades(ctx context.Context, trades []*domain.Trade) error {
	err := s.stores.Trades.InsertBulk(ctx, trades)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrDuplicateKey) {
		return fmt.Errorf("insert trades: %w", err)
	}

	for _, t := range trades {
		if err := s.stores.Trades.Insert(ctx, t); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return fmt.Errorf("insert trade %s: %w", t.TradeID, err)
		}
	}
	return nil
}

func (s *StoreSink) writeLogs(ctx context.Context, logs []*domain.AgentLog) error {
	err := s.stores.Logs.InsertBulk(ctx, logs)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrDuplicateKey) {
		return fmt.Errorf("insert agent logs: %w", err)
	}

	for _, l := range logs {
		if err := s.stores.Logs.InsertBulk(ctx, []*domain.AgentLog{l}); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return fmt.Errorf("insert agent log %s: %w", l.LogID, err)
		}
	}
	return nil
}
