package memory

import (
	"context"
	"errors"
	"testing"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

func TestSignalPerformanceStore_UpsertReplaces(t *testing.T) {
	store := NewSignalPerformanceStore()
	ctx := context.Background()

	perf := &domain.SignalPerformance{
		Fingerprint: "fp1",
		Strategy:    domain.StrategyBalanced,
		Signals:     []string{"technical"},
	}
	perf.Record(0.1)
	if err := store.UpsertBulk(ctx, []*domain.SignalPerformance{perf}); err != nil {
		t.Fatalf("UpsertBulk failed: %v", err)
	}

	perf.Record(-0.05)
	if err := store.UpsertBulk(ctx, []*domain.SignalPerformance{perf}); err != nil {
		t.Fatalf("second UpsertBulk failed: %v", err)
	}

	got, err := store.GetByKey(ctx, "fp1", domain.StrategyBalanced)
	if err != nil {
		t.Fatalf("GetByKey failed: %v", err)
	}
	if got.Count != 2 || got.Wins != 1 || got.Losses != 1 {
		t.Errorf("aggregate = %+v, want count=2 wins=1 losses=1", got)
	}

	if _, err := store.GetByKey(ctx, "fp1", domain.StrategyDegen); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for other strategy, got %v", err)
	}
}

func TestSignalPerformanceStore_GetAllOrdered(t *testing.T) {
	store := NewSignalPerformanceStore()
	ctx := context.Background()

	_ = store.UpsertBulk(ctx, []*domain.SignalPerformance{
		{Fingerprint: "b", Strategy: domain.StrategyDegen},
		{Fingerprint: "a", Strategy: domain.StrategyDegen},
		{Fingerprint: "z", Strategy: domain.StrategyBalanced},
	})

	got, _ := store.GetAll(ctx)
	if len(got) != 3 {
		t.Fatalf("GetAll returned %d rows, want 3", len(got))
	}
	if got[0].Fingerprint != "z" || got[1].Fingerprint != "a" || got[2].Fingerprint != "b" {
		t.Errorf("GetAll order = [%s %s %s], want [z a b]", got[0].Fingerprint, got[1].Fingerprint, got[2].Fingerprint)
	}
}

func TestSignalPerformanceStore_InvalidInput(t *testing.T) {
	store := NewSignalPerformanceStore()
	err := store.UpsertBulk(context.Background(), []*domain.SignalPerformance{{Fingerprint: "fp"}})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
