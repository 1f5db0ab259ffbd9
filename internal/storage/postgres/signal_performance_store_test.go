package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

func TestSignalPerformanceStore_Upsert(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSignalPerformanceStore(pool)

	perf := &domain.SignalPerformance{
		Fingerprint: "fp1",
		Strategy:    domain.StrategyAggressive,
		Signals:     []string{"smart_money", "technical"},
		UpdatedAt:   1000,
	}
	perf.Record(0.2)
	require.NoError(t, store.UpsertBulk(ctx, []*domain.SignalPerformance{perf}))

	stale := perf.Clone()
	perf.Record(-0.1)
	perf.Blacklisted = true
	perf.BlacklistedAt = 2000
	require.NoError(t, store.UpsertBulk(ctx, []*domain.SignalPerformance{perf}))

	// A stale aggregate with fewer samples does not overwrite newer state.
	require.NoError(t, store.UpsertBulk(ctx, []*domain.SignalPerformance{stale}))

	got, err := store.GetByKey(ctx, "fp1", domain.StrategyAggressive)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, 1, got.Wins)
	assert.True(t, got.Blacklisted)
	assert.Equal(t, int64(2000), got.BlacklistedAt)

	_, err = store.GetByKey(ctx, "fp1", domain.StrategyDegen)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
