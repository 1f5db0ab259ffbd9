package memory

import (
	"context"
	"sort"
	"sync"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// SignalPerformanceStore is an in-memory implementation of storage.SignalPerformanceStore.
type SignalPerformanceStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SignalPerformance // keyed by composite key
}

// NewSignalPerformanceStore creates a new in-memory signal performance store.
func NewSignalPerformanceStore() *SignalPerformanceStore {
	return &SignalPerformanceStore{
		data: make(map[string]*domain.SignalPerformance),
	}
}

// performanceKey generates a unique key for an aggregate.
func performanceKey(fingerprint string, strategy domain.StrategyVariant) string {
	return string(strategy) + "|" + fingerprint
}

// UpsertBulk inserts or replaces aggregates.
func (s *SignalPerformanceStore) UpsertBulk(_ context.Context, perfs []*domain.SignalPerformance) error {
	for _, p := range perfs {
		if p == nil || p.Fingerprint == "" || p.Strategy == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range perfs {
		s.data[performanceKey(p.Fingerprint, p.Strategy)] = p.Clone()
	}
	return nil
}

// GetByKey retrieves one aggregate. Returns ErrNotFound if not exists.
func (s *SignalPerformanceStore) GetByKey(_ context.Context, fingerprint string, strategy domain.StrategyVariant) (*domain.SignalPerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[performanceKey(fingerprint, strategy)]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

// GetAll retrieves all aggregates ordered by (strategy, fingerprint).
func (s *SignalPerformanceStore) GetAll(_ context.Context) ([]*domain.SignalPerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.SignalPerformance, 0, len(s.data))
	for _, p := range s.data {
		result = append(result, p.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Strategy != result[j].Strategy {
			return result[i].Strategy < result[j].Strategy
		}
		return result[i].Fingerprint < result[j].Fingerprint
	})
	return result, nil
}

var _ storage.SignalPerformanceStore = (*SignalPerformanceStore)(nil)
