package memory

import (
	"context"
	"sort"
	"sync"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Position // keyed by position_id
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[string]*domain.Position),
	}
}

// Upsert inserts or replaces a position. Closed positions are immutable.
func (s *PositionStore) Upsert(_ context.Context, p *domain.Position) error {
	if p == nil || p.PositionID == "" || p.AgentID == "" || p.Token == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.data[p.PositionID]; ok && existing.Status == domain.PositionStatusClosed {
		if p.Status == domain.PositionStatusClosed {
			return nil
		}
		return storage.ErrClosedPosition
	}

	s.data[p.PositionID] = p.Clone()
	return nil
}

// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(_ context.Context, positionID string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[positionID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

// GetByAgent retrieves positions of an agent ordered by opened_at ASC.
func (s *PositionStore) GetByAgent(_ context.Context, agentID string, status domain.PositionStatus) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data {
		if p.AgentID != agentID {
			continue
		}
		if status != "" && p.Status != status {
			continue
		}
		result = append(result, p.Clone())
	}

	sortPositions(result)
	return result, nil
}

// GetActive retrieves every non-closed position.
func (s *PositionStore) GetActive(_ context.Context) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data {
		if p.IsActive() {
			result = append(result, p.Clone())
		}
	}

	sortPositions(result)
	return result, nil
}

func sortPositions(ps []*domain.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].OpenedAt != ps[j].OpenedAt {
			return ps[i].OpenedAt < ps[j].OpenedAt
		}
		return ps[i].PositionID < ps[j].PositionID
	})
}

var _ storage.PositionStore = (*PositionStore)(nil)
