package memory

import (
	"context"
	"sort"
	"sync"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// AgentStore is an in-memory implementation of storage.AgentStore.
type AgentStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Agent // keyed by agent_id
}

// NewAgentStore creates a new in-memory agent store.
func NewAgentStore() *AgentStore {
	return &AgentStore{
		data: make(map[string]*domain.Agent),
	}
}

// Upsert inserts or replaces an agent.
func (s *AgentStore) Upsert(_ context.Context, a *domain.Agent) error {
	if a == nil || a.AgentID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[a.AgentID] = a.Clone()
	return nil
}

// GetByID retrieves an agent by its ID. Returns ErrNotFound if not exists.
func (s *AgentStore) GetByID(_ context.Context, agentID string) (*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.data[agentID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return a.Clone(), nil
}

// List retrieves all agents ordered by created_at ASC.
func (s *AgentStore) List(_ context.Context) ([]*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Agent, 0, len(s.data))
	for _, a := range s.data {
		result = append(result, a.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].AgentID < result[j].AgentID
	})
	return result, nil
}

// Delete removes an agent. Returns ErrNotFound if not exists.
func (s *AgentStore) Delete(_ context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[agentID]; !exists {
		return storage.ErrNotFound
	}
	delete(s.data, agentID)
	return nil
}

var _ storage.AgentStore = (*AgentStore)(nil)
