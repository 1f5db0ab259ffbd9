package memory

import (
	"context"
	"sort"
	"sync"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

// AgentLogStore is an in-memory implementation of storage.AgentLogStore.
type AgentLogStore struct {
	mu   sync.RWMutex
	data map[string]*domain.AgentLog // keyed by log_id
}

// NewAgentLogStore creates a new in-memory agent log store.
func NewAgentLogStore() *AgentLogStore {
	return &AgentLogStore{
		data: make(map[string]*domain.AgentLog),
	}
}

// InsertBulk adds multiple logs atomically. Fails entire batch on any duplicate.
func (s *AgentLogStore) InsertBulk(_ context.Context, logs []*domain.AgentLog) error {
	if len(logs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(logs))
	for _, l := range logs {
		if l == nil || l.LogID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[l.LogID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[l.LogID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[l.LogID] = struct{}{}
	}

	for _, l := range logs {
		logCopy := *l
		s.data[l.LogID] = &logCopy
	}
	return nil
}

// GetByAgent retrieves the most recent logs of an agent, newest first.
func (s *AgentLogStore) GetByAgent(_ context.Context, agentID string, limit int) ([]*domain.AgentLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AgentLog
	for _, l := range s.data {
		if l.AgentID == agentID {
			logCopy := *l
			result = append(result, &logCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp > result[j].Timestamp
		}
		return result[i].LogID > result[j].LogID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ storage.AgentLogStore = (*AgentLogStore)(nil)
