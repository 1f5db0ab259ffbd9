package memory

import (
	"context"
	"errors"
	"testing"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

func TestAgentLogStore_InsertAndGet(t *testing.T) {
	store := NewAgentLogStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.AgentLog{
		{LogID: "l1", AgentID: "a1", Action: "hold", Timestamp: 1000},
		{LogID: "l2", AgentID: "a1", Action: "buy", Timestamp: 2000},
	})
	if err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, _ := store.GetByAgent(ctx, "a1", 0)
	if len(got) != 2 || got[0].LogID != "l2" {
		t.Errorf("GetByAgent = %v, want newest first", got)
	}
}

func TestAgentLogStore_IntraBatchDuplicate(t *testing.T) {
	store := NewAgentLogStore()
	err := store.InsertBulk(context.Background(), []*domain.AgentLog{
		{LogID: "l1", AgentID: "a1"},
		{LogID: "l1", AgentID: "a1"},
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}
