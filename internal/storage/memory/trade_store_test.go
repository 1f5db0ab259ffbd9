package memory

import (
	"context"
	"errors"
	"testing"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

func TestTradeStore_DuplicateKey(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	trade := &domain.Trade{TradeID: "t1", AgentID: "a1", Type: domain.TradeTypeBuy}
	if err := store.Insert(ctx, trade); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}
	if err := store.Insert(ctx, trade); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestTradeStore_InsertBulkAtomic(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	_ = store.Insert(ctx, &domain.Trade{TradeID: "t2", AgentID: "a1"})

	err := store.InsertBulk(ctx, []*domain.Trade{
		{TradeID: "t1", AgentID: "a1"},
		{TradeID: "t2", AgentID: "a1"},
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}

	got, _ := store.GetByAgent(ctx, "a1", 0)
	if len(got) != 1 {
		t.Errorf("failed batch inserted rows: got %d trades, want 1", len(got))
	}
}

func TestTradeStore_GetByAgentNewestFirst(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.Trade{
		{TradeID: "t1", AgentID: "a1", Timestamp: 1000},
		{TradeID: "t2", AgentID: "a1", Timestamp: 3000},
		{TradeID: "t3", AgentID: "a1", Timestamp: 2000},
		{TradeID: "t4", AgentID: "a2", Timestamp: 4000},
	})
	if err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, _ := store.GetByAgent(ctx, "a1", 2)
	if len(got) != 2 {
		t.Fatalf("GetByAgent returned %d trades, want 2", len(got))
	}
	if got[0].TradeID != "t2" || got[1].TradeID != "t3" {
		t.Errorf("GetByAgent order = [%s %s], want [t2 t3]", got[0].TradeID, got[1].TradeID)
	}
}
