package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
	"agent-engine/internal/storage/memory"
)

type recordingSink struct {
	mu      sync.Mutex
	name    string
	failN   int // fail the first failN writes
	calls   int
	batches []*Batch
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(_ context.Context, b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failN {
		return errors.New("sink unavailable")
	}
	s.batches = append(s.batches, b)
	return nil
}

func (s *recordingSink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fastConfig() Config {
	return Config{
		MaxQueue:    100,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	}
}

func testTrade(id string) *domain.Trade {
	return &domain.Trade{
		TradeID:   id,
		AgentID:   "agent-1",
		Token:     "tok",
		Type:      domain.TradeTypeBuy,
		Status:    domain.TradeStatusFilled,
		Amount:    100,
		Timestamp: 1000,
	}
}

func testLog(id string) *domain.AgentLog {
	return &domain.AgentLog{LogID: id, AgentID: "agent-1", CycleTime: 1000, Level: domain.LogLevelInfo, Action: "hold"}
}

func testPosition(id string, status domain.PositionStatus, price float64) *domain.Position {
	return &domain.Position{
		PositionID:   id,
		AgentID:      "agent-1",
		Token:        "tok",
		Side:         domain.SideLong,
		Status:       status,
		CurrentPrice: price,
	}
}

func TestNewBatch_CollapsesUpserts(t *testing.T) {
	p1 := testPosition("p1", domain.PositionStatusOpen, 1.0)
	p1b := testPosition("p1", domain.PositionStatusOpen, 1.1)
	p2 := testPosition("p2", domain.PositionStatusOpen, 2.0)
	a := &domain.Agent{AgentID: "agent-1", DailyTradesUsed: 1}
	a2 := &domain.Agent{AgentID: "agent-1", DailyTradesUsed: 2}

	b := NewBatch([]Mutation{
		PositionUpsert(p1),
		TradeInsert(testTrade("t1")),
		PositionUpsert(p2),
		AgentUpsert(a),
		PositionUpsert(p1b),
		TradeInsert(testTrade("t2")),
		AgentUpsert(a2),
		LogInsert(testLog("l1")),
	})

	require.Len(t, b.Positions, 2)
	assert.Equal(t, "p1", b.Positions[0].PositionID)
	assert.Equal(t, 1.1, b.Positions[0].CurrentPrice, "last write wins")
	assert.Equal(t, "p2", b.Positions[1].PositionID)

	require.Len(t, b.Agents, 1)
	assert.Equal(t, 2, b.Agents[0].DailyTradesUsed)

	require.Len(t, b.Trades, 2)
	assert.Equal(t, "t1", b.Trades[0].TradeID)
	assert.Equal(t, "t2", b.Trades[1].TradeID)
	assert.Len(t, b.Logs, 1)
	assert.Equal(t, 6, b.Len())
}

func TestMutation_CopiesPayload(t *testing.T) {
	p := testPosition("p1", domain.PositionStatusOpen, 1.0)
	m := PositionUpsert(p)
	p.CurrentPrice = 9

	assert.Equal(t, 1.0, m.Position.CurrentPrice)
}

func TestBatcher_FlushWritesToAllSinks(t *testing.T) {
	s1 := &recordingSink{name: "a"}
	s2 := &recordingSink{name: "b"}
	b := NewBatcher(fastConfig(), zerolog.Nop(), s1, s2)

	b.Enqueue(TradeInsert(testTrade("t1")), LogInsert(testLog("l1")))
	assert.Equal(t, 2, b.Pending())

	require.NoError(t, b.Flush(context.Background()))
	assert.Equal(t, 0, b.Pending())
	require.Len(t, s1.batches, 1)
	require.Len(t, s2.batches, 1)
	assert.Equal(t, 2, s1.batches[0].Len())
}

func TestBatcher_FlushEmptyIsNoop(t *testing.T) {
	s := &recordingSink{name: "a"}
	b := NewBatcher(fastConfig(), zerolog.Nop(), s)

	require.NoError(t, b.Flush(context.Background()))
	assert.Equal(t, 0, s.Calls())
}

func TestBatcher_RetriesThenSucceeds(t *testing.T) {
	s := &recordingSink{name: "flaky", failN: 2}
	b := NewBatcher(fastConfig(), zerolog.Nop(), s)

	b.Enqueue(TradeInsert(testTrade("t1")))
	require.NoError(t, b.Flush(context.Background()))
	assert.Equal(t, 3, s.Calls())
	assert.Len(t, s.batches, 1)
}

func TestBatcher_DropsAfterMaxAttempts(t *testing.T) {
	bad := &recordingSink{name: "bad", failN: 100}
	good := &recordingSink{name: "good"}
	b := NewBatcher(fastConfig(), zerolog.Nop(), bad, good)

	b.Enqueue(TradeInsert(testTrade("t1")))
	err := b.Flush(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink bad")
	assert.Equal(t, 3, bad.Calls())
	assert.Len(t, good.batches, 1, "healthy sink still receives the batch")
	assert.Equal(t, 0, b.Pending(), "dropped batches are not requeued")
}

func TestBatcher_CancelledContextStopsRetrying(t *testing.T) {
	s := &recordingSink{name: "bad", failN: 100}
	cfg := fastConfig()
	cfg.RetryDelay = time.Hour
	cfg.MaxDelay = time.Hour
	b := NewBatcher(cfg, zerolog.Nop(), s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b.Enqueue(TradeInsert(testTrade("t1")))
	err := b.Flush(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, s.Calls())
}

func TestBatcher_EarlyFlushOnQueueSize(t *testing.T) {
	s := &recordingSink{name: "a"}
	cfg := fastConfig()
	cfg.MaxQueue = 3
	b := NewBatcher(cfg, zerolog.Nop(), s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Run(ctx)
		close(done)
	}()

	b.Enqueue(TradeInsert(testTrade("t1")), TradeInsert(testTrade("t2")), TradeInsert(testTrade("t3")))

	assert.Eventually(t, func() bool { return s.Calls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestBatcher_RunFinalFlush(t *testing.T) {
	s := &recordingSink{name: "a"}
	b := NewBatcher(fastConfig(), zerolog.Nop(), s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Run(ctx)
		close(done)
	}()

	b.Enqueue(TradeInsert(testTrade("t1")))
	cancel()
	<-done

	assert.Equal(t, 1, s.Calls())
	assert.Equal(t, 0, b.Pending())
}

func TestBatcher_ConcurrentEnqueue(t *testing.T) {
	stores := memory.NewStores()
	b := NewBatcher(Config{MaxQueue: 10000}, zerolog.Nop(), NewStoreSink(stores, zerolog.Nop()))

	var wg sync.WaitGroup
	var n atomic.Int64
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := n.Add(1)
				b.Enqueue(TradeInsert(testTrade(fmt.Sprintf("t%d-%d", w, id))))
			}
		}(w)
	}
	wg.Wait()

	require.NoError(t, b.Flush(context.Background()))
	trades, err := stores.Trades.GetByAgent(context.Background(), "agent-1", 0)
	require.NoError(t, err)
	assert.Len(t, trades, 400)
}

func TestStoreSink_DuplicateTradesCountAsWritten(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewStores()
	sink := NewStoreSink(stores, zerolog.Nop())

	require.NoError(t, stores.Trades.Insert(ctx, testTrade("t1")))
	require.NoError(t, stores.Logs.InsertBulk(ctx, []*domain.AgentLog{testLog("l1")}))

	batch := NewBatch([]Mutation{
		TradeInsert(testTrade("t1")),
		TradeInsert(testTrade("t2")),
		LogInsert(testLog("l1")),
		LogInsert(testLog("l2")),
	})
	require.NoError(t, sink.Write(ctx, batch))

	trades, err := stores.Trades.GetByAgent(ctx, "agent-1", 0)
	require.NoError(t, err)
	assert.Len(t, trades, 2)

	logs, err := stores.Logs.GetByAgent(ctx, "agent-1", 0)
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	// Replaying the whole batch is a no-op.
	require.NoError(t, sink.Write(ctx, batch))
}

func TestStoreSink_SkipsUpdateOfClosedPosition(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewStores()
	sink := NewStoreSink(stores, zerolog.Nop())

	closed := testPosition("p1", domain.PositionStatusClosed, 1.0)
	require.NoError(t, stores.Positions.Upsert(ctx, closed))

	batch := NewBatch([]Mutation{
		PositionUpsert(testPosition("p1", domain.PositionStatusOpen, 2.0)),
		PositionUpsert(testPosition("p2", domain.PositionStatusOpen, 3.0)),
	})
	require.NoError(t, sink.Write(ctx, batch))

	got, err := stores.Positions.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, got.Status)

	got, err = stores.Positions.GetByID(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, 3.0, got.CurrentPrice)
}

func TestStoreSink_WritesAgentsAndPerformance(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewStores()
	sink := NewStoreSink(stores, zerolog.Nop())

	perf := &domain.SignalPerformance{Fingerprint: "fp", Strategy: domain.StrategyBalanced, Count: 3, Wins: 2}
	batch := NewBatch([]Mutation{
		AgentUpsert(&domain.Agent{AgentID: "agent-1", Name: "one"}),
		PerformanceUpsert(perf),
	})
	require.NoError(t, sink.Write(ctx, batch))

	a, err := stores.Agents.GetByID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "one", a.Name)

	p, err := stores.Performance.GetByKey(ctx, "fp", domain.StrategyBalanced)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Count)
}

func TestStoreSink_NilStoresSkipped(t *testing.T) {
	sink := NewStoreSink(storage.Stores{}, zerolog.Nop())
	batch := NewBatch([]Mutation{TradeInsert(testTrade("t1")), AgentUpsert(&domain.Agent{AgentID: "a"})})
	assert.NoError(t, sink.Write(context.Background(), batch))
}
