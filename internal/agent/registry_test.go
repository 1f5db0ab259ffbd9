package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-engine/internal/domain"
	"agent-engine/internal/execution"
	"agent-engine/internal/persistence"
	"agent-engine/internal/position"
	"agent-engine/internal/storage/memory"
)

const (
	testWallet = "0x52908400098527886E0F7030069857D2E4169EE7"
	tokenA     = "0x1111111111111111111111111111111111111111"
	tokenB     = "0x2222222222222222222222222222222222222222"
)

type captureRecorder struct {
	mu   sync.Mutex
	muts []persistence.Mutation
}

func (c *captureRecorder) Enqueue(muts ...persistence.Mutation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muts = append(c.muts, muts...)
}

func (c *captureRecorder) kinds() []persistence.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]persistence.Kind, len(c.muts))
	for i, m := range c.muts {
		out[i] = m.Kind
	}
	return out
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func validRequest() CreateRequest {
	return CreateRequest{
		Name:          "alpha",
		Chain:         "ethereum",
		WalletAddress: testWallet,
		Strategy:      domain.StrategyBalanced,
		Risk: domain.RiskParams{
			MaxPositionSize: 100,
			MaxDailyTrades:  3,
		},
	}
}

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *captureRecorder) {
	t.Helper()
	rec := &captureRecorder{}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{WithRecorder(rec), WithClock(fixedClock(now))}, opts...)
	return NewRegistry(execution.NewPaperExecutor(0), opts...), rec
}

func openPosition(t *testing.T, rt *Runtime, token string) *domain.Position {
	t.Helper()
	var p *domain.Position
	err := rt.With(func(_ *domain.Agent, book *position.Book) error {
		var err error
		p, _, err = book.Open(context.Background(), position.OpenRequest{
			Token:         token,
			Amount:        50,
			Price:         1.0,
			StopLossPct:   10,
			TakeProfitPct: 30,
		})
		return err
	})
	require.NoError(t, err)
	return p
}

func TestCreateRequest_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *CreateRequest)
	}{
		{"missing name", func(r *CreateRequest) { r.Name = "" }},
		{"unsupported chain", func(r *CreateRequest) { r.Chain = "dogechain" }},
		{"bad wallet", func(r *CreateRequest) { r.WalletAddress = "0x123" }},
		{"unknown strategy", func(r *CreateRequest) { r.Strategy = "yolo" }},
		{"bad token", func(r *CreateRequest) { r.Tokens = []string{"nope"} }},
		{"zero position size", func(r *CreateRequest) { r.Risk.MaxPositionSize = 0 }},
		{"zero daily trades", func(r *CreateRequest) { r.Risk.MaxDailyTrades = 0 }},
		{"risk level too high", func(r *CreateRequest) { r.Risk.RiskLevel = 11 }},
		{"stop loss 100", func(r *CreateRequest) { r.Risk.StopLossPercent = 100 }},
		{"negative take profit", func(r *CreateRequest) { r.Risk.TakeProfitPercent = -1 }},
		{"negative volume", func(r *CreateRequest) { r.Risk.MaxDailyVolume = -5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			err := req.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidAgent)
		})
	}

	assert.NoError(t, validRequest().Validate())
}

func TestRegistry_CreateDefaults(t *testing.T) {
	r, rec := newTestRegistry(t)

	a, err := r.Create(context.Background(), validRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, a.AgentID)
	assert.Equal(t, domain.AgentStatusStopped, a.Status)
	assert.Equal(t, 5, a.Risk.RiskLevel)
	assert.Equal(t, "2024-05-01", a.DailyResetDay)
	assert.Equal(t, []persistence.Kind{persistence.KindAgent}, rec.kinds())

	got, err := r.Get(a.AgentID)
	require.NoError(t, err)
	assert.Equal(t, a.Name, got.Name)
	assert.Empty(t, r.Running())
}

func TestRegistry_CreateStarted(t *testing.T) {
	r, _ := newTestRegistry(t)
	req := validRequest()
	req.Start = true

	a, err := r.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusRunning, a.Status)
	require.Len(t, r.Running(), 1)
	assert.Equal(t, a.AgentID, r.Running()[0].ID())
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r, _ := newTestRegistry(t)
	a, err := r.Create(context.Background(), validRequest())
	require.NoError(t, err)

	got, err := r.Get(a.AgentID)
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := r.Get(a.AgentID)
	require.NoError(t, err)
	assert.Equal(t, "alpha", again.Name)
}

func TestRegistry_NotFound(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Get("missing")
	assert.ErrorIs(t, err, ErrAgentNotFound)
	_, err = r.Start(ctx, "missing")
	assert.ErrorIs(t, err, ErrAgentNotFound)
	_, err = r.Stop(ctx, "missing")
	assert.ErrorIs(t, err, ErrAgentNotFound)
	assert.ErrorIs(t, r.Delete(ctx, "missing"), ErrAgentNotFound)
	_, err = r.Positions("missing", "")
	assert.ErrorIs(t, err, ErrAgentNotFound)
	_, err = r.Trades("missing", 10)
	assert.ErrorIs(t, err, ErrAgentNotFound)
	_, err = r.Logs("missing", 10)
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestRegistry_StartStop(t *testing.T) {
	r, rec := newTestRegistry(t)
	ctx := context.Background()
	a, err := r.Create(ctx, validRequest())
	require.NoError(t, err)

	started, err := r.Start(ctx, a.AgentID)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusRunning, started.Status)

	// Starting twice does not persist again.
	_, err = r.Start(ctx, a.AgentID)
	require.NoError(t, err)

	stopped, err := r.Stop(ctx, a.AgentID)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusStopped, stopped.Status)
	assert.Empty(t, r.Running())

	assert.Equal(t, []persistence.Kind{persistence.KindAgent, persistence.KindAgent, persistence.KindAgent}, rec.kinds())
}

func TestRegistry_Delete(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewStores()
	r, _ := newTestRegistry(t, WithAgentStore(stores.Agents))

	req := validRequest()
	req.Start = true
	a, err := r.Create(ctx, req)
	require.NoError(t, err)
	require.NoError(t, stores.Agents.Upsert(ctx, a))

	assert.ErrorIs(t, r.Delete(ctx, a.AgentID), ErrAgentRunning)

	_, err = r.Stop(ctx, a.AgentID)
	require.NoError(t, err)

	rt, err := r.Runtime(a.AgentID)
	require.NoError(t, err)
	openPosition(t, rt, tokenA)
	assert.ErrorIs(t, r.Delete(ctx, a.AgentID), ErrAgentHasPositions)

	// Close the position, then delete succeeds.
	p, ok := rt.Book().ActiveFor(tokenA)
	require.True(t, ok)
	_, _, err = rt.Book().Close(ctx, p.PositionID, domain.ExitReasonSignal, 1.0, position.TradeMeta{})
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, a.AgentID))
	_, err = r.Get(a.AgentID)
	assert.ErrorIs(t, err, ErrAgentNotFound)
	_, err = stores.Agents.GetByID(ctx, a.AgentID)
	assert.Error(t, err)
}

func TestRegistry_WithSyncsOpenPositions(t *testing.T) {
	r, _ := newTestRegistry(t)
	a, err := r.Create(context.Background(), validRequest())
	require.NoError(t, err)
	rt, err := r.Runtime(a.AgentID)
	require.NoError(t, err)

	p := openPosition(t, rt, tokenA)

	got, err := r.Get(a.AgentID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{tokenA: p.PositionID}, got.OpenPositions)

	positions, err := r.Positions(a.AgentID, domain.PositionStatusOpen)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, p.PositionID, positions[0].PositionID)
}

func TestRegistry_Journals(t *testing.T) {
	r, _ := newTestRegistry(t, WithJournalSize(3))
	a, err := r.Create(context.Background(), validRequest())
	require.NoError(t, err)
	rt, err := r.Runtime(a.AgentID)
	require.NoError(t, err)

	for _, id := range []string{"t1", "t2", "t3", "t4", "t5"} {
		rt.RecordTrade(&domain.Trade{TradeID: id})
		rt.RecordLog(&domain.AgentLog{LogID: "l" + id})
	}

	trades, err := r.Trades(a.AgentID, 0)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, "t5", trades[0].TradeID)
	assert.Equal(t, "t3", trades[2].TradeID)

	trades, err = r.Trades(a.AgentID, 2)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "t4", trades[1].TradeID)

	logs, err := r.Logs(a.AgentID, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "lt5", logs[0].LogID)
}

func TestJournal_Partial(t *testing.T) {
	j := newJournal[int](4)
	assert.Empty(t, j.recent(0))

	j.add(1)
	j.add(2)
	assert.Equal(t, []int{2, 1}, j.recent(0))
	assert.Equal(t, []int{2}, j.recent(1))
}

func TestRegistry_Tokens(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	req := validRequest()
	req.Tokens = []string{tokenB}
	req.Start = true
	_, err := r.Create(ctx, req)
	require.NoError(t, err)

	stoppedReq := validRequest()
	stoppedReq.Tokens = []string{"0x3333333333333333333333333333333333333333"}
	stopped, err := r.Create(ctx, stoppedReq)
	require.NoError(t, err)

	// A stopped agent's held token is still priced.
	rt, err := r.Runtime(stopped.AgentID)
	require.NoError(t, err)
	openPosition(t, rt, tokenA)

	tokens, err := r.Tokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{tokenA, tokenB}, tokens)
}

func TestRegistry_Hydrate(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewStores()

	agent := &domain.Agent{
		AgentID:       "agent-1",
		Name:          "restored",
		Chain:         "ethereum",
		WalletAddress: testWallet,
		Strategy:      domain.StrategyAggressive,
		Status:        domain.AgentStatusRunning,
		Risk:          domain.RiskParams{MaxPositionSize: 10, MaxDailyTrades: 2, RiskLevel: 5},
	}
	require.NoError(t, stores.Agents.Upsert(ctx, agent))
	require.NoError(t, stores.Agents.Upsert(ctx, &domain.Agent{AgentID: "broken", Strategy: "unknown"}))

	open := &domain.Position{PositionID: "p1", AgentID: "agent-1", Token: tokenA, Side: domain.SideLong, Status: domain.PositionStatusOpen, Size: 5}
	closing := &domain.Position{PositionID: "p2", AgentID: "agent-1", Token: tokenB, Side: domain.SideLong, Status: domain.PositionStatusClosing, Size: 3}
	orphan := &domain.Position{PositionID: "p3", AgentID: "ghost", Token: tokenA, Side: domain.SideLong, Status: domain.PositionStatusOpen}
	for _, p := range []*domain.Position{open, closing, orphan} {
		require.NoError(t, stores.Positions.Upsert(ctx, p))
	}

	r, rec := newTestRegistry(t)
	require.NoError(t, r.Hydrate(ctx, stores))

	total, running := r.Counts()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, running)

	got, err := r.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{tokenA: "p1", tokenB: "p2"}, got.OpenPositions)

	positions, err := r.Positions("agent-1", domain.PositionStatusOpen)
	require.NoError(t, err)
	assert.Len(t, positions, 2, "interrupted close is restored as open")

	assert.Equal(t, []persistence.Kind{persistence.KindPosition}, rec.kinds())
}

func TestRegistry_ResetDaily(t *testing.T) {
	r, rec := newTestRegistry(t)
	ctx := context.Background()
	a, err := r.Create(ctx, validRequest())
	require.NoError(t, err)

	rt, err := r.Runtime(a.AgentID)
	require.NoError(t, err)
	_ = rt.With(func(a *domain.Agent, _ *position.Book) error {
		a.DailyTradesUsed = 3
		a.DailyVolumeUsed = 250
		return nil
	})

	sameDay := time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, r.ResetDaily(sameDay))

	nextDay := time.Date(2024, 5, 2, 0, 0, 1, 0, time.UTC)
	assert.Equal(t, 1, r.ResetDaily(nextDay))

	got, err := r.Get(a.AgentID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.DailyTradesUsed)
	assert.Equal(t, 0.0, got.DailyVolumeUsed)
	assert.Equal(t, "2024-05-02", got.DailyResetDay)
	assert.Len(t, rec.kinds(), 2)
}

func TestUntilNextUTCMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	now := time.Date(2024, 5, 1, 2, 30, 0, 0, loc) // 23:30 UTC on Apr 30
	assert.Equal(t, 30*time.Minute, untilNextUTCMidnight(now))

	assert.Equal(t, 24*time.Hour, untilNextUTCMidnight(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
}

func TestRegistry_RunDailyResetStops(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, r.RunDailyReset(ctx))
}

func TestRegistry_ConcurrentControl(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	a, err := r.Create(ctx, validRequest())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, _ = r.Start(ctx, a.AgentID)
		}()
		go func() {
			defer wg.Done()
			_, _ = r.Stop(ctx, a.AgentID)
		}()
		go func() {
			defer wg.Done()
			_ = r.Running()
			_ = r.List()
		}()
	}
	wg.Wait()

	got, err := r.Get(a.AgentID)
	require.NoError(t, err)
	assert.Contains(t, []domain.AgentStatus{domain.AgentStatusRunning, domain.AgentStatusStopped}, got.Status)
}

func TestRegistry_CreateStartedWhileCycling(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			for _, rt := range r.Running() {
				_ = rt.With(func(a *domain.Agent, _ *position.Book) error {
					a.DailyTradesUsed++
					a.UpdatedAt++
					return nil
				})
			}
		}
	}()

	req := validRequest()
	req.Start = true
	for i := 0; i < 200; i++ {
		a, err := r.Create(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, domain.AgentStatusRunning, a.Status)
	}
	close(done)
	wg.Wait()

	assert.Len(t, r.List(), 200)
}

func TestRegistry_WithPropagatesError(t *testing.T) {
	r, _ := newTestRegistry(t)
	a, err := r.Create(context.Background(), validRequest())
	require.NoError(t, err)
	rt, err := r.Runtime(a.AgentID)
	require.NoError(t, err)

	boom := errors.New("boom")
	assert.ErrorIs(t, rt.With(func(*domain.Agent, *position.Book) error { return boom }), boom)
}
