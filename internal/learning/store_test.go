package learning

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage/memory"
)

func startStore(t *testing.T, cfg Config, opts ...Option) *Store {
	t.Helper()
	s := NewStore(cfg, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func record(t *testing.T, s *Store, o Outcome) {
	t.Helper()
	require.NoError(t, s.RecordOutcome(context.Background(), o))
}

func TestWeight_BaselineUntilMinSamples(t *testing.T) {
	s := startStore(t, DefaultConfig())
	base := domain.StrategyConfigBalanced.BaselineWeights[domain.SignalTechnical]

	for i := 0; i < 4; i++ {
		record(t, s, Outcome{Fingerprint: "fp", Strategy: domain.StrategyBalanced, Signals: []string{"technical"}, Pnl: 0.1})
	}
	require.NoError(t, s.Sync(context.Background()))
	assert.Equal(t, base, s.Weight(domain.SignalTechnical, domain.StrategyBalanced))

	record(t, s, Outcome{Fingerprint: "fp", Strategy: domain.StrategyBalanced, Signals: []string{"technical"}, Pnl: 0.1})
	require.NoError(t, s.Sync(context.Background()))

	want := base * (1 + 0.5*1 + 0.5*math.Tanh(1))
	assert.InDelta(t, want, s.Weight(domain.SignalTechnical, domain.StrategyBalanced), 1e-9)

	// other signals and strategies are unaffected
	assert.Equal(t, domain.StrategyConfigBalanced.BaselineWeights[domain.SignalNews],
		s.Weight(domain.SignalNews, domain.StrategyBalanced))
	assert.Equal(t, domain.StrategyConfigDegen.BaselineWeights[domain.SignalTechnical],
		s.Weight(domain.SignalTechnical, domain.StrategyDegen))
}

func TestWeight_ClampedToMinFactor(t *testing.T) {
	s := startStore(t, DefaultConfig())
	for i := 0; i < 6; i++ {
		record(t, s, Outcome{Fingerprint: "fp", Strategy: domain.StrategyAggressive, Signals: []string{"social"}, Pnl: -0.4})
	}
	require.NoError(t, s.Sync(context.Background()))

	base := domain.StrategyConfigAggressive.BaselineWeights[domain.SignalSocial]
	assert.InDelta(t, base*0.25, s.Weight(domain.SignalSocial, domain.StrategyAggressive), 1e-12)

	w := s.View().Weights(domain.StrategyAggressive)
	assert.InDelta(t, base*0.25, w[domain.SignalSocial], 1e-12)
	assert.Equal(t, domain.StrategyConfigAggressive.BaselineWeights[domain.SignalSafety], w[domain.SignalSafety])
}

func TestBlacklist_Lifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlacklistTTL = time.Hour
	cfg.ReevaluateSamples = 3
	s := startStore(t, cfg)
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	out := func(at time.Time, pnl float64) Outcome {
		return Outcome{Fingerprint: "fp-bad", Strategy: domain.StrategyBalanced, Signals: []string{"technical", "social"}, Pnl: pnl, At: at}
	}

	for i := 0; i < 4; i++ {
		record(t, s, out(t0, -0.05))
	}
	require.NoError(t, s.Sync(ctx))
	assert.False(t, s.IsBlacklisted("fp-bad", domain.StrategyBalanced, t0), "below MinSamples")

	record(t, s, out(t0, -0.05))
	require.NoError(t, s.Sync(ctx))
	assert.True(t, s.IsBlacklisted("fp-bad", domain.StrategyBalanced, t0.Add(30*time.Minute)))
	assert.False(t, s.IsBlacklisted("fp-bad", domain.StrategyDegen, t0), "blacklists are per strategy")

	// TTL elapsed: probation
	probation := t0.Add(2 * time.Hour)
	assert.False(t, s.IsBlacklisted("fp-bad", domain.StrategyBalanced, probation))
	assert.True(t, s.View().OnProbation("fp-bad", domain.StrategyBalanced, probation))

	record(t, s, out(probation, 0.1))
	record(t, s, out(probation, 0.1))
	record(t, s, out(probation, -0.1))
	require.NoError(t, s.Sync(ctx))

	p, ok := s.View().Performance("fp-bad", domain.StrategyBalanced)
	require.True(t, ok)
	assert.False(t, p.Blacklisted, "cleared after a good probation")
	assert.Equal(t, 8, p.Count)

	// lifetime win rate is still low but a single loss does not re-blacklist
	record(t, s, out(probation, -0.1))
	require.NoError(t, s.Sync(ctx))
	assert.False(t, s.IsBlacklisted("fp-bad", domain.StrategyBalanced, probation))
}

func TestBlacklist_RenewedAfterBadProbation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlacklistTTL = time.Hour
	cfg.ReevaluateSamples = 2
	s := startStore(t, cfg)
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		record(t, s, Outcome{Fingerprint: "fp", Strategy: domain.StrategyDegen, Pnl: -0.1, At: t0})
	}

	// outcomes during the TTL do not count towards probation
	record(t, s, Outcome{Fingerprint: "fp", Strategy: domain.StrategyDegen, Pnl: 0.5, At: t0.Add(10 * time.Minute)})

	t1 := t0.Add(90 * time.Minute)
	record(t, s, Outcome{Fingerprint: "fp", Strategy: domain.StrategyDegen, Pnl: -0.1, At: t1})
	record(t, s, Outcome{Fingerprint: "fp", Strategy: domain.StrategyDegen, Pnl: -0.1, At: t1})
	require.NoError(t, s.Sync(ctx))

	p, _ := s.View().Performance("fp", domain.StrategyDegen)
	assert.True(t, p.Blacklisted)
	assert.Equal(t, t1.UnixMilli(), p.BlacklistedAt)
	assert.True(t, s.IsBlacklisted("fp", domain.StrategyDegen, t1.Add(30*time.Minute)))
}

func TestView_IsImmutable(t *testing.T) {
	s := startStore(t, DefaultConfig())
	ctx := context.Background()

	record(t, s, Outcome{Fingerprint: "fp", Strategy: domain.StrategyBalanced, Signals: []string{"news"}, Pnl: 0.1})
	require.NoError(t, s.Sync(ctx))

	before := s.View()
	p1, _ := before.Performance("fp", domain.StrategyBalanced)

	record(t, s, Outcome{Fingerprint: "fp", Strategy: domain.StrategyBalanced, Signals: []string{"news"}, Pnl: 0.1})
	record(t, s, Outcome{Fingerprint: "fp2", Strategy: domain.StrategyBalanced, Pnl: 0.1})
	require.NoError(t, s.Sync(ctx))

	p1again, _ := before.Performance("fp", domain.StrategyBalanced)
	assert.Equal(t, p1, p1again)
	assert.Equal(t, 1, p1again.Count)
	assert.Equal(t, 2, before.Len())

	p2, _ := s.View().Performance("fp", domain.StrategyBalanced)
	assert.Equal(t, 2, p2.Count)
	assert.Equal(t, 3, s.View().Len())
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s := startStore(t, DefaultConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				v := s.View()
				if p, ok := v.Performance("fp", domain.StrategyBalanced); ok {
					if p.Wins+p.Losses != p.Count {
						t.Errorf("torn aggregate: %+v", p)
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		pnl := 0.1
		if i%3 == 0 {
			pnl = -0.1
		}
		record(t, s, Outcome{Fingerprint: "fp", Strategy: domain.StrategyBalanced, Signals: []string{"technical"}, Pnl: pnl})
	}
	require.NoError(t, s.Sync(ctx))
	close(stop)
	wg.Wait()

	p, _ := s.View().Performance("fp", domain.StrategyBalanced)
	assert.Equal(t, 200, p.Count)
}

func TestStore_ConcurrentWriters(t *testing.T) {
	s := startStore(t, DefaultConfig())
	ctx := context.Background()

	const writers, perWriter = 16, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				pnl := 0.05
				if (w+i)%2 == 0 {
					pnl = -0.05
				}
				o := Outcome{Fingerprint: "fp", Strategy: domain.StrategyBalanced, Signals: []string{"technical"}, Pnl: pnl}
				if err := s.RecordOutcome(ctx, o); err != nil {
					t.Errorf("record outcome: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, s.Sync(ctx))

	p, ok := s.View().Performance("fp", domain.StrategyBalanced)
	require.True(t, ok)
	assert.Equal(t, writers*perWriter, p.Count)
	assert.Equal(t, p.Count, p.Wins+p.Losses)

	sp, ok := s.View().Performance(SignalKey(domain.SignalTechnical), domain.StrategyBalanced)
	require.True(t, ok)
	assert.Equal(t, writers*perWriter, sp.Count)
}

func TestStore_AcceptedOutcomesSurviveShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 4
	s := NewStore(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				err := s.RecordOutcome(context.Background(), Outcome{Fingerprint: "fp", Strategy: domain.StrategyBalanced, Pnl: 0.1})
				if err != nil {
					assert.ErrorIs(t, err, ErrClosed)
					return
				}
				accepted.Add(1)
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	cancel()
	wg.Wait()
	<-done

	var count int
	if p, ok := s.View().Performance("fp", domain.StrategyBalanced); ok {
		count = p.Count
	}
	assert.Equal(t, int(accepted.Load()), count)
}

func TestStore_PersistAndHydrate(t *testing.T) {
	perfStore := memory.NewSignalPerformanceStore()
	ctx := context.Background()

	var mu sync.Mutex
	var persisted []*domain.SignalPerformance
	s := startStore(t, DefaultConfig(), WithPersist(func(perfs []*domain.SignalPerformance) {
		mu.Lock()
		defer mu.Unlock()
		persisted = append(persisted, perfs...)
		assert.NoError(t, perfStore.UpsertBulk(ctx, perfs))
	}))

	record(t, s, Outcome{Fingerprint: "fp", Strategy: domain.StrategyBalanced, Signals: []string{"technical", "safety"}, Pnl: 0.2})
	require.NoError(t, s.Sync(ctx))

	mu.Lock()
	assert.Len(t, persisted, 3, "fingerprint plus one aggregate per signal")
	mu.Unlock()

	restored := NewStore(DefaultConfig())
	require.NoError(t, restored.Hydrate(ctx, perfStore))

	p, ok := restored.View().Performance("fp", domain.StrategyBalanced)
	require.True(t, ok)
	assert.Equal(t, 1, p.Count)
	assert.Equal(t, 0.2, p.TotalPnl)

	sp, ok := restored.View().Performance(SignalKey(domain.SignalSafety), domain.StrategyBalanced)
	require.True(t, ok)
	assert.Equal(t, []string{"safety"}, sp.Signals)
}

func TestRecordOutcome_Validation(t *testing.T) {
	s := NewStore(DefaultConfig())
	ctx := context.Background()

	assert.Error(t, s.RecordOutcome(ctx, Outcome{Strategy: domain.StrategyBalanced}))
	assert.Error(t, s.RecordOutcome(ctx, Outcome{Fingerprint: "fp", Strategy: "yolo"}))
}

func TestRecordOutcome_AfterStop(t *testing.T) {
	s := NewStore(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))

	err := s.RecordOutcome(context.Background(), Outcome{Fingerprint: "fp", Strategy: domain.StrategyBalanced})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Sync(context.Background()), ErrClosed)
}
