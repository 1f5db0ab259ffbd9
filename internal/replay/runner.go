package replay

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"agent-engine/internal/agent"
	"agent-engine/internal/domain"
	"agent-engine/internal/execution"
	"agent-engine/internal/learning"
	"agent-engine/internal/persistence"
	"agent-engine/internal/scheduler"
	"agent-engine/internal/signals"
	"agent-engine/internal/signals/stub"
	"agent-engine/internal/storage"
	"agent-engine/internal/storage/memory"
)

const (
	defaultInterval  = 10 * time.Second
	defaultLiquidity = 1_000_000
	defaultSafety    = 80
)

// AgentSummary is the final state of one replayed agent.
type AgentSummary struct {
	AgentID       string  `json:"agent_id"`
	Name          string  `json:"name"`
	Strategy      string  `json:"strategy"`
	TotalPnl      float64 `json:"total_pnl"`
	TotalTrades   int     `json:"total_trades"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	WinRate       float64 `json:"win_rate"`
	OpenPositions int     `json:"open_positions"`
}

// Result summarizes a replay.
type Result struct {
	Cycles   int            `json:"cycles"`
	Trades   int            `json:"trades"`
	Opened   int            `json:"opened"`
	Closed   int            `json:"closed"`
	Rejected int            `json:"rejected"`
	Failed   int            `json:"failed"`
	Agents   []AgentSummary `json:"agents"`

	Stores storage.Stores `json:"-"` // state written during the replay
}

// Runner replays scenarios.
type Runner struct {
	log         zerolog.Logger
	slippageBps float64
	onCycle     func(scheduler.CycleResult)
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) {
		r.log = l.With().Str("component", "replay").Logger()
	}
}

// WithSlippage sets the paper execution slippage in basis points.
func WithSlippage(bps float64) Option {
	return func(r *Runner) {
		r.slippageBps = bps
	}
}

// WithCycleHook is called after every replayed cycle.
func WithCycleHook(fn func(scheduler.CycleResult)) Option {
	return func(r *Runner) {
		r.onCycle = fn
	}
}

// NewRunner creates a replay runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run replays the scenario and returns its summary.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Result, error) {
	if len(sc.Agents) == 0 || len(sc.Ticks) == 0 {
		return nil, ErrEmptyScenario
	}
	ticks := append([]Tick(nil), sc.Ticks...)
	if err := SortTicks(ticks); err != nil {
		return nil, err
	}
	interval := time.Duration(sc.Interval)
	if interval <= 0 {
		interval = defaultInterval
	}

	var clock atomic.Int64
	clock.Store(ticks[0].Time)
	now := func() time.Time { return time.UnixMilli(clock.Load()).UTC() }

	stores := memory.NewStores()
	batcher := persistence.NewBatcher(persistence.Config{MaxAttempts: 1}, r.log, persistence.NewStoreSink(stores, r.log))

	learner := learning.NewStore(learning.DefaultConfig(), learning.WithLogger(r.log),
		learning.WithPersist(func(perfs []*domain.SignalPerformance) {
			for _, p := range perfs {
				batcher.Enqueue(persistence.PerformanceUpsert(p))
			}
		}))
	learnCtx, stopLearning := context.WithCancel(context.Background())
	learnDone := make(chan struct{})
	go func() {
		defer close(learnDone)
		_ = learner.Run(learnCtx)
	}()
	defer func() {
		stopLearning()
		<-learnDone
	}()

	registry := agent.NewRegistry(execution.NewPaperExecutor(r.slippageBps),
		agent.WithLogger(r.log),
		agent.WithClock(now),
		agent.WithRecorder(batcher),
		agent.WithAgentStore(stores.Agents),
	)
	for i, req := range sc.Agents {
		req.Start = true
		if _, err := registry.Create(ctx, req); err != nil {
			return nil, fmt.Errorf("agent %d: %w", i, err)
		}
	}

	market := stub.NewMarket()
	for _, token := range tokensOf(ticks) {
		p := sc.Tokens[token]
		if p.LiquidityUSD <= 0 {
			p.LiquidityUSD = defaultLiquidity
		}
		if p.Safety <= 0 {
			p.Safety = defaultSafety
		}
		market.SetToken(token, stub.TokenData{
			NetFlowUSD: p.NetFlowUSD,
			Social:     p.Social,
			News:       p.News,
			Pool:       domain.PoolHealth{LiquidityUSD: p.LiquidityUSD},
			Safety:     p.Safety,
		})
	}
	aggregator := signals.NewAggregator(market.Sources(), market, signals.Config{}, signals.WithLogger(r.log))

	sched := scheduler.New(scheduler.Options{
		Snapshots: aggregator,
		Agents:    registry,
		Learning:  learner,
		Persister: batcher,
		Config:    scheduler.Config{Interval: interval},
		Logger:    r.log,
		Clock:     now,
	})

	res := &Result{Stores: stores}
	for _, tick := range ticks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		clock.Store(tick.Time)
		for token, price := range tick.Prices {
			market.SetPrice(token, tick.Time, price)
		}
		if tick.FearGreed != nil {
			market.SetFearGreed(*tick.FearGreed)
		}

		cycle := sched.RunCycle(ctx, now())
		if cycle.Error != "" {
			return nil, fmt.Errorf("cycle %d: %s", tick.Time, cycle.Error)
		}
		res.Cycles++
		res.Trades += cycle.Trades
		res.Opened += cycle.Opened
		res.Closed += cycle.Closed
		res.Rejected += cycle.Rejected
		res.Failed += cycle.Failed
		if r.onCycle != nil {
			r.onCycle(cycle)
		}
	}

	if err := learner.Sync(ctx); err != nil {
		return nil, fmt.Errorf("sync learning store: %w", err)
	}
	if err := batcher.Flush(ctx); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}

	for _, a := range registry.List() {
		res.Agents = append(res.Agents, AgentSummary{
			AgentID:       a.AgentID,
			Name:          a.Name,
			Strategy:      string(a.Strategy),
			TotalPnl:      a.TotalPnl,
			TotalTrades:   a.TotalTrades,
			Wins:          a.Wins,
			Losses:        a.Losses,
			WinRate:       a.WinRate,
			OpenPositions: len(a.OpenPositions),
		})
	}
	r.log.Info().
		Int("cycles", res.Cycles).
		Int("trades", res.Trades).
		Int("closed", res.Closed).
		Msg("replay finished")
	return res, nil
}

func tokensOf(ticks []Tick) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range ticks {
		for token := range t.Prices {
			if !seen[token] {
				seen[token] = true
				out = append(out, token)
			}
		}
	}
	sort.Strings(out)
	return out
}
