// Package scheduler drives evaluation cycles.
// Per cycle: snapshot → per-agent {mark → decide → authorize → execute} →
// learning sync → persistence flush.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"agent-engine/internal/agent"
	"agent-engine/internal/decision"
	"agent-engine/internal/domain"
	"agent-engine/internal/learning"
	"agent-engine/internal/observability"
	"agent-engine/internal/persistence"
	"agent-engine/internal/risk"
)

// SnapshotBuilder builds the shared snapshot of a cycle.
type SnapshotBuilder interface {
	BuildSnapshot(ctx context.Context, cycleTime int64) (*domain.SignalSnapshot, error)
}

// Agents lists the agents to evaluate.
type Agents interface {
	Running() []*agent.Runtime
}

// Learner is the adaptive learning store as seen by the scheduler.
type Learner interface {
	View() *learning.View
	RecordOutcome(ctx context.Context, o learning.Outcome) error
	Sync(ctx context.Context) error
}

// Persister queues and flushes state mutations.
type Persister interface {
	Enqueue(muts ...persistence.Mutation)
	Flush(ctx context.Context) error
}

// Config tunes the scheduler.
type Config struct {
	Interval     time.Duration // tick interval
	Concurrency  int           // agents evaluated in parallel
	AgentTimeout time.Duration // deadline of one agent evaluation
	FlushTimeout time.Duration // deadline of the end-of-cycle flush
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:     10 * time.Second,
		Concurrency:  8,
		AgentTimeout: 5 * time.Second,
		FlushTimeout: 5 * time.Second,
	}
}

// Options for creating a Scheduler.
type Options struct {
	Snapshots SnapshotBuilder
	Agents    Agents
	Engine    *decision.Engine
	Governor  *risk.Governor
	Learning  Learner
	Persister Persister
	Config    Config
	Logger    zerolog.Logger
	Clock     func() time.Time
}

// Scheduler runs cycles on a fixed interval. Cycles never overlap.
type Scheduler struct {
	snapshots SnapshotBuilder
	agents    Agents
	engine    *decision.Engine
	governor  *risk.Governor
	learning  Learner
	persister Persister
	baseline  *learning.View // weights used without a learning store
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time

	last    atomic.Pointer[CycleResult]
	cycles  atomic.Int64
	running atomic.Bool
}

// New creates a Scheduler. Zero config fields take defaults.
func New(opts Options) *Scheduler {
	def := DefaultConfig()
	cfg := opts.Config
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = def.AgentTimeout
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = def.FlushTimeout
	}

	s := &Scheduler{
		snapshots: opts.Snapshots,
		agents:    opts.Agents,
		engine:    opts.Engine,
		governor:  opts.Governor,
		learning:  opts.Learning,
		persister: opts.Persister,
		cfg:       cfg,
		log:       opts.Logger.With().Str("component", "scheduler").Logger(),
		now:       opts.Clock,
	}
	if s.engine == nil {
		s.engine = decision.NewEngine()
	}
	if s.governor == nil {
		s.governor = risk.NewGovernor(risk.DefaultConfig())
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.learning == nil {
		s.baseline = learning.NewStore(learning.DefaultConfig()).View()
	}
	return s
}

// CycleResult summarizes one cycle.
type CycleResult struct {
	CycleTime  int64         `json:"cycle_time"`
	Tokens     int           `json:"tokens"`
	Degraded   []string      `json:"degraded,omitempty"`
	Agents     int           `json:"agents"`
	Evaluated  int           `json:"evaluated"`
	Failed     int           `json:"failed"`
	Trades     int           `json:"trades"`
	Opened     int           `json:"opened"`
	Closed     int           `json:"closed"`
	Rejected   int           `json:"rejected"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	FinishedAt int64         `json:"finished_at"`
}

func (r *CycleResult) add(a agentResult) {
	if a.failed {
		r.Failed++
	} else if a.evaluated {
		r.Evaluated++
	}
	r.Trades += a.trades
	r.Opened += a.opened
	r.Closed += a.closed
	r.Rejected += a.rejected
}

// Last returns the result of the most recent cycle, or nil.
func (s *Scheduler) Last() *CycleResult {
	return s.last.Load()
}

// Cycles returns the number of completed cycles.
func (s *Scheduler) Cycles() int64 {
	return s.cycles.Load()
}

// Running reports whether Run is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Interval returns the tick interval.
func (s *Scheduler) Interval() time.Duration {
	return s.cfg.Interval
}

// Run executes a cycle immediately and then on every tick until ctx is
// cancelled. A cycle that outlasts the interval delays the next one; ticks
// are never queued.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already running")
	}
	defer s.running.Store(false)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.cfg.Interval).Int("concurrency", s.cfg.Concurrency).Msg("scheduler started")
	for {
		// Aligned cycle times let instances share the snapshot cache.
		s.RunCycle(ctx, s.now().Truncate(s.cfg.Interval))

		select {
		case <-ctx.Done():
			s.log.Info().Int64("cycles", s.Cycles()).Msg("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle executes one cycle at now and returns its summary.
//
// Phases:
//  1. Build the shared snapshot
//  2. Evaluate every running agent with bounded concurrency
//  3. Apply queued learning outcomes
//  4. Flush persistence
func (s *Scheduler) RunCycle(ctx context.Context, now time.Time) CycleResult {
	start := time.Now()
	result := CycleResult{CycleTime: now.UnixMilli()}
	log := s.log.With().Int64("cycle", result.CycleTime).Logger()

	defer func() {
		result.Duration = time.Since(start)
		result.FinishedAt = s.now().UnixMilli()
		status := "ok"
		if result.Error != "" {
			status = "failed"
		}
		observability.RecordCycle(status, result.Duration.Seconds(), result.Agents, result.FinishedAt/1000)
		s.cycles.Add(1)
		stored := result
		s.last.Store(&stored)
	}()

	// Phase 1: snapshot
	snap, err := s.snapshots.BuildSnapshot(ctx, result.CycleTime)
	if err != nil {
		result.Error = fmt.Sprintf("build snapshot: %v", err)
		log.Error().Err(err).Msg("cycle skipped: snapshot unavailable")
		return result
	}
	result.Tokens = snap.Len()
	result.Degraded = snap.Degraded()

	// Phase 2: agents
	runtimes := s.agents.Running()
	result.Agents = len(runtimes)
	results := make([]agentResult, len(runtimes))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, rt := range runtimes {
		g.Go(func() error {
			results[i] = s.evaluateAgent(ctx, rt, snap, now)
			return nil
		})
	}
	_ = g.Wait()

	open := 0
	for _, r := range results {
		result.add(r)
		open += r.open
	}
	observability.SetOpenPositions(open)

	// Phase 3: learning
	if s.learning != nil && result.Closed > 0 {
		syncCtx, cancel := context.WithTimeout(ctx, s.cfg.FlushTimeout)
		if err := s.learning.Sync(syncCtx); err != nil {
			log.Warn().Err(err).Msg("learning sync failed")
		}
		cancel()
	}

	// Phase 4: persistence
	if s.persister != nil {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FlushTimeout)
		if err := s.persister.Flush(flushCtx); err != nil {
			log.Error().Err(err).Msg("persistence flush failed")
		}
		cancel()
	}

	log.Info().
		Int("tokens", result.Tokens).
		Int("agents", result.Agents).
		Int("trades", result.Trades).
		Int("rejected", result.Rejected).
		Int("failed", result.Failed).
		Strs("degraded", result.Degraded).
		Msg("cycle complete")
	return result
}
