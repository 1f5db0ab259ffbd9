package learning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"agent-engine/internal/domain"
	"agent-engine/internal/observability"
	"agent-engine/internal/storage"
)

// ErrClosed is returned when an outcome is recorded after the store stopped.
var ErrClosed = errors.New("learning store closed")

// Outcome is the result of one closed position.
type Outcome struct {
	Fingerprint string
	Strategy    domain.StrategyVariant
	Signals     []string // signal names in the fingerprint
	Pnl         float64  // return fraction, e.g. 0.12 = +12%
	At          time.Time
}

// PersistFunc receives every aggregate changed by an outcome.
type PersistFunc func(perfs []*domain.SignalPerformance)

type update struct {
	outcome *Outcome
	barrier chan struct{}
}

// Store owns the signal performance aggregates.
//
// A single writer goroutine (Run) applies outcomes and publishes a new View
// through an atomic pointer. Readers never block and never observe a
// partially applied outcome.
type Store struct {
	cfg     Config
	view    atomic.Pointer[View]
	updates chan update
	done    chan struct{}
	stopped atomic.Bool
	// enqueue is held shared by senders from the stopped check until their
	// send completes; Run takes it exclusively before its final drain.
	enqueue sync.RWMutex
	persist PersistFunc
	log     zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPersist hands changed aggregates to fn (typically the persistence batcher).
func WithPersist(fn PersistFunc) Option {
	return func(s *Store) {
		s.persist = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.log = l.With().Str("component", "learning").Logger()
	}
}

// NewStore creates an empty store. Run must be started to apply outcomes.
func NewStore(cfg Config, opts ...Option) *Store {
	cfg = cfg.withDefaults()
	s := &Store{
		cfg:     cfg,
		updates: make(chan update, cfg.QueueSize),
		done:    make(chan struct{}),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.view.Store(emptyView(cfg))
	return s
}

// Hydrate loads persisted aggregates. It must be called before Run.
func (s *Store) Hydrate(ctx context.Context, store storage.SignalPerformanceStore) error {
	perfs, err := store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load signal performance: %w", err)
	}

	next := emptyView(s.cfg)
	for _, p := range perfs {
		next.perf[perfKey(p.Fingerprint, p.Strategy)] = p.Clone()
	}
	s.view.Store(next)

	s.log.Info().Int("aggregates", len(perfs)).Msg("learning store hydrated")
	return nil
}

// View returns the current immutable snapshot.
func (s *Store) View() *View {
	return s.view.Load()
}

// Weight returns the current weight of a signal under a strategy.
func (s *Store) Weight(sig domain.Signal, strategy domain.StrategyVariant) float64 {
	return s.View().Weight(sig, strategy)
}

// IsBlacklisted reports whether a fingerprint is blocked at now.
func (s *Store) IsBlacklisted(fingerprint string, strategy domain.StrategyVariant, now time.Time) bool {
	return s.View().IsBlacklisted(fingerprint, strategy, now)
}

// RecordOutcome queues an outcome for the writer. It blocks while the queue
// is full until ctx is done.
func (s *Store) RecordOutcome(ctx context.Context, o Outcome) error {
	if o.Fingerprint == "" {
		return fmt.Errorf("record outcome: empty fingerprint")
	}
	if !o.Strategy.Valid() {
		return fmt.Errorf("record outcome: unknown strategy %q", o.Strategy)
	}
	if o.At.IsZero() {
		o.At = time.Now()
	}
	o.Signals = append([]string(nil), o.Signals...)

	s.enqueue.RLock()
	defer s.enqueue.RUnlock()
	if s.stopped.Load() {
		return ErrClosed
	}

	select {
	case s.updates <- update{outcome: &o}:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sync waits until every outcome queued before the call is applied.
func (s *Store) Sync(ctx context.Context) error {
	barrier := make(chan struct{})
	select {
	case s.updates <- update{barrier: barrier}:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-barrier:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run applies queued outcomes until ctx is cancelled. Every RecordOutcome
// that returned nil is applied before Run returns; later calls get ErrClosed.
func (s *Store) Run(ctx context.Context) error {
	defer close(s.done)

	for {
		select {
		case u := <-s.updates:
			s.applyBatch(u)
		case <-ctx.Done():
			s.stopped.Store(true)
			s.drain()
			return nil
		}
	}
}

// drain applies updates until no sender that passed the stopped check is
// left, then empties the queue.
func (s *Store) drain() {
	sealed := make(chan struct{})
	go func() {
		s.enqueue.Lock()
		s.enqueue.Unlock()
		close(sealed)
	}()

	for {
		select {
		case u := <-s.updates:
			s.applyBatch(u)
		case <-sealed:
			for {
				select {
				case u := <-s.updates:
					s.applyBatch(u)
				default:
					return
				}
			}
		}
	}
}

// applyBatch applies u and every update already queued behind it, then
// publishes one new view.
func (s *Store) applyBatch(first update) {
	cur := s.view.Load()
	next := &View{cfg: s.cfg, perf: make(map[string]*domain.SignalPerformance, len(cur.perf)+8)}
	for k, p := range cur.perf {
		next.perf[k] = p
	}

	changed := make(map[string]*domain.SignalPerformance)
	var barriers []chan struct{}

	handle := func(u update) {
		if u.barrier != nil {
			barriers = append(barriers, u.barrier)
			return
		}
		for _, p := range s.apply(next, *u.outcome) {
			changed[perfKey(p.Fingerprint, p.Strategy)] = p
		}
	}

	handle(first)
drain:
	for {
		select {
		case u := <-s.updates:
			handle(u)
		default:
			break drain
		}
	}

	s.view.Store(next)

	if len(changed) > 0 {
		observability.RecordOutcome(next.Blacklisted())
		if s.persist != nil {
			out := make([]*domain.SignalPerformance, 0, len(changed))
			for _, p := range changed {
				out = append(out, p.Clone())
			}
			s.persist(out)
		}
	}
	for _, b := range barriers {
		close(b)
	}
}

// apply records o into next, cloning every aggregate it touches so that
// published views stay unchanged.
func (s *Store) apply(next *View, o Outcome) []*domain.SignalPerformance {
	at := o.At.UnixMilli()
	touched := make([]*domain.SignalPerformance, 0, len(o.Signals)+1)

	fp := s.mutable(next, o.Fingerprint, o.Strategy, o.Signals)
	fp.Record(o.Pnl)
	fp.UpdatedAt = at
	s.updateBlacklist(fp, o, at)
	touched = append(touched, fp)

	seen := make(map[string]struct{}, len(o.Signals))
	for _, name := range o.Signals {
		sig, ok := domain.ParseSignal(name)
		if !ok {
			continue
		}
		key := SignalKey(sig)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		p := s.mutable(next, key, o.Strategy, []string{sig.String()})
		p.Record(o.Pnl)
		p.UpdatedAt = at
		touched = append(touched, p)
	}
	return touched
}

func (s *Store) mutable(next *View, fingerprint string, strategy domain.StrategyVariant, signals []string) *domain.SignalPerformance {
	key := perfKey(fingerprint, strategy)
	var p *domain.SignalPerformance
	if existing, ok := next.perf[key]; ok {
		p = existing.Clone()
	} else {
		p = &domain.SignalPerformance{
			Fingerprint: fingerprint,
			Strategy:    strategy,
			Signals:     append([]string(nil), signals...),
		}
	}
	next.perf[key] = p
	return p
}

func (s *Store) updateBlacklist(p *domain.SignalPerformance, o Outcome, at int64) {
	if strings.HasPrefix(p.Fingerprint, signalKeyPrefix) {
		return
	}

	if !p.Blacklisted {
		if p.BlacklistedAt == 0 {
			if p.Count >= s.cfg.MinSamples && p.WinRate() < s.cfg.BlacklistWinRate {
				s.blacklist(p, at)
			}
			return
		}
		// Previously cleared: judged on outcomes since the clearance only.
		p.SamplesSinceBlacklist++
		if o.Pnl > 0 {
			p.WinsSinceBlacklist++
		}
		if p.SamplesSinceBlacklist >= s.cfg.MinSamples &&
			float64(p.WinsSinceBlacklist)/float64(p.SamplesSinceBlacklist) < s.cfg.BlacklistWinRate {
			s.blacklist(p, at)
		}
		return
	}

	// Outcomes of positions opened before the blacklist only count once
	// the fingerprint is on probation.
	if at < p.BlacklistedAt+s.cfg.BlacklistTTL.Milliseconds() {
		return
	}

	p.SamplesSinceBlacklist++
	if o.Pnl > 0 {
		p.WinsSinceBlacklist++
	}
	if p.SamplesSinceBlacklist < s.cfg.ReevaluateSamples {
		return
	}

	rate := float64(p.WinsSinceBlacklist) / float64(p.SamplesSinceBlacklist)
	if rate < s.cfg.BlacklistWinRate {
		s.blacklist(p, at)
		return
	}

	// BlacklistedAt is kept to mark the aggregate as previously cleared.
	p.Blacklisted = false
	p.SamplesSinceBlacklist = 0
	p.WinsSinceBlacklist = 0
	s.log.Info().
		Str("fingerprint", p.Fingerprint).
		Str("strategy", string(p.Strategy)).
		Float64("probation_win_rate", rate).
		Msg("fingerprint cleared from blacklist")
}

func (s *Store) blacklist(p *domain.SignalPerformance, at int64) {
	p.Blacklisted = true
	p.BlacklistedAt = at
	p.SamplesSinceBlacklist = 0
	p.WinsSinceBlacklist = 0
	s.log.Info().
		Str("fingerprint", p.Fingerprint).
		Str("strategy", string(p.Strategy)).
		Float64("win_rate", p.WinRate()).
		Int("samples", p.Count).
		Msg("fingerprint blacklisted")
}
