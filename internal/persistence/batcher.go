package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"agent-engine/internal/observability"
)

// Config tunes batching and retries.
type Config struct {
	MaxQueue      int           // queued mutations that trigger an early flush
	FlushInterval time.Duration // periodic flush in Run, 0 disables
	MaxAttempts   int           // write attempts per sink before a batch is dropped
	RetryDelay    time.Duration // initial backoff
	MaxDelay      time.Duration // backoff cap
	ShutdownFlush time.Duration // deadline for the final flush in Run
}

// DefaultConfig returns the default batcher configuration.
func DefaultConfig() Config {
	return Config{
		MaxQueue:      500,
		FlushInterval: 0,
		MaxAttempts:   4,
		RetryDelay:    100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		ShutdownFlush: 10 * time.Second,
	}
}

// Batcher queues mutations and writes them to every sink in batches.
type Batcher struct {
	cfg   Config
	sinks []Sink
	log   zerolog.Logger

	mu    sync.Mutex
	queue []Mutation

	flushMu sync.Mutex // one flush at a time
	early   chan struct{}
}

// NewBatcher creates a batcher writing to sinks.
func NewBatcher(cfg Config, log zerolog.Logger, sinks ...Sink) *Batcher {
	def := DefaultConfig()
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = def.MaxQueue
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxDelay < cfg.RetryDelay {
		cfg.MaxDelay = max(def.MaxDelay, cfg.RetryDelay)
	}
	if cfg.ShutdownFlush <= 0 {
		cfg.ShutdownFlush = def.ShutdownFlush
	}
	return &Batcher{
		cfg:   cfg,
		sinks: sinks,
		log:   log.With().Str("component", "batcher").Logger(),
		early: make(chan struct{}, 1),
	}
}

// Enqueue adds mutations to the queue. It never blocks on I/O.
func (b *Batcher) Enqueue(muts ...Mutation) {
	if len(muts) == 0 {
		return
	}

	b.mu.Lock()
	b.queue = append(b.queue, muts...)
	depth := len(b.queue)
	b.mu.Unlock()

	observability.SetQueueDepth(depth)
	if depth >= b.cfg.MaxQueue {
		select {
		case b.early <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of queued mutations.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Flush writes every queued mutation to every sink. A sink that still fails
// after MaxAttempts has the batch dropped and logged; the returned error
// joins those failures. Flush does not requeue.
func (b *Batcher) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	muts := b.queue
	b.queue = nil
	b.mu.Unlock()
	observability.SetQueueDepth(0)

	if len(muts) == 0 {
		return nil
	}

	batch := NewBatch(muts)
	var errs []error
	for _, sink := range b.sinks {
		if err := b.writeWithRetry(ctx, sink, batch); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (b *Batcher) writeWithRetry(ctx context.Context, sink Sink, batch *Batch) error {
	delay := b.cfg.RetryDelay
	var lastErr error

	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				lastErr = errors.Join(lastErr, ctx.Err())
				attempt = b.cfg.MaxAttempts + 1
				continue
			case <-time.After(delay):
			}
			delay *= 2
			if delay > b.cfg.MaxDelay {
				delay = b.cfg.MaxDelay
			}
		}

		err := sink.Write(ctx, batch)
		observability.RecordFlush(sink.Name(), batch.Len(), err)
		if err == nil {
			return nil
		}
		lastErr = err
		b.log.Warn().Err(err).
			Str("sink", sink.Name()).
			Int("attempt", attempt).
			Int("records", batch.Len()).
			Msg("batch write failed")
	}

	observability.RecordDropped(sink.Name(), batch.Len())
	b.log.Error().Err(lastErr).
		Str("sink", sink.Name()).
		Int("trades", len(batch.Trades)).
		Int("logs", len(batch.Logs)).
		Int("positions", len(batch.Positions)).
		Int("agents", len(batch.Agents)).
		Int("signal_performance", len(batch.Performance)).
		Msg("batch dropped after retries")
	return lastErr
}

// Run flushes early whenever the queue reaches MaxQueue, and periodically
// when FlushInterval is set. On cancellation it performs a final flush.
func (b *Batcher) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if b.cfg.FlushInterval > 0 {
		ticker := time.NewTicker(b.cfg.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), b.cfg.ShutdownFlush)
			defer cancel()
			if err := b.Flush(flushCtx); err != nil {
				b.log.Error().Err(err).Msg("final flush failed")
			}
			return nil
		case <-b.early:
			if err := b.Flush(ctx); err != nil {
				b.log.Error().Err(err).Msg("early flush failed")
			}
		case <-tick:
			if err := b.Flush(ctx); err != nil {
				b.log.Error().Err(err).Msg("periodic flush failed")
			}
		}
	}
}
