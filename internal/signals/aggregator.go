package signals

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"agent-engine/internal/domain"
	"agent-engine/internal/indicators"
	"agent-engine/internal/observability"
)

// Config tunes snapshot building.
type Config struct {
	SourceTimeout time.Duration // per upstream call
	Concurrency   int           // tokens fetched in parallel
	RateLimit     float64       // upstream calls per second, 0 = unlimited
	RateBurst     int
	CandleLimit   int     // candles requested per token
	FlowScale     float64 // USD inflow that maps to tanh(1)
	CacheSize     int     // cycles kept in memory
}

// DefaultConfig returns the default aggregator configuration.
func DefaultConfig() Config {
	return Config{
		SourceTimeout: 2 * time.Second,
		Concurrency:   8,
		RateLimit:     50,
		RateBurst:     20,
		CandleLimit:   60,
		FlowScale:     100_000,
		CacheSize:     4,
	}
}

// Aggregator builds one immutable snapshot per cycle timestamp.
type Aggregator struct {
	sources  Sources
	universe Universe
	cfg      Config
	limiter  *rate.Limiter
	cache    *snapshotLRU
	shared   SharedCache
	group    singleflight.Group
	log      zerolog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithSharedCache adds a cross-process snapshot cache.
func WithSharedCache(c SharedCache) Option {
	return func(a *Aggregator) {
		a.shared = c
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Aggregator) {
		a.log = l.With().Str("component", "signals").Logger()
	}
}

// NewAggregator creates an aggregator over the given sources.
func NewAggregator(sources Sources, universe Universe, cfg Config, opts ...Option) *Aggregator {
	def := DefaultConfig()
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = def.SourceTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = def.CandleLimit
	}
	if cfg.FlowScale <= 0 {
		cfg.FlowScale = def.FlowScale
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = def.RateBurst
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	a := &Aggregator{
		sources:  sources,
		universe: universe,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, cfg.RateBurst),
		cache:    newSnapshotLRU(cfg.CacheSize),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BuildSnapshot returns the snapshot for cycleTime (Unix ms).
// Calls with the same cycleTime return the same snapshot; concurrent calls
// share one build. Upstream failures degrade features to neutral values and
// never fail the build.
func (a *Aggregator) BuildSnapshot(ctx context.Context, cycleTime int64) (*domain.SignalSnapshot, error) {
	if snap, ok := a.cache.get(cycleTime); ok {
		observability.RecordSnapshotLookup("memory")
		return snap, nil
	}

	v, err, _ := a.group.Do(strconv.FormatInt(cycleTime, 10), func() (any, error) {
		if snap, ok := a.cache.get(cycleTime); ok {
			observability.RecordSnapshotLookup("memory")
			return snap, nil
		}

		if a.shared != nil {
			snap, found, err := a.shared.Get(ctx, cycleTime)
			if err != nil {
				a.log.Warn().Err(err).Int64("cycle", cycleTime).Msg("shared snapshot lookup failed")
			} else if found {
				observability.RecordSnapshotLookup("shared")
				a.cache.put(snap)
				return snap, nil
			}
		}
		observability.RecordSnapshotLookup("miss")

		snap, err := a.build(ctx, cycleTime)
		if err != nil {
			return nil, err
		}

		if a.shared != nil {
			stored, err := a.shared.Put(ctx, snap)
			if err != nil {
				a.log.Warn().Err(err).Int64("cycle", cycleTime).Msg("shared snapshot store failed")
			} else {
				snap = stored
			}
		}

		a.cache.put(snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.SignalSnapshot), nil
}

func (a *Aggregator) build(ctx context.Context, cycleTime int64) (*domain.SignalSnapshot, error) {
	tokens, err := a.universe.Tokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("list token universe: %w", err)
	}

	deg := &degradedSet{names: make(map[string]struct{})}

	fearGreed := 50.0
	if a.sources.FearGreed != nil {
		if v, ok := fetch(ctx, a, SourceFearGreed, deg, a.sources.FearGreed.FearGreed); ok {
			fearGreed = v
		}
	}
	fgSignal := normalizeFearGreed(fearGreed)

	features := make([]domain.TokenFeatures, len(tokens))

	var g errgroup.Group
	g.SetLimit(a.cfg.Concurrency)
	for i, token := range tokens {
		g.Go(func() error {
			features[i] = a.tokenFeatures(ctx, token, fgSignal, deg)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("build snapshot %d: %w", cycleTime, err)
	}

	degraded := deg.list()
	snap := domain.NewSignalSnapshot(cycleTime, fearGreed, features, degraded)
	observability.RecordSnapshot(snap.Len())

	a.log.Debug().
		Int64("cycle", cycleTime).
		Int("tokens", snap.Len()).
		Strs("degraded", degraded).
		Msg("snapshot built")

	return snap, nil
}

// tokenFeatures fetches every per-token source. Failures leave the neutral value.
func (a *Aggregator) tokenFeatures(ctx context.Context, token string, fgSignal float64, deg *degradedSet) domain.TokenFeatures {
	f := domain.TokenFeatures{Token: token, SafetyScore: 50}
	f.Signals[domain.SignalFearGreed] = fgSignal

	if src := a.sources.OHLCV; src != nil {
		candles, ok := fetch(ctx, a, SourceTechnical, deg, func(ctx context.Context) ([]domain.Candle, error) {
			return src.Candles(ctx, token, a.cfg.CandleLimit)
		})
		if ok && len(candles) > 0 {
			sort.SliceStable(candles, func(i, j int) bool { return candles[i].OpenTime < candles[j].OpenTime })
			f.Price = candles[len(candles)-1].Close
			f.Technical = indicators.Compute(candles)
			f.Signals[domain.SignalTechnical] = bounded(indicators.Score(f.Technical, f.Price))
		}
	}

	if src := a.sources.Flow; src != nil {
		if v, ok := fetch(ctx, a, SourceSmartMoney, deg, func(ctx context.Context) (float64, error) {
			return src.NetFlow(ctx, token)
		}); ok {
			f.Signals[domain.SignalSmartMoney] = normalizeFlow(v, a.cfg.FlowScale)
		}
	}

	if src := a.sources.Social; src != nil {
		if v, ok := fetch(ctx, a, SourceSocial, deg, func(ctx context.Context) (float64, error) {
			return src.Sentiment(ctx, token)
		}); ok {
			f.Signals[domain.SignalSocial] = bounded(v)
		}
	}

	if src := a.sources.News; src != nil {
		if v, ok := fetch(ctx, a, SourceNews, deg, func(ctx context.Context) (float64, error) {
			return src.Sentiment(ctx, token)
		}); ok {
			f.Signals[domain.SignalNews] = bounded(v)
		}
	}

	if src := a.sources.Liquidity; src != nil {
		if h, ok := fetch(ctx, a, SourceLiquidity, deg, func(ctx context.Context) (domain.PoolHealth, error) {
			return src.PoolHealth(ctx, token)
		}); ok {
			f.LiquidityUSD = h.LiquidityUSD
			f.Signals[domain.SignalLiquidity] = normalizeLiquidity(poolHealth{LiquidityUSD: h.LiquidityUSD, Change24hPct: h.Change24hPct})
			if f.Price <= 0 && h.PriceUSD > 0 {
				f.Price = h.PriceUSD
			}
		}
	}

	if src := a.sources.Safety; src != nil {
		if v, ok := fetch(ctx, a, SourceSafety, deg, func(ctx context.Context) (float64, error) {
			return src.SafetyScore(ctx, token)
		}); ok {
			f.SafetyScore = v
			f.Signals[domain.SignalSafety] = normalizeSafety(v)
		}
	}

	return f
}

// fetch runs one rate-limited, time-bounded upstream call.
func fetch[T any](ctx context.Context, a *Aggregator, source string, deg *degradedSet, call func(context.Context) (T, error)) (T, bool) {
	var zero T

	if err := a.limiter.Wait(ctx); err != nil {
		deg.add(source)
		return zero, false
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.SourceTimeout)
	defer cancel()

	v, err := call(callCtx)
	if err != nil {
		deg.add(source)
		observability.RecordSourceDegraded(source)
		a.log.Debug().Err(err).Str("source", source).Msg("source degraded")
		return zero, false
	}
	return v, true
}

// degradedSet collects failed source names across token workers.
type degradedSet struct {
	mu    sync.Mutex
	names map[string]struct{}
}

func (d *degradedSet) add(name string) {
	d.mu.Lock()
	d.names[name] = struct{}{}
	d.mu.Unlock()
}

func (d *degradedSet) list() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]string, 0, len(d.names))
	for n := range d.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
