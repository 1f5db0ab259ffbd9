// Package main runs the agent engine: the cycle scheduler, the learning
// store, the persistence batcher and the HTTP control surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"agent-engine/internal/agent"
	"agent-engine/internal/api"
	"agent-engine/internal/config"
	"agent-engine/internal/decision"
	"agent-engine/internal/domain"
	"agent-engine/internal/events"
	"agent-engine/internal/execution"
	"agent-engine/internal/learning"
	"agent-engine/internal/logger"
	"agent-engine/internal/persistence"
	"agent-engine/internal/risk"
	"agent-engine/internal/scheduler"
	"agent-engine/internal/signals"
	"agent-engine/internal/signals/stub"
	"agent-engine/internal/storage"
	chstore "agent-engine/internal/storage/clickhouse"
	"agent-engine/internal/storage/memory"
	"agent-engine/internal/storage/migrations"
	pgstore "agent-engine/internal/storage/postgres"
	redisstore "agent-engine/internal/storage/redis"
)

const shutdownGrace = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Flags override environment values.
	flag.StringVar(&cfg.Server.Addr, "http-addr", cfg.Server.Addr, "HTTP listen address")
	flag.StringVar(&cfg.Storage.PostgresDSN, "postgres-dsn", cfg.Storage.PostgresDSN, "PostgreSQL connection string")
	flag.StringVar(&cfg.Storage.ClickHouseDSN, "clickhouse-dsn", cfg.Storage.ClickHouseDSN, "ClickHouse connection string")
	flag.BoolVar(&cfg.Storage.UseMemory, "use-memory", cfg.Storage.UseMemory, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	flag.BoolVar(&cfg.Market.Stub, "stub-market", cfg.Market.Stub, "Serve a synthetic in-memory market")
	flag.DurationVar(&cfg.Scheduler.Interval, "interval", cfg.Scheduler.Interval, "Cycle interval")
	flag.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level")
	flag.Parse()

	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := cfg.Storage.RequireStorage(); err != nil {
		log.Fatal().Err(err).Msg("storage not configured")
	}
	if !cfg.Market.Stub && cfg.Market.FeedURL == "" {
		log.Fatal().Msg("MARKET_FEED_URL is required (use --stub-market for a synthetic market)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
		cancel()

		// A second signal forces immediate exit.
		select {
		case sig := <-sigCh:
			log.Warn().Str("signal", sig.String()).Msg("forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(shutdownGrace):
			log.Error().Dur("grace", shutdownGrace).Msg("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, log)
	close(done)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("engine stopped with error")
	}
	log.Info().Msg("shutdown complete")
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	stores, closeStores, err := createStores(ctx, cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer closeStores()

	sinks := []persistence.Sink{persistence.NewStoreSink(stores, log)}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := events.NewSyncProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID)
		if err != nil {
			return fmt.Errorf("create kafka producer: %w", err)
		}
		tradeSink := events.NewTradeSink(producer, cfg.Kafka.Topic)
		defer tradeSink.Close()
		sinks = append(sinks, tradeSink)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("trade events enabled")
	}

	bcfg := persistence.DefaultConfig()
	bcfg.MaxQueue = cfg.Scheduler.BatchMaxQueue
	bcfg.MaxAttempts = cfg.Scheduler.BatchAttempts
	batcher := persistence.NewBatcher(bcfg, log, sinks...)

	lcfg := learning.DefaultConfig()
	lcfg.MinSamples = cfg.Learning.MinSamples
	lcfg.BlacklistWinRate = cfg.Learning.BlacklistWinRate
	lcfg.BlacklistTTL = cfg.Learning.BlacklistTTL
	lcfg.ReevaluateSamples = cfg.Learning.ReevaluateSamples

	learner := learning.NewStore(lcfg, learning.WithLogger(log), learning.WithPersist(func(perfs []*domain.SignalPerformance) {
		muts := make([]persistence.Mutation, 0, len(perfs))
		for _, p := range perfs {
			muts = append(muts, persistence.PerformanceUpsert(p))
		}
		batcher.Enqueue(muts...)
	}))
	if err := learner.Hydrate(ctx, stores.Performance); err != nil {
		return fmt.Errorf("hydrate learning store: %w", err)
	}

	registry := agent.NewRegistry(createExecutor(cfg.Execution, log),
		agent.WithLogger(log),
		agent.WithRecorder(batcher),
		agent.WithAgentStore(stores.Agents),
	)
	if err := registry.Hydrate(ctx, stores); err != nil {
		return fmt.Errorf("hydrate agents: %w", err)
	}

	aggregator, closeSources, err := createAggregator(ctx, cfg, registry, log)
	if err != nil {
		return fmt.Errorf("create signal aggregator: %w", err)
	}
	defer closeSources()

	sched := scheduler.New(scheduler.Options{
		Snapshots: aggregator,
		Agents:    registry,
		Engine:    decision.NewEngine(),
		Governor: risk.NewGovernor(risk.Config{
			CooldownLosses:   cfg.Risk.CooldownLosses,
			CooldownDuration: cfg.Risk.CooldownDuration,
			FloorBoost:       cfg.Risk.FloorBoost,
			SizeFactor:       cfg.Risk.SizeFactor,
		}),
		Learning:  learner,
		Persister: batcher,
		Config: scheduler.Config{
			Interval:     cfg.Scheduler.Interval,
			Concurrency:  cfg.Scheduler.Concurrency,
			AgentTimeout: cfg.Scheduler.AgentTimeout,
			FlushTimeout: cfg.Scheduler.FlushTimeout,
		},
		Logger: log,
	})

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewServer(api.Options{
			Registry: registry,
			Status:   sched,
			Pending:  batcher,
			Logger:   log,
			Mode:     cfg.Server.Mode,
		}).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// The batcher and the learning store outlive the scheduler so the last
	// cycle's outcomes and mutations are written.
	batchCtx, stopBatcher := context.WithCancel(context.Background())
	learnCtx, stopLearning := context.WithCancel(context.Background())
	defer stopBatcher()
	defer stopLearning()

	var infra sync.WaitGroup
	infra.Add(2)
	go func() {
		defer infra.Done()
		if err := batcher.Run(batchCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("batcher stopped")
		}
	}()
	learnDone := make(chan struct{})
	go func() {
		defer infra.Done()
		defer close(learnDone)
		if err := learner.Run(learnCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("learning store stopped")
		}
	}()

	var workers sync.WaitGroup
	workers.Add(3)
	go func() {
		defer workers.Done()
		if err := registry.RunDailyReset(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("daily reset stopped")
		}
	}()
	go func() {
		defer workers.Done()
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()
	schedErr := make(chan error, 1)
	go func() {
		defer workers.Done()
		schedErr <- sched.Run(ctx)
	}()

	total, running := registry.Counts()
	log.Info().
		Int("agents", total).
		Int("running", running).
		Dur("interval", cfg.Scheduler.Interval).
		Msg("engine started")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown")
	}
	workers.Wait()

	stopLearning()
	<-learnDone
	stopBatcher()
	infra.Wait()

	err = <-schedErr
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// createStores creates the stores for the configured backend.
func createStores(ctx context.Context, cfg config.StorageConfig, log zerolog.Logger) (storage.Stores, func(), error) {
	if cfg.UseMemory {
		log.Info().Msg("using in-memory storage")
		return memory.NewStores(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, pgstore.PoolOptions{MaxConns: int32(cfg.MaxConns)})
	if err != nil {
		return storage.Stores{}, nil, err
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return storage.Stores{}, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	var (
		logs   storage.AgentLogStore
		chConn *chstore.Conn
	)
	if cfg.ClickHouseDSN != "" {
		chConn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		if err != nil {
			pool.Close()
			return storage.Stores{}, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		logs = chstore.NewAgentLogStore(chConn)
	} else {
		log.Warn().Msg("CLICKHOUSE_DSN not set, agent logs are kept in memory")
		logs = memory.NewAgentLogStore()
	}

	cleanup := func() {
		if chConn != nil {
			chConn.Close()
		}
		pool.Close()
	}
	return pgstore.NewStores(pool, logs), cleanup, nil
}

// createExecutor returns the live executor, or a paper executor when no
// endpoint is configured.
func createExecutor(cfg config.ExecutionConfig, log zerolog.Logger) execution.Executor {
	if cfg.Endpoint == "" {
		log.Info().Float64("slippage_bps", cfg.SlippageBps).Msg("paper trading enabled")
		return execution.NewPaperExecutor(cfg.SlippageBps)
	}
	return execution.NewHTTPExecutor(cfg.Endpoint,
		execution.WithTimeout(cfg.Timeout),
		execution.WithMaxRetries(cfg.MaxRetries),
		execution.WithAPIKey(cfg.APIKey),
	)
}

// createAggregator builds the signal aggregator over live or synthetic sources.
func createAggregator(ctx context.Context, cfg *config.Config, registry *agent.Registry, log zerolog.Logger) (*signals.Aggregator, func(), error) {
	var (
		sources signals.Sources
		cleanup = func() {}
	)

	universe := signals.UnionUniverse{signals.StaticUniverse(cfg.Market.Tokens), registry}

	if cfg.Market.Stub {
		market := stub.NewMarket()
		sim := newMarketSim(market, cfg.Market.Tokens, cfg.Scheduler.Interval)
		go sim.run(ctx)
		sources = market.Sources()
		universe = append(universe, market)
	} else {
		feed := signals.NewHTTPFeed(cfg.Market.FeedURL)
		sources = feed.Sources()
		if cfg.Market.FearGreedURL != "" {
			sources.FearGreed = signals.NewFearGreedClient(cfg.Market.FearGreedURL)
		}
		if cfg.Market.CandleWSURL != "" {
			wsCfg := signals.DefaultWSFeedConfig()
			ws, err := signals.NewWSFeed(ctx, cfg.Market.CandleWSURL, cfg.Market.Tokens, &wsCfg, log)
			if err != nil {
				return nil, nil, fmt.Errorf("connect candle stream: %w", err)
			}
			sources.OHLCV = signals.FallbackOHLCV{Primary: ws, Secondary: sources.OHLCV}
			cleanup = func() { ws.Close() }
		}
	}

	opts := []signals.Option{signals.WithLogger(log)}
	if cfg.Redis.Addr != "" {
		client, err := redisstore.NewClient(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opts = append(opts, signals.WithSharedCache(redisstore.NewSnapshotCache(client, cfg.Redis.TTL)))
		prev := cleanup
		cleanup = func() {
			prev()
			client.Close()
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("shared snapshot cache enabled")
	}

	acfg := signals.DefaultConfig()
	acfg.SourceTimeout = cfg.Market.SourceTimeout
	acfg.RateLimit = cfg.Market.RateLimit
	acfg.RateBurst = cfg.Market.RateBurst

	return signals.NewAggregator(sources, universe, acfg, opts...), cleanup, nil
}

