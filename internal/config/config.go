// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the engine.
type Config struct {
	Server    ServerConfig
	Scheduler SchedulerConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Market    MarketConfig
	Execution ExecutionConfig
	Risk      RiskConfig
	Learning  LearningConfig
	Log       LogConfig
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Addr string
	Mode string // gin mode: debug | release | test
}

// SchedulerConfig configures the evaluation loop and the batcher.
type SchedulerConfig struct {
	Interval      time.Duration
	Concurrency   int
	AgentTimeout  time.Duration
	FlushTimeout  time.Duration
	BatchMaxQueue int
	BatchAttempts int
}

// StorageConfig selects and connects the stores.
type StorageConfig struct {
	UseMemory     bool
	PostgresDSN   string
	ClickHouseDSN string
	MaxConns      int
}

// RedisConfig configures the shared snapshot cache. Empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// KafkaConfig configures the trade event sink. No brokers disables it.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// MarketConfig configures upstream market data.
type MarketConfig struct {
	FeedURL       string
	FearGreedURL  string
	CandleWSURL   string
	Tokens        []string
	SourceTimeout time.Duration
	RateLimit     float64
	RateBurst     int
	Stub          bool // serve a synthetic in-memory market
}

// ExecutionConfig configures trade execution. Empty Endpoint selects paper trading.
type ExecutionConfig struct {
	Endpoint    string
	APIKey      string
	Timeout     time.Duration
	MaxRetries  int
	SlippageBps float64
}

// RiskConfig configures the loss cooldown.
type RiskConfig struct {
	CooldownLosses   int
	CooldownDuration time.Duration
	FloorBoost       float64
	SizeFactor       float64
}

// LearningConfig configures signal reweighting and blacklisting.
type LearningConfig struct {
	MinSamples        int
	BlacklistWinRate  float64
	BlacklistTTL      time.Duration
	ReevaluateSamples int
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first; variables already set take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
			Mode: getEnv("GIN_MODE", "release"),
		},
		Scheduler: SchedulerConfig{
			Interval:      getEnvAsDuration("CYCLE_INTERVAL", 10*time.Second),
			Concurrency:   getEnvAsInt("WORKER_CONCURRENCY", 8),
			AgentTimeout:  getEnvAsDuration("AGENT_TIMEOUT", 5*time.Second),
			FlushTimeout:  getEnvAsDuration("FLUSH_TIMEOUT", 5*time.Second),
			BatchMaxQueue: getEnvAsInt("BATCH_MAX_QUEUE", 500),
			BatchAttempts: getEnvAsInt("BATCH_MAX_ATTEMPTS", 4),
		},
		Storage: StorageConfig{
			UseMemory:     getEnvAsBool("USE_MEMORY", false),
			PostgresDSN:   getEnv("POSTGRES_DSN", ""),
			ClickHouseDSN: getEnv("CLICKHOUSE_DSN", ""),
			MaxConns:      getEnvAsInt("POSTGRES_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TTL:      getEnvAsDuration("SNAPSHOT_CACHE_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:  getEnvAsSlice("KAFKA_BROKERS", nil, ","),
			Topic:    getEnv("KAFKA_TRADE_TOPIC", "agent-trades"),
			ClientID: getEnv("KAFKA_CLIENT_ID", "agent-engine"),
		},
		Market: MarketConfig{
			FeedURL:       getEnv("MARKET_FEED_URL", ""),
			FearGreedURL:  getEnv("FEAR_GREED_URL", "https://api.alternative.me"),
			CandleWSURL:   getEnv("CANDLE_WS_URL", ""),
			Tokens:        getEnvAsSlice("MARKET_TOKENS", nil, ","),
			SourceTimeout: getEnvAsDuration("SOURCE_TIMEOUT", 2*time.Second),
			RateLimit:     getEnvAsFloat("SOURCE_RATE_LIMIT", 20),
			RateBurst:     getEnvAsInt("SOURCE_RATE_BURST", 10),
			Stub:          getEnvAsBool("MARKET_STUB", false),
		},
		Execution: ExecutionConfig{
			Endpoint:    getEnv("EXECUTION_ENDPOINT", ""),
			APIKey:      getEnv("EXECUTION_API_KEY", ""),
			Timeout:     getEnvAsDuration("EXECUTION_TIMEOUT", 10*time.Second),
			MaxRetries:  getEnvAsInt("EXECUTION_MAX_RETRIES", 3),
			SlippageBps: getEnvAsFloat("PAPER_SLIPPAGE_BPS", 30),
		},
		Risk: RiskConfig{
			CooldownLosses:   getEnvAsInt("COOLDOWN_LOSSES", 3),
			CooldownDuration: getEnvAsDuration("COOLDOWN_DURATION", 30*time.Minute),
			FloorBoost:       getEnvAsFloat("COOLDOWN_FLOOR_BOOST", 0.15),
			SizeFactor:       getEnvAsFloat("COOLDOWN_SIZE_FACTOR", 0.5),
		},
		Learning: LearningConfig{
			MinSamples:        getEnvAsInt("LEARNING_MIN_SAMPLES", 5),
			BlacklistWinRate:  getEnvAsFloat("BLACKLIST_WIN_RATE", 0.3),
			BlacklistTTL:      getEnvAsDuration("BLACKLIST_TTL", 24*time.Hour),
			ReevaluateSamples: getEnvAsInt("BLACKLIST_REEVALUATE_SAMPLES", 5),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no safe fallback.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("CYCLE_INTERVAL must be positive")
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}
	if c.Risk.SizeFactor <= 0 || c.Risk.SizeFactor > 1 {
		return fmt.Errorf("COOLDOWN_SIZE_FACTOR must be in (0, 1]")
	}
	if c.Learning.BlacklistWinRate < 0 || c.Learning.BlacklistWinRate > 1 {
		return fmt.Errorf("BLACKLIST_WIN_RATE must be in [0, 1]")
	}
	return nil
}

// RequireStorage checks that database DSNs are set unless memory storage is used.
func (c *StorageConfig) RequireStorage() error {
	if c.UseMemory {
		return nil
	}
	if c.PostgresDSN == "" || c.ClickHouseDSN == "" {
		return fmt.Errorf("POSTGRES_DSN and CLICKHOUSE_DSN are required (use USE_MEMORY=true for in-memory storage)")
	}
	return nil
}

// Helper functions

func getEnv(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string, separator string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, separator) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
