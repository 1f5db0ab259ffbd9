package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Scheduler.Interval != 10*time.Second {
		t.Errorf("interval = %v, want 10s", cfg.Scheduler.Interval)
	}
	if cfg.Risk.CooldownLosses != 3 {
		t.Errorf("cooldown losses = %d, want 3", cfg.Risk.CooldownLosses)
	}
	if cfg.Learning.BlacklistTTL != 24*time.Hour {
		t.Errorf("blacklist ttl = %v, want 24h", cfg.Learning.BlacklistTTL)
	}
	if cfg.Kafka.Brokers != nil {
		t.Errorf("kafka brokers = %v, want none", cfg.Kafka.Brokers)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("CYCLE_INTERVAL", "2s")
	t.Setenv("WORKER_CONCURRENCY", "3")
	t.Setenv("USE_MEMORY", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("COOLDOWN_FLOOR_BOOST", "0.2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.Interval != 2*time.Second {
		t.Errorf("interval = %v, want 2s", cfg.Scheduler.Interval)
	}
	if cfg.Scheduler.Concurrency != 3 {
		t.Errorf("concurrency = %d, want 3", cfg.Scheduler.Concurrency)
	}
	if !cfg.Storage.UseMemory {
		t.Error("use memory should be true")
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Risk.FloorBoost != 0.2 {
		t.Errorf("floor boost = %v, want 0.2", cfg.Risk.FloorBoost)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "many")
	t.Setenv("CYCLE_INTERVAL", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.Concurrency != 8 {
		t.Errorf("concurrency = %d, want default 8", cfg.Scheduler.Concurrency)
	}
	if cfg.Scheduler.Interval != 10*time.Second {
		t.Errorf("interval = %v, want default", cfg.Scheduler.Interval)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("COOLDOWN_SIZE_FACTOR", "1.5")
	if _, err := Load(); err == nil {
		t.Error("expected error for size factor > 1")
	}
}

func TestRequireStorage(t *testing.T) {
	s := StorageConfig{}
	if err := s.RequireStorage(); err == nil {
		t.Error("expected error without DSNs")
	}
	s.UseMemory = true
	if err := s.RequireStorage(); err != nil {
		t.Errorf("memory storage: %v", err)
	}
}
