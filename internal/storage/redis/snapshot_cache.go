package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"agent-engine/internal/domain"
)

const snapshotKeyPrefix = "engine:snapshot:"

// SnapshotCache shares cycle snapshots between engine processes.
// Entries are keyed by cycle timestamp and expire after ttl.
type SnapshotCache struct {
	client *redislib.Client
	ttl    time.Duration
}

// NewSnapshotCache creates a cache on top of an existing client.
func NewSnapshotCache(client *redislib.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SnapshotCache{client: client, ttl: ttl}
}

// SnapshotKey returns the Redis key of a cycle snapshot.
func SnapshotKey(cycleTime int64) string {
	return snapshotKeyPrefix + strconv.FormatInt(cycleTime, 10)
}

// Get returns the snapshot of a cycle. The boolean is false on a miss.
func (c *SnapshotCache) Get(ctx context.Context, cycleTime int64) (*domain.SignalSnapshot, bool, error) {
	raw, err := c.client.Get(ctx, SnapshotKey(cycleTime)).Bytes()
	if err != nil {
		if errors.Is(err, redislib.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get snapshot %d: %w", cycleTime, err)
	}

	var data domain.SnapshotData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false, fmt.Errorf("decode snapshot %d: %w", cycleTime, err)
	}
	return domain.SnapshotFromData(data), true, nil
}

// Put stores a snapshot unless another process stored one first.
// It returns the snapshot that is authoritative for the cycle.
func (c *SnapshotCache) Put(ctx context.Context, snap *domain.SignalSnapshot) (*domain.SignalSnapshot, error) {
	raw, err := json.Marshal(snap.Data())
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	ok, err := c.client.SetNX(ctx, SnapshotKey(snap.CycleTime()), raw, c.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("store snapshot %d: %w", snap.CycleTime(), err)
	}
	if ok {
		return snap, nil
	}

	existing, found, err := c.Get(ctx, snap.CycleTime())
	if err != nil {
		return nil, err
	}
	if !found {
		// Expired between SetNX and Get.
		return snap, nil
	}
	return existing, nil
}
