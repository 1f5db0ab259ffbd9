package signals

import (
	"context"
	"sync"

	"agent-engine/internal/domain"
)

// SharedCache shares snapshots between processes (e.g. Redis).
type SharedCache interface {
	Get(ctx context.Context, cycleTime int64) (*domain.SignalSnapshot, bool, error)
	// Put stores snap unless one exists and returns the authoritative snapshot.
	Put(ctx context.Context, snap *domain.SignalSnapshot) (*domain.SignalSnapshot, error)
}

// snapshotLRU keeps the snapshots of the most recent cycles.
type snapshotLRU struct {
	mu    sync.Mutex
	size  int
	order []int64 // least recently used first
	items map[int64]*domain.SignalSnapshot
}

func newSnapshotLRU(size int) *snapshotLRU {
	if size <= 0 {
		size = 4
	}
	return &snapshotLRU{
		size:  size,
		items: make(map[int64]*domain.SignalSnapshot, size),
	}
}

func (c *snapshotLRU) get(cycleTime int64) (*domain.SignalSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, ok := c.items[cycleTime]
	if ok {
		c.touch(cycleTime)
	}
	return snap, ok
}

func (c *snapshotLRU) put(snap *domain.SignalSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := snap.CycleTime()
	if _, ok := c.items[key]; ok {
		c.touch(key)
		return
	}

	if len(c.order) >= c.size {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.items, oldest)
	}
	c.items[key] = snap
	c.order = append(c.order, key)
}

func (c *snapshotLRU) touch(key int64) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, key)
}

func (c *snapshotLRU) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
