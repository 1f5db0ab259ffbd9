package agent

import "sync"

// journal is a bounded ring of the most recent records.
type journal[T any] struct {
	mu    sync.Mutex
	items []T
	next  int
	full  bool
}

func newJournal[T any](size int) *journal[T] {
	return &journal[T]{items: make([]T, size)}
}

func (j *journal[T]) add(v T) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.items) == 0 {
		return
	}
	j.items[j.next] = v
	j.next = (j.next + 1) % len(j.items)
	if j.next == 0 {
		j.full = true
	}
}

// recent returns up to limit records, newest first. limit <= 0 returns all.
func (j *journal[T]) recent(limit int) []T {
	j.mu.Lock()
	defer j.mu.Unlock()

	n := j.next
	if j.full {
		n = len(j.items)
	}
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]T, 0, n)
	idx := j.next
	for i := 0; i < n; i++ {
		idx = (idx - 1 + len(j.items)) % len(j.items)
		out = append(out, j.items[idx])
	}
	return out
}
