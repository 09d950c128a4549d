// Package keylock serializes work on string keys. Callers that need several
// keys take them in one Acquire call, which always locks in ascending key
// order so two overlapping requests can never wait on each other in a cycle.
package keylock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// ErrTimeout is returned when the keys could not all be locked within the
// table's wait bound or before the caller's context ended.
var ErrTimeout = errors.New("timed out waiting for lock")

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Table hands out exclusive locks per key. Entries exist only while some
// caller holds or waits for the key.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
	wait    time.Duration
}

// New returns a Table whose Acquire gives up after wait. A zero wait means
// only the caller's context bounds the wait.
func New(wait time.Duration) *Table {
	return &Table{entries: make(map[string]*entry), wait: wait}
}

// Release unlocks everything taken by one Acquire. It is safe to call more
// than once.
type Release func()

// Acquire locks every distinct key in ascending order. On failure nothing is
// left locked.
func (t *Table) Acquire(ctx context.Context, keys ...string) (Release, error) {
	ordered := sortedUnique(keys)
	if len(ordered) == 0 {
		return func() {}, nil
	}

	if t.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.wait)
		defer cancel()
	}

	held := make([]*entry, 0, len(ordered))
	for i, key := range ordered {
		e := t.ref(key)
		if err := e.sem.Acquire(ctx, 1); err != nil {
			t.unref(key)
			t.releaseHeld(ordered[:i], held)
			return nil, errors.Wrapf(ErrTimeout, "key %q", key)
		}
		held = append(held, e)
	}

	var once sync.Once
	return func() {
		once.Do(func() { t.releaseHeld(ordered, held) })
	}, nil
}

// Len reports how many keys currently have an entry.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Table) ref(key string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		t.entries[key] = e
	}
	e.refs++
	return e
}

func (t *Table) unref(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(t.entries, key)
	}
}

func (t *Table) releaseHeld(keys []string, held []*entry) {
	for i := len(held) - 1; i >= 0; i-- {
		held[i].sem.Release(1)
		t.unref(keys[i])
	}
}

func sortedUnique(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
