// Package dedup makes order processing idempotent. The Guard admits each order
// id exactly once and replays the recorded outcome to every later caller;
// the Repository persists outcomes and event checkpoints in Postgres.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPending is returned when a caller gave up waiting for another caller
// that is still processing the same order id.
var ErrPending = errors.New("order is still being processed")

// Ticket is the answer to RegisterIfNew. Accepted means the caller owns the
// order id and must finish with Complete or Abandon. Otherwise Prior holds
// the outcome recorded by whoever processed it first.
type Ticket[T any] struct {
	Accepted bool
	Prior    T
}

// OutcomeStore persists terminal outcomes across restarts.
type OutcomeStore[T any] interface {
	Load(ctx context.Context, orderID string) (T, bool, error)
	Save(ctx context.Context, orderID string, outcome T) error
}

type slot[T any] struct {
	done     chan struct{}
	outcome  T
	recorded bool
}

// Guard tracks every order id it has admitted. Entries are kept for the
// lifetime of the process.
type Guard[T any] struct {
	mu      sync.Mutex
	entries map[string]*slot[T]
	store   OutcomeStore[T]
}

func NewGuard[T any]() *Guard[T] {
	return &Guard[T]{entries: make(map[string]*slot[T])}
}

// WithStore makes the guard consult store for ids it has not seen in this
// process and save every completed outcome to it.
func (g *Guard[T]) WithStore(store OutcomeStore[T]) *Guard[T] {
	g.store = store
	return g
}

// RegisterIfNew admits orderID if no one registered it before. A caller that
// finds the id in flight waits until the owner finishes or ctx ends.
func (g *Guard[T]) RegisterIfNew(ctx context.Context, orderID string) (Ticket[T], error) {
	for {
		g.mu.Lock()
		s, ok := g.entries[orderID]
		if !ok {
			s = &slot[T]{done: make(chan struct{})}
			g.entries[orderID] = s
			g.mu.Unlock()
			return g.admit(ctx, orderID)
		}
		g.mu.Unlock()

		select {
		case <-s.done:
		case <-ctx.Done():
			return Ticket[T]{}, fmt.Errorf("%w: %s", ErrPending, orderID)
		}
		if s.recorded {
			return Ticket[T]{Prior: s.outcome}, nil
		}
		// The owner abandoned the id; compete for it again.
	}
}

// admit runs for the caller that created the slot. With a store attached the
// id may still have been processed before a restart.
func (g *Guard[T]) admit(ctx context.Context, orderID string) (Ticket[T], error) {
	if g.store == nil {
		return Ticket[T]{Accepted: true}, nil
	}
	prior, found, err := g.store.Load(ctx, orderID)
	if err != nil {
		g.Abandon(orderID)
		return Ticket[T]{}, fmt.Errorf("load outcome %s: %w", orderID, err)
	}
	if !found {
		return Ticket[T]{Accepted: true}, nil
	}
	g.record(orderID, prior)
	return Ticket[T]{Prior: prior}, nil
}

// Complete records the terminal outcome of orderID and wakes every waiter.
// Only the first outcome is kept. The in-memory record is in place even when
// saving to the store fails.
func (g *Guard[T]) Complete(ctx context.Context, orderID string, outcome T) error {
	if !g.record(orderID, outcome) {
		return nil
	}
	if g.store == nil {
		return nil
	}
	if err := g.store.Save(ctx, orderID, outcome); err != nil {
		return fmt.Errorf("save outcome %s: %w", orderID, err)
	}
	return nil
}

func (g *Guard[T]) record(orderID string, outcome T) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.entries[orderID]
	if !ok {
		s = &slot[T]{done: make(chan struct{})}
		g.entries[orderID] = s
	}
	if s.recorded {
		return false
	}
	s.outcome = outcome
	s.recorded = true
	close(s.done)
	return true
}

// Abandon forgets an in-flight order id without recording anything, so a
// later submission with the same id is processed normally.
func (g *Guard[T]) Abandon(orderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.entries[orderID]
	if !ok || s.recorded {
		return
	}
	delete(g.entries, orderID)
	close(s.done)
}

// Lookup returns the recorded outcome for orderID, falling back to the store.
func (g *Guard[T]) Lookup(ctx context.Context, orderID string) (T, bool, error) {
	g.mu.Lock()
	s, ok := g.entries[orderID]
	g.mu.Unlock()
	if ok {
		select {
		case <-s.done:
			if s.recorded {
				return s.outcome, true, nil
			}
		default:
		}
	}

	var zero T
	if g.store == nil {
		return zero, false, nil
	}
	outcome, found, err := g.store.Load(ctx, orderID)
	if err != nil {
		return zero, false, fmt.Errorf("load outcome %s: %w", orderID, err)
	}
	return outcome, found, nil
}

// Len reports how many order ids are tracked in memory.
func (g *Guard[T]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
