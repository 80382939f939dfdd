package correlate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrDuplicateRequest = errors.New("request ID already pending")
	ErrTimeout          = errors.New("timed out waiting for reply")
)

// Result carries everything a resolved capture reply can offer. The waiter's
// owner picks the raw base64 payload or the saved file reference depending on
// what the original requester asked for.
type Result struct {
	RequestID string
	Filename  string
	Base64    string
	SizeKB    float64
}

// Waiter is one in-flight correlated request. Its result cell is a one-shot
// buffered channel: Resolve removes the waiter from the table and completes
// the cell under the table lock, so at most one send can ever happen.
type Waiter struct {
	id      string
	wantRaw bool
	done    chan Result
}

// ID returns the correlation identifier this waiter is registered under.
func (w *Waiter) ID() string {
	return w.id
}

// WantRaw reports whether the requester asked for the base64 payload rather
// than a saved file reference.
func (w *Waiter) WantRaw() bool {
	return w.wantRaw
}

// Table tracks pending waiters keyed by correlation identifier.
type Table struct {
	mu      sync.Mutex
	waiters map[string]*Waiter
}

// NewTable creates an empty correlation table.
func NewTable() *Table {
	return &Table{
		waiters: make(map[string]*Waiter),
	}
}

// Register adds a pending waiter for id. A colliding registration is rejected
// rather than silently replacing the existing waiter, which would orphan it.
func (t *Table) Register(id string, wantRaw bool) (*Waiter, error) {
	if id == "" {
		return nil, errors.New("empty request ID")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.waiters[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, id)
	}

	w := &Waiter{
		id:      id,
		wantRaw: wantRaw,
		done:    make(chan Result, 1),
	}
	t.waiters[id] = w
	return w, nil
}

// Resolve completes the waiter registered under id with res and removes it
// from the table. It returns false if no waiter is pending for id, which
// covers late replies, unknown IDs, and replies that lost the race against
// expiry. Removal and completion happen under the table lock, so a waiter is
// resolved at most once.
func (t *Table) Resolve(id string, res Result) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.waiters[id]
	if !ok {
		return false
	}
	delete(t.waiters, id)
	w.done <- res
	return true
}

// Await blocks until w is resolved, timeout elapses, or ctx is cancelled.
// On timeout or cancellation it removes the waiter so a late reply finds no
// match. If removal fails, Resolve already won the race and the buffered
// result is returned instead.
func (t *Table) Await(ctx context.Context, w *Waiter, timeout time.Duration) (Result, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-w.done:
		return res, nil

	case <-timer.C:
		if t.expire(w) {
			return Result{}, fmt.Errorf("%w: %s", ErrTimeout, w.id)
		}
		return <-w.done, nil

	case <-ctx.Done():
		// Requester went away mid-wait. Clean up now instead of leaving the
		// entry to its timer.
		if t.expire(w) {
			return Result{}, ctx.Err()
		}
		return <-w.done, nil
	}
}

// Len reports the number of pending waiters.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}

// expire removes w from the table if it is still the registered waiter for
// its ID. It returns false when Resolve got there first.
func (t *Table) expire(w *Waiter) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.waiters[w.id]; ok && cur == w {
		delete(t.waiters, w.id)
		return true
	}
	return false
}
