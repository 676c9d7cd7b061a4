// Package notify implements the wait registrations behind suspended
// subscribers. A waiter asks to be woken once a position is reached; the
// owner of the position calls NotifyUpTo after every advance. There is no
// polling and no goroutine per waiter.
package notify

import (
	"context"
	"sort"
	"sync"
)

type waiter struct {
	target uint64
	id     uint64
	ch     chan struct{}
}

// WaitList manages waiters keyed by the position they wait for.
// Uses a sorted slice for O(k) notification where k = satisfied waiters.
type WaitList struct {
	mu      sync.Mutex
	waiters []waiter // Sorted by target ascending
	nextID  uint64
}

// NewWaitList creates an empty wait list
func NewWaitList() *WaitList {
	return &WaitList{
		waiters: make([]waiter, 0),
	}
}

// Register adds a waiter that is released once NotifyUpTo is called with a
// position >= target. The returned channel is closed on release. The cancel
// function removes a still-pending registration and is idempotent.
func (w *WaitList) Register(target uint64) (<-chan struct{}, func()) {
	ch := make(chan struct{})

	w.mu.Lock()
	w.nextID++
	id := w.nextID
	// Insert after existing waiters with the same target (FIFO among equals)
	i := sort.Search(len(w.waiters), func(i int) bool {
		return w.waiters[i].target > target
	})
	w.waiters = append(w.waiters, waiter{})
	copy(w.waiters[i+1:], w.waiters[i:])
	w.waiters[i] = waiter{target: target, id: id, ch: ch}
	w.mu.Unlock()

	cancel := func() {
		w.remove(id)
	}
	return ch, cancel
}

// Await blocks until a registration from Register is released or ctx is
// done, cancelling the registration in the latter case. A release that
// races the cancellation is reported as released.
func Await(ctx context.Context, ch <-chan struct{}, cancel func()) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		cancel()
		select {
		case <-ch:
			return nil
		default:
		}
		return ctx.Err()
	}
}

func (w *WaitList) remove(id uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for j, wt := range w.waiters {
		if wt.id == id {
			w.waiters = append(w.waiters[:j], w.waiters[j+1:]...)
			return
		}
	}
}

// NotifyUpTo releases all waiters with target <= pos and returns how many
// were released. O(log n) search + O(k) notifications.
func (w *WaitList) NotifyUpTo(pos uint64) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.waiters) == 0 {
		return 0
	}

	i := sort.Search(len(w.waiters), func(i int) bool {
		return w.waiters[i].target > pos
	})

	for j := 0; j < i; j++ {
		close(w.waiters[j].ch)
	}

	// Copy the survivors down so the released prefix can be collected
	n := copy(w.waiters, w.waiters[i:])
	clear(w.waiters[n:])
	w.waiters = w.waiters[:n]
	return i
}

// NotifyAll releases every waiter regardless of target
func (w *WaitList) NotifyAll() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(w.waiters)
	for _, wt := range w.waiters {
		close(wt.ch)
	}
	w.waiters = w.waiters[:0]
	return n
}

// Len returns number of pending waiters (for testing/metrics)
func (w *WaitList) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.waiters)
}
