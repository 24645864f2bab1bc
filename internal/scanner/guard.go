package scanner

import (
	"sync"

	"melisma/internal/apperr"
)

// Guard serializes structural operations on the library. Full scans and
// file reorganization both mutate catalog rows and on-disk layout, so only
// one may run at a time. Acquisition never blocks: a caller that loses the
// race gets an immediate BadRequest-class error instead of queueing behind
// a long-running operation.
type Guard struct {
	mu sync.Mutex
}

// NewGuard creates an unlocked structural-operation guard.
func NewGuard() *Guard {
	return &Guard{}
}

// Acquire attempts to take the guard without blocking. On conflict it
// returns a BadRequest-class error naming the operation that was refused.
func (g *Guard) Acquire(op string) error {
	if !g.mu.TryLock() {
		return apperr.Newf(apperr.KindBadRequest, "%s rejected: another structural operation is already running", op)
	}
	return nil
}

// Release frees the guard. Call only after a successful Acquire.
func (g *Guard) Release() {
	g.mu.Unlock()
}

// Held reports whether a structural operation currently holds the guard.
// Advisory only; by the time the caller acts the answer may have changed.
func (g *Guard) Held() bool {
	if g.mu.TryLock() {
		g.mu.Unlock()
		return false
	}
	return true
}
