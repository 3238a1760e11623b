package turn

import "context"

// Lock serializes turns: exactly one may be in flight system-wide. Both the
// reactive handler and the autonomous director loop contend on the same
// instance; the director polls with TryAcquire and sleeps otherwise.
type Lock struct {
	sem chan struct{}
}

func NewLock() *Lock {
	return &Lock{sem: make(chan struct{}, 1)}
}

// TryAcquire takes the lock without blocking.
func (l *Lock) TryAcquire() bool {
	select {
	case l.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Acquire blocks until the lock is free or ctx is done.
func (l *Lock) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the lock for the next contender.
func (l *Lock) Release() {
	select {
	case <-l.sem:
	default:
	}
}

// Held reports whether a turn currently holds the lock.
func (l *Lock) Held() bool {
	return len(l.sem) > 0
}
