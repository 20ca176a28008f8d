package reasoning

import (
	"context"
	"sync"
	"time"
)

// LockTable serializes runs per agent per trigger type. A schedule tick can
// proceed while a chat turn is in flight, but two chat turns for the same
// agent cannot interleave.
type LockTable struct {
	mu   sync.Mutex
	held map[string]bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewLockTable() *LockTable {
	return &LockTable{
		held:  make(map[string]bool),
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// TryAcquire takes the lock when free. It never blocks.
func (t *LockTable) TryAcquire(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.held[key] {
		return false
	}
	t.held[key] = true
	return true
}

// AwaitAcquire polls for the lock until timeout elapses. It returns false
// when the wait expired or ctx was cancelled.
func (t *LockTable) AwaitAcquire(ctx context.Context, key string, timeout, poll time.Duration) bool {
	deadline := t.now().Add(timeout)
	for {
		if t.TryAcquire(key) {
			return true
		}
		remain := deadline.Sub(t.now())
		if remain <= 0 {
			return false
		}
		if poll < remain {
			remain = poll
		}
		if !t.sleep(ctx, remain) {
			return false
		}
	}
}

func (t *LockTable) Release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.held, key)
}

// Held reports whether key is currently locked. Diagnostics only; the
// answer may be stale by the time the caller acts on it.
func (t *LockTable) Held(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.held[key]
}

// sleepCtx waits d or until ctx is done, reporting true when the full wait
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
