package lockmgr

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/commons-ledger/be-tranche-core/internal/errors"
)

// Manager hands out per-key exclusive locks with a bounded wait. Lock
// scope is always a single key (one tranche), so there is no ordering
// between locks and no deadlock by construction.
type Manager struct {
	mu      sync.Mutex
	timeout time.Duration
	locks   map[string]*entry
}

// entry reference-counts holders and waiters so an idle key can be
// evicted instead of leaking one map entry per key ever touched.
type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// New creates a Manager whose Acquire waits at most timeout.
func New(timeout time.Duration) *Manager {
	return &Manager{
		timeout: timeout,
		locks:   make(map[string]*entry),
	}
}

func (m *Manager) checkout(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		m.locks[key] = e
	}
	e.refs++
	return e
}

// checkin drops one reference; the last holder or waiter out evicts the
// key. Waiters hold their own reference, so an entry is never replaced
// under a goroutine still blocked on its semaphore.
func (m *Manager) checkin(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

// Acquire takes the exclusive lock for key, waiting up to the configured
// timeout. On expiry it returns a TIMEOUT-coded "LockTimeout" error so
// the caller can retry the whole operation instead of blocking forever.
func (m *Manager) Acquire(ctx context.Context, key string) (release func(), err error) {
	e := m.checkout(key)

	waitCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		m.checkin(key, e)
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.ErrCodeTimeout, "LockTimeout: caller cancelled")
		}
		return nil, errors.Newf(errors.ErrCodeTimeout,
			"LockTimeout: could not lock %q within %s", key, m.timeout)
	}
	return func() {
		e.sem.Release(1)
		m.checkin(key, e)
	}, nil
}

// TryAcquire takes the lock only if it is immediately free.
func (m *Manager) TryAcquire(key string) (release func(), ok bool) {
	e := m.checkout(key)
	if !e.sem.TryAcquire(1) {
		m.checkin(key, e)
		return nil, false
	}
	return func() {
		e.sem.Release(1)
		m.checkin(key, e)
	}, true
}

// keyCount reports how many keys currently have holders or waiters.
func (m *Manager) keyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
