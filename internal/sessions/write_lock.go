package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/haasonsaas/tgassist/internal/observability"
)

// ErrLockTimeout is returned when acquiring a lock times out.
var ErrLockTimeout = errors.New("session: lock acquisition timeout")

// sessionLock is a per-session mutex that supports cancellation. The
// channel holds a token while the lock is taken.
type sessionLock struct {
	token    chan struct{}
	refs     int // holders plus waiters; guarded by SessionLockManager.mu
	lastUsed time.Time
}

// SessionLockManager serializes work on a session: at most one turn per
// session runs at a time, while distinct sessions proceed in parallel.
//
// SessionLockManager is safe for concurrent use.
type SessionLockManager struct {
	mu             sync.Mutex
	locks          map[string]*sessionLock
	defaultTimeout time.Duration
	idleTTL        time.Duration
	metrics        *observability.Metrics

	stop     chan struct{}
	stopOnce sync.Once
}

// NewSessionLockManager creates a lock manager. Idle lock entries are
// removed periodically until Close is called.
func NewSessionLockManager(defaultTimeout time.Duration) *SessionLockManager {
	if defaultTimeout <= 0 {
		defaultTimeout = 2 * time.Minute
	}
	m := &SessionLockManager{
		locks:          make(map[string]*sessionLock),
		defaultTimeout: defaultTimeout,
		idleTTL:        10 * time.Minute,
		stop:           make(chan struct{}),
	}
	go m.cleanupLoop(5 * time.Minute)
	return m
}

// UseMetrics records lock wait times on metrics.
func (m *SessionLockManager) UseMetrics(metrics *observability.Metrics) {
	m.metrics = metrics
}

// Acquire takes the session's lock, waiting up to timeout (the manager's
// default when zero). The returned release function is idempotent.
func (m *SessionLockManager) Acquire(ctx context.Context, sessionID string, timeout time.Duration) (func(), error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	lock := m.ref(sessionID)
	start := time.Now()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case lock.token <- struct{}{}:
	case <-timer.C:
		m.unref(sessionID, lock)
		return nil, ErrLockTimeout
	case <-ctx.Done():
		m.unref(sessionID, lock)
		return nil, ctx.Err()
	}
	m.metrics.LockWaited(time.Since(start))

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-lock.token
			m.unref(sessionID, lock)
		})
	}
	return release, nil
}

// TryAcquire takes the lock only if it is free.
func (m *SessionLockManager) TryAcquire(sessionID string) (func(), bool) {
	lock := m.ref(sessionID)
	select {
	case lock.token <- struct{}{}:
	default:
		m.unref(sessionID, lock)
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.token
			m.unref(sessionID, lock)
		})
	}, true
}

// IsLocked returns whether the session is currently locked.
func (m *SessionLockManager) IsLocked(sessionID string) bool {
	m.mu.Lock()
	lock, ok := m.locks[sessionID]
	m.mu.Unlock()
	return ok && len(lock.token) > 0
}

// Close stops the cleanup loop.
func (m *SessionLockManager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *SessionLockManager) ref(sessionID string) *sessionLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sessionLock{token: make(chan struct{}, 1)}
		m.locks[sessionID] = lock
	}
	lock.refs++
	lock.lastUsed = time.Now()
	return lock
}

func (m *SessionLockManager) unref(sessionID string, lock *sessionLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock.refs--
	lock.lastUsed = time.Now()
}

func (m *SessionLockManager) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanup(time.Now().Add(-m.idleTTL))
		case <-m.stop:
			return
		}
	}
}

// cleanup removes entries nobody holds or waits on that were last used
// before cutoff.
func (m *SessionLockManager) cleanup(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, lock := range m.locks {
		if lock.refs == 0 && lock.lastUsed.Before(cutoff) {
			delete(m.locks, id)
			removed++
		}
	}
	return removed
}

// LockingStore wraps a Store so that compound read-modify-append work on a
// session runs under that session's lock.
//
// LockingStore is safe for concurrent use.
type LockingStore struct {
	Store
	locks   *SessionLockManager
	timeout time.Duration
}

// NewLockingStore creates a store wrapper with session locking.
func NewLockingStore(store Store, locks *SessionLockManager, timeout time.Duration) *LockingStore {
	return &LockingStore{Store: store, locks: locks, timeout: timeout}
}

// Locks returns the underlying lock manager.
func (s *LockingStore) Locks() *SessionLockManager {
	return s.locks
}

// WithLock executes fn while holding the session's lock.
func (s *LockingStore) WithLock(ctx context.Context, sessionID string, fn func(Store) error) error {
	release, err := s.locks.Acquire(ctx, sessionID, s.timeout)
	if err != nil {
		return err
	}
	defer release()
	return fn(s.Store)
}
