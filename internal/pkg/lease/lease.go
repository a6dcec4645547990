// Package lease provides single-flight guards for recurring tasks.
// A task that cannot acquire its lease skips the run: either another
// instance holds it or the previous run has not finished.
package lease

import (
	"context"
	"sync"
	"time"
)

// Locker acquires a named lease for at most ttl. When acquired is
// true, release must be called once the protected work finishes.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), acquired bool, err error)
}

// Local is an in-process Locker for single-instance deployments and
// tests. Expired leases are reclaimable, mirroring the TTL behavior of
// the distributed implementation.
type Local struct {
	mu     sync.Mutex
	held   map[string]time.Time
	now    func() time.Time
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{
		held: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Acquire takes the named lease if it is free or expired.
func (l *Local) Acquire(_ context.Context, name string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expiry, ok := l.held[name]; ok && now.Before(expiry) {
		return nil, false, nil
	}

	l.held[name] = now.Add(ttl)
	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, name)
	}
	return release, true, nil
}
