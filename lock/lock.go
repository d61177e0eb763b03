// Package lock serializes work on one key (a wallet, a gateway payment)
// across goroutines or across processes.
package lock

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNotAcquired is returned when the context ends before the lock is
	// obtained.
	ErrNotAcquired = errors.New("lock: not acquired")
	// ErrNotHeld is returned when releasing a lock that expired or was
	// taken over.
	ErrNotHeld = errors.New("lock: not held")
)

// Locker hands out exclusive leases on keys.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	keys map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates an in-process Locker.
func NewLocal() *Local {
	return &Local{keys: make(map[string]*entry)}
}

// Acquire implements Locker.
func (l *Local) Acquire(ctx context.Context, key string) (Lease, error) {
	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return &localLease{l: l, key: key, e: e}, nil
	case <-ctx.Done():
		l.unref(key, e)
		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}
}

func (l *Local) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}

type localLease struct {
	l    *Local
	key  string
	e    *entry
	once sync.Once
}

func (ll *localLease) Release(context.Context) error {
	err := ErrNotHeld
	ll.once.Do(func() {
		<-ll.e.ch
		ll.l.unref(ll.key, ll.e)
		err = nil
	})
	return err
}
