package application

import (
	"context"
	"sync"

	"github.com/AzielCF/az-crm/session/domain/session"
)

// Locker is a cross-process lock keyed by name. The valkey client implements
// it; a nil Locker means single-node operation.
type Locker interface {
	Acquire(ctx context.Context, name string) (release func(), err error)
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// keyLocks hands out one mutex per session key and forgets it once nobody
// holds or waits for it.
type keyLocks struct {
	mu    sync.Mutex
	locks map[session.Key]*keyLock
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[session.Key]*keyLock)}
}

func (k *keyLocks) Lock(key session.Key) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
