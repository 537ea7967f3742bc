package application

import (
	"context"
	"sync"
)

// accountLocks serializes work per account name while letting different
// accounts proceed in parallel. Entries are refcounted and dropped when unused.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	ch   chan struct{} // buffered(1); holding the token means holding the lock
	refs int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*accountLock)}
}

// Lock blocks until name is held or ctx is done. The returned func releases it.
func (l *accountLocks) Lock(ctx context.Context, name string) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[name]
	if !ok {
		lock = &accountLock{ch: make(chan struct{}, 1)}
		l.locks[name] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(name, lock)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.ch
			l.release(name, lock)
		})
	}, nil
}

func (l *accountLocks) release(name string, lock *accountLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, name)
	}
}

// size is the number of names currently locked or waited on
func (l *accountLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
