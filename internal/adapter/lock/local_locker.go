// Package lock serializes read-modify-write cycles per entity key.
package lock

import (
	"context"
	"sync"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/domain"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/ports"
)

// LocalLocker is an in-process keyed mutex. Waiters give up when their
// context is done. Idle keys are dropped so the map stays bounded by the
// number of in-flight keys.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[domain.EntityKey]*slot
}

type slot struct {
	ch      chan struct{}
	waiters int
}

// NewLocalLocker creates an empty locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[domain.EntityKey]*slot)}
}

var _ ports.KeyLocker = (*LocalLocker)(nil)

// Lock blocks until key is held or ctx is done
func (l *LocalLocker) Lock(ctx context.Context, key domain.EntityKey) (ports.Unlock, error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.waiters++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, s, true) })
	}, nil
}

func (l *LocalLocker) release(key domain.EntityKey, s *slot, held bool) {
	if held {
		<-s.ch
	}
	l.mu.Lock()
	s.waiters--
	if s.waiters == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}
