package storage

import (
	"context"
	"sync"
)

// keyMutex serializes critical sections per key within one process.
// Unrelated keys never block each other. The document backend uses it as
// its Locker; the redis backend uses distributed locks instead.
type keyMutex struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
}

func newKeyMutex() *keyMutex {
	return &keyMutex{sems: make(map[string]chan struct{})}
}

func (k *keyMutex) sem(key string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.sems[key]
	if !ok {
		s = make(chan struct{}, 1)
		k.sems[key] = s
	}
	return s
}

// Lock blocks until the key is held or ctx is done.
func (k *keyMutex) Lock(ctx context.Context, key string) (func(), error) {
	s := k.sem(key)
	select {
	case s <- struct{}{}:
		return func() { <-s }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
