package service

import (
	"context"
	"path/filepath"
	"sync"
)

// channelLocks hands out one exclusive lock per channel directory so that a
// batch run and a background job never update the same ledgers at once.
type channelLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newChannelLocks() *channelLocks {
	return &channelLocks{locks: make(map[string]chan struct{})}
}

func (l *channelLocks) slot(dir string) chan struct{} {
	key := filepath.Clean(dir)
	if abs, err := filepath.Abs(key); err == nil {
		key = abs
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	return ch
}

// Lock waits for the directory's lock and returns its release func.
func (l *channelLocks) Lock(ctx context.Context, dir string) (func(), error) {
	ch := l.slot(dir)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
