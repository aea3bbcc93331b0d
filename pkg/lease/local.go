package lease

import (
	"context"
	"sync"
)

type localEntry struct {
	sem  chan struct{}
	refs int
}

// LocalLeaser serializes holders of the same key within one process. Entries
// are reference counted and dropped once nobody holds or waits for them.
type LocalLeaser struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

// NewLocalLeaser creates an in-process leaser.
func NewLocalLeaser() *LocalLeaser {
	return &LocalLeaser{entries: make(map[string]*localEntry)}
}

func (l *LocalLeaser) Acquire(ctx context.Context, key string) (Release, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	l.mu.Lock()

	entry, ok := l.entries[key]
	if !ok {
		entry = &localEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = entry
	}

	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, entry)

		return nil, ctx.Err()
	}

	var once sync.Once

	return func() {
		once.Do(func() {
			<-entry.sem
			l.unref(key, entry)
		})
	}, nil
}

// Held returns the number of keys currently held or awaited.
func (l *LocalLeaser) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}

func (l *LocalLeaser) unref(key string, entry *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}
