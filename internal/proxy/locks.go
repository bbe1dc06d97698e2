package proxy

import (
	"sync"
)

// threadLocks prevents concurrent runs on the same thread.
type threadLocks struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newThreadLocks() *threadLocks {
	return &threadLocks{running: make(map[string]struct{})}
}

// tryLock marks threadID as running. The returned func releases it.
func (l *threadLocks) tryLock(threadID string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.running[threadID]; busy {
		return nil, false
	}
	l.running[threadID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.running, threadID)
			l.mu.Unlock()
		})
	}, true
}
