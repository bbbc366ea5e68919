package upload

import "sync"

// sessionLocks hands out one RWMutex per session id and forgets it once unused.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sync.RWMutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

func (l *sessionLocks) get(id string) *sessionLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[id]
	if !ok {
		lock = &sessionLock{}
		l.locks[id] = lock
	}
	lock.refs++
	return lock
}

func (l *sessionLocks) put(id string, lock *sessionLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, id)
	}
}

// shared is held while writing chunks; chunk writes of one session run concurrently.
func (l *sessionLocks) shared(id string) func() {
	lock := l.get(id)
	lock.RLock()
	return func() {
		lock.RUnlock()
		l.put(id, lock)
	}
}

// exclusive is held by finalize, cancel and sweep.
func (l *sessionLocks) exclusive(id string) func() {
	lock := l.get(id)
	lock.Lock()
	return func() {
		lock.Unlock()
		l.put(id, lock)
	}
}

// size reports how many sessions currently hold a lock.
func (l *sessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
