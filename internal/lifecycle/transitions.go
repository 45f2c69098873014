package lifecycle

import "sync"

// transitionLocks serializes each session's state change together with its announcement,
// so hub and sink listeners see a session's states in the order they were committed.
type transitionLocks struct {
	mu    sync.Mutex
	locks map[string]*transitionLock
}

type transitionLock struct {
	mu   sync.Mutex
	refs int
}

func newTransitionLocks() *transitionLocks {
	return &transitionLocks{locks: make(map[string]*transitionLock)}
}

// lock blocks until the session's transition lock is held. Entries are dropped once no
// caller holds or waits on them.
func (t *transitionLocks) lock(sessionID string) (unlock func()) {
	t.mu.Lock()
	l, ok := t.locks[sessionID]
	if !ok {
		l = &transitionLock{}
		t.locks[sessionID] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, sessionID)
		}
		t.mu.Unlock()
	}
}

func (t *transitionLocks) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
