package chat

import "sync"

// conversationLocks hands out one mutex per conversation ID. Entries are
// reclaimed once no goroutine holds or waits for them.
type conversationLocks struct {
	mu    sync.Mutex
	locks map[int64]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{locks: make(map[int64]*refLock)}
}

// lock blocks until the caller owns conversationID and returns the release func.
func (l *conversationLocks) lock(conversationID int64) func() {
	l.mu.Lock()
	rl, ok := l.locks[conversationID]
	if !ok {
		rl = &refLock{}
		l.locks[conversationID] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.Lock()
	return func() {
		rl.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, conversationID)
		}
		l.mu.Unlock()
	}
}

func (l *conversationLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
