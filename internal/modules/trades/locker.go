package trades

import "sync"

// TradeLocker serializes work per trade identifier. Different identifiers
// never block each other; entries are dropped once nobody holds or waits.
type TradeLocker struct {
	mu    sync.Mutex
	locks map[string]*tradeLock
}

type tradeLock struct {
	mu   sync.Mutex
	refs int
}

// NewTradeLocker creates an empty lock registry
func NewTradeLocker() *TradeLocker {
	return &TradeLocker{locks: make(map[string]*tradeLock)}
}

// Lock blocks until the caller exclusively holds id and returns the
// matching unlock function
func (l *TradeLocker) Lock(id string) func() {
	l.mu.Lock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &tradeLock{}
		l.locks[id] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// Held returns how many identifiers currently have holders or waiters
func (l *TradeLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
