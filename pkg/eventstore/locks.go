package eventstore

import "sync"

// channelLocks hands out one mutex per channel and forgets it once no
// goroutine holds or waits for it.
type channelLocks struct {
	mu    sync.Mutex
	locks map[string]*channelLock
}

type channelLock struct {
	mu   sync.Mutex
	refs int
}

func newChannelLocks() *channelLocks {
	return &channelLocks{locks: make(map[string]*channelLock)}
}

// lock blocks until the channel is exclusively held and returns the release func.
func (l *channelLocks) lock(channel string) func() {
	l.mu.Lock()
	cl, ok := l.locks[channel]
	if !ok {
		cl = &channelLock{}
		l.locks[channel] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()

	return func() {
		cl.mu.Unlock()

		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.locks, channel)
		}
		l.mu.Unlock()
	}
}
