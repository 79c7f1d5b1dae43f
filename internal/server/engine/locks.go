package engine

import "sync"

// channelLocks serializes ingest within one (app, channel) pair while
// leaving unrelated channels fully parallel. Locks are created on
// first use and never reclaimed; channel cardinality is small.
type channelLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newChannelLocks() *channelLocks {
	return &channelLocks{locks: make(map[string]*sync.Mutex)}
}

func (c *channelLocks) get(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

// Lock acquires the per-channel mutex and returns its unlock func.
func (c *channelLocks) Lock(key string) func() {
	l := c.get(key)
	l.Lock()
	return l.Unlock
}
