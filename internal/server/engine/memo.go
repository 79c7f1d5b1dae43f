package engine

import "sync"

// dedupMemo is a bounded FIFO set of recently accepted notice ids. It
// is a latency shortcut in front of the store's unique constraint; the
// store stays authoritative, so a memo miss still triggers a lookup.
type dedupMemo struct {
	mu    sync.Mutex
	cap   int
	order []string
	seen  map[string]struct{}
}

func newDedupMemo(capacity int) *dedupMemo {
	if capacity < 1 {
		capacity = 1
	}
	return &dedupMemo{
		cap:  capacity,
		seen: make(map[string]struct{}, capacity),
	}
}

// Contains reports whether id was recently accepted.
func (m *dedupMemo) Contains(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[id]
	return ok
}

// Add records id, evicting the oldest entry at capacity. Adding an id
// already present is a no-op.
func (m *dedupMemo) Add(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[id]; ok {
		return
	}
	if len(m.order) >= m.cap {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.seen, oldest)
	}
	m.order = append(m.order, id)
	m.seen[id] = struct{}{}
}

// Remove drops id, reversing an Add after a rolled-back transaction.
func (m *dedupMemo) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[id]; !ok {
		return
	}
	delete(m.seen, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Len returns the current number of remembered ids.
func (m *dedupMemo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// Snapshot returns the remembered ids, oldest first.
func (m *dedupMemo) Snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}
