package pipeline

import "sync"

// memo is a bounded set of entity ids already handled in this process
// lifetime, used to suppress duplicate handling of the same change-feed
// row. Capped at 100 entries, trimmed to 50 (oldest-first) on overflow.
type memo struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

const (
	memoCap   = 100
	memoTrim  = 50
)

func newMemo() *memo {
	return &memo{seen: make(map[string]struct{})}
}

// SeenOrAdd returns true if key was already recorded; otherwise it records
// key and returns false.
func (m *memo) SeenOrAdd(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seen[key]; ok {
		return true
	}

	m.seen[key] = struct{}{}
	m.order = append(m.order, key)

	if len(m.order) > memoCap {
		drop := m.order[:len(m.order)-memoTrim]
		for _, k := range drop {
			delete(m.seen, k)
		}
		m.order = append([]string(nil), m.order[len(m.order)-memoTrim:]...)
	}

	return false
}
