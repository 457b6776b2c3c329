package farmer

import (
	"strings"
	"sync"
)

// Manager is the single in-memory registry of live farmers, keyed by player
// id. At most one *Farmer exists per key.
type Manager struct {
	defaultLevel func() int

	mu      sync.RWMutex
	farmers map[string]*Farmer
	order   []string
}

// NewManager builds an empty manager. defaultLevel is consulted whenever
// GetOrCreate constructs a new farmer; nil means level 1.
func NewManager(defaultLevel func() int) *Manager {
	if defaultLevel == nil {
		defaultLevel = func() int { return 1 }
	}
	return &Manager{
		defaultLevel: defaultLevel,
		farmers:      map[string]*Farmer{},
	}
}

func normalizeKey(playerID string) string {
	return strings.TrimSpace(playerID)
}

// Get is a pure lookup; it never creates.
func (m *Manager) Get(playerID string) (*Farmer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.farmers[normalizeKey(playerID)]
	return f, ok
}

// GetOrCreate returns the registered farmer or registers a default one.
// created reports whether a new farmer was made. An empty player id returns
// nil.
func (m *Manager) GetOrCreate(playerID string) (f *Farmer, created bool) {
	key := normalizeKey(playerID)
	if key == "" {
		return nil, false
	}
	m.mu.RLock()
	f, ok := m.farmers[key]
	m.mu.RUnlock()
	if ok {
		return f, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Re-check: another goroutine may have won the race.
	if f, ok := m.farmers[key]; ok {
		return f, false
	}
	f = New(key, m.defaultLevel())
	m.putLocked(key, f)
	return f, true
}

// Adopt registers an already built farmer (bulk load). It refuses to replace
// a live entity and reports whether f was registered.
func (m *Manager) Adopt(f *Farmer) bool {
	if f == nil {
		return false
	}
	key := normalizeKey(f.PlayerID())
	if key == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.farmers[key]; ok {
		return false
	}
	m.putLocked(key, f)
	return true
}

func (m *Manager) putLocked(key string, f *Farmer) {
	m.farmers[key] = f
	m.order = append(m.order, key)
}

// ListAll returns live farmers in registration order.
func (m *Manager) ListAll() []*Farmer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Farmer, 0, len(m.farmers))
	for _, key := range m.order {
		if f, ok := m.farmers[key]; ok {
			out = append(out, f)
		}
	}
	return out
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.farmers)
}

// Remove drops a farmer from memory. Callers that need durability must
// persist it first.
func (m *Manager) Remove(playerID string) (*Farmer, bool) {
	key := normalizeKey(playerID)
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.farmers[key]
	if !ok {
		return nil, false
	}
	delete(m.farmers, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return f, true
}
