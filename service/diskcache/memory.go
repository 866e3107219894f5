package diskcache

import (
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store for tests. Entries are held encoded so
// reads go through the same codec as the disk cache.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]byte

	// FailWrites makes every Write return false.
	FailWrites bool
	Writes     int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

func (m *MemoryStore) Read(name string, v any) bool {
	m.mu.Lock()
	data, ok := m.entries[name]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (m *MemoryStore) Write(name string, v any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++
	if m.FailWrites {
		return false
	}
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	m.entries[name] = data
	return true
}

func (m *MemoryStore) Delete(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, name)
	return true
}

func (m *MemoryStore) AllFileNamesWith(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name := range m.entries {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Has reports whether an entry exists.
func (m *MemoryStore) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[name]
	return ok
}
