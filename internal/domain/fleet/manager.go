package fleet

import (
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/booster/internal/domain/job"
)

// Entry describes one live worker host
type Entry struct {
	ID        string    `json:"id"`
	Kind      job.Kind  `json:"kind"`
	Target    string    `json:"target"`
	Owner     string    `json:"owner,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// Stats summarizes the fleet
type Stats struct {
	Total  int              `json:"total"`
	ByKind map[job.Kind]int `json:"byKind"`
}

// Manager tracks live hosts spawned by transports
type Manager struct {
	mu      sync.RWMutex
	entries map[string]Entry // Protected by mu
}

// NewManager creates an empty fleet
func NewManager() *Manager {
	return &Manager{entries: make(map[string]Entry)}
}

// Add records a live host, replacing any entry with the same ID
func (m *Manager) Add(e Entry) {
	if m == nil || e.ID == "" {
		return
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	m.mu.Lock()
	m.entries[e.ID] = e
	m.mu.Unlock()
}

// Remove forgets a host and reports whether it was tracked
func (m *Manager) Remove(id string) bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return false
	}
	delete(m.entries, id)
	return true
}

// Get retrieves a host entry
func (m *Manager) Get(id string) (Entry, bool) {
	if m == nil {
		return Entry{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	return e, ok
}

// List returns live hosts, oldest first
func (m *Manager) List() []Entry {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Count returns the number of live hosts
func (m *Manager) Count() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Stats returns fleet statistics
func (m *Manager) Stats() Stats {
	stats := Stats{ByKind: make(map[job.Kind]int)}
	if m == nil {
		return stats
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		stats.Total++
		stats.ByKind[e.Kind]++
	}
	return stats
}
