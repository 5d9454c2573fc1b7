package circuitbreaker

import (
	"sync"
	"time"
)

// Manager owns one CircuitBreaker per key (typically a model ID) and creates
// them lazily with a shared Config. The FeedbackLoop periodically calls
// Prune to drop breakers for keys that have gone idle.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	breakers map[string]*managedBreaker
}

type managedBreaker struct {
	cb        *CircuitBreaker
	touchedAt time.Time
}

// NewManager creates a Manager that lazily builds CircuitBreakers from cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		breakers: make(map[string]*managedBreaker),
	}
}

// Get returns the CircuitBreaker for key, creating it if necessary.
func (m *Manager) Get(key string) *CircuitBreaker {
	m.mu.RLock()
	mb, ok := m.breakers[key]
	m.mu.RUnlock()
	if ok {
		m.touch(key)
		return mb.cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if mb, ok = m.breakers[key]; ok {
		mb.touchedAt = time.Now()
		return mb.cb
	}
	mb = &managedBreaker{cb: NewWithConfig(m.cfg), touchedAt: time.Now()}
	m.breakers[key] = mb
	return mb.cb
}

func (m *Manager) touch(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mb, ok := m.breakers[key]; ok {
		mb.touchedAt = time.Now()
	}
}

// Snapshot returns the CircuitState for every known key.
func (m *Manager) Snapshot() map[string]CircuitState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]CircuitState, len(m.breakers))
	for key, mb := range m.breakers {
		out[key] = mb.cb.Snapshot()
	}
	return out
}

// IsOpen reports whether key's breaker is currently open. Unknown keys are
// treated as closed (no history means no reason to reject).
func (m *Manager) IsOpen(key string) bool {
	m.mu.RLock()
	mb, ok := m.breakers[key]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return mb.cb.State() == StateOpen
}

// Reset resets the breaker for key, if it exists.
func (m *Manager) Reset(key string) {
	m.mu.RLock()
	mb, ok := m.breakers[key]
	m.mu.RUnlock()
	if ok {
		mb.cb.Reset()
	}
}

// Prune removes breakers that have not been touched within maxIdle.
func (m *Manager) Prune(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, mb := range m.breakers {
		if mb.touchedAt.Before(cutoff) {
			delete(m.breakers, key)
			removed++
		}
	}
	return removed
}
