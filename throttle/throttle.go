package throttle

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-kind execution limits.
type Config struct {
	// Kind is the job kind this config applies to (must match job.Kind).
	Kind string

	// MaxConcurrent limits how many jobs of this kind may run
	// simultaneously across the local worker pool. Zero means no
	// kind-specific limit (pool-wide concurrency still applies).
	MaxConcurrent int

	// RatePerSecond is the maximum sustained rate at which jobs of this
	// kind may start executing. Zero disables rate limiting.
	RatePerSecond float64

	// Burst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RatePerSecond is set but Burst is zero.
	Burst int
}

// kindState tracks runtime state for a single job kind.
type kindState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager enforces per-kind rate limits and concurrency caps.
// It is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	kinds map[string]*kindState
}

// NewManager creates a Manager with the given kind configurations.
// Kinds not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		kinds: make(map[string]*kindState, len(configs)),
	}
	for _, cfg := range configs {
		m.kinds[cfg.Kind] = newKindState(cfg)
	}
	return m
}

func newKindState(cfg Config) *kindState {
	ks := &kindState{config: cfg}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		ks.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return ks
}

// Acquire checks rate limits and concurrency for the given kind. If the
// job is allowed to proceed it increments the active counter and returns
// true. The caller MUST call Release when the attempt completes.
func (m *Manager) Acquire(kind string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ks := m.kinds[kind]
	if ks == nil {
		return true
	}

	if ks.limiter != nil && !ks.limiter.Allow() {
		return false
	}
	if ks.config.MaxConcurrent > 0 && ks.active >= ks.config.MaxConcurrent {
		return false
	}

	ks.active++
	return true
}

// Release decrements the active count for the kind.
func (m *Manager) Release(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ks := m.kinds[kind]; ks != nil && ks.active > 0 {
		ks.active--
	}
}

// SetKindConfig dynamically updates (or creates) a kind configuration.
func (m *Manager) SetKindConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.kinds[cfg.Kind]
	ks := newKindState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ks.active = existing.active
	}
	m.kinds[cfg.Kind] = ks
}

// ActiveCount returns the current number of active jobs for a kind.
func (m *Manager) ActiveCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ks := m.kinds[kind]; ks != nil {
		return ks.active
	}
	return 0
}
