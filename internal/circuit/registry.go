package circuit

import (
	"log/slog"
	"sync"
)

// Registry manages one breaker per upstream name, lazily created with a
// shared default config.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults Config
	logger   *slog.Logger
}

// NewRegistry creates a registry that creates new breakers with defaults.
func NewRegistry(defaults Config, logger *slog.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
		logger:   logger,
	}
}

// Get returns (creating if needed) the breaker for name.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = New(name, r.defaults, r.logger)
	r.breakers[name] = b
	return b
}

// OpenBreakers returns the names of every breaker currently Open.
func (r *Registry) OpenBreakers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var open []string
	for name, b := range r.breakers {
		if b.State() == Open {
			open = append(open, name)
		}
	}
	return open
}
