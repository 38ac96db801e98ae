package breaker

import "sync"

// Registry holds the breakers for every guarded dependency. Construct one
// in the composition root and inject it; tests get a fresh registry each.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

func (r *Registry) Register(b *Breaker) {
	r.mu.Lock()
	r.breakers[b.Name()] = b
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	return b, ok
}

// GetOrCreate returns the registered breaker for settings.Name, creating
// and registering one on first use.
func (r *Registry) GetOrCreate(settings Settings, observers ...Observer) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[settings.Name]; ok {
		return b
	}
	b := New(settings, observers...)
	r.breakers[settings.Name] = b
	return b
}

// Snapshot returns the current state of every breaker, for the stats
// endpoint and metrics scrapes.
func (r *Registry) Snapshot() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}
