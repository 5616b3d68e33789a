package pool

import "sync"

// Registry hands out Managers keyed by Config.Key so concurrent jobs against
// the same target share one pool. It is owned by the composition root and
// injected where needed; there is no ambient global.
type Registry struct {
	mu    sync.Mutex
	opts  Options
	pools map[string]*Manager
}

// NewRegistry creates an empty registry whose Managers use opts.
func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts, pools: make(map[string]*Manager)}
}

// Get returns the Manager for cfg, creating it on first use.
func (r *Registry) Get(cfg Config) *Manager {
	key := cfg.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.pools[key]; ok {
		return m
	}
	m := NewManager(cfg, r.opts)
	r.pools[key] = m
	return m
}

// CloseAll tears down every pool. Used on process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, m := range r.pools {
		_ = m.Close()
		delete(r.pools, key)
	}
}
