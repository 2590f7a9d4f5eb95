package backend

import "sort"

// Registry holds the constructed backends in ascending priority order.
// Disabled providers are never constructed, so every registered backend is
// an enabled one.
type Registry struct {
	backends []Backend
}

// NewRegistry sorts the given backends by priority (stable, so insertion
// order breaks ties).
func NewRegistry(backends ...Backend) *Registry {
	sorted := make([]Backend, len(backends))
	copy(sorted, backends)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Registry{backends: sorted}
}

// ByPriority returns all backends in ascending priority order.
func (r *Registry) ByPriority() []Backend {
	out := make([]Backend, len(r.backends))
	copy(out, r.backends)
	return out
}

// Available returns the backends currently reporting available, in
// priority order. When none do, it returns every registered backend
// instead: an empty cascade helps nobody, and availability is a cooldown
// heuristic, not a verdict.
func (r *Registry) Available() []Backend {
	var out []Backend
	for _, b := range r.backends {
		if b.Available() {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return r.ByPriority()
	}
	return out
}

// Len reports how many backends are registered.
func (r *Registry) Len() int { return len(r.backends) }

// Lookup returns the backend with the given name, or nil.
func (r *Registry) Lookup(name string) Backend {
	for _, b := range r.backends {
		if b.Name() == name {
			return b
		}
	}
	return nil
}
