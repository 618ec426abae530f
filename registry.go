package tgtbs

import "sync"

// Registry maps backing-store names to templates. Entries are never removed.
//
// Names are not required to be unique. Register inserts at the head and
// Lookup returns the first match, so the most recent registration of a name
// shadows earlier ones.
type Registry struct {
	mu sync.RWMutex
	// templates is kept in registration order; the head is the last element.
	templates []Template
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds t. It never fails and does not validate.
func (r *Registry) Register(t Template) {
	r.mu.Lock()
	r.templates = append(r.templates, t)
	r.mu.Unlock()
}

// Lookup returns the first template named name.
func (r *Registry) Lookup(name string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.templates) - 1; i >= 0; i-- {
		if r.templates[i].Name() == name {
			return r.templates[i], true
		}
	}
	return nil, false
}

// Templates returns every registered template in lookup order.
func (r *Registry) Templates() []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Template, 0, len(r.templates))
	for i := len(r.templates) - 1; i >= 0; i-- {
		out = append(out, r.templates[i])
	}
	return out
}

// Len returns the number of registrations, duplicates included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}
