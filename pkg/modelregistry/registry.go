package modelregistry

import (
	"fmt"
	"sync"
)

// Registry offers a threadsafe in-memory catalog that keeps configuration order.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	models map[string]ModelDescriptor
}

// New validates the given models and returns a registry holding them in order.
func New(models ...ModelDescriptor) (*Registry, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("modelregistry: at least one model is required")
	}
	r := &Registry{models: make(map[string]ModelDescriptor, len(models))}
	for _, m := range models {
		if err := Validate(m); err != nil {
			return nil, err
		}
		if _, dup := r.models[m.ID]; dup {
			return nil, fmt.Errorf("modelregistry: duplicate model %q", m.ID)
		}
		r.order = append(r.order, m.ID)
		r.models[m.ID] = m.clone()
	}
	return r, nil
}

// Default returns a registry backed by the built-in catalog.
func Default() *Registry {
	r, err := New(BuiltinCatalog()...)
	if err != nil {
		panic(fmt.Sprintf("modelregistry: builtin catalog invalid: %v", err))
	}
	return r
}

// List returns every model in configuration order.
func (r *Registry) List() []ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.models[id].clone())
	}
	return out
}

// Get retrieves a model by id and a boolean indicating its presence.
func (r *Registry) Get(id string) (ModelDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	if !ok {
		return ModelDescriptor{}, false
	}
	return m.clone(), true
}

// Default returns the first configured model.
func (r *Registry) Default() ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[r.order[0]].clone()
}

// Merge adds models to the end of the catalog, replacing entries that share an id in place.
func (r *Registry) Merge(models ...ModelDescriptor) error {
	for _, m := range models {
		if err := Validate(m); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range models {
		if _, exists := r.models[m.ID]; !exists {
			r.order = append(r.order, m.ID)
		}
		r.models[m.ID] = m.clone()
	}
	return nil
}
