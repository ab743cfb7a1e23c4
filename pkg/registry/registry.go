package registry

import (
	"fmt"
	"sort"
)

type Component interface {
	any
}

type Provider interface {
	any
}

// ComponentCreator builds a component from its declaration arguments.
type ComponentCreator[C Component, A any, P Provider] func(args A, provider P) (C, error)

type Registry[C Component, A any, P Provider] struct {
	components map[string]ComponentCreator[C, A, P]
}

func NewRegistry[C Component, A any, P Provider]() *Registry[C, A, P] {
	return &Registry[C, A, P]{
		components: make(map[string]ComponentCreator[C, A, P]),
	}
}

func (r *Registry[C, A, P]) Register(id string, creator ComponentCreator[C, A, P]) {
	if _, ok := r.components[id]; ok {
		panic("component already registered: " + id)
	}
	r.components[id] = creator
}

func (r *Registry[C, A, P]) Has(id string) bool {
	_, ok := r.components[id]
	return ok
}

// Keys returns the registered ids in sorted order.
func (r *Registry[C, A, P]) Keys() []string {
	keys := make([]string, 0, len(r.components))
	for id := range r.components {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry[C, A, P]) New(id string, args A, provider P) (C, error) {
	creator, ok := r.components[id]
	if !ok {
		var component C
		return component, fmt.Errorf("component not found: %s", id)
	}
	return creator(args, provider)
}
