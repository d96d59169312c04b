// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package provider

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by strict lookups of unknown provider ids.
	ErrNotFound = errors.New("provider not found")
	// ErrEmptyRegistry is returned when a registry would have no entries.
	ErrEmptyRegistry = errors.New("registry has no providers")
	// ErrDuplicateID is returned when two descriptors share an id.
	ErrDuplicateID = errors.New("duplicate provider id")
	// ErrInvalidDescriptor is returned for descriptors missing an id or grammar.
	ErrInvalidDescriptor = errors.New("invalid provider descriptor")
)

// Registry is an immutable, ordered table of providers. The first entry is
// the default. A Registry is safe for concurrent use.
type Registry struct {
	order    []Descriptor
	byID     map[string]int
	byOrigin map[string][]int
}

// New builds a Registry from descs, preserving their order.
func New(descs ...Descriptor) (*Registry, error) {
	if len(descs) == 0 {
		return nil, ErrEmptyRegistry
	}
	r := &Registry{
		order:    make([]Descriptor, 0, len(descs)),
		byID:     make(map[string]int, len(descs)),
		byOrigin: make(map[string][]int),
	}
	for _, d := range descs {
		d.ID = strings.TrimSpace(d.ID)
		if d.ID == "" || d.url == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDescriptor, d.ID)
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, d.ID)
		}
		origin, err := CanonicalOrigin(d.Origin)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", d.ID, err)
		}
		d.Origin = origin
		if d.DisplayName == "" {
			d.DisplayName = d.ID
		}

		idx := len(r.order)
		r.order = append(r.order, d)
		r.byID[d.ID] = idx
		r.byOrigin[origin] = append(r.byOrigin[origin], idx)
	}
	return r, nil
}

// MustNew is New for static tables; it panics on error.
func MustNew(descs ...Descriptor) *Registry {
	r, err := New(descs...)
	if err != nil {
		panic(err)
	}
	return r
}

// All returns every provider in registration order.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of providers.
func (r *Registry) Len() int { return len(r.order) }

// List returns the providers that support mt, in registration order.
func (r *Registry) List(mt MediaType) []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, d := range r.order {
		if d.Supports(mt) {
			out = append(out, d)
		}
	}
	return out
}

// Get returns the provider with the given id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	idx, ok := r.byID[id]
	if !ok {
		return Descriptor{}, false
	}
	return r.order[idx], true
}

// Lookup is Get returning ErrNotFound for unknown ids.
func (r *Registry) Lookup(id string) (Descriptor, error) {
	d, ok := r.Get(id)
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return d, nil
}

// Default returns the first registered provider.
func (r *Registry) Default() Descriptor {
	return r.order[0]
}

// Resolve treats id as a soft preference. It returns the named provider when
// it exists and supports mt; otherwise the first provider supporting mt, or
// the registry default when none does. The boolean is false when a fallback
// was taken.
func (r *Registry) Resolve(id string, mt MediaType) (Descriptor, bool) {
	if d, ok := r.Get(id); ok && (mt == "" || d.Supports(mt)) {
		return d, true
	}
	if mt != "" {
		for _, d := range r.order {
			if d.Supports(mt) {
				return d, false
			}
		}
	}
	return r.Default(), false
}

// ByOrigin returns the providers served from origin. The origin is
// canonicalised before lookup; invalid origins match nothing.
func (r *Registry) ByOrigin(origin string) []Descriptor {
	canon, err := CanonicalOrigin(origin)
	if err != nil {
		return nil
	}
	idxs := r.byOrigin[canon]
	out := make([]Descriptor, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, r.order[idx])
	}
	return out
}

// Origins returns the distinct canonical origins in registration order.
func (r *Registry) Origins() []string {
	seen := make(map[string]bool, len(r.byOrigin))
	out := make([]string, 0, len(r.byOrigin))
	for _, d := range r.order {
		if !seen[d.Origin] {
			seen[d.Origin] = true
			out = append(out, d.Origin)
		}
	}
	return out
}

// Subset returns a new Registry holding only ids, in the order given. An
// empty id list returns r unchanged.
func (r *Registry) Subset(ids ...string) (*Registry, error) {
	if len(ids) == 0 {
		return r, nil
	}
	descs := make([]Descriptor, 0, len(ids))
	for _, id := range ids {
		d, err := r.Lookup(strings.TrimSpace(id))
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return New(descs...)
}
