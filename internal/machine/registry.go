package machine

import (
	"sort"
	"strings"
)

// Built-in machine identifiers.
const (
	Machine1 = "machine_1"
	Machine2 = "machine_2"
	Machine3 = "machine_3"
)

// DefaultSpecs returns the built-in machine table. The returned map is a
// fresh copy and may be modified by the caller.
func DefaultSpecs() map[string]Spec {
	return map[string]Spec{
		Machine1: {Crop: Rect{Top: 312, Bottom: 712, Left: 412, Right: 812}},
		Machine2: {Crop: Rect{Top: 262, Bottom: 762, Left: 312, Right: 812}},
		Machine3: {Crop: Rect{Top: 200, Bottom: 824, Left: 300, Right: 924}},
	}
}

// Registry resolves machine identifiers to profiles.
type Registry struct {
	profiles map[string]Profile
	names    []string
}

// NewRegistry validates every entry of specs and builds a registry.
// Identifiers are normalized (trimmed, lower-cased); duplicates after
// normalization are rejected.
func NewRegistry(specs map[string]Spec) (*Registry, error) {
	if len(specs) == 0 {
		return nil, &ConfigurationError{Err: errEmptyTable}
	}
	r := &Registry{profiles: make(map[string]Profile, len(specs))}
	for raw, spec := range specs {
		p, err := NewProfile(raw, spec)
		if err != nil {
			return nil, err
		}
		if _, dup := r.profiles[p.Name()]; dup {
			return nil, &ConfigurationError{Machine: p.Name(), Err: errDuplicate}
		}
		r.profiles[p.Name()] = p
		r.names = append(r.names, p.Name())
	}
	sort.Strings(r.names)
	return r, nil
}

// DefaultRegistry returns a registry over DefaultSpecs.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultSpecs())
	if err != nil {
		// built-in table is static
		panic(err)
	}
	return r
}

// Resolve returns the profile for name.
func (r *Registry) Resolve(name string) (Profile, error) {
	key := Normalize(name)
	if p, ok := r.profiles[key]; ok {
		return p, nil
	}
	return Profile{}, &ConfigurationError{Machine: strings.TrimSpace(name), Supported: r.Names()}
}

// Names returns the supported identifiers in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Profiles returns every profile sorted by name.
func (r *Registry) Profiles() []Profile {
	out := make([]Profile, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.profiles[n])
	}
	return out
}

// Len returns the number of configured machines.
func (r *Registry) Len() int { return len(r.names) }

// Normalize canonicalizes a machine identifier for lookup.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
