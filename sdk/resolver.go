package sdk

import (
	"fmt"
	"slices"
	"strings"
)

// Resolver validates service names and API versions against a Registry.
type Resolver struct {
	registry *Registry
}

// NewResolver creates a resolver over reg.
func NewResolver(reg *Registry) *Resolver {
	return &Resolver{registry: reg}
}

// Resolve returns the module, version and endpoint for service name.
//
// An empty version selects the newest listed version. Versions are
// YYYY-MM-DD strings, so the lexicographic maximum is the newest.
//
// Errors:
//   - ErrServiceNotFound if name is not registered
//   - ErrServiceDefinition if the descriptor is incomplete or the requested
//     version is not listed
func (r *Resolver) Resolve(name, version string) (*Config, error) {
	d, ok := r.registry.Lookup(name)
	if !ok {
		return nil, NewError(ErrorTypeServiceNotFound, fmt.Sprintf("service %q not found", name), nil).
			WithDetail("snapshot", r.registry.Snapshot())
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	if version == "" {
		version = slices.Max(d.APIVersions)
	} else if !d.HasVersion(version) {
		return nil, NewError(ErrorTypeServiceDefinition,
			fmt.Sprintf("service %q has no such api version as %q, available versions: %s",
				name, version, strings.Join(d.APIVersions, ", ")), nil).
			WithDetail("available_versions", d.APIVersions)
	}

	return &Config{
		Module:   d.Service,
		Version:  version,
		Endpoint: d.Endpoint,
	}, nil
}

// Versions returns the API versions listed for name, newest first.
func (r *Resolver) Versions(name string) ([]string, error) {
	d, ok := r.registry.Lookup(name)
	if !ok {
		return nil, NewError(ErrorTypeServiceNotFound, fmt.Sprintf("service %q not found", name), nil)
	}
	versions := slices.Clone(d.APIVersions)
	slices.Sort(versions)
	slices.Reverse(versions)
	return versions, nil
}
