package sdk

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
)

// SnapshotPattern matches the file names of registry snapshots. Names embed a
// sortable date, so the lexicographically greatest name is the newest.
const SnapshotPattern = "endpoints_*.json"

var errNoSource = errors.New("nil snapshot source")

//go:embed data/endpoints_*.json
var bundledSnapshots embed.FS

// ServiceDescriptor describes one cloud service as listed in a registry snapshot.
type ServiceDescriptor struct {
	// Name is the registry key the descriptor was stored under
	Name string `json:"name"`
	// Service is the module identifier passed to the API, e.g. "cvm"
	Service string `json:"service"`
	// Endpoint is the API host, e.g. "cvm.tencentcloudapi.com"
	Endpoint string `json:"endpoint"`
	// APIVersions lists the supported API versions in YYYY-MM-DD form
	APIVersions []string `json:"api_versions"`
}

// Validate reports the first missing field as a service definition error.
func (d ServiceDescriptor) Validate() error {
	switch {
	case len(d.APIVersions) == 0:
		return d.missing("api_versions")
	case d.Endpoint == "":
		return d.missing("endpoint")
	case d.Service == "":
		return d.missing("service")
	}
	return nil
}

func (d ServiceDescriptor) missing(field string) error {
	return NewError(ErrorTypeServiceDefinition,
		fmt.Sprintf("service %q %s is missing", d.Name, field), nil).
		WithDetail("field", field)
}

// HasVersion reports whether version is listed in APIVersions.
func (d ServiceDescriptor) HasVersion(version string) bool {
	for _, v := range d.APIVersions {
		if v == version {
			return true
		}
	}
	return false
}

// SnapshotSource lists and opens registry snapshot files.
//
// FSSource serves snapshots from any fs.FS. Object-store backed sources
// implement the same interface.
type SnapshotSource interface {
	// List returns the base names of all objects the source holds
	List(ctx context.Context) ([]string, error)
	// Open returns the content of the named snapshot
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// FSSource reads snapshots from a directory of an fs.FS.
type FSSource struct {
	FS  fs.FS
	Dir string
}

// NewFSSource creates a snapshot source over dir inside fsys.
func NewFSSource(fsys fs.FS, dir string) *FSSource {
	if dir == "" {
		dir = "."
	}
	return &FSSource{FS: fsys, Dir: dir}
}

// List implements SnapshotSource
func (s *FSSource) List(ctx context.Context) ([]string, error) {
	entries, err := fs.ReadDir(s.FS, s.Dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Open implements SnapshotSource
func (s *FSSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	return s.FS.Open(path.Join(s.Dir, name))
}

// Registry is an immutable name -> descriptor mapping parsed from one snapshot.
// A Registry is safe for concurrent use.
type Registry struct {
	snapshot string
	services map[string]ServiceDescriptor
}

// NewRegistry builds a registry from descriptors already in memory.
func NewRegistry(snapshot string, services map[string]ServiceDescriptor) *Registry {
	r := &Registry{
		snapshot: snapshot,
		services: make(map[string]ServiceDescriptor, len(services)),
	}
	for name, d := range services {
		d.Name = name
		r.services[name] = d
	}
	return r
}

// LatestSnapshot returns the greatest name matching SnapshotPattern.
func LatestSnapshot(names []string) (string, bool) {
	latest := ""
	for _, name := range names {
		base := path.Base(name)
		if ok, _ := path.Match(SnapshotPattern, base); !ok {
			continue
		}
		if base > latest {
			latest = base
		}
	}
	return latest, latest != ""
}

// LoadRegistry loads the newest snapshot held by src.
//
// It fails with ErrDiscovery when the source cannot be listed, holds no
// snapshot, or the chosen snapshot is not a valid JSON object.
func LoadRegistry(ctx context.Context, src SnapshotSource) (*Registry, error) {
	if src == nil {
		return nil, NewError(ErrorTypeDiscovery, "no registry source configured", errNoSource)
	}
	names, err := src.List(ctx)
	if err != nil {
		return nil, NewError(ErrorTypeDiscovery, "failed to list registry snapshots", err)
	}

	latest, ok := LatestSnapshot(names)
	if !ok {
		return nil, NewError(ErrorTypeDiscovery,
			fmt.Sprintf("no registry snapshot matching %s", SnapshotPattern), nil)
	}

	rc, err := src.Open(ctx, latest)
	if err != nil {
		return nil, NewError(ErrorTypeDiscovery,
			fmt.Sprintf("failed to open registry snapshot %s", latest), err)
	}
	defer rc.Close()

	return ParseRegistry(latest, rc)
}

// ParseRegistry decodes a snapshot document of the form
// {"<name>": {"endpoint": ..., "service": ..., "api_versions": [...]}}.
// Incomplete descriptors are kept and reported when resolved.
func ParseRegistry(snapshot string, r io.Reader) (*Registry, error) {
	var raw map[string]*ServiceDescriptor
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, NewError(ErrorTypeDiscovery,
			fmt.Sprintf("registry snapshot %s is not valid JSON", snapshot), err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, NewError(ErrorTypeDiscovery,
			fmt.Sprintf("registry snapshot %s has trailing data", snapshot), err)
	}
	if raw == nil {
		return nil, NewError(ErrorTypeDiscovery,
			fmt.Sprintf("registry snapshot %s is empty", snapshot), nil)
	}

	services := make(map[string]ServiceDescriptor, len(raw))
	for name, d := range raw {
		if d == nil {
			services[name] = ServiceDescriptor{}
			continue
		}
		services[name] = *d
	}
	return NewRegistry(snapshot, services), nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (ServiceDescriptor, bool) {
	d, ok := r.services[name]
	if ok {
		d.APIVersions = append([]string(nil), d.APIVersions...)
	}
	return d, ok
}

// Names returns the registered service names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	return len(r.services)
}

// Snapshot returns the file name the registry was loaded from.
func (r *Registry) Snapshot() string {
	return r.snapshot
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *Registry
	defaultRegistryErr  error
)

// DefaultRegistry returns the registry parsed from the snapshots bundled with
// the SDK. The first call loads and parses the data; later calls return the
// same registry, or the same error if loading failed.
func DefaultRegistry() (*Registry, error) {
	defaultRegistryOnce.Do(func() {
		defaultRegistry, defaultRegistryErr = LoadRegistry(context.Background(), NewFSSource(bundledSnapshots, "data"))
	})
	return defaultRegistry, defaultRegistryErr
}

// IsSnapshotName reports whether name looks like a registry snapshot.
func IsSnapshotName(name string) bool {
	ok, _ := path.Match(SnapshotPattern, path.Base(name))
	return ok && !strings.Contains(name, "..")
}
