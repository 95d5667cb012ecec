package workflows

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
)

type registryEntry struct {
	version  *semver.Version
	workflow ConfiguredWorkflow
}

// Registry is a store of configured workflows keyed by name and version. A
// name may carry several versions; Latest resolves the highest.
type Registry struct {
	mu sync.Mutex

	// entries maps a workflow name to its versions, kept sorted ascending.
	entries map[string][]registryEntry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string][]registryEntry),
	}
}

// Add registers a configured workflow under a name and version. Registering
// the same name and version twice is an error.
func (r *Registry) Add(name string, version *semver.Version, workflow ConfiguredWorkflow) error {
	if name == "" {
		return fmt.Errorf("workflow name is required")
	}
	if version == nil {
		return fmt.Errorf("workflow '%s': version is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.entries[name]
	for _, e := range versions {
		if e.version.Equal(version) {
			return fmt.Errorf("workflow '%s' version %s is already registered", name, version)
		}
	}

	versions = append(versions, registryEntry{version: version, workflow: workflow})
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].version.LessThan(versions[j].version)
	})
	r.entries[name] = versions

	return nil
}

// Get retrieves the workflow registered under the exact name and version.
func (r *Registry) Get(name string, version *semver.Version) (ConfiguredWorkflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries[name] {
		if e.version.Equal(version) {
			return e.workflow, nil
		}
	}

	return nil, fmt.Errorf("workflow '%s' version %s not found", name, version)
}

// Latest retrieves the highest registered version of a workflow.
func (r *Registry) Latest(name string) (ConfiguredWorkflow, *semver.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.entries[name]
	if len(versions) == 0 {
		return nil, nil, fmt.Errorf("workflow '%s' not found", name)
	}

	latest := versions[len(versions)-1]

	return latest.workflow, latest.version, nil
}

// List returns every registered workflow as "name@version", sorted by name
// then ascending version.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		for _, e := range r.entries[name] {
			out = append(out, fmt.Sprintf("%s@%s", name, e.version))
		}
	}

	return out
}
