// Package plugin defines the capability contract between the step execution
// engine and the units of work it dispatches, plus the registry that holds
// them.
package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Metadata describes a plugin's identity and parameter contract.
type Metadata struct {
	// Name is the identifier sub-steps use to select the plugin.
	Name string

	// Description is a one-line summary for listings.
	Description string

	// Required lists parameter names that must be present after resolution.
	Required []string

	// Optional lists parameter names the plugin understands beyond the
	// required set.
	Optional []string

	// DefaultTimeout bounds a single invocation when the sub-step does not
	// set its own timeout. Zero means no default bound.
	DefaultTimeout time.Duration
}

// Plugin is the unit of work the engine dispatches to.
//
// ValidateConfig checks fully resolved parameters and returns a *ConfigError
// on violation. Execute performs the work and returns a result map for output
// mapping; failures are reported as classified *ExecError values so the
// engine can decide whether to retry.
type Plugin interface {
	Metadata() Metadata
	ValidateConfig(params map[string]any) error
	Execute(ctx context.Context, params map[string]any) (map[string]any, error)
}

// Registry holds the plugins available to a run. It is constructed per
// process and passed by handle; there is no global registry.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds a plugin under its metadata name. Registering a duplicate
// name is a programming error and fails loudly.
func (r *Registry) Register(p Plugin) error {
	name := p.Metadata().Name
	if name == "" {
		return fmt.Errorf("plugin has empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin %q already registered", name)
	}
	r.plugins[name] = p
	return nil
}

// Get returns the plugin registered under name, or an error wrapping
// ErrUnknownPlugin.
func (r *Registry) Get(name string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlugin, name)
	}
	return p, nil
}

// Has reports whether a plugin is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.plugins[name]
	return ok
}

// Names returns the registered plugin names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
