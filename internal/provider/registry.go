package provider

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Registry holds the active provider configuration and the set of known
// configurations. The active slot is an atomic pointer: readers always get
// an immutable snapshot and a swap never disturbs an in-flight exchange.
type Registry struct {
	active atomic.Pointer[Config]

	mu    sync.Mutex
	known map[string]Config
	path  string // persisted store, empty disables persistence
}

type registryFile struct {
	Active    string   `json:"active"`
	Providers []Config `json:"providers"`
}

// NewRegistry creates an empty in-memory registry.
func NewRegistry() *Registry {
	return &Registry{known: make(map[string]Config)}
}

// LoadRegistry reads the persisted store at path, creating an empty
// registry when the file does not exist yet.
func LoadRegistry(path string) (*Registry, error) {
	r := NewRegistry()
	r.path = path

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read provider store")
	}

	var f registryFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parse provider store")
	}
	for _, cfg := range f.Providers {
		r.known[cfg.Name] = cfg
	}
	if cfg, ok := r.known[f.Active]; ok {
		r.active.Store(&cfg)
	}
	return r, nil
}

// Active returns the current configuration snapshot. The second return is
// false when no provider has been activated.
func (r *Registry) Active() (Config, bool) {
	cfg := r.active.Load()
	if cfg == nil {
		return Config{}, false
	}
	return *cfg, true
}

// SetActive validates cfg, records it among the known providers, swaps the
// active slot, and persists the store.
func (r *Registry) SetActive(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	r.known[cfg.Name] = cfg
	err := r.persistLocked(cfg.Name)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	snapshot := cfg
	r.active.Store(&snapshot)
	return nil
}

// Add records a configuration without activating it.
func (r *Registry) Add(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.known[cfg.Name] = cfg
	active := ""
	if a := r.active.Load(); a != nil {
		active = a.Name
	}
	return r.persistLocked(active)
}

// Lookup returns the stored configuration for a name, or the zero Config
// when the name is unknown.
func (r *Registry) Lookup(name string) Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.known[name]
}

// List returns all known configurations. Order is not guaranteed.
func (r *Registry) List() []Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Config, 0, len(r.known))
	for _, cfg := range r.known {
		out = append(out, cfg)
	}
	return out
}

func (r *Registry) persistLocked(activeName string) error {
	if r.path == "" {
		return nil
	}
	f := registryFile{Active: activeName}
	for _, cfg := range r.known {
		f.Providers = append(f.Providers, cfg)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode provider store")
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return errors.Wrap(err, "create provider store dir")
	}
	if err := os.WriteFile(r.path, data, 0o600); err != nil {
		return errors.Wrap(err, "write provider store")
	}
	return nil
}
