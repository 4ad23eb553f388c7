package persona

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/rolemesh/core"
)

// Registry resolves scenarios by name. Scenarios are either registered
// directly or loaded lazily from Dir as <name>.yaml / <name>.yml. It is safe
// for concurrent use.
type Registry struct {
	dir       string
	mu        sync.RWMutex
	scenarios map[string]*core.Scenario
}

var _ core.PersonaSource = (*Registry)(nil)

// NewRegistry creates a registry backed by dir. An empty dir disables lazy
// loading.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir, scenarios: make(map[string]*core.Scenario)}
}

// Register adds a scenario after validating it.
func (r *Registry) Register(sc *core.Scenario) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenarios[sc.Name] = sc
	return nil
}

// Scenario returns the named scenario, loading it from disk on first use.
func (r *Registry) Scenario(name string) (*core.Scenario, error) {
	r.mu.RLock()
	sc, ok := r.scenarios[name]
	r.mu.RUnlock()
	if ok {
		return sc, nil
	}
	if r.dir == "" {
		return nil, core.Errorf(core.KindNotFound, "persona.scenario", "scenario %q not registered", name)
	}

	sc, err := r.loadFromDir(name)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.scenarios[name]; ok {
		return existing, nil
	}
	r.scenarios[name] = sc
	return sc, nil
}

func (r *Registry) loadFromDir(name string) (*core.Scenario, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, core.Errorf(core.KindNotFound, "persona.scenario", "invalid scenario name %q", name)
	}
	for _, ext := range []string{".yaml", ".yml"} {
		sc, err := LoadFile(filepath.Join(r.dir, name+ext))
		if core.IsKind(err, core.KindNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return sc, nil
	}
	return nil, core.Errorf(core.KindNotFound, "persona.scenario", "scenario %q not found in %s", name, r.dir)
}

// Persona returns one persona of a scenario.
func (r *Registry) Persona(scenario, name string) (core.Persona, error) {
	sc, err := r.Scenario(scenario)
	if err != nil {
		return core.Persona{}, err
	}
	p, ok := sc.Persona(name)
	if !ok {
		return core.Persona{}, core.Errorf(core.KindNotFound, "persona.persona", "persona %q not found in scenario %q", name, scenario)
	}
	return p, nil
}

// Names lists loadable scenario names: registered ones plus any documents in
// the backing directory.
func (r *Registry) Names() ([]string, error) {
	seen := map[string]bool{}
	r.mu.RLock()
	for n := range r.scenarios {
		seen[n] = true
	}
	r.mu.RUnlock()

	if r.dir != "" {
		entries, err := os.ReadDir(r.dir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read scenario dir: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := filepath.Ext(e.Name())
			if ext == ".yaml" || ext == ".yml" {
				seen[strings.TrimSuffix(e.Name(), ext)] = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Fallback builds a persona on the fly for a name no scenario defines: names
// mentioning a client or customer become clients, everything else support.
func Fallback(name string) core.Persona {
	role := core.RoleSupport
	lower := strings.ToLower(name)
	if strings.Contains(lower, "client") || strings.Contains(lower, "customer") {
		role = core.RoleClient
	}
	return core.Persona{
		Name:           name,
		RoleType:       role,
		Traits:         core.DefaultTraits(),
		AllowedActions: map[core.Action]bool{core.ActionRespond: true},
		Instructions:   fmt.Sprintf("Act as a %s. Respond naturally.", strings.ReplaceAll(name, "_", " ")),
		ResponseFormat: core.DefaultResponseFormat,
	}
}
