package plugins

import (
	"fmt"
	"sort"

	"github.com/gtmanfred/slackmgmt/pkg/sdk"
)

// Registry maps plugin names to factories. The set is fixed at build time.
type Registry struct {
	factories map[string]sdk.Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]sdk.Factory)}
}

func (r *Registry) Register(name string, f sdk.Factory) error {
	if name == "" {
		return fmt.Errorf("plugin name is empty")
	}
	if f == nil {
		return fmt.Errorf("plugin %q: nil factory", name)
	}
	if _, dup := r.factories[name]; dup {
		return fmt.Errorf("plugin %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is Register for package-level wiring.
func (r *Registry) MustRegister(name string, f sdk.Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Names returns the registered names, sorted so startup order is stable.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) New(name string) (sdk.Plugin, bool) {
	f, ok := r.factories[name]
	if !ok {
		return nil, false
	}
	return f(), true
}
