package plugins

import "github.com/gtmanfred/slackmgmt/internal/plugins/bans"

// Builtin returns the registry of plugins compiled into this binary.
func Builtin() *Registry {
	r := NewRegistry()
	r.MustRegister(bans.Name, bans.New)
	return r
}
