package sdk

import "context"

// Plugin reacts to events delivered to its consumer. Returning an error only
// gets logged; the consumer moves on to the next event.
type Plugin interface {
	Consume(ctx context.Context, pc Context, ev Event) error
}

// Factory builds a fresh plugin instance.
type Factory func() Plugin

// PluginFunc adapts a function to Plugin.
type PluginFunc func(ctx context.Context, pc Context, ev Event) error

func (f PluginFunc) Consume(ctx context.Context, pc Context, ev Event) error {
	return f(ctx, pc, ev)
}
