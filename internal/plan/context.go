package plan

import (
	"log/slog"
)

// Context is the planning context handed to every rule capability. It is
// created once per registry run and never mutated by the executor.
type Context struct {
	// Registry is the registry being executed.
	Registry *Registry

	// Flow names the flow being planned.
	Flow string

	// TraceEnabled reports whether a trace sink is attached.
	TraceEnabled bool

	// Logger is the run logger, already tagged with registry and flow.
	Logger *slog.Logger
}

// RegistryName returns the active registry's name, or "" without one.
func (pc *Context) RegistryName() string {
	if pc == nil || pc.Registry == nil {
		return ""
	}
	return pc.Registry.Name()
}

// Log returns the context logger, falling back to the default logger.
func (pc *Context) Log() *slog.Logger {
	if pc == nil || pc.Logger == nil {
		return slog.Default()
	}
	return pc.Logger
}
