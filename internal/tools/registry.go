package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnknownTool indicates a name outside the closed tool set, or a
	// known name that was never registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrToolFailure wraps an error returned by a tool invocation.
	ErrToolFailure = errors.New("tool invocation failed")
)

// knownNames is the closed set. Registration of anything else fails.
var knownNames = map[string]struct{}{
	NameSummary:     {},
	NameIntent:      {},
	NameEscalation:  {},
	NameSafetyCheck: {},
}

// Registry holds registered tools by name. Registration happens during
// setup; lookups afterwards are read-only, so no locking is needed.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Names outside the closed set and duplicate
// registrations are rejected.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return errors.New("tool is nil")
	}
	name := t.Name()
	if _, ok := knownNames[name]; !ok {
		return fmt.Errorf("%w: %q is not in the tool set", ErrUnknownTool, name)
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke dispatches to the named tool. Unknown names return ErrUnknownTool;
// tool errors are wrapped in ErrToolFailure.
func (r *Registry) Invoke(ctx context.Context, name string, in Input) (Result, error) {
	t, ok := r.tools[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	res, err := t.Invoke(ctx, in)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrToolFailure, name, err)
	}
	return res, nil
}
