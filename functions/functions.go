// Package functions implements the process-wide function registry: the
// mapping from function-class name to schema and callable instance that agents
// bind as their capability set. Schemas are emitted by a build step from
// source metadata; the runtime trusts them and validates arguments with JSON
// Schema before dispatch.
package functions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type (
	// Parameter describes one function parameter.
	Parameter struct {
		Name        string `json:"name" yaml:"name"`
		Type        string `json:"type" yaml:"type"`
		Description string `json:"description,omitempty" yaml:"description,omitempty"`
		Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	}

	// Schema is the callable surface presented to the planning LLM.
	Schema struct {
		Name        string      `json:"name" yaml:"name"`
		Description string      `json:"description" yaml:"description"`
		Parameters  []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	}

	// Callable is a bound function instance.
	Callable interface {
		// Schema returns the function schema.
		Schema() Schema
		// Call executes the function with named arguments. The string result
		// becomes the planner-visible stdout; errors become stderr unless
		// marked fatal.
		Call(ctx context.Context, args map[string]any) (string, error)
	}

	// Factory constructs a fresh callable instance.
	Factory func() Callable

	// FatalError marks a function failure that must abort the iteration loop
	// instead of continuing with stderr.
	FatalError struct {
		cause error
	}

	// ConfirmationError signals that the function requires human confirmation
	// before it runs. The runner pauses the agent until the user confirms.
	ConfirmationError struct {
		// Prompt is shown to the user when asking for confirmation.
		Prompt string
	}
)

// Fatal wraps err so the runner transitions to the error state instead of
// recording stderr and continuing.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{cause: err}
}

func (e *FatalError) Error() string { return fmt.Sprintf("functions: fatal: %v", e.cause) }

// Unwrap returns the fatal cause.
func (e *FatalError) Unwrap() error { return e.cause }

// NeedsConfirmation returns an error pausing the agent until a human confirms
// the operation described by prompt.
func NeedsConfirmation(prompt string) error {
	return &ConfirmationError{Prompt: prompt}
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("functions: confirmation required: %s", e.Prompt)
}

// registry is the process-wide name → factory map, consulted at
// deserialization time to rebuild an agent's capability set.
var registry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{factories: make(map[string]Factory)}

// Register installs a factory under its schema name. Later registrations
// replace earlier ones.
func Register(f Factory) {
	name := f().Schema().Name
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories[name] = f
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	f, ok := registry.factories[name]
	return f, ok
}

// Names returns the registered function names, sorted.
func Names() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	out := make([]string, 0, len(registry.factories))
	for name := range registry.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Resolve instantiates callables for the given names. Unknown names are
// returned in the second slice for the caller to log and skip.
func Resolve(names []string) (callables []Callable, missing []string) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	for _, name := range names {
		f, ok := registry.factories[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		callables = append(callables, f())
	}
	return callables, missing
}

// JSONSchema renders the parameter list as a JSON Schema object suitable both
// for provider tool definitions and for argument validation.
func (s Schema) JSONSchema() map[string]any {
	properties := make(map[string]any, len(s.Parameters))
	var required []any
	for _, p := range s.Parameters {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		properties[p.Name] = map[string]any{"type": typ, "description": p.Description}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ValidateArgs checks args against the function's JSON schema.
func ValidateArgs(s Schema, args map[string]any) error {
	compiler := jsonschema.NewCompiler()
	resource := fmt.Sprintf("mem://%s.json", s.Name)
	if err := compiler.AddResource(resource, s.JSONSchema()); err != nil {
		return fmt.Errorf("functions: compile schema for %s: %w", s.Name, err)
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("functions: compile schema for %s: %w", s.Name, err)
	}
	normalized := make(map[string]any, len(args))
	for k, v := range args {
		normalized[k] = v
	}
	if err := compiled.Validate(any(normalized)); err != nil {
		return fmt.Errorf("functions: arguments for %s: %w", s.Name, err)
	}
	return nil
}
