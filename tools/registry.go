package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lyzr/graphflow/schema"
)

// NotFoundError reports an unregistered tool name together with the
// registry's vocabulary, so the caller can show a full picture.
type NotFoundError struct {
	Name       string
	Registered []string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("unknown tool %q (registered: %s)", e.Name, strings.Join(e.Registered, ", "))
	if hint := schema.Suggest(e.Name, e.Registered); hint != "" {
		msg += fmt.Sprintf(". Did you mean %q?", hint)
	}
	return msg
}

// ArgumentError reports model-supplied arguments that fail the tool's input
// schema. It is surfaced back to the model, not retried blindly.
type ArgumentError struct {
	Tool string
	Err  error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("tool %q: invalid arguments: %v", e.Tool, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// entry pairs a factory with its memoized instance and compiled schema.
type entry struct {
	factory Factory

	once     sync.Once
	tool     Tool
	compiled *jsonschema.Schema
	initErr  error
}

// Registry maps tool names to factories. Read-mostly: registrations happen
// before graph build, lookups happen on the hot path.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

// DefaultRegistry returns a registry with the built-in tool set.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for name, factory := range builtins() {
		// builtin names are unique by construction
		_ = r.Register(name, factory)
	}
	return r
}

// Register adds a named factory. Registering the same name twice is an
// error; shadowing a builtin silently would hide workflow bugs.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("tool %q is already registered", name)
	}
	r.entries[name] = &entry{factory: factory}
	return nil
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get instantiates (once) and returns the named tool.
func (r *Registry) Get(name string) (Tool, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	if err := r.init(name, e); err != nil {
		return nil, err
	}
	return e.tool, nil
}

// Invoke validates args against the tool's input schema and calls it.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	if err := r.init(name, e); err != nil {
		return nil, err
	}
	if err := e.compiled.Validate(normalizeArgs(args)); err != nil {
		return nil, &ArgumentError{Tool: name, Err: err}
	}
	return e.tool.Invoke(ctx, args)
}

func (r *Registry) lookup(name string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Name: name, Registered: r.Names()}
	}
	return e, nil
}

func (r *Registry) init(name string, e *entry) error {
	e.once.Do(func() {
		tool, err := e.factory()
		if err != nil {
			e.initErr = fmt.Errorf("instantiate tool %q: %w", name, err)
			return
		}
		e.tool = tool

		raw, err := json.Marshal(tool.InputSchema().JSONSchema())
		if err != nil {
			e.initErr = fmt.Errorf("tool %q: render input schema: %w", name, err)
			return
		}
		compiled, err := jsonschema.CompileString(name+".json", string(raw))
		if err != nil {
			e.initErr = fmt.Errorf("tool %q: compile input schema: %w", name, err)
			return
		}
		e.compiled = compiled
	})
	return e.initErr
}

// normalizeArgs round-trips through encoding/json conventions so the schema
// validator sees the value shapes it expects (float64 numbers and so on).
func normalizeArgs(args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return args
	}
	return out
}
