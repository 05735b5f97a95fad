// ABOUTME: Tool registry mapping capability names to typed handler descriptors.
// ABOUTME: Lookups read an immutable map snapshot; registration swaps in a new copy.

package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/panics"
	"github.com/xeipuuv/gojsonschema"

	"github.com/2389-research/buddy/llm"
)

// ParamType is the JSON type a tool parameter accepts.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
)

// Param is one named, typed tool argument. Every declared param is required.
type Param struct {
	Name        string
	Type        ParamType
	Description string
}

// Args holds validated tool arguments.
type Args map[string]any

// String returns the named argument as a string, or "" if absent.
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Number returns the named argument as a float64, or 0 if absent.
func (a Args) Number(name string) float64 {
	switch v := a[name].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Bool returns the named argument as a bool, or false if absent.
func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// Handler runs a tool. It receives arguments that already passed validation.
type Handler func(ctx context.Context, args Args) (string, error)

// Descriptor registers one tool.
type Descriptor struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler
}

type entry struct {
	desc   Descriptor
	schema *gojsonschema.Schema
	raw    map[string]any
}

// Registry is safe for concurrent use. Invoke never takes a lock.
type Registry struct {
	mu      sync.Mutex
	entries atomic.Pointer[map[string]*entry]
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := make(map[string]*entry)
	r.entries.Store(&empty)
	return r
}

// Register adds a tool. It returns *DuplicateToolError if the name is taken.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if d.Handler == nil {
		return fmt.Errorf("tool %q has no handler", d.Name)
	}
	raw, err := buildSchema(d.Params)
	if err != nil {
		return fmt.Errorf("tool %q: %w", d.Name, err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return fmt.Errorf("tool %q: compile schema: %w", d.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.entries.Load()
	if _, ok := current[d.Name]; ok {
		return &DuplicateToolError{Name: d.Name}
	}
	next := make(map[string]*entry, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	params := make([]Param, len(d.Params))
	copy(params, d.Params)
	d.Params = params
	next[d.Name] = &entry{desc: d, schema: schema, raw: raw}
	r.entries.Store(&next)
	return nil
}

// MustRegister registers every descriptor and panics on failure. Intended for
// startup wiring of builtin tools.
func (r *Registry) MustRegister(ds ...Descriptor) {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) lookup(name string) (*entry, bool) {
	e, ok := (*r.entries.Load())[name]
	return e, ok
}

// Invoke validates args against the tool's parameters and runs its handler.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	e, ok := r.lookup(name)
	if !ok {
		return "", &UnknownToolError{Name: name}
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := e.validate(args); err != nil {
		return "", err
	}

	var (
		out    string
		runErr error
	)
	var catcher panics.Catcher
	catcher.Try(func() {
		out, runErr = e.desc.Handler(ctx, Args(args))
	})
	if rec := catcher.Recovered(); rec != nil {
		return "", &ToolExecutionError{Name: name, Cause: rec.AsError()}
	}
	if runErr != nil {
		return "", &ToolExecutionError{Name: name, Cause: runErr}
	}
	return out, nil
}

func (e *entry) validate(args map[string]any) error {
	result, err := e.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return &InvalidArgumentsError{Name: e.desc.Name, Problems: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		problems = append(problems, re.String())
	}
	sort.Strings(problems)
	return &InvalidArgumentsError{Name: e.desc.Name, Problems: problems}
}

// Descriptor returns the registered descriptor for name.
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return Descriptor{}, false
	}
	return e.desc, true
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	current := *r.entries.Load()
	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(*r.entries.Load())
}

// Definitions returns model-facing tool definitions sorted by name.
func (r *Registry) Definitions() []llm.ToolDefinition {
	current := *r.entries.Load()
	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llm.ToolDefinition, 0, len(current))
	for _, name := range names {
		e := current[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        e.desc.Name,
			Description: e.desc.Description,
			Parameters:  cloneSchema(e.raw),
		})
	}
	return defs
}
