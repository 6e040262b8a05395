package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/nanoagent/runtime/internal/errs"
)

type ToolDefinition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Result is a tool call's outcome: either its text output or an error
// captured rather than propagated, matching the fixed {error, result} shape
// every tool call resolves to.
type Result struct {
	Text    string
	IsError bool
}

// DelegateTaskName is the main registry's special-cased tool: the loop
// intercepts calls to it before they reach Execute and routes them to the
// sub-agent spawner instead.
const DelegateTaskName = "delegate_task"

type Registry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute validates args against the named tool's parameter schema and
// dispatches to it, capturing any failure into an error Result rather than
// propagating it.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) Result {
	t, ok := r.Get(name)
	if !ok {
		r.mu.RLock()
		names := make([]string, 0, len(r.tools))
		for n := range r.tools {
			names = append(names, n)
		}
		r.mu.RUnlock()
		return Result{
			Text:    fmt.Sprintf("Unknown tool: %s. Available tools: %s", name, strings.Join(names, ", ")),
			IsError: true,
		}
	}

	if err := validateArgs(t.Parameters(), args); err != nil {
		err = errs.Validation(err)
		return Result{
			Text:    fmt.Sprintf("Invalid arguments for %s: %v", name, err),
			IsError: true,
		}
	}

	text, err := t.Execute(ctx, args)
	if err != nil {
		err = errs.ToolExecution(err)
		return Result{
			Text:    fmt.Sprintf("Error executing %s: %v\n\n[Analyze the error above and try a different approach.]", name, err),
			IsError: true,
		}
	}
	return Result{Text: text}
}

// validateArgs checks args against schema using real JSON-Schema validation.
// An empty or malformed schema is treated as "anything goes" — the tool
// itself is responsible for rejecting bad input it actually cares about.
func validateArgs(schema, args json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	schemaLoader := gojsonschema.NewBytesLoader(schema)
	docLoader := gojsonschema.NewBytesLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		// A schema gojsonschema can't compile is a tool-definition bug, not
		// a caller error — don't block dispatch on it.
		return nil
	}
	if result.Valid() {
		return nil
	}

	var msgs []string
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, ToolDefinition{
			Type: "function",
			Function: FunctionDef{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := NewRegistry()
	for k, v := range r.tools {
		clone.tools[k] = v
	}
	return clone
}

// WithoutDelegate returns a clone with delegate_task removed, for
// sub-agent registries — recursive delegation is forbidden.
func (r *Registry) WithoutDelegate() *Registry {
	clone := r.Clone()
	clone.mu.Lock()
	delete(clone.tools, DelegateTaskName)
	clone.mu.Unlock()
	return clone
}
