// Package tools defines the tool contract, the registry the agent
// dispatches through, and the built-in tool set.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/loomcode/loom/internal/llm"
)

// Permission classifies what a tool may do to the host environment. The
// approval layer keys its policy off these levels.
type Permission int

const (
	// ReadOnly operations are safe to auto-approve.
	ReadOnly Permission = iota
	// Write operations modify files.
	Write
	// Execute operations run arbitrary commands.
	Execute
	// Destructive operations can cause irreversible damage.
	Destructive
)

// String returns the permission's display name.
func (p Permission) String() string {
	switch p {
	case ReadOnly:
		return "read-only"
	case Write:
		return "write"
	case Execute:
		return "execute"
	case Destructive:
		return "destructive"
	}
	return "unknown"
}

// Tool is an executable capability offered to the model. Tools are
// stateless from the registry's perspective but may hold internal state
// (the shell tool keeps its working directory across calls).
type Tool interface {
	// Name returns the tool's identifier as sent to the model.
	Name() string
	// Description returns the human description sent to the model.
	Description() string
	// Schema returns the JSON schema of the tool's parameter object.
	Schema() json.RawMessage
	// Permission returns the tool's static permission level.
	Permission() Permission
	// Execute runs the tool. args is the raw argument JSON as produced by
	// the model; a returned error is recoverable and becomes a failed
	// tool-result message, never a loop failure.
	Execute(ctx context.Context, args json.RawMessage) (any, error)
}

// Registry maps tool names to executables. It is populated before an
// agent run and read-only during one.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, validating that its parameter schema is itself a
// valid JSON schema. Registering a name twice replaces the earlier tool.
func (r *Registry) Register(t Tool) error {
	schema := t.Schema()
	if len(schema) == 0 {
		return fmt.Errorf("tool %s: empty parameter schema", t.Name())
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schema)))
	if err != nil {
		return fmt.Errorf("tool %s: parameter schema is not JSON: %w", t.Name(), err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool.json", doc); err != nil {
		return fmt.Errorf("tool %s: %w", t.Name(), err)
	}
	if _, err := compiler.Compile("tool.json"); err != nil {
		return fmt.Errorf("tool %s: invalid parameter schema: %w", t.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	return nil
}

// MustRegister registers a tool and panics on schema errors. Intended for
// the built-in tool set whose schemas are compile-time constants.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns the named tool or nil.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the tool definitions sent to the model, sorted by
// name so requests serialize deterministically.
func (r *Registry) Definitions() []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, llm.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
