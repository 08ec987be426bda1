// Package tools holds the callables the conversation engine advertises to
// tool-capable providers. Every tool takes a JSON argument object and
// returns text for the model to read.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/adalundhe/casehub/core/providers"
)

// ErrToolNotFound indicates an execution request for an unregistered tool.
var ErrToolNotFound = errors.New("tool not found")

// RunFunc executes a tool. args is the raw JSON argument object from the
// provider.
type RunFunc func(ctx context.Context, args json.RawMessage) (string, error)

// Tool pairs a provider-facing schema with its implementation.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Run         RunFunc
}

// Result is the outcome of one tool execution. Failures are carried as
// readable content so the model can recover; IsError distinguishes them.
type Result struct {
	Content string
	IsError bool
}

// Registry is a named set of tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool. Registering an empty or duplicate name is an error.
func (r *Registry) Register(tool *Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool already registered: %s", tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Definitions returns the provider-facing schemas, sorted by name.
func (r *Registry) Definitions() []providers.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]providers.Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, providers.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs the named tool. Tool errors and panics become error results
// rather than Go errors, so a misbehaving tool never aborts the session.
func (r *Registry) Execute(ctx context.Context, name string, args string) (result Result) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return Result{
			Content: fmt.Sprintf("Error: unknown tool %q", name),
			IsError: true,
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", rec)
			result = Result{
				Content: fmt.Sprintf("Error: tool %s failed internally", name),
				IsError: true,
			}
		}
	}()

	raw := json.RawMessage(args)
	if args == "" {
		raw = json.RawMessage("{}")
	}

	content, err := tool.Run(ctx, raw)
	if err != nil {
		r.logger.Warn("tool failed", "tool", name, "error", err)
		return Result{
			Content: fmt.Sprintf("Error: %v", err),
			IsError: true,
		}
	}
	return Result{Content: content}
}
