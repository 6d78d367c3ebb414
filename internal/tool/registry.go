package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"scriptagent/internal/domain"
)

// Registry holds the tools a script may call, keyed by name.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]domain.Tool
	schemas map[string]*gojsonschema.Schema
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:   make(map[string]domain.Tool),
		schemas: make(map[string]*gojsonschema.Schema),
		logger:  logger,
	}
}

// Register adds t. A tool registered under an existing name replaces the
// earlier one.
func (r *Registry) Register(t domain.Tool) error {
	name := t.Name()
	if name == "" {
		return ErrEmptyToolName
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(ParamsSchema(t.Params())))
	if err != nil {
		return fmt.Errorf("tool %s: compile parameter schema: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		r.logger.Warn("tool re-registered, replacing previous", "name", name)
	}
	r.tools[name] = t
	r.schemas[name] = schema
	r.logger.Debug("registered tool", "name", name)
	return nil
}

func (r *Registry) Get(name string) domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Execute validates args against the tool's schema and runs it.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s (available: %v)", ErrToolNotFound, name, r.Names())
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := validateArgs(schema, args); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return t.Execute(ctx, args)
}

// Bind maps script arguments onto the tool's named parameters: positional
// values fill parameters in declaration order, then named values fill the
// rest. A name the tool does not declare, or one already filled by a
// positional value, is ErrInvalidArguments.
func (r *Registry) Bind(name string, positional []any, named map[string]any) (map[string]any, error) {
	t := r.Get(name)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	params := t.Params()
	if len(positional) > len(params) {
		return nil, fmt.Errorf("%w: %s takes at most %d arguments, got %d",
			ErrInvalidArguments, name, len(params), len(positional))
	}
	args := make(map[string]any, len(positional)+len(named))
	for i, v := range positional {
		args[params[i].Name] = v
	}
	for k, v := range named {
		if !slices.ContainsFunc(params, func(p domain.Param) bool { return p.Name == k }) {
			return nil, fmt.Errorf("%w: %s got an unexpected argument %q", ErrInvalidArguments, name, k)
		}
		if _, dup := args[k]; dup {
			return nil, fmt.Errorf("%w: %s got multiple values for %q", ErrInvalidArguments, name, k)
		}
		args[k] = v
	}
	return args, nil
}

func validateArgs(schema *gojsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidArguments, strings.Join(msgs, "; "))
	}
	return nil
}

// Definitions returns the advertised form of every tool, sorted by name.
func (r *Registry) Definitions() []domain.ToolDefinition {
	tools := r.Tools()
	defs := make([]domain.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  ParamsSchema(t.Params()),
		})
	}
	return defs
}

// Tools returns the registered tools sorted by name.
func (r *Registry) Tools() []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]domain.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParamsSchema builds a JSON Schema "parameters" object from positional params.
func ParamsSchema(params []domain.Param) map[string]any {
	props := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		prop := map[string]any{"description": p.Description}
		if types := strings.Split(p.Type, "|"); len(types) > 1 {
			prop["type"] = types
		} else if p.Type != "" {
			prop["type"] = p.Type
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ArgString returns args[key] as a string. Non-string values are JSON encoded.
func ArgString(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}
