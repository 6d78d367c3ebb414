package domain

import "context"

// Tool is the interface for agent capabilities (calculator, note taker, ...).
// Scripts call a tool positionally; argument i binds to Params()[i].
type Tool interface {
	Name() string
	Description() string
	Params() []Param
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Param describes one positional tool parameter.
// Type is a JSON Schema type name, or a list of them separated by "|".
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// ResultRecorder is implemented by tools that remember the outcome of their
// most recent invocation. ok is false until the tool has produced a result.
type ResultRecorder interface {
	LastResult() (value any, ok bool)
}

// Checkpointer is implemented by tools with internal bookkeeping that must be
// rolled back when a task runs in atomic mode. Calling the returned function
// restores the tool to the moment Checkpoint was called.
type Checkpointer interface {
	Checkpoint() (restore func())
}

// ToolDefinition is the advertised form of a tool (name, description and the
// JSON Schema of its parameters).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
