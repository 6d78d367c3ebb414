package tool

import (
	"fmt"

	"scriptagent/internal/domain"
)

// Deps are the shared collaborators a tool constructor may need.
type Deps struct {
	State        StateWriter
	MaxNoteBytes int
	MaxNotes     int
}

// Constructor builds a tool from shared dependencies.
type Constructor func(Deps) domain.Tool

// Manifest is the compiled-in table of tools that configuration can enable.
var Manifest = map[string]Constructor{
	"calculate": func(Deps) domain.Tool { return NewCalculator() },
	"save_note": func(d Deps) domain.Tool { return NewNoteTaker(d.State, d.MaxNoteBytes, d.MaxNotes) },
}

// RegisterManifest constructs and registers every tool named in enabled.
// It fails before registering anything if a name is not in the manifest.
func RegisterManifest(reg *Registry, enabled []string, deps Deps) ([]domain.Tool, error) {
	for _, name := range enabled {
		if _, ok := Manifest[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownManifestTool, name)
		}
	}

	tools := make([]domain.Tool, 0, len(enabled))
	for _, name := range enabled {
		t := Manifest[name](deps)
		if err := reg.Register(t); err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	return tools, nil
}
