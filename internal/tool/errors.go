package tool

import "errors"

var (
	// ErrToolNotFound is returned when a tool is not found in the registry.
	ErrToolNotFound = errors.New("tool not found")

	// ErrEmptyToolName is returned when registering a tool without a name.
	ErrEmptyToolName = errors.New("tool name must not be empty")

	// ErrInvalidArguments is returned when call arguments do not match the
	// tool's parameter schema.
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrUnknownManifestTool is returned when the configuration enables a tool
	// that is not compiled into the manifest.
	ErrUnknownManifestTool = errors.New("tool not in manifest")

	// ErrInvalidCalculation is returned when an expression cannot be evaluated.
	ErrInvalidCalculation = errors.New("invalid calculation")

	// ErrNoteTooLarge is returned when a note exceeds the configured size.
	ErrNoteTooLarge = errors.New("note too large")

	// ErrNoteLimit is returned when the note list is full.
	ErrNoteLimit = errors.New("note limit reached")
)
