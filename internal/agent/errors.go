package agent

import "errors"

var (
	// ErrUndefinedName is returned when a script references a local that no
	// earlier statement assigned.
	ErrUndefinedName = errors.New("undefined name")

	// ErrTooManyCalls is returned when a script has more statements than the
	// executor allows.
	ErrTooManyCalls = errors.New("too many calls")

	// ErrToolPanic is returned when a tool panics during a call.
	ErrToolPanic = errors.New("tool panicked")

	// ErrNoProvider is returned when a task needs a model but none is configured.
	ErrNoProvider = errors.New("no model provider configured")

	// ErrNoTasks is returned when decomposition yields nothing to run.
	ErrNoTasks = errors.New("no tasks found")
)
