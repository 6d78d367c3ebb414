package domain

import (
	"errors"
	"fmt"
)

// Error kinds for the task pipeline. Every stage failure is a *StageError
// whose Kind is one of these, so callers classify with errors.Is.
var (
	// ErrMalformedResponse: the start/end markers are missing or out of order.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrEmptyCandidate: the text between the markers is blank.
	ErrEmptyCandidate = errors.New("empty candidate")

	// ErrNoRecognizedAction: the candidate matches no allow-listed pattern.
	ErrNoRecognizedAction = errors.New("no recognized action")

	// ErrUnsafeConstruct: the candidate matches a deny-listed pattern.
	ErrUnsafeConstruct = errors.New("unsafe construct")

	// ErrExecutionFailure: the validated script failed while running.
	ErrExecutionFailure = errors.New("execution failure")

	// ErrTimeout: a single tool invocation exceeded its bounded wait.
	ErrTimeout = errors.New("tool call timed out")

	// ErrModelCall: the model provider could not produce a response.
	ErrModelCall = errors.New("model call failed")
)

// Stage names the pipeline step that produced an error.
type Stage string

const (
	StageModel    Stage = "model"
	StageExtract  Stage = "extract"
	StageValidate Stage = "validate"
	StageExecute  Stage = "execute"
)

// StageError is a classified pipeline failure. It matches its Kind via
// errors.Is and unwraps to the underlying cause, if any.
type StageError struct {
	Stage  Stage
	Kind   error
	Detail string
	Err    error
}

func (e *StageError) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) Is(target error) bool { return target == e.Kind }

// NewStageError builds a StageError. detail may use fmt verbs.
func NewStageError(stage Stage, kind error, cause error, detail string, args ...any) *StageError {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &StageError{Stage: stage, Kind: kind, Detail: detail, Err: cause}
}

// KindOf returns the error kind of err, or nil when err is not a stage error.
func KindOf(err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return nil
}

// StageOf returns the stage that produced err, or "" when unknown.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// KindName returns a stable snake_case name for the kind of err, for logs
// and metric labels. Unclassified errors are "internal".
func KindName(err error) string {
	switch KindOf(err) {
	case ErrMalformedResponse:
		return "malformed_response"
	case ErrEmptyCandidate:
		return "empty_candidate"
	case ErrNoRecognizedAction:
		return "no_recognized_action"
	case ErrUnsafeConstruct:
		return "unsafe_construct"
	case ErrExecutionFailure:
		if errors.Is(err, ErrTimeout) {
			return "timeout"
		}
		return "execution_failure"
	case ErrModelCall:
		return "model_call"
	case nil:
		if err == nil {
			return ""
		}
	}
	return "internal"
}
