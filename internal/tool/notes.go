package tool

import (
	"context"
	"fmt"
	"sync"

	"scriptagent/internal/domain"
)

const (
	DefaultMaxNoteBytes = 4096
	DefaultMaxNotes     = 1000
)

// StateWriter is the slice of shared state the note taker publishes into.
type StateWriter interface {
	Set(key string, value any)
}

// Note is one saved note. Content keeps the type it was saved with.
type Note struct {
	Content any    `json:"content"`
	Label   string `json:"label,omitempty"`
}

// NoteTaker appends notes and republishes the full list under "notes".
type NoteTaker struct {
	mu       sync.Mutex
	state    StateWriter
	notes    []Note
	last     *Note
	maxBytes int
	maxNotes int
}

var (
	_ domain.Tool           = (*NoteTaker)(nil)
	_ domain.ResultRecorder = (*NoteTaker)(nil)
	_ domain.Checkpointer   = (*NoteTaker)(nil)
)

// NewNoteTaker creates a note taker bound to state. Non-positive bounds
// fall back to the defaults.
func NewNoteTaker(state StateWriter, maxBytes, maxNotes int) *NoteTaker {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxNoteBytes
	}
	if maxNotes <= 0 {
		maxNotes = DefaultMaxNotes
	}
	return &NoteTaker{state: state, maxBytes: maxBytes, maxNotes: maxNotes}
}

func (n *NoteTaker) Name() string        { return "save_note" }
func (n *NoteTaker) Description() string { return "Saves notes or results" }

func (n *NoteTaker) Params() []domain.Param {
	return []domain.Param{
		{Name: "content", Type: "string|number|boolean", Description: "Note text or a value to keep", Required: true},
		{Name: "label", Type: "string", Description: "Optional label"},
	}
}

func (n *NoteTaker) Execute(ctx context.Context, args map[string]any) (any, error) {
	content := args["content"]
	label := ArgString(args, "label")

	rendered := fmt.Sprint(content)
	if size := len(rendered) + len(label); size > n.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrNoteTooLarge, size, n.maxBytes)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.notes) >= n.maxNotes {
		return nil, fmt.Errorf("%w: %d notes", ErrNoteLimit, n.maxNotes)
	}

	note := Note{Content: content, Label: label}
	n.notes = append(n.notes, note)
	n.last = &note
	n.publish()

	return "Note saved: " + rendered, nil
}

// publish copies the list into shared state so later appends do not alias
// a snapshot already handed out. Callers hold n.mu.
func (n *NoteTaker) publish() {
	if n.state == nil {
		return
	}
	n.state.Set("notes", append([]Note(nil), n.notes...))
}

// Notes returns a copy of every note saved so far.
func (n *NoteTaker) Notes() []Note {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Note(nil), n.notes...)
}

// Len returns the number of saved notes.
func (n *NoteTaker) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

func (n *NoteTaker) LastResult() (any, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.last == nil {
		return nil, false
	}
	return *n.last, true
}

func (n *NoteTaker) Checkpoint() func() {
	n.mu.Lock()
	count, last := len(n.notes), n.last
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if count <= len(n.notes) {
			n.notes = n.notes[:count]
		}
		n.last = last
	}
}
