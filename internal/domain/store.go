package domain

import (
	"encoding/json"
	"time"
)

// TaskStatus is the final outcome of one task run.
type TaskStatus string

const (
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// TaskRecord is the persisted summary of one task run.
type TaskRecord struct {
	ID        string          `json:"id"`
	Task      string          `json:"task"`
	Candidate string          `json:"candidate,omitempty"`
	Status    TaskStatus      `json:"status"`
	Stage     Stage           `json:"stage,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Error     string          `json:"error,omitempty"`
	Snapshot  json.RawMessage `json:"snapshot,omitempty"`
	Duration  time.Duration   `json:"duration_ns"`
	CreatedAt time.Time       `json:"created_at"`
}

// NoteRecord is a persisted note produced by the note tool.
type NoteRecord struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Content   any       `json:"content"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
