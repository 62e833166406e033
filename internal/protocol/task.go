package protocol

import (
	"fmt"
	"strings"

	"hermes/internal/utils/id"
)

// Task is a single delegated unit of work. Immutable once published; there
// is no built-in cancellation.
type Task struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
}

// NewTask builds a task with a generated identifier.
func NewTask(content, sessionID string) Task {
	return Task{
		ID:        id.NewTaskID(),
		Content:   content,
		SessionID: sessionID,
	}
}

// ValidationError reports a required field the caller omitted. Validation
// failures are rejected before any network I/O.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// Validate checks the fields a task must carry before it may be published.
// Whitespace-only values count as missing.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Content) == "" {
		return &ValidationError{Field: "content"}
	}
	if strings.TrimSpace(t.SessionID) == "" {
		return &ValidationError{Field: "session_id"}
	}
	return nil
}
