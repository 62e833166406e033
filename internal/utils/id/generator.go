package id

import (
	"fmt"

	"github.com/google/uuid"
)

// NewSessionID generates a new session identifier with a stable prefix for display.
func NewSessionID() string {
	return newIdentifier("session")
}

// NewTaskID generates a new task identifier with a stable prefix for display.
func NewTaskID() string {
	return newIdentifier("task")
}

// NewConnectionID generates an identifier for an accepted tunnel connection.
func NewConnectionID() string {
	return newIdentifier("conn")
}

// newIdentifier prefers time-ordered UUIDv7 so identifiers sort by creation
// time; it falls back to random v4 when the clock source is unavailable.
func newIdentifier(prefix string) string {
	body, err := uuid.NewV7()
	if err != nil {
		body = uuid.New()
	}
	return fmt.Sprintf("%s-%s", prefix, body.String())
}
