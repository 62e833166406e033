package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope types exchanged over a tunnel connection. Unrecognized types are
// skipped by receive loops so executors can extend the vocabulary without
// breaking older peers.
const (
	// Outbound task envelopes.
	TypeMessage = "message"
	TypeTasks   = "tasks"

	// Inbound progress and result envelopes.
	TypeResponse        = "response"
	TypeTaskUpdate      = "task-update"
	TypeTaskUpdateSnake = "task_update" // legacy spelling, accepted inbound
	TypeTaskResponse    = "task-response"

	// Streaming executor markers.
	TypeComplete  = "complete"
	TypeThinking  = "thinking"
	TypeCancelled = "cancelled"

	// Control envelopes.
	TypeConnected = "connected"
	TypeError     = "error"
)

// PingFrame is the bare keepalive text frame streaming executors send
// outside the JSON vocabulary.
const PingFrame = "ping"

// ErrMissingType reports an envelope without the required type field.
var ErrMissingType = errors.New("envelope is missing required field: type")

// Envelope is the wire unit exchanged over a tunnel: a flat JSON object,
// one websocket text frame per envelope. The struct covers the union of all
// envelope types; which fields are meaningful depends on Type.
type Envelope struct {
	Type string `json:"type"`

	// Task fields (message/tasks, response).
	Content   string `json:"content,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Agent     string `json:"agent,omitempty"`
	Source    string `json:"source,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	// Progress fields (task-update).
	Status                 string         `json:"status,omitempty"`
	Progress               int            `json:"progress,omitempty"`
	Message                string         `json:"message,omitempty"`
	TaskID                 string         `json:"task_id,omitempty"`
	EstimatedTimeRemaining int            `json:"estimated_time_remaining,omitempty"`
	RequiredInput          map[string]any `json:"required_input,omitempty"`
	ErrorDetails           string         `json:"error_details,omitempty"`

	// Final result fields (task-response).
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	// Handshake acknowledgment.
	ConnectionID string `json:"connection_id,omitempty"`
}

// Decode parses a single wire frame into an envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, ErrMissingType
	}
	return env, nil
}

// Encode serializes the envelope as a single-line JSON frame.
func (e Envelope) Encode() ([]byte, error) {
	if e.Type == "" {
		return nil, ErrMissingType
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// IsTaskUpdate reports whether the envelope carries a progress update in
// either accepted spelling.
func (e Envelope) IsTaskUpdate() bool {
	return e.Type == TypeTaskUpdate || e.Type == TypeTaskUpdateSnake
}
