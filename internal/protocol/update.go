package protocol

import "fmt"

// Status describes the execution state reported by an executor.
type Status string

const (
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusNeedsInput Status = "needs_input"
	StatusError      Status = "error"
)

// Valid reports whether the status is part of the canonical vocabulary.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusCompleted, StatusNeedsInput, StatusError:
		return true
	}
	return false
}

// Terminal reports whether the status ends the current delegation.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusNeedsInput, StatusError:
		return true
	}
	return false
}

// TaskUpdate is the canonical progress shape every backend adapter
// normalizes executor output into before it reaches the delivery queue.
type TaskUpdate struct {
	Status                 Status         `json:"status"`
	Progress               int            `json:"progress"`
	Message                string         `json:"message"`
	TaskID                 string         `json:"task_id,omitempty"`
	EstimatedTimeRemaining int            `json:"estimated_time_remaining,omitempty"`
	RequiredInput          map[string]any `json:"required_input,omitempty"`
	ErrorDetails           string         `json:"error_details,omitempty"`
}

// UpdateFromEnvelope normalizes an inbound envelope into the canonical
// update shape. It returns false for envelope types that carry no update
// content, and for update envelopes missing their required fields.
func UpdateFromEnvelope(env Envelope) (TaskUpdate, bool) {
	switch {
	case env.IsTaskUpdate():
		if env.Status == "" || env.Message == "" {
			return TaskUpdate{}, false
		}
		status := Status(env.Status)
		if !status.Valid() {
			return TaskUpdate{}, false
		}
		return TaskUpdate{
			Status:                 status,
			Progress:               env.Progress,
			Message:                env.Message,
			TaskID:                 env.TaskID,
			EstimatedTimeRemaining: env.EstimatedTimeRemaining,
			RequiredInput:          env.RequiredInput,
			ErrorDetails:           env.ErrorDetails,
		}, true

	case env.Type == TypeTaskResponse:
		if env.Error != "" {
			return TaskUpdate{Status: StatusError, Message: env.Error, ErrorDetails: env.Error, TaskID: env.TaskID}, true
		}
		if env.Result == "" {
			return TaskUpdate{}, false
		}
		return TaskUpdate{Status: StatusCompleted, Message: env.Result, TaskID: env.TaskID}, true

	case env.Type == TypeResponse:
		if env.Content == "" {
			return TaskUpdate{}, false
		}
		return TaskUpdate{Status: StatusCompleted, Message: env.Content}, true

	case env.Type == TypeError:
		if env.Message == "" {
			return TaskUpdate{}, false
		}
		return TaskUpdate{Status: StatusError, Message: env.Message, ErrorDetails: env.Message}, true
	}
	return TaskUpdate{}, false
}

// VoiceText renders the update as a sentence suitable for a spoken reply.
// Progress is voiced only at 20% multiples to keep running updates short.
func (u TaskUpdate) VoiceText() string {
	switch u.Status {
	case StatusRunning:
		text := u.Message
		if u.Progress > 0 && u.Progress%20 == 0 {
			text += fmt.Sprintf(". Progress is at %d percent.", u.Progress)
		}
		return text
	case StatusNeedsInput:
		return fmt.Sprintf("I need your input: %s", u.Message)
	case StatusCompleted:
		return fmt.Sprintf("Task completed: %s", u.Message)
	case StatusError:
		return fmt.Sprintf("I encountered an error: %s", u.Message)
	}
	return fmt.Sprintf("Update: %s", u.Message)
}
