package session

import (
	"errors"
	"sync"

	"hermes/internal/protocol"
)

// ConversationState is the conversational engine's current activity. The
// engine owns it; this package only reads it to time update delivery.
type ConversationState int

const (
	StateIdle ConversationState = iota
	StateSpeaking
	StateThinking
)

func (s ConversationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpeaking:
		return "speaking"
	case StateThinking:
		return "thinking"
	}
	return "unknown"
}

// Busy reports whether update delivery must be deferred.
func (s ConversationState) Busy() bool {
	return s == StateSpeaking || s == StateThinking
}

// StateProvider exposes the conversational engine's current state.
type StateProvider interface {
	ConversationState() ConversationState
}

// TaskPhase is the execution state of delegated work within a session.
// One task is in flight at a time; the phase guard makes that explicit
// instead of relying on prompt instructions.
type TaskPhase int

const (
	// PhaseAwaiting: no task in flight, delegation accepted.
	PhaseAwaiting TaskPhase = iota
	// PhaseExecuting: the executor is working; new delegation is rejected.
	PhaseExecuting
	// PhaseCompleted: the task finished (successfully or with an error).
	PhaseCompleted
	// PhaseBlocked: the executor is waiting for user input.
	PhaseBlocked
	// PhaseUpdating: a pending update is being voiced to the user.
	PhaseUpdating
)

func (p TaskPhase) String() string {
	switch p {
	case PhaseAwaiting:
		return "awaiting"
	case PhaseExecuting:
		return "executing"
	case PhaseCompleted:
		return "completed"
	case PhaseBlocked:
		return "blocked"
	case PhaseUpdating:
		return "updating"
	}
	return "unknown"
}

// ErrTaskInProgress rejects a delegation while one is already executing.
var ErrTaskInProgress = errors.New("a delegated task is already in progress")

// TaskTracker guards the task-execution state machine:
// awaiting → executing → completed|blocked → updating → awaiting.
type TaskTracker struct {
	mu    sync.Mutex
	phase TaskPhase
}

// Phase returns the current phase.
func (t *TaskTracker) Phase() TaskPhase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// BeginDelegation transitions to executing. It fails with
// ErrTaskInProgress when a task is already executing, preventing duplicate
// delegation of in-flight work.
func (t *TaskTracker) BeginDelegation() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase == PhaseExecuting {
		return ErrTaskInProgress
	}
	t.phase = PhaseExecuting
	return nil
}

// AbortDelegation rolls back a delegation whose publish failed before the
// executor saw it.
func (t *TaskTracker) AbortDelegation() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase == PhaseExecuting {
		t.phase = PhaseAwaiting
	}
}

// ApplyUpdate advances the phase based on an executor status report.
func (t *TaskTracker) ApplyUpdate(status protocol.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch status {
	case protocol.StatusRunning:
		// Still executing; nothing to advance.
	case protocol.StatusNeedsInput:
		t.phase = PhaseBlocked
	case protocol.StatusCompleted, protocol.StatusError:
		t.phase = PhaseCompleted
	}
}

// BeginDelivery marks a dequeued update as being voiced to the user.
func (t *TaskTracker) BeginDelivery() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase == PhaseCompleted {
		t.phase = PhaseUpdating
	}
}

// FinishDelivery returns the machine to awaiting once the update has been
// voiced without interruption.
func (t *TaskTracker) FinishDelivery() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase == PhaseUpdating {
		t.phase = PhaseAwaiting
	}
}
