// Package session owns the conversational side of task delegation: one
// adapter, one delivery queue, and one task-execution state machine per
// conversation, plus the tier registry and the bounded session manager.
package session

import (
	"context"
	"errors"

	"hermes/internal/backend"
	"hermes/internal/logging"
	"hermes/internal/protocol"
)

// ErrExecutorUnreachable reports a publish that failed because the
// connection is down. The conversational layer should tell the user the
// executor is unreachable rather than retry silently.
var ErrExecutorUnreachable = errors.New("executor is unreachable")

// Options carries per-session construction context.
type Options struct {
	SessionID string
	Tier      string
	// Address of the executor or relay endpoint this session connects to.
	Address string
	States  StateProvider
	Speaker Speaker
	Logger  logging.Logger
}

// Session binds one conversation to one backend executor. The adapter is
// chosen once at session start.
type Session struct {
	id      string
	tier    Tier
	adapter backend.Adapter
	queue   *DeliveryQueue
	tracker TaskTracker
	logger  logging.Logger
}

// New wires a session around an already constructed adapter and registers
// the update path: adapter → tracker → delivery queue.
func New(opts Options, tier Tier, adapter backend.Adapter) *Session {
	s := &Session{
		id:      opts.SessionID,
		tier:    tier,
		adapter: adapter,
		queue:   NewDeliveryQueue(opts.States, opts.Speaker, opts.Logger),
		logger:  logging.OrNop(opts.Logger),
	}
	adapter.Subscribe(s.onUpdate)
	return s
}

func (s *Session) ID() string       { return s.id }
func (s *Session) Tier() Tier       { return s.tier }
func (s *Session) Phase() TaskPhase { return s.tracker.Phase() }

// PendingUpdates returns the number of updates waiting for a turn boundary.
func (s *Session) PendingUpdates() int { return s.queue.Len() }

// Connect opens the session's tunnel.
func (s *Session) Connect(ctx context.Context, address string) error {
	return s.adapter.Connect(ctx, address)
}

// Connected reports last-known tunnel health.
func (s *Session) Connected() bool { return s.adapter.IsConnected() }

// Delegate publishes one task to the session's executor. Validation happens
// before any network I/O, and the phase guard rejects a second delegation
// while one is executing.
func (s *Session) Delegate(content string) (protocol.Task, error) {
	task := protocol.NewTask(content, s.id)
	if err := task.Validate(); err != nil {
		return protocol.Task{}, err
	}
	if err := s.tracker.BeginDelegation(); err != nil {
		return protocol.Task{}, err
	}
	if !s.adapter.Publish(content, "") {
		s.tracker.AbortDelegation()
		return protocol.Task{}, ErrExecutorUnreachable
	}
	s.logger.Info("delegated task %s", task.ID)
	return task, nil
}

// OnTurnCompleted surfaces at most one pending update at the user-turn
// boundary, as additional context for that turn's reply.
func (s *Session) OnTurnCompleted() (string, bool) {
	text, ok := s.queue.NextForTurn()
	if ok {
		s.tracker.BeginDelivery()
	}
	return text, ok
}

// ConfirmDelivery acknowledges that the surfaced update was voiced without
// interruption, returning the task machine to awaiting.
func (s *Session) ConfirmDelivery() {
	s.tracker.FinishDelivery()
}

// Close disconnects the session's tunnel. The session is not reusable
// afterwards.
func (s *Session) Close(ctx context.Context) error {
	return s.adapter.Disconnect(ctx)
}

func (s *Session) onUpdate(ctx context.Context, update protocol.TaskUpdate) {
	s.tracker.ApplyUpdate(update.Status)
	s.queue.Offer(ctx, update.VoiceText())
}
