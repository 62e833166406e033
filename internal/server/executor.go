// Package server hosts the executor-facing side of the tunnel: a gin
// engine with one WebSocket endpoint, a connection manager binding the
// inbound connection to an executor instance, and prometheus metrics.
package server

import (
	"context"
	"fmt"

	"hermes/internal/protocol"
)

// Executor runs delegated tasks on behalf of one connected client. A fresh
// instance is built per connection; implementations report progress by
// writing envelopes through the sender installed with SetSender.
type Executor interface {
	Initialize(ctx context.Context) error
	RunTask(ctx context.Context, content, sessionID string) error
	Cleanup(ctx context.Context) error
	SetSender(send func(protocol.Envelope) error)
}

// ExecutorFactory builds an executor for a newly connected user.
type ExecutorFactory func(userID string) (Executor, error)

// AckExecutor acknowledges every task with a running update followed by a
// completed response. It is the default factory target, keeping the server
// runnable end to end without a real computer-use backend attached.
type AckExecutor struct {
	userID string
	send   func(protocol.Envelope) error
}

// NewAckExecutor builds an acknowledging executor for userID.
func NewAckExecutor(userID string) *AckExecutor {
	return &AckExecutor{userID: userID}
}

func (e *AckExecutor) Initialize(context.Context) error { return nil }

func (e *AckExecutor) SetSender(send func(protocol.Envelope) error) {
	e.send = send
}

func (e *AckExecutor) RunTask(_ context.Context, content, sessionID string) error {
	if e.send == nil {
		return fmt.Errorf("no sender installed")
	}
	if err := e.send(protocol.Envelope{
		Type:      protocol.TypeTaskUpdate,
		Status:    string(protocol.StatusRunning),
		Message:   "Accepted: " + content,
		SessionID: sessionID,
	}); err != nil {
		return err
	}
	return e.send(protocol.Envelope{
		Type:      protocol.TypeTaskResponse,
		Result:    "Acknowledged: " + content,
		SessionID: sessionID,
	})
}

func (e *AckExecutor) Cleanup(context.Context) error { return nil }
