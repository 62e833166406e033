package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hermes/internal/async"
	"hermes/internal/logging"
	"hermes/internal/protocol"
	"hermes/internal/utils/id"
)

// ErrAlreadyBound rejects a second concurrent connection. The server hosts
// exactly one executor at a time; a new client must wait for the bound one
// to disconnect.
var ErrAlreadyBound = errors.New("another connection is already bound")

const cleanupTimeout = 10 * time.Second

// ConnectionManager binds one inbound WebSocket connection to one executor
// instance and routes frames between them.
type ConnectionManager struct {
	factory ExecutorFactory
	logger  logging.Logger
	metrics *metrics

	mu           sync.Mutex
	conn         *websocket.Conn
	executor     Executor
	connectionID string
	userID       string

	writeMu sync.Mutex
}

// NewConnectionManager builds a manager creating executors with factory.
func NewConnectionManager(factory ExecutorFactory, logger logging.Logger) *ConnectionManager {
	return newConnectionManager(factory, logger, newMetrics())
}

func newConnectionManager(factory ExecutorFactory, logger logging.Logger, metrics *metrics) *ConnectionManager {
	return &ConnectionManager{
		factory: factory,
		logger:  logging.OrNop(logger),
		metrics: metrics,
	}
}

// Bind accepts conn as the server's single client: it builds and
// initializes a fresh executor, installs the send path, and acknowledges
// with a connected envelope carrying the connection ID.
func (m *ConnectionManager) Bind(ctx context.Context, conn *websocket.Conn, userID string) (string, error) {
	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		return "", ErrAlreadyBound
	}
	m.conn = conn
	m.userID = userID
	m.connectionID = id.NewConnectionID()
	connectionID := m.connectionID
	m.mu.Unlock()

	executor, err := m.factory(userID)
	if err == nil {
		err = executor.Initialize(ctx)
	}
	if err != nil {
		m.logger.Error("executor init for %s failed: %v", userID, err)
		m.reset()
		return "", err
	}
	executor.SetSender(m.Send)

	m.mu.Lock()
	m.executor = executor
	m.mu.Unlock()

	if err := m.Send(protocol.Envelope{Type: protocol.TypeConnected, ConnectionID: connectionID}); err != nil {
		m.reset()
		return "", err
	}

	m.metrics.connectionsTotal.Inc()
	m.metrics.connectionsActive.Inc()
	m.logger.Info("client connected: %s (%s)", userID, connectionID)
	return connectionID, nil
}

// HandleFrame processes one inbound frame. Malformed frames and task
// frames without a session ID get an error envelope back rather than
// silence.
func (m *ConnectionManager) HandleFrame(ctx context.Context, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		m.logger.Warn("dropping malformed frame: %v", err)
		m.sendError("", "invalid message")
		return
	}

	switch env.Type {
	case protocol.TypeMessage, protocol.TypeTasks:
		m.runTask(ctx, env)
	default:
		m.logger.Debug("ignoring frame type %q", env.Type)
	}
}

func (m *ConnectionManager) runTask(ctx context.Context, env protocol.Envelope) {
	if env.SessionID == "" {
		m.logger.Error("session id missing in %s frame; cannot process task", env.Type)
		m.sendError("", "Session ID is required")
		return
	}

	m.mu.Lock()
	executor := m.executor
	m.mu.Unlock()
	if executor == nil {
		m.sendError(env.SessionID, "no executor bound")
		return
	}

	m.metrics.tasksTotal.Inc()
	// Tasks run off the read loop so keepalives stay responsive during
	// long executions.
	async.Go(m.logger, "run-task", func() {
		if err := executor.RunTask(ctx, env.Content, env.SessionID); err != nil {
			m.logger.Error("task execution failed: %v", err)
			m.sendError(env.SessionID, err.Error())
		}
	})
}

// Send writes one envelope to the bound client. Executors use it as their
// sender; writes are serialized.
func (m *ConnectionManager) Send(env protocol.Envelope) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return errors.New("no active connection")
	}

	data, err := env.Encode()
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Unbind releases the connection's resources. Executor cleanup runs
// fire-and-forget so the next client is not blocked behind it.
func (m *ConnectionManager) Unbind() {
	m.mu.Lock()
	executor := m.executor
	connectionID := m.connectionID
	userID := m.userID
	bound := m.conn != nil
	m.conn = nil
	m.executor = nil
	m.connectionID = ""
	m.userID = ""
	m.mu.Unlock()

	if !bound {
		return
	}
	if executor != nil {
		async.Go(m.logger, "executor-cleanup", func() {
			ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
			defer cancel()
			if err := executor.Cleanup(ctx); err != nil {
				m.logger.Warn("executor cleanup failed: %v", err)
			}
		})
	}
	m.metrics.connectionsActive.Dec()
	m.logger.Info("client disconnected: %s (%s)", userID, connectionID)
}

// ConnectionCount reports bound connections, at most one.
func (m *ConnectionManager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		return 1
	}
	return 0
}

func (m *ConnectionManager) sendError(sessionID, message string) {
	m.metrics.errorsTotal.Inc()
	err := m.Send(protocol.Envelope{
		Type:      protocol.TypeError,
		Message:   message,
		SessionID: sessionID,
	})
	if err != nil {
		m.logger.Error("failed to send error envelope: %v", err)
	}
}

func (m *ConnectionManager) reset() {
	m.mu.Lock()
	m.conn = nil
	m.executor = nil
	m.connectionID = ""
	m.userID = ""
	m.mu.Unlock()
}
