package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hermes/internal/protocol"
	"hermes/internal/tunnel"
)

// Stream speaks to streaming executors that sit behind an HTTP session
// bootstrap: partial `response` chunks accumulate across frames and flush
// only when the executor emits a terminal `complete` marker.
type Stream struct {
	cfg Config
	ws  wsConn

	// sessionID is assigned during bootstrap, before the socket opens.
	sessionID string
	// buf accumulates streaming chunks. Only the receive loop touches it.
	buf strings.Builder
}

func newStream(cfg Config) *Stream {
	cfg = cfg.withDefaults()
	return &Stream{
		cfg: cfg,
		ws:  wsConn{logger: cfg.Logger, timeout: cfg.Timeout},
	}
}

func (s *Stream) Name() string { return FamilyStream }

// SessionID returns the executor-side session identifier established during
// bootstrap.
func (s *Stream) SessionID() string { return s.sessionID }

// Connect performs the HTTP session bootstrap and then opens the socket.
func (s *Stream) Connect(ctx context.Context, address string) error {
	sessionID, err := s.bootstrap(ctx, address)
	if err != nil {
		return err
	}
	s.sessionID = sessionID

	if err := s.ws.dial(ctx, address, "stream-receive", s.handleFrame); err != nil {
		return err
	}
	s.cfg.Logger.Info("connected to streaming executor, session %s", sessionID)
	return nil
}

// bootstrap creates a server-side session by requesting the executor's base
// URL and reading the session identifier off the redirect target. When the
// redirect shape is unexpected it falls back to a locally generated
// timestamp identifier, matching the executor's CLI session format.
func (s *Stream) bootstrap(ctx context.Context, address string) (string, error) {
	base, err := httpBaseURL(address)
	if err != nil {
		return "", err
	}

	client := s.cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: s.cfg.Timeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/", nil)
	if err != nil {
		return "", fmt.Errorf("build bootstrap request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("session bootstrap against %s: %w", base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	finalPath := resp.Request.URL.Path
	if idx := strings.LastIndex(finalPath, "/session/"); idx >= 0 {
		if id := finalPath[idx+len("/session/"):]; id != "" {
			return id, nil
		}
	}

	fallback := time.Now().Format("20060102_150405")
	s.cfg.Logger.Warn("bootstrap redirect carried no session id, using generated id %s", fallback)
	return fallback, nil
}

// Publish writes a `message` envelope carrying the bootstrapped session.
func (s *Stream) Publish(content, _ string) bool {
	if s.sessionID == "" {
		s.cfg.Logger.Error("cannot publish: session not bootstrapped")
		return false
	}
	env := protocol.Envelope{
		Type:      protocol.TypeMessage,
		Content:   content,
		SessionID: s.sessionID,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := s.ws.writeEnvelope(env); err != nil {
		s.cfg.Logger.Error("publish failed: %v", err)
		s.ws.markDisconnected()
		return false
	}
	return true
}

func (s *Stream) Subscribe(fn tunnel.UpdateFunc) { s.ws.subscribe(fn) }

func (s *Stream) Disconnect(ctx context.Context) error {
	err := s.ws.disconnect(ctx)
	s.cfg.Logger.Info("disconnected from streaming executor")
	return err
}

func (s *Stream) IsConnected() bool { return s.ws.isConnected() }

func (s *Stream) handleFrame(ctx context.Context, data []byte) {
	if string(data) == protocol.PingFrame {
		s.ws.pong()
		return
	}

	env, err := protocol.Decode(data)
	if err != nil {
		s.cfg.Logger.Warn("dropping malformed frame: %v", err)
		return
	}

	switch env.Type {
	case protocol.TypeResponse:
		// Partial chunk; hold until the terminal marker.
		s.buf.WriteString(env.Content)

	case protocol.TypeComplete:
		if s.buf.Len() == 0 {
			return
		}
		s.ws.forward(ctx, protocol.TaskUpdate{
			Status:  protocol.StatusCompleted,
			Message: s.buf.String(),
		})
		s.buf.Reset()

	case protocol.TypeError:
		s.buf.Reset()
		if env.Message == "" {
			return
		}
		s.ws.forward(ctx, protocol.TaskUpdate{
			Status:       protocol.StatusError,
			Message:      env.Message,
			ErrorDetails: env.Message,
		})

	case protocol.TypeCancelled:
		s.cfg.Logger.Info("executor cancelled the running task")
		s.buf.Reset()

	case protocol.TypeThinking:
		s.cfg.Logger.Debug("executor is thinking")

	default:
		s.cfg.Logger.Debug("ignoring envelope type %q", env.Type)
	}
}

// httpBaseURL derives the executor's HTTP origin from its websocket URL.
func httpBaseURL(address string) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("parse executor address %q: %w", address, err)
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	}
	return u.Scheme + "://" + u.Host, nil
}
