package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hermes/internal/async"
	"hermes/internal/protocol"
)

// Relay is a pub/sub tunnel through an intermediary relay endpoint that
// routes messages between named participants in a logical room. The voice
// front-end publishes `tasks` envelopes addressed to an executor and
// receives its progress through the same room.
type Relay struct {
	cfg Config

	mu         sync.RWMutex
	conn       *websocket.Conn
	connected  bool
	callback   UpdateFunc
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	writeMu sync.Mutex
}

// NewRelay builds a disconnected relay tunnel.
func NewRelay(cfg Config) *Relay {
	return &Relay{cfg: cfg.withDefaults()}
}

// RoomURL forms the relay endpoint for a logical room keyed by a stable
// session or user identifier. Local hosts use the plain ws scheme.
func RoomURL(host, room string) string {
	scheme := "wss"
	if strings.Contains(host, "localhost") || strings.HasPrefix(host, "127.0.0.1") {
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/parties/main/%s", scheme, host, room)
}

// Connect dials the relay with the configured identity and role appended as
// connection parameters, then starts the receive loop.
func (r *Relay) Connect(ctx context.Context, address string) error {
	u, err := url.Parse(address)
	if err != nil {
		return fmt.Errorf("parse relay address %q: %w", address, err)
	}
	q := u.Query()
	q.Set("id", r.cfg.AgentID)
	q.Set("role", r.cfg.Role)
	u.RawQuery = q.Encode()

	r.mu.Lock()
	if r.conn != nil {
		r.mu.Unlock()
		return errors.New("tunnel is already connected")
	}
	r.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: r.cfg.Timeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial relay %s: %w", u.Host, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	// Re-check under the lock: a concurrent dial may have won the race
	// while this one was in flight.
	r.mu.Lock()
	if r.conn != nil {
		r.mu.Unlock()
		cancel()
		_ = conn.Close()
		return errors.New("tunnel is already connected")
	}
	r.conn = conn
	r.connected = true
	r.loopCancel = cancel
	r.loopDone = done
	r.mu.Unlock()

	async.Go(r.cfg.Logger, "relay-receive", func() {
		r.receiveLoop(loopCtx, conn, done)
	})
	r.cfg.Logger.Info("connected to relay room at %s as %s/%s", u.Host, r.cfg.AgentID, r.cfg.Role)
	return nil
}

// Publish writes a `tasks` envelope addressed to the target executor.
func (r *Relay) Publish(content, target string) bool {
	r.mu.RLock()
	conn := r.conn
	connected := r.connected
	r.mu.RUnlock()

	if conn == nil || !connected {
		r.cfg.Logger.Error("cannot publish: not connected")
		return false
	}

	env := protocol.Envelope{
		Type:    protocol.TypeTasks,
		Content: content,
		Agent:   target,
		Source:  r.cfg.AgentID,
	}
	if err := r.writeEnvelope(conn, env); err != nil {
		r.cfg.Logger.Error("publish failed: %v", err)
		r.mu.Lock()
		r.connected = false
		r.mu.Unlock()
		return false
	}
	r.cfg.Logger.Debug("published task to %s (%d bytes)", target, len(content))
	return true
}

// Subscribe registers the update callback, replacing any previous one.
func (r *Relay) Subscribe(fn UpdateFunc) {
	r.mu.Lock()
	r.callback = fn
	r.mu.Unlock()
}

// Disconnect closes the socket and waits for the receive loop to stop.
// Idempotent; safe to call from a different flow than Connect.
func (r *Relay) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	conn := r.conn
	cancel := r.loopCancel
	done := r.loopDone
	r.conn = nil
	r.connected = false
	r.loopCancel = nil
	r.loopDone = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// IsConnected reports last-known connection health.
func (r *Relay) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

func (r *Relay) receiveLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer func() {
		r.mu.Lock()
		r.connected = false
		r.mu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			r.cfg.Logger.Debug("relay receive loop closed: %v", err)
			return
		}
		r.handleFrame(ctx, data)
	}
}

func (r *Relay) handleFrame(ctx context.Context, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		// One bad frame never takes down the loop.
		r.cfg.Logger.Warn("dropping malformed frame: %v", err)
		return
	}

	switch {
	case env.Type == protocol.TypeTasks:
		// Some relay implementations echo self-published tasks back to
		// the sender; forwarding them would create a feedback loop.
		r.cfg.Logger.Debug("ignoring echoed tasks envelope")
		return
	case env.Type == protocol.TypeConnected:
		r.cfg.Logger.Info("relay confirmed connection: %s", env.ConnectionID)
		return
	}

	update, ok := protocol.UpdateFromEnvelope(env)
	if !ok {
		r.cfg.Logger.Debug("no update content in envelope type %q", env.Type)
		return
	}

	r.mu.RLock()
	callback := r.callback
	r.mu.RUnlock()
	if callback == nil {
		r.cfg.Logger.Warn("no subscriber registered, dropping %s update", update.Status)
		return
	}
	callback(ctx, update)
}

func (r *Relay) writeEnvelope(conn *websocket.Conn, env protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(r.cfg.Timeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
