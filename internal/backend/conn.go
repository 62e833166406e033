package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hermes/internal/async"
	"hermes/internal/logging"
	"hermes/internal/protocol"
	"hermes/internal/tunnel"
)

// wsConn owns the websocket plumbing shared by the direct and stream
// adapters: one socket, one background receive loop, one subscriber
// callback. Adapters supply the per-family frame handler.
type wsConn struct {
	logger  logging.Logger
	timeout time.Duration

	mu         sync.RWMutex
	conn       *websocket.Conn
	connected  bool
	callback   tunnel.UpdateFunc
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	writeMu sync.Mutex
}

// dial establishes the socket and starts the receive loop. onFrame is
// invoked for every raw frame; loopName labels the goroutine in panic
// reports.
func (c *wsConn) dial(ctx context.Context, rawURL, loopName string, onFrame func(ctx context.Context, data []byte)) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return errors.New("adapter is already connected")
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.timeout}
	conn, _, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", rawURL, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	// Re-check under the lock: a concurrent dial may have won the race
	// while this one was in flight.
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		return errors.New("adapter is already connected")
	}
	c.conn = conn
	c.connected = true
	c.loopCancel = cancel
	c.loopDone = done
	c.mu.Unlock()

	async.Go(c.logger, loopName, func() {
		defer close(done)
		defer c.markDisconnected()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.logger.Debug("receive loop closed: %v", err)
				return
			}
			onFrame(loopCtx, data)
		}
	})
	return nil
}

func (c *wsConn) subscribe(fn tunnel.UpdateFunc) {
	c.mu.Lock()
	c.callback = fn
	c.mu.Unlock()
}

// forward hands a canonical update to the subscriber, if any.
func (c *wsConn) forward(ctx context.Context, update protocol.TaskUpdate) {
	c.mu.RLock()
	callback := c.callback
	c.mu.RUnlock()
	if callback == nil {
		c.logger.Warn("no subscriber registered, dropping %s update", update.Status)
		return
	}
	callback(ctx, update)
}

// writeEnvelope serializes and writes one frame under the write lock.
func (c *wsConn) writeEnvelope(env protocol.Envelope) error {
	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()
	if conn == nil || !connected {
		return tunnel.ErrNotConnected
	}

	data, err := env.Encode()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// pong answers a keepalive probe from the executor.
func (c *wsConn) pong() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return
	}
	_ = conn.WriteControl(websocket.PongMessage, []byte("pong"), time.Now().Add(c.timeout))
}

func (c *wsConn) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *wsConn) isConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// disconnect tears down the socket and waits for the receive loop to stop
// so no dangling reader writes into a half-torn-down callback.
func (c *wsConn) disconnect(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	cancel := c.loopCancel
	done := c.loopDone
	c.conn = nil
	c.connected = false
	c.loopCancel = nil
	c.loopDone = nil
	c.mu.Unlock()

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
