package tunnel

import (
	"context"
	"errors"
	"strings"
	"time"

	"hermes/internal/logging"
	"hermes/internal/protocol"
)

// ErrNotConnected reports an operation on a tunnel without a live connection.
var ErrNotConnected = errors.New("tunnel is not connected")

// UpdateFunc receives canonical task updates from a tunnel's receive loop.
// Callbacks run synchronously on the loop goroutine so slow consumers apply
// backpressure to the socket; the context is cancelled when the tunnel
// disconnects.
type UpdateFunc func(ctx context.Context, update protocol.TaskUpdate)

// Tunnel is a single bidirectional pub/sub connection to an executor or
// relay. Implementations are single-use: after Disconnect a fresh value is
// required to connect again.
type Tunnel interface {
	// Connect establishes the underlying socket and starts exactly one
	// background receive loop. It does not retry on failure.
	Connect(ctx context.Context, address string) error

	// Publish serializes a task envelope and writes it. It reports false,
	// never an error, on a closed connection or write failure; a failed
	// write also flips the connection state to disconnected. Publish sits
	// on a user-facing path, so it degrades instead of crashing.
	Publish(content, target string) bool

	// Subscribe registers the single callback invoked with normalized
	// updates. Replacing the callback silently discards the old one.
	Subscribe(fn UpdateFunc)

	// Disconnect closes the socket, cancels the receive loop, and waits
	// for it to stop. Safe to call multiple times.
	Disconnect(ctx context.Context) error

	// IsConnected reflects last-known connection health. It is a hint,
	// not a guarantee: the peer may have closed silently since the last
	// read.
	IsConnected() bool
}

// Config carries the identity and timing parameters shared by tunnel
// implementations.
type Config struct {
	// AgentID is the connecting identity appended to the handshake URL.
	AgentID string
	// Role distinguishes participants within a relay room.
	Role string
	// Timeout bounds the websocket handshake and each write.
	Timeout time.Duration
	Logger  logging.Logger
}

func (c Config) withDefaults() Config {
	out := c
	out.AgentID = strings.TrimSpace(out.AgentID)
	if out.AgentID == "" {
		out.AgentID = "voice-agent"
	}
	if out.Role == "" {
		out.Role = "voice"
	}
	if out.Timeout <= 0 {
		out.Timeout = 15 * time.Second
	}
	out.Logger = logging.OrNop(out.Logger)
	return out
}
