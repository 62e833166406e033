// Package backend implements the executor adapters. Each adapter conforms
// to the tunnel contract and differs only in its session bootstrap and in
// how it normalizes raw executor messages into canonical task updates.
package backend

import (
	"net/http"
	"time"

	"hermes/internal/logging"
	"hermes/internal/registry"
	"hermes/internal/tunnel"
)

// Adapter is a tunnel speaking one executor family's dialect.
type Adapter interface {
	tunnel.Tunnel

	// Name identifies the adapter family in the registry.
	Name() string
}

// Config carries per-session adapter construction parameters.
type Config struct {
	// SessionID scopes published tasks to one conversation. Required by
	// the direct family; the stream family bootstraps its own.
	SessionID string
	// AgentID is the connecting identity.
	AgentID string
	// Role distinguishes participants in a relay room.
	Role string
	// Target is the default executor a relay publish is addressed to.
	Target string
	// Timeout bounds handshakes, bootstrap requests, and writes.
	Timeout time.Duration
	// HTTPClient performs the stream family's session bootstrap.
	// Defaults to a client honoring Timeout.
	HTTPClient *http.Client
	Logger     logging.Logger
}

func (c Config) withDefaults() Config {
	out := c
	if out.AgentID == "" {
		out.AgentID = "voice-agent"
	}
	if out.Role == "" {
		out.Role = "voice"
	}
	if out.Target == "" {
		out.Target = "opencode"
	}
	if out.Timeout <= 0 {
		out.Timeout = 15 * time.Second
	}
	out.Logger = logging.OrNop(out.Logger)
	return out
}

// Registry is the adapter key space: name → lazily invoked constructor.
type Registry = registry.Registry[Config, Adapter]

// Adapter family names.
const (
	FamilyDirect = "direct"
	FamilyStream = "stream"
	FamilyRelay  = "relay"
)

// NewRegistry returns a registry pre-populated with the built-in adapter
// families. Additional families register through the returned value; the
// selection logic never changes.
func NewRegistry() *Registry {
	r := registry.New[Config, Adapter]("backend adapter")
	for name, factory := range map[string]registry.Factory[Config, Adapter]{
		FamilyDirect: func(cfg Config) (Adapter, error) { return newDirect(cfg), nil },
		FamilyStream: func(cfg Config) (Adapter, error) { return newStream(cfg), nil },
		FamilyRelay:  func(cfg Config) (Adapter, error) { return newRelay(cfg), nil },
	} {
		if err := r.Register(name, factory); err != nil {
			// Built-in names are distinct; a failure here is a programming error.
			panic(err)
		}
	}
	return r
}
