package backend

import (
	"hermes/internal/tunnel"
)

// RelayBackend reaches fully remote executors through a relay room. The
// tunnel already speaks the canonical vocabulary, so the adapter only
// supplies the default target.
type RelayBackend struct {
	*tunnel.Relay
	target string
}

func newRelay(cfg Config) *RelayBackend {
	cfg = cfg.withDefaults()
	return &RelayBackend{
		Relay: tunnel.NewRelay(tunnel.Config{
			AgentID: cfg.AgentID,
			Role:    cfg.Role,
			Timeout: cfg.Timeout,
			Logger:  cfg.Logger,
		}),
		target: cfg.Target,
	}
}

func (a *RelayBackend) Name() string { return FamilyRelay }

// Publish addresses the configured default executor when the caller leaves
// the target empty.
func (a *RelayBackend) Publish(content, target string) bool {
	if target == "" {
		target = a.target
	}
	return a.Relay.Publish(content, target)
}
