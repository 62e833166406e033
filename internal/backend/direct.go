package backend

import (
	"context"
	"fmt"
	"net/url"

	"hermes/internal/protocol"
	"hermes/internal/tunnel"
)

// Direct speaks to single-shot executors: each task goes out as one
// `message` envelope and every inbound envelope already carries a complete
// update, so normalization needs no buffering.
type Direct struct {
	cfg Config
	ws  wsConn
}

func newDirect(cfg Config) *Direct {
	cfg = cfg.withDefaults()
	return &Direct{
		cfg: cfg,
		ws:  wsConn{logger: cfg.Logger, timeout: cfg.Timeout},
	}
}

func (d *Direct) Name() string { return FamilyDirect }

// Connect dials the executor with the connecting identity appended as a
// user_id parameter.
func (d *Direct) Connect(ctx context.Context, address string) error {
	u, err := url.Parse(address)
	if err != nil {
		return fmt.Errorf("parse executor address %q: %w", address, err)
	}
	q := u.Query()
	q.Set("user_id", d.cfg.AgentID)
	u.RawQuery = q.Encode()

	if err := d.ws.dial(ctx, u.String(), "direct-receive", d.handleFrame); err != nil {
		return err
	}
	d.cfg.Logger.Info("connected to executor at %s", u.Host)
	return nil
}

// Publish writes a `message` envelope scoped to the configured session.
func (d *Direct) Publish(content, _ string) bool {
	if d.cfg.SessionID == "" {
		d.cfg.Logger.Error("cannot publish: no session id configured")
		return false
	}
	env := protocol.Envelope{
		Type:      protocol.TypeMessage,
		Content:   content,
		SessionID: d.cfg.SessionID,
	}
	if err := d.ws.writeEnvelope(env); err != nil {
		d.cfg.Logger.Error("publish failed: %v", err)
		d.ws.markDisconnected()
		return false
	}
	return true
}

func (d *Direct) Subscribe(fn tunnel.UpdateFunc) { d.ws.subscribe(fn) }

func (d *Direct) Disconnect(ctx context.Context) error {
	err := d.ws.disconnect(ctx)
	d.cfg.Logger.Info("disconnected from executor")
	return err
}

func (d *Direct) IsConnected() bool { return d.ws.isConnected() }

func (d *Direct) handleFrame(ctx context.Context, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		d.cfg.Logger.Warn("dropping malformed frame: %v", err)
		return
	}

	update, ok := protocol.UpdateFromEnvelope(env)
	if !ok {
		d.cfg.Logger.Debug("no update content in envelope type %q", env.Type)
		return
	}
	d.ws.forward(ctx, update)
}
