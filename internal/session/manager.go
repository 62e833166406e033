package session

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"hermes/internal/backend"
	"hermes/internal/logging"
)

// ManagerConfig tunes the session manager. Zero values get sensible
// defaults so callers only set what they care about.
type ManagerConfig struct {
	// AgentID and Role identify the conversational side on every tunnel
	// this manager opens.
	AgentID string
	Role    string
	// Target is the default executor name for relay-backed sessions.
	Target  string
	Timeout time.Duration
	// MaxSessions bounds live sessions; the least recently used session is
	// disconnected when the bound is exceeded.
	MaxSessions int
	Backends    *backend.Registry
	Tiers       *TierRegistry
	Logger      logging.Logger
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 32
	}
	if c.Backends == nil {
		c.Backends = backend.NewRegistry()
	}
	if c.Tiers == nil {
		c.Tiers = NewTierRegistry()
	}
	c.Logger = logging.OrNop(c.Logger)
	return c
}

// Manager owns the live sessions of one conversational process. Sessions
// are created on first use and bounded by an LRU cache whose eviction hook
// tears the victim's tunnel down.
type Manager struct {
	cfg   ManagerConfig
	mu    sync.Mutex
	cache *lru.Cache[string, *Session]
}

// NewManager builds a manager with the given configuration.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	cfg = cfg.withDefaults()
	m := &Manager{cfg: cfg}
	cache, err := lru.NewWithEvict(cfg.MaxSessions, func(id string, s *Session) {
		cfg.Logger.Info("evicting session %s", id)
		if err := s.Close(context.Background()); err != nil {
			cfg.Logger.Warn("close of evicted session %s: %v", id, err)
		}
	})
	if err != nil {
		return nil, err
	}
	m.cache = cache
	return m, nil
}

// GetOrCreate returns the session for opts.SessionID, constructing and
// connecting it on first use. Creation is serialized so concurrent callers
// for the same id share one session.
func (m *Manager) GetOrCreate(ctx context.Context, opts Options) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.cache.Get(opts.SessionID); ok {
		return s, nil
	}

	name := opts.Tier
	if name == "" {
		name = TierGenin
	}
	tier, err := m.cfg.Tiers.Create(name, opts)
	if err != nil {
		return nil, err
	}
	adapter, err := m.cfg.Backends.Create(tier.Backend, backend.Config{
		SessionID: opts.SessionID,
		AgentID:   m.cfg.AgentID,
		Role:      m.cfg.Role,
		Target:    m.cfg.Target,
		Timeout:   m.cfg.Timeout,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	s := New(opts, tier, adapter)
	if opts.Address != "" {
		if err := s.Connect(ctx, opts.Address); err != nil {
			return nil, err
		}
	}
	m.cache.Add(opts.SessionID, s)
	return s, nil
}

// Get returns a live session without creating one.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Get(id)
}

// Remove disconnects and forgets one session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Remove(id)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len()
}

// Close disconnects every live session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Purge()
}
