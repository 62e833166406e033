// Package config resolves the process-wide runtime configuration from
// defaults and HERMES_* environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// EnvLookup resolves one environment key. Tests inject map-backed
// lookups instead of mutating the process environment.
type EnvLookup func(key string) (string, bool)

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// RuntimeConfig is the resolved configuration shared by the CLI commands.
type RuntimeConfig struct {
	// AgentID and Role identify this process on every tunnel it opens.
	AgentID string
	Role    string
	// Tier names the default conversational tier for new sessions.
	Tier string
	// RelayHost is the relay room host for relay-backed sessions.
	RelayHost string
	// ExecutorURL is the direct/stream executor endpoint.
	ExecutorURL string
	// Target is the executor name addressed through the relay.
	Target      string
	Timeout     time.Duration
	MaxSessions int

	// Server side.
	ServerHost string
	ServerPort int

	LogLevel  string
	LogFormat string
}

// Default returns the built-in configuration.
func Default() RuntimeConfig {
	return RuntimeConfig{
		AgentID:     "voice-agent",
		Role:        "voice",
		Tier:        "genin",
		RelayHost:   "localhost:1999",
		ExecutorURL: "ws://localhost:8080/ws",
		Target:      "opencode",
		Timeout:     15 * time.Second,
		MaxSessions: 32,
		ServerHost:  "localhost",
		ServerPort:  8080,
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// Load resolves the runtime configuration: defaults overridden by any
// HERMES_* environment variables present in lookup.
func Load(lookup EnvLookup) RuntimeConfig {
	if lookup == nil {
		lookup = DefaultEnvLookup
	}
	cfg := Default()

	setString(lookup, "HERMES_AGENT_ID", &cfg.AgentID)
	setString(lookup, "HERMES_ROLE", &cfg.Role)
	setString(lookup, "HERMES_TIER", &cfg.Tier)
	setString(lookup, "HERMES_RELAY_HOST", &cfg.RelayHost)
	setString(lookup, "HERMES_EXECUTOR_URL", &cfg.ExecutorURL)
	setString(lookup, "HERMES_TARGET", &cfg.Target)
	setDuration(lookup, "HERMES_TIMEOUT", &cfg.Timeout)
	setInt(lookup, "HERMES_MAX_SESSIONS", &cfg.MaxSessions)
	setString(lookup, "HERMES_HOST", &cfg.ServerHost)
	setInt(lookup, "HERMES_PORT", &cfg.ServerPort)
	setString(lookup, "HERMES_LOG_LEVEL", &cfg.LogLevel)
	setString(lookup, "HERMES_LOG_FORMAT", &cfg.LogFormat)

	return cfg
}

func setString(lookup EnvLookup, key string, dst *string) {
	if value, ok := lookup(key); ok && value != "" {
		*dst = value
	}
}

func setInt(lookup EnvLookup, key string, dst *int) {
	value, ok := lookup(key)
	if !ok || value == "" {
		return
	}
	if parsed, err := strconv.Atoi(value); err == nil {
		*dst = parsed
	}
}

func setDuration(lookup EnvLookup, key string, dst *time.Duration) {
	value, ok := lookup(key)
	if !ok || value == "" {
		return
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		*dst = parsed
	}
}
