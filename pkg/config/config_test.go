package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// helper to build a minimal valid config that can be tweaked in tests.
func validBaseConfig() *Config {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 10
	cfg.RateLimiting.HTTP.Burst = 20
	cfg.RateLimiting.HTTP.MaxConcurrent = 5
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 50
	cfg.RateLimiting.WebSocket.Burst = 100
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 65536
	return cfg
}

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got: %v", err)
	}
	if err := validBaseConfig().Validate(); err != nil {
		t.Fatalf("expected base config to be valid, got: %v", err)
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	// Zero out rate limiting values to ensure they are ignored when disabled.
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	cfg.RateLimiting.WebSocket.Burst = 0
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "http rps must be > 0",
			mutate: func(c *Config) { c.RateLimiting.HTTP.RequestsPerSecond = 0 },
		},
		{
			name:   "http burst must be > 0",
			mutate: func(c *Config) { c.RateLimiting.HTTP.Burst = 0 },
		},
		{
			name:   "http max concurrent must be >= 0",
			mutate: func(c *Config) { c.RateLimiting.HTTP.MaxConcurrent = -1 },
		},
		{
			name:   "ws messages per second must be > 0",
			mutate: func(c *Config) { c.RateLimiting.WebSocket.MessagesPerSecond = 0 },
		},
		{
			name:   "ws burst must be > 0",
			mutate: func(c *Config) { c.RateLimiting.WebSocket.Burst = 0 },
		},
		{
			name:   "ws max message size must be >= 0",
			mutate: func(c *Config) { c.RateLimiting.WebSocket.MaxMessageSizeBytes = -1 },
		},
		{
			name:   "pong timeout must exceed ping interval",
			mutate: func(c *Config) { c.Signal.PongTimeout = c.Signal.PingInterval },
		},
		{
			name:   "prefix must be absolute",
			mutate: func(c *Config) { c.Gateway.Prefix = "ndn/chat" },
		},
		{
			name:   "chatroom required",
			mutate: func(c *Config) { c.Gateway.Chatroom = "" },
		},
		{
			name:   "pipe window must be > 0",
			mutate: func(c *Config) { c.Gateway.PipeWindow = 0 },
		},
		{
			name:   "udp port in range",
			mutate: func(c *Config) { c.Gateway.UDPPort = 70000 },
		},
		{
			name:   "presence ttl must be > 0",
			mutate: func(c *Config) { c.Presence.TTL = 0 },
		},
		{
			name:   "unknown transport",
			mutate: func(c *Config) { c.Transport.Kind = "carrier-pigeon" },
		},
		{
			name:   "redis transport needs redis",
			mutate: func(c *Config) { c.Transport.Kind = "redis" },
		},
		{
			name:   "auth needs secret",
			mutate: func(c *Config) { c.Auth.Enabled = true; c.Auth.JWTSecret = "" },
		},
		{
			name:   "tracing sample rate in range",
			mutate: func(c *Config) { c.Tracing.Enabled = true; c.Tracing.SampleRate = 2 },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Gateway.PipeWindow != 10 {
		t.Fatalf("expected default pipe window 10, got %d", cfg.Gateway.PipeWindow)
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	yaml := []byte(`
gateway:
  nick: alice
  prefix: /ndn/edu/ucla
  pipe_window: 4
  tick_interval: 20ms
presence:
  ttl: 3s
`)
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CCNGATE_CHATROOM", "ndnchat")
	t.Setenv("CCNGATE_UDP_PORT", "4000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Gateway.Nick != "alice" || cfg.Gateway.Prefix != "/ndn/edu/ucla" {
		t.Fatalf("identity not loaded: %+v", cfg.Gateway)
	}
	if cfg.Gateway.PipeWindow != 4 || cfg.Gateway.TickInterval != 20*time.Millisecond {
		t.Fatalf("fetch settings not loaded: %+v", cfg.Gateway)
	}
	if cfg.Presence.TTL != 3*time.Second || cfg.Presence.ReapInterval != 10*time.Second {
		t.Fatalf("presence settings not merged with defaults: %+v", cfg.Presence)
	}
	if cfg.Gateway.Chatroom != "ndnchat" || cfg.Gateway.UDPPort != 4000 {
		t.Fatalf("env overrides not applied: %+v", cfg.Gateway)
	}
}

func TestLoad_BadEnvPort(t *testing.T) {
	t.Setenv("CCNGATE_UDP_PORT", "not-a-port")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for malformed CCNGATE_UDP_PORT")
	}
}
