package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"signal"`

	Gateway struct {
		Nick             string        `yaml:"nick"`
		Prefix           string        `yaml:"prefix"`
		Chatroom         string        `yaml:"chatroom"`
		ListenIP         string        `yaml:"listen_ip"`
		UDPPort          int           `yaml:"udp_port"`
		PipeWindow       int           `yaml:"pipe_window"`
		TimeoutThreshold int           `yaml:"timeout_threshold"`
		TickInterval     time.Duration `yaml:"tick_interval"`
		MediaFreshness   time.Duration `yaml:"media_freshness"`
	} `yaml:"gateway"`

	Presence struct {
		TTL             time.Duration `yaml:"ttl"`
		ReapInterval    time.Duration `yaml:"reap_interval"`
		AnnounceDelay   time.Duration `yaml:"announce_delay"`
		LeaveGrace      time.Duration `yaml:"leave_grace"`
		RecordFreshness time.Duration `yaml:"record_freshness"`
	} `yaml:"presence"`

	Transport struct {
		Kind             string        `yaml:"kind"`
		InterestLifetime time.Duration `yaml:"interest_lifetime"`
		PollInterval     time.Duration `yaml:"poll_interval"`
	} `yaml:"transport"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		Enabled        bool          `yaml:"enabled"`
		JWTSecret      string        `yaml:"jwt_secret"`
		TokenTTL       time.Duration `yaml:"token_ttl"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond   float64 `yaml:"messages_per_second"`
			Burst               int     `yaml:"burst"`
			MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}

	// Gateway
	if c.Gateway.Nick == "" {
		return fmt.Errorf("gateway.nick must not be empty")
	}
	if c.Gateway.Prefix == "" || c.Gateway.Prefix[0] != '/' {
		return fmt.Errorf("gateway.prefix must be an absolute name")
	}
	if c.Gateway.Chatroom == "" {
		return fmt.Errorf("gateway.chatroom must not be empty")
	}
	if c.Gateway.UDPPort < 0 || c.Gateway.UDPPort > 65535 {
		return fmt.Errorf("gateway.udp_port must be within 0..65535")
	}
	if c.Gateway.PipeWindow <= 0 {
		return fmt.Errorf("gateway.pipe_window must be > 0")
	}
	if c.Gateway.TimeoutThreshold < 0 {
		return fmt.Errorf("gateway.timeout_threshold must be >= 0")
	}
	if c.Gateway.TickInterval <= 0 {
		return fmt.Errorf("gateway.tick_interval must be > 0")
	}
	if c.Gateway.MediaFreshness < 0 {
		return fmt.Errorf("gateway.media_freshness must be >= 0")
	}

	// Presence
	if c.Presence.TTL <= 0 {
		return fmt.Errorf("presence.ttl must be > 0")
	}
	if c.Presence.ReapInterval <= 0 {
		return fmt.Errorf("presence.reap_interval must be > 0")
	}
	if c.Presence.AnnounceDelay < 0 || c.Presence.LeaveGrace < 0 {
		return fmt.Errorf("presence.announce_delay and presence.leave_grace must be >= 0")
	}

	// Transport
	switch c.Transport.Kind {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("transport.kind=redis requires redis.enabled=true")
		}
	default:
		return fmt.Errorf("transport.kind must be memory or redis, got %q", c.Transport.Kind)
	}
	if c.Transport.InterestLifetime <= 0 {
		return fmt.Errorf("transport.interest_lifetime must be > 0")
	}
	if c.Transport.PollInterval <= 0 {
		return fmt.Errorf("transport.poll_interval must be > 0")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within 0..1")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
		}
		if c.Auth.TokenTTL <= 0 {
			return fmt.Errorf("auth.token_ttl must be > 0 when auth.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second

	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second

	cfg.Gateway.Nick = "guest"
	cfg.Gateway.Prefix = "/ndn/ccngate"
	cfg.Gateway.Chatroom = "lobby"
	cfg.Gateway.ListenIP = "127.0.0.1"
	cfg.Gateway.UDPPort = 3000
	cfg.Gateway.PipeWindow = 10
	cfg.Gateway.TimeoutThreshold = 0 // falls back to pipe_window
	cfg.Gateway.TickInterval = 10 * time.Millisecond
	cfg.Gateway.MediaFreshness = 5 * time.Second

	cfg.Presence.TTL = 5 * time.Second
	cfg.Presence.ReapInterval = 10 * time.Second
	cfg.Presence.AnnounceDelay = 500 * time.Millisecond
	cfg.Presence.LeaveGrace = 500 * time.Millisecond
	cfg.Presence.RecordFreshness = 10 * time.Second

	cfg.Transport.Kind = "memory"
	cfg.Transport.InterestLifetime = 4 * time.Second
	cfg.Transport.PollInterval = 20 * time.Millisecond

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.Enabled = false
	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.TokenTTL = 12 * time.Hour
	cfg.Auth.AllowedOrigins = []string{"*"}

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	return cfg
}

func (c *Config) applyEnvOverrides() error {
	if addr := os.Getenv("CCNGATE_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if nick := os.Getenv("CCNGATE_NICK"); nick != "" {
		c.Gateway.Nick = nick
	}
	if prefix := os.Getenv("CCNGATE_PREFIX"); prefix != "" {
		c.Gateway.Prefix = prefix
	}
	if room := os.Getenv("CCNGATE_CHATROOM"); room != "" {
		c.Gateway.Chatroom = room
	}
	if port := os.Getenv("CCNGATE_UDP_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("CCNGATE_UDP_PORT: %w", err)
		}
		c.Gateway.UDPPort = p
	}
	if kind := os.Getenv("CCNGATE_TRANSPORT"); kind != "" {
		c.Transport.Kind = kind
	}
	if addr := os.Getenv("CCNGATE_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if level := os.Getenv("CCNGATE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("CCNGATE_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	return nil
}
