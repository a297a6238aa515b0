package config

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents relay configuration. It is loaded once at startup and
// value-copied into every component that needs it; nothing mutates it after
// load.
type Config struct {
	// Proxy holds the addressing the relay exposes and targets.
	Proxy ProxyConfig `yaml:"proxy"`

	// Relay holds tick-loop and per-connection tuning.
	Relay RelayConfig `yaml:"relay"`

	// Metrics holds the metrics/health endpoint configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Redis holds the optional relay-announcement store.
	Redis RedisConfig `yaml:"redis"`

	// Tracing holds the optional tracing exporter configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// LogLevel is the zap log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

// ProxyConfig represents the externally visible and backend addressing.
type ProxyConfig struct {
	// ExternalIP is the IP clients are told to reconnect to. It is written
	// into intercepted login-response and redirect packets.
	ExternalIP string `yaml:"external_ip"`

	// ExternalAuthPort is the port the well-known auth listener is exposed
	// on.
	ExternalAuthPort uint16 `yaml:"external_auth_port"`

	// RakNetIP is the IP of the backend speaking RakNet.
	RakNetIP string `yaml:"raknet_ip"`

	// RakNetAuthPort is the auth port of the RakNet backend.
	RakNetAuthPort uint16 `yaml:"raknet_auth_port"`

	// BindTo is the local host listeners bind on. The port of each listen
	// address is kept; only the host is overridden.
	BindTo string `yaml:"bind_to"`
}

// RelayConfig represents tick-loop and connection tuning.
type RelayConfig struct {
	// TickInterval is the pause between orchestration ticks.
	TickInterval time.Duration `yaml:"tick_interval"`

	// PollWait is how long a single per-tick socket poll may wait for data.
	PollWait time.Duration `yaml:"poll_wait"`

	// MaxMessageSize bounds a decoded stream message. The length prefix is
	// peer-controlled, so this is the allocation cap for hostile peers.
	MaxMessageSize int `yaml:"max_message_size"`

	// MaxBridgesPerShim caps concurrent bridges on one listener.
	MaxBridgesPerShim int64 `yaml:"max_bridges_per_shim"`

	// MaxConnectionsPerIP caps concurrent clients from a single IP.
	MaxConnectionsPerIP int `yaml:"max_connections_per_ip"`

	// ConnectionRateLimit caps new connections per second per IP.
	ConnectionRateLimit int `yaml:"connection_rate_limit"`
}

// MetricsConfig represents the metrics and health endpoint configuration.
type MetricsConfig struct {
	// Port serves /metrics and /health.
	Port int `yaml:"port"`
}

// RedisConfig represents the optional relay-announcement store. When Addr is
// empty, announcements are disabled entirely.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// KeyPrefix is prepended to every key written.
	KeyPrefix string `yaml:"key_prefix"`

	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// TracingConfig represents the optional tracing exporter configuration.
type TracingConfig struct {
	// CollectorEndpoint is the Jaeger collector URL. Empty disables tracing.
	CollectorEndpoint string `yaml:"collector_endpoint"`
}

// Load loads configuration from file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set default values
	setDefaults(&cfg)

	// Validate configuration
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Proxy.ExternalIP == "" {
		return fmt.Errorf("proxy.external_ip is required")
	}
	if _, err := netip.ParseAddr(cfg.Proxy.ExternalIP); err != nil {
		return fmt.Errorf("proxy.external_ip is not a valid IP: %w", err)
	}
	if cfg.Proxy.ExternalAuthPort == 0 {
		return fmt.Errorf("proxy.external_auth_port is required")
	}
	if cfg.Proxy.RakNetIP == "" {
		return fmt.Errorf("proxy.raknet_ip is required")
	}
	if _, err := netip.ParseAddr(cfg.Proxy.RakNetIP); err != nil {
		return fmt.Errorf("proxy.raknet_ip is not a valid IP: %w", err)
	}
	if cfg.Proxy.RakNetAuthPort == 0 {
		return fmt.Errorf("proxy.raknet_auth_port is required")
	}
	if cfg.Proxy.BindTo == "" {
		return fmt.Errorf("proxy.bind_to is required")
	}
	if _, err := netip.ParseAddr(cfg.Proxy.BindTo); err != nil {
		return fmt.Errorf("proxy.bind_to is not a valid IP: %w", err)
	}

	if cfg.Relay.TickInterval <= 0 {
		return fmt.Errorf("relay.tick_interval must be greater than 0")
	}
	if cfg.Relay.PollWait <= 0 {
		return fmt.Errorf("relay.poll_wait must be greater than 0")
	}
	if cfg.Relay.MaxMessageSize <= 0 {
		return fmt.Errorf("relay.max_message_size must be greater than 0")
	}
	if cfg.Relay.MaxBridgesPerShim <= 0 {
		return fmt.Errorf("relay.max_bridges_per_shim must be greater than 0")
	}

	if cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535")
	}

	if cfg.Redis.Addr != "" && cfg.Redis.PoolSize <= 0 {
		return fmt.Errorf("redis.pool_size must be greater than 0")
	}

	return nil
}

// setDefaults sets default values for configuration
func setDefaults(cfg *Config) {
	if cfg.Proxy.BindTo == "" {
		cfg.Proxy.BindTo = "0.0.0.0"
	}

	if cfg.Relay.TickInterval == 0 {
		cfg.Relay.TickInterval = time.Second / 30
	}

	if cfg.Relay.PollWait == 0 {
		cfg.Relay.PollWait = time.Millisecond
	}

	if cfg.Relay.MaxMessageSize == 0 {
		cfg.Relay.MaxMessageSize = 1024 * 1024 // 1MB default
	}

	if cfg.Relay.MaxBridgesPerShim == 0 {
		cfg.Relay.MaxBridgesPerShim = 1000
	}

	if cfg.Relay.MaxConnectionsPerIP == 0 {
		cfg.Relay.MaxConnectionsPerIP = 10
	}

	if cfg.Relay.ConnectionRateLimit == 0 {
		cfg.Relay.ConnectionRateLimit = 5
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}

	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "rakshim:"
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}

	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 5 * time.Second
	}

	if cfg.Redis.WriteTimeout == 0 {
		cfg.Redis.WriteTimeout = 3 * time.Second
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// ExternalAddr returns the externally visible auth address.
func (c *Config) ExternalAddr() netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr(c.Proxy.ExternalIP), c.Proxy.ExternalAuthPort)
}

// BackendAuthAddr returns the RakNet backend auth address.
func (c *Config) BackendAuthAddr() netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr(c.Proxy.RakNetIP), c.Proxy.RakNetAuthPort)
}
