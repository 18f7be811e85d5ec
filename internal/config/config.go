package config

import (
	"fmt"
	"time"

	"github.com/relayguard/relayguard/internal/models"
)

// Config represents the complete application configuration.
type Config struct {
	Version     string            `yaml:"version"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Router      RouterConfig      `yaml:"router"`
	Direct      DirectConfig      `yaml:"direct"`
	Breaker     BreakerConfig     `yaml:"circuit_breaker"`
	Health      HealthConfig      `yaml:"health"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Reliability ReliabilityConfig `yaml:"reliability"`
	Shutdown    ShutdownConfig    `yaml:"shutdown"`
	Flags       FlagsConfig       `yaml:"feature_flags"`
	Audit       AuditConfig       `yaml:"audit"`
	Alerts      AlertsConfig      `yaml:"alerts"`
}

// ServerConfig contains the admin API server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	BodyLimitBytes  int64         `yaml:"body_limit_bytes"`
	RatePerMinute   int           `yaml:"rate_per_minute"`
	RateBurst       int           `yaml:"rate_burst"`
	APIKeys         []string      `yaml:"api_keys"`
	AuthHeader      string        `yaml:"auth_header"`
}

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // "json" or "console"
	File       string `yaml:"file"`   // empty means stdout only
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// RouterConfig contains the intelligent router configuration.
type RouterConfig struct {
	Rules          []models.RoutingRule `yaml:"rules"`
	DefaultTimeout time.Duration        `yaml:"default_timeout"`
}

// DirectConfig describes the direct provider endpoint. The key is supplied
// via env substitution, never inline.
type DirectConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	Timeout    time.Duration `yaml:"timeout"`
	APIKey     string        `yaml:"api_key"`
	AuthHeader string        `yaml:"auth_header"`
}

// BreakerConfig contains circuit breaker configuration, shared by all
// per-provider breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"`
}

// HealthConfig contains route health probing configuration.
type HealthConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// GatewayConfig contains the protocol-mediated router configuration.
type GatewayConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	QueueMaxSize      int           `yaml:"queue_max_size"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
}

// ReliabilityConfig contains the fallback reliability wrapper configuration.
type ReliabilityConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	BaseBackoff       time.Duration `yaml:"base_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	TargetSuccessRate float64       `yaml:"target_success_rate"`
	LatencyThreshold  time.Duration `yaml:"latency_threshold"`
}

// ShutdownConfig contains the emergency shutdown controller configuration.
type ShutdownConfig struct {
	AutoShutdownEnabled bool          `yaml:"auto_shutdown_enabled"`
	ErrorRateThreshold  float64       `yaml:"error_rate_threshold"`
	LatencyThreshold    time.Duration `yaml:"latency_threshold"`
	AutoRecoveryEnabled bool          `yaml:"auto_recovery_enabled"`
	RecoveryDelay       time.Duration `yaml:"recovery_delay"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	MaxRecoveryAttempts int           `yaml:"max_recovery_attempts"`
}

// FlagsConfig contains the static feature-flag source configuration.
type FlagsConfig struct {
	Flags map[string]bool `yaml:"flags"`
}

// AuditConfig contains the audit store configuration.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
	// BufferSize is the async write queue depth; writes beyond it are
	// dropped rather than blocking the request path.
	BufferSize int `yaml:"buffer_size"`
}

// AlertsConfig contains operator notification configuration.
type AlertsConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BotToken    string        `yaml:"bot_token"`
	ChatID      int64         `yaml:"chat_id"`
	DedupWindow time.Duration `yaml:"dedup_window"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Version: "1",
		Server: ServerConfig{
			Host:            "127.0.0.1",
			HTTPPort:        8419,
			ShutdownTimeout: 30 * time.Second,
			BodyLimitBytes:  1 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Router: RouterConfig{
			DefaultTimeout: 30 * time.Second,
		},
		Direct: DirectConfig{
			Timeout:    30 * time.Second,
			AuthHeader: "X-API-Key",
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			HalfOpenMaxCalls: 3,
		},
		Health: HealthConfig{
			Enabled:  true,
			Interval: 30 * time.Second,
			Timeout:  5 * time.Second,
			CacheTTL: 30 * time.Second,
		},
		Gateway: GatewayConfig{
			MaxRetries:        3,
			RetryDelay:        time.Second,
			RequestTimeout:    30 * time.Second,
			QueueMaxSize:      1000,
			HeartbeatInterval: 30 * time.Second,
			ReconnectDelay:    time.Second,
			MaxReconnectDelay: 30 * time.Second,
			HandshakeTimeout:  10 * time.Second,
		},
		Reliability: ReliabilityConfig{
			MaxRetries:        3,
			BaseBackoff:       time.Second,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			TargetSuccessRate: 0.99,
			LatencyThreshold:  5 * time.Second,
		},
		Shutdown: ShutdownConfig{
			AutoShutdownEnabled: true,
			ErrorRateThreshold:  0.10,
			LatencyThreshold:    10 * time.Second,
			AutoRecoveryEnabled: false,
			RecoveryDelay:       60 * time.Second,
			HealthCheckInterval: 30 * time.Second,
			MaxRecoveryAttempts: 3,
		},
		Flags: FlagsConfig{
			Flags: map[string]bool{},
		},
		Audit: AuditConfig{
			Enabled:    false,
			DBPath:     "./data/relayguard.db",
			BufferSize: 256,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Router.Validate(); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	if err := c.Breaker.Validate(); err != nil {
		return fmt.Errorf("circuit_breaker: %w", err)
	}
	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if err := c.Reliability.Validate(); err != nil {
		return fmt.Errorf("reliability: %w", err)
	}
	if err := c.Shutdown.Validate(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if c.Alerts.Enabled && c.Alerts.BotToken == "" {
		return fmt.Errorf("alerts: bot_token is required when alerts are enabled")
	}
	return nil
}

// Validate validates the server configuration.
func (s ServerConfig) Validate() error {
	if s.HTTPPort < 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("http_port out of range: %d", s.HTTPPort)
	}
	return nil
}

// Validate validates the router configuration, including every routing rule.
func (r RouterConfig) Validate() error {
	seen := make(map[models.OperationType]bool, len(r.Rules))
	for _, rule := range r.Rules {
		if err := rule.Validate(); err != nil {
			return err
		}
		if seen[rule.Operation] {
			return fmt.Errorf("duplicate rule for operation %s", rule.Operation)
		}
		seen[rule.Operation] = true
	}
	return nil
}

// Validate validates the circuit breaker configuration.
func (b BreakerConfig) Validate() error {
	if b.FailureThreshold <= 0 {
		return fmt.Errorf("failure_threshold must be positive")
	}
	if b.RecoveryTimeout <= 0 {
		return fmt.Errorf("recovery_timeout must be positive")
	}
	if b.HalfOpenMaxCalls <= 0 {
		return fmt.Errorf("half_open_max_calls must be positive")
	}
	return nil
}

// Validate validates the gateway configuration.
func (g GatewayConfig) Validate() error {
	if g.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if g.QueueMaxSize <= 0 {
		return fmt.Errorf("queue_max_size must be positive")
	}
	if g.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	return nil
}

// Validate validates the reliability wrapper configuration.
func (r ReliabilityConfig) Validate() error {
	if r.TargetSuccessRate <= 0 || r.TargetSuccessRate > 1 {
		return fmt.Errorf("target_success_rate must be in (0, 1], got %v", r.TargetSuccessRate)
	}
	if r.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be >= 1")
	}
	return nil
}

// Validate validates the shutdown controller configuration.
func (s ShutdownConfig) Validate() error {
	if s.ErrorRateThreshold <= 0 || s.ErrorRateThreshold > 1 {
		return fmt.Errorf("error_rate_threshold must be in (0, 1], got %v", s.ErrorRateThreshold)
	}
	if s.MaxRecoveryAttempts < 0 {
		return fmt.Errorf("max_recovery_attempts must not be negative")
	}
	return nil
}
