// ABOUTME: Configuration loading and parsing for hypertube-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete hypertube-gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Upstreams  []UpstreamConfig `yaml:"upstreams"`
	Routes     []RouteConfig    `yaml:"routes"`
	Resilience ResilienceConfig `yaml:"resilience"`
	OAuth2     OAuth2Config     `yaml:"oauth2"`
	Frontend   FrontendConfig   `yaml:"frontend"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server address configuration.
// PublicURL is the externally reachable base URL, used to build OAuth2
// callback URLs; it defaults to http://<http_addr>.
type ServerConfig struct {
	HTTPAddr  string `yaml:"http_addr"`
	PublicURL string `yaml:"public_url"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds token signing and lifetime configuration
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"`
	AccessTTL       time.Duration `yaml:"-"`
	RefreshTTL      time.Duration `yaml:"-"`
	SessionSweep    time.Duration `yaml:"-"`
	RequireVerified bool          `yaml:"require_verified_email"`

	// Raw string values for YAML unmarshaling
	AccessTTLRaw    string `yaml:"access_ttl"`
	RefreshTTLRaw   string `yaml:"refresh_ttl"`
	SessionSweepRaw string `yaml:"session_sweep_interval"`
}

// UpstreamConfig describes one backend service the gateway forwards to
type UpstreamConfig struct {
	Name       string        `yaml:"name"`
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// RouteConfig is one ordered match rule in the route table.
// Class is "public", "protected" or "health"; first matching rule wins.
type RouteConfig struct {
	Path     string `yaml:"path"`
	Prefix   bool   `yaml:"prefix"`
	Method   string `yaml:"method"`
	Upstream string `yaml:"upstream"`
	Class    string `yaml:"class"`
}

// ResilienceConfig groups rate limiting, circuit breaker and retry settings
type ResilienceConfig struct {
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// RateLimitConfig holds token-bucket settings per route class.
// Limiting is on unless the config explicitly disables it.
type RateLimitConfig struct {
	Enabled              *bool   `yaml:"enabled"`
	DefaultReplenishRate float64 `yaml:"default_replenish_rate"`
	DefaultBurstCapacity int     `yaml:"default_burst_capacity"`
	AuthReplenishRate    float64 `yaml:"auth_replenish_rate"`
	AuthBurstCapacity    int     `yaml:"auth_burst_capacity"`
}

// CircuitBreakerConfig holds per-upstream breaker settings
type CircuitBreakerConfig struct {
	WindowSize           int           `yaml:"window_size"`
	MinimumCalls         int           `yaml:"minimum_calls"`
	FailureRateThreshold float64       `yaml:"failure_rate_threshold"`
	WaitDuration         time.Duration `yaml:"-"`
	HalfOpenCalls        int           `yaml:"half_open_calls"`
	WaitDurationRaw      string        `yaml:"wait_duration"`
}

// RetryConfig holds retry/backoff settings for upstream calls
type RetryConfig struct {
	MaxAttempts        int           `yaml:"max_attempts"`
	Multiplier         float64       `yaml:"multiplier"`
	InitialInterval    time.Duration `yaml:"-"`
	MaxInterval        time.Duration `yaml:"-"`
	InitialIntervalRaw string        `yaml:"initial_interval"`
	MaxIntervalRaw     string        `yaml:"max_interval"`
}

// OAuth2Config holds external login provider configuration
type OAuth2Config struct {
	Providers []OAuth2ProviderConfig `yaml:"providers"`
}

// OAuth2ProviderConfig describes one external identity provider
type OAuth2ProviderConfig struct {
	Name         string   `yaml:"name"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	UserInfoURL  string   `yaml:"user_info_url"`
	Scopes       []string `yaml:"scopes"`
}

// FrontendConfig holds the frontend base URL used for OAuth2 redirects
type FrontendConfig struct {
	URL string `yaml:"url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the config omits a value
const (
	DefaultAccessTTL    = 24 * time.Hour
	DefaultRefreshTTL   = 30 * 24 * time.Hour
	DefaultSessionSweep = time.Hour
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in defaults for optional settings
func (c *Config) applyDefaults() {
	if c.Server.PublicURL == "" && c.Server.HTTPAddr != "" {
		c.Server.PublicURL = "http://" + c.Server.HTTPAddr
	}
	if c.Auth.AccessTTL == 0 {
		c.Auth.AccessTTL = DefaultAccessTTL
	}
	if c.Auth.RefreshTTL == 0 {
		c.Auth.RefreshTTL = DefaultRefreshTTL
	}
	if c.Auth.SessionSweep == 0 {
		c.Auth.SessionSweep = DefaultSessionSweep
	}
	if c.Resilience.RateLimit.Enabled == nil {
		enabled := true
		c.Resilience.RateLimit.Enabled = &enabled
	}
	if c.Resilience.RateLimit.DefaultReplenishRate == 0 {
		c.Resilience.RateLimit.DefaultReplenishRate = 100
	}
	if c.Resilience.RateLimit.DefaultBurstCapacity == 0 {
		c.Resilience.RateLimit.DefaultBurstCapacity = 200
	}
	if c.Resilience.RateLimit.AuthReplenishRate == 0 {
		c.Resilience.RateLimit.AuthReplenishRate = 10
	}
	if c.Resilience.RateLimit.AuthBurstCapacity == 0 {
		c.Resilience.RateLimit.AuthBurstCapacity = 20
	}
	if c.Resilience.CircuitBreaker.WindowSize == 0 {
		c.Resilience.CircuitBreaker.WindowSize = 20
	}
	if c.Resilience.CircuitBreaker.MinimumCalls == 0 {
		c.Resilience.CircuitBreaker.MinimumCalls = 10
	}
	if c.Resilience.CircuitBreaker.FailureRateThreshold == 0 {
		c.Resilience.CircuitBreaker.FailureRateThreshold = 0.5
	}
	if c.Resilience.CircuitBreaker.WaitDuration == 0 {
		c.Resilience.CircuitBreaker.WaitDuration = 30 * time.Second
	}
	if c.Resilience.CircuitBreaker.HalfOpenCalls == 0 {
		c.Resilience.CircuitBreaker.HalfOpenCalls = 3
	}
	if c.Resilience.Retry.MaxAttempts == 0 {
		c.Resilience.Retry.MaxAttempts = 3
	}
	if c.Resilience.Retry.InitialInterval == 0 {
		c.Resilience.Retry.InitialInterval = 100 * time.Millisecond
	}
	if c.Resilience.Retry.MaxInterval == 0 {
		c.Resilience.Retry.MaxInterval = 2 * time.Second
	}
	if c.Resilience.Retry.Multiplier == 0 {
		c.Resilience.Retry.Multiplier = 2.0
	}
	for i := range c.Upstreams {
		if c.Upstreams[i].Timeout == 0 {
			c.Upstreams[i].Timeout = 5 * time.Second
		}
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	upstreams := make(map[string]bool, len(c.Upstreams))
	for _, u := range c.Upstreams {
		if u.Name == "" {
			return fmt.Errorf("upstream name is required")
		}
		if u.URL == "" {
			return fmt.Errorf("upstream %q: url is required", u.Name)
		}
		if upstreams[u.Name] {
			return fmt.Errorf("upstream %q: duplicate name", u.Name)
		}
		upstreams[u.Name] = true
	}

	for i, r := range c.Routes {
		if r.Path == "" {
			return fmt.Errorf("route %d: path is required", i)
		}
		switch r.Class {
		case "public", "protected", "health":
		default:
			return fmt.Errorf("route %q: class must be public, protected or health", r.Path)
		}
		if !upstreams[r.Upstream] {
			return fmt.Errorf("route %q: unknown upstream %q", r.Path, r.Upstream)
		}
	}

	if len(c.OAuth2.Providers) > 0 && c.Frontend.URL == "" {
		return fmt.Errorf("frontend.url is required when oauth2 providers are configured")
	}
	for _, p := range c.OAuth2.Providers {
		if p.Name == "" || p.ClientID == "" || p.AuthURL == "" || p.TokenURL == "" || p.UserInfoURL == "" {
			return fmt.Errorf("oauth2 provider %q: name, client_id, auth_url, token_url and user_info_url are required", p.Name)
		}
	}

	cb := c.Resilience.CircuitBreaker
	if cb.FailureRateThreshold < 0 || cb.FailureRateThreshold > 1 {
		return fmt.Errorf("resilience.circuit_breaker.failure_rate_threshold must be between 0 and 1")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Auth.AccessTTLRaw, "access_ttl", &cfg.Auth.AccessTTL},
		{cfg.Auth.RefreshTTLRaw, "refresh_ttl", &cfg.Auth.RefreshTTL},
		{cfg.Auth.SessionSweepRaw, "session_sweep_interval", &cfg.Auth.SessionSweep},
		{cfg.Resilience.CircuitBreaker.WaitDurationRaw, "wait_duration", &cfg.Resilience.CircuitBreaker.WaitDuration},
		{cfg.Resilience.Retry.InitialIntervalRaw, "initial_interval", &cfg.Resilience.Retry.InitialInterval},
		{cfg.Resilience.Retry.MaxIntervalRaw, "max_interval", &cfg.Resilience.Retry.MaxInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	for i := range cfg.Upstreams {
		if cfg.Upstreams[i].TimeoutRaw == "" {
			continue
		}
		d, err := time.ParseDuration(cfg.Upstreams[i].TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing upstream %q timeout %q: %w", cfg.Upstreams[i].Name, cfg.Upstreams[i].TimeoutRaw, err)
		}
		cfg.Upstreams[i].Timeout = d
	}

	return nil
}
