package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	JWT        JWTConfig        `yaml:"jwt"`
	Redis      RedisConfig      `yaml:"redis"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Health     HealthConfig     `yaml:"health"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Services   []ServiceConfig  `yaml:"services"`
	Routes     []RouteConfig    `yaml:"routes"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	LoggingLevel   string   `yaml:"logging_level"`
	DevMode        bool     `yaml:"dev_mode"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	ForwardTimeout Duration `yaml:"forward_timeout"`
}

type JWTConfig struct {
	Secret        string   `yaml:"secret"`
	Issuer        string   `yaml:"issuer"`
	Audience      string   `yaml:"audience"`
	Algorithm     string   `yaml:"algorithm"`
	TokenLifetime Duration `yaml:"token_lifetime"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type TierConfig struct {
	Window      Duration `yaml:"window"`
	MaxRequests int      `yaml:"max_requests"`
}

type RateLimitConfig struct {
	Tiers                 map[string]TierConfig `yaml:"tiers"`
	TrustedWebhookSources []string              `yaml:"trusted_webhook_sources"`
}

type HealthConfig struct {
	ProbeInterval    Duration `yaml:"probe_interval"`
	ProbeTimeout     Duration `yaml:"probe_timeout"`
	CacheTTL         Duration `yaml:"cache_ttl"`
	FailureThreshold int      `yaml:"failure_threshold"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	HealthCheckPath   string `yaml:"health_check_path"`
}

type ServiceConfig struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
}

type RouteConfig struct {
	Prefix       string   `yaml:"prefix"`
	Service      string   `yaml:"service"`
	AuthRequired bool     `yaml:"auth_required"`
	AllowedRoles []string `yaml:"allowed_roles"`
	Webhook      bool     `yaml:"webhook"`
}

// Duration wraps time.Duration so YAML values like "30s" parse naturally.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Normalize fills defaults and cleans up configuration values.
func (c *Config) Normalize() {
	if c.Server.LoggingLevel == "" {
		c.Server.LoggingLevel = "info"
	}
	if c.Server.ForwardTimeout == 0 {
		c.Server.ForwardTimeout = Duration(30 * time.Second)
	}
	if c.JWT.Algorithm == "" {
		c.JWT.Algorithm = "HS256"
	}
	if c.JWT.TokenLifetime == 0 {
		c.JWT.TokenLifetime = Duration(24 * time.Hour)
	}
	if c.Health.ProbeInterval == 0 {
		c.Health.ProbeInterval = Duration(30 * time.Second)
	}
	if c.Health.ProbeTimeout == 0 {
		c.Health.ProbeTimeout = Duration(3 * time.Second)
	}
	if c.Health.CacheTTL == 0 {
		c.Health.CacheTTL = Duration(10 * time.Second)
	}
	if c.Health.FailureThreshold == 0 {
		c.Health.FailureThreshold = 3
	}
	if c.Monitoring.HealthCheckPath == "" {
		c.Monitoring.HealthCheckPath = "/health"
	}
	if c.RateLimit.Tiers == nil {
		c.RateLimit.Tiers = make(map[string]TierConfig)
	}
	defaultTiers := map[string]TierConfig{
		"public":        {Window: Duration(time.Minute), MaxRequests: 100},
		"authenticated": {Window: Duration(time.Minute), MaxRequests: 1000},
		"admin":         {Window: Duration(time.Minute), MaxRequests: 5000},
		"webhook":       {Window: Duration(time.Minute), MaxRequests: 10000},
	}
	for name, tier := range defaultTiers {
		if _, ok := c.RateLimit.Tiers[name]; !ok {
			c.RateLimit.Tiers[name] = tier
		}
	}

	// Trailing slashes on base URLs and prefixes break path joining.
	for i := range c.Services {
		c.Services[i].BaseURL = strings.TrimSuffix(c.Services[i].BaseURL, "/")
	}
	for i := range c.Routes {
		if c.Routes[i].Prefix != "/" {
			c.Routes[i].Prefix = strings.TrimSuffix(c.Routes[i].Prefix, "/")
		}
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "error": true}
	if !validLevels[c.Server.LoggingLevel] {
		return fmt.Errorf("invalid logging_level: %s (must be info, debug, or error)", c.Server.LoggingLevel)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	switch c.JWT.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("unsupported jwt.algorithm: %s", c.JWT.Algorithm)
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}

	for name, tier := range c.RateLimit.Tiers {
		if tier.MaxRequests <= 0 {
			return fmt.Errorf("tier %s: invalid max_requests: %d", name, tier.MaxRequests)
		}
		if tier.Window <= 0 {
			return fmt.Errorf("tier %s: invalid window: %v", name, tier.Window.Std())
		}
	}

	if len(c.Services) == 0 {
		return fmt.Errorf("no services configured")
	}
	serviceNames := make(map[string]bool, len(c.Services))
	for i, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("service %d: name is required", i)
		}
		if svc.BaseURL == "" {
			return fmt.Errorf("service %s: base_url is required", svc.Name)
		}
		parsedURL, err := url.Parse(svc.BaseURL)
		if err != nil {
			return fmt.Errorf("service %s: invalid base_url: %w", svc.Name, err)
		}
		if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			return fmt.Errorf("service %s: base_url must use http or https scheme, got: %s", svc.Name, parsedURL.Scheme)
		}
		if parsedURL.Host == "" {
			return fmt.Errorf("service %s: base_url must have a host", svc.Name)
		}
		serviceNames[svc.Name] = true
	}

	if len(c.Routes) == 0 {
		return fmt.Errorf("no routes configured")
	}
	for i, route := range c.Routes {
		if route.Prefix == "" || !strings.HasPrefix(route.Prefix, "/") {
			return fmt.Errorf("route %d: prefix must start with /", i)
		}
		if !serviceNames[route.Service] {
			return fmt.Errorf("route %s: unknown service: %s", route.Prefix, route.Service)
		}
		if len(route.AllowedRoles) > 0 && !route.AuthRequired {
			return fmt.Errorf("route %s: allowed_roles requires auth_required", route.Prefix)
		}
	}

	return nil
}

// ServiceByName returns the service configuration for name.
func (c *Config) ServiceByName(name string) (ServiceConfig, bool) {
	for _, svc := range c.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return ServiceConfig{}, false
}
