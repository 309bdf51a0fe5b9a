// Package config provides configuration management for the API gateway.
// It supports loading configuration from YAML files with environment
// variable expansion, plus a small set of environment overrides kept for
// compatibility with existing deployments.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	// DefaultPublishEndpoint is the well-known path queried on remote
	// backends for their discovery manifest.
	DefaultPublishEndpoint = "/"

	// DefaultDiscoveryTimeout bounds the manifest HTTP GET against a
	// remote backend.
	DefaultDiscoveryTimeout = 5 * time.Second

	// DefaultConsulInterface is the network interface whose IPv4 address
	// is used as the consul nameserver when none is configured explicitly.
	DefaultConsulInterface = "docker0"
)

// DefaultRateLimit is applied to routes whose backend does not declare
// its own rate limit.
var DefaultRateLimit = RateLimit{Count: 1000, Period: 86400}

// Backend declares one discoverable service: where to find it and the
// path prefix under which its routes are exposed.
type Backend struct {
	// Locator identifies the backend: a local module identifier, an
	// http(s) URL, or a consul://<service> URI.
	Locator string `yaml:"locator"`

	// MountPath is the absolute path prefix for the backend's routes.
	MountPath string `yaml:"mountPath"`
}

// RateLimit is a request budget: Count requests per Period seconds.
// It is encoded in YAML and in discovery manifests as a two-element
// list, [count, period].
type RateLimit struct {
	Count  int
	Period int
}

// UnmarshalYAML decodes a [count, period] list.
func (r *RateLimit) UnmarshalYAML(value *yaml.Node) error {
	var pair []int
	if err := value.Decode(&pair); err != nil {
		return fmt.Errorf("rate limit must be a [count, period] list: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("rate limit must have exactly 2 elements, got %d", len(pair))
	}
	r.Count = pair[0]
	r.Period = pair[1]
	return nil
}

// MarshalYAML encodes the rate limit back to a [count, period] list.
func (r RateLimit) MarshalYAML() (interface{}, error) {
	return []int{r.Count, r.Period}, nil
}

// UnmarshalJSON decodes a [count, period] list, the encoding used by
// discovery manifests.
func (r *RateLimit) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("rate limit must be a [count, period] list: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("rate limit must have exactly 2 elements, got %d", len(pair))
	}
	r.Count = pair[0]
	r.Period = pair[1]
	return nil
}

// MarshalJSON encodes the rate limit back to a [count, period] list.
func (r RateLimit) MarshalJSON() ([]byte, error) {
	return json.Marshal([]int{r.Count, r.Period})
}

// ConsulConfig holds nameserver settings for consul SRV resolution.
type ConsulConfig struct {
	// Nameserver is an explicit nameserver IP. When set it takes
	// precedence over Interface.
	Nameserver string `yaml:"nameserver"`

	// Interface is the network interface whose IPv4 address is used as
	// the nameserver when Nameserver is empty.
	Interface string `yaml:"interface"`
}

// RedisConfig holds settings for the distributed rate limit store.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Config holds all configuration settings for the gateway.
type Config struct {
	// ListenAddress is the address the HTTP server binds to.
	ListenAddress string `yaml:"listenAddress"`

	// Webservices is the ordered list of backends to discover.
	Webservices []Backend `yaml:"webservices"`

	// PublishEndpoint is the path queried on remote backends for their
	// discovery manifest. Overridable via WEBSERVICES_PUBLISH_ENDPOINT.
	PublishEndpoint string `yaml:"publishEndpoint"`

	// ProxyHeaders are attached to every response of every composed
	// route. Overridable via API_PROXYVIEW_HEADERS (JSON object).
	ProxyHeaders map[string]string `yaml:"proxyHeaders"`

	// DefaultRateLimit applies to routes without a declared budget.
	DefaultRateLimit RateLimit `yaml:"defaultRateLimit"`

	// DiscoveryTimeout bounds the manifest GET per backend.
	DiscoveryTimeout time.Duration `yaml:"discoveryTimeout"`

	Consul ConsulConfig `yaml:"consul"`
	Redis  RedisConfig  `yaml:"redis"`

	// Logging settings.
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
	LogOutput string `yaml:"logOutput"`

	// Settings is a free-form key/value area. Local modules contribute
	// their settings here during discovery; keys already declared by the
	// gateway are never overwritten.
	Settings map[string]string `yaml:"settings"`
}

// DefaultConfig returns a Config populated with default values.
func DefaultConfig() *Config {
	return &Config{
		ListenAddress:    ":8080",
		PublishEndpoint:  DefaultPublishEndpoint,
		DefaultRateLimit: DefaultRateLimit,
		DiscoveryTimeout: DefaultDiscoveryTimeout,
		Consul: ConsulConfig{
			Interface: DefaultConsulInterface,
		},
		LogLevel:  "info",
		LogFormat: "json",
		LogOutput: "stdout",
		Settings:  make(map[string]string),
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listenAddress is required")
	}
	if c.PublishEndpoint == "" {
		return fmt.Errorf("publishEndpoint is required")
	}
	if c.DiscoveryTimeout <= 0 {
		return fmt.Errorf("discoveryTimeout must be positive, got %s", c.DiscoveryTimeout)
	}
	if c.DefaultRateLimit.Count <= 0 || c.DefaultRateLimit.Period <= 0 {
		return fmt.Errorf("defaultRateLimit must be positive, got [%d, %d]",
			c.DefaultRateLimit.Count, c.DefaultRateLimit.Period)
	}
	for i, b := range c.Webservices {
		if b.Locator == "" {
			return fmt.Errorf("webservices[%d]: locator is required", i)
		}
		if !strings.HasPrefix(b.MountPath, "/") {
			return fmt.Errorf("webservices[%d]: mountPath %q must be absolute", i, b.MountPath)
		}
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("redis.address is required when redis is enabled")
	}
	return nil
}

// MergeSettings adds settings discovered from a backend. Keys already
// present in the gateway configuration win and are never overwritten.
func (c *Config) MergeSettings(discovered map[string]string) {
	if c.Settings == nil {
		c.Settings = make(map[string]string, len(discovered))
	}
	for k, v := range discovered {
		if _, ok := c.Settings[k]; !ok {
			c.Settings[k] = v
		}
	}
}
