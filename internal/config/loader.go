package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// Environment variable names honored as overrides after file loading.
const (
	EnvPublishEndpoint = "WEBSERVICES_PUBLISH_ENDPOINT"
	EnvProxyHeaders    = "API_PROXYVIEW_HEADERS"
)

// LoadConfig loads configuration from a file path, expanding environment
// variable references and applying environment overrides on top.
func LoadConfig(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	data, err := os.ReadFile(absPath) //nolint:gosec // path is validated via filepath.Abs
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return parseConfig(data)
}

// LoadConfigFromReader loads configuration from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} references with
// environment values. An unset variable without a default expands to the
// empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[2]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return def
	})
}

// applyEnvOverrides applies the legacy environment variable overrides on
// top of the loaded configuration.
func applyEnvOverrides(cfg *Config) error {
	if v, ok := os.LookupEnv(EnvPublishEndpoint); ok && v != "" {
		cfg.PublishEndpoint = v
	}
	if v, ok := os.LookupEnv(EnvProxyHeaders); ok && v != "" {
		headers := make(map[string]string)
		if err := json.Unmarshal([]byte(v), &headers); err != nil {
			return fmt.Errorf("failed to parse %s: %w", EnvProxyHeaders, err)
		}
		cfg.ProxyHeaders = headers
	}
	return nil
}
