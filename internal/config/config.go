package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses a configuration document, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every field at its default
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.WSPort == 0 {
		cfg.WSPort = DefaultWSPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	// MaxChannelsPerClient default is only applied when unset; -1 disables the limit
	if cfg.MaxChannelsPerClient == 0 {
		cfg.MaxChannelsPerClient = DefaultMaxChannelsPerClient
	}
	if cfg.RulesCacheSize == 0 {
		cfg.RulesCacheSize = DefaultRulesCacheSize
	}
	if cfg.RulesTimeout == 0 {
		cfg.RulesTimeout = DefaultRulesTimeout
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if cfg.WSPort < 1 || cfg.WSPort > 65535 {
		return fmt.Errorf("wsPort must be between 1 and 65535")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	if cfg.MaxMessageSize < 0 {
		return fmt.Errorf("maxMessageSize must be non-negative")
	}

	if cfg.MaxChannelsPerClient < -1 {
		return fmt.Errorf("maxChannelsPerClient must be -1 (unlimited) or positive")
	}

	if cfg.RulesCacheSize < 0 {
		return fmt.Errorf("rulesCacheSize must be non-negative")
	}
	// A smaller cache would evict rule programs on every read
	if cfg.RulesCacheSize < len(cfg.Rules) {
		return fmt.Errorf("rulesCacheSize (%d) must be at least the number of rules (%d)", cfg.RulesCacheSize, len(cfg.Rules))
	}

	if cfg.RulesTimeout < 0 {
		return fmt.Errorf("rulesTimeout must be non-negative")
	}

	for pattern, expr := range cfg.Rules {
		if !strings.HasPrefix(pattern, "/") {
			return fmt.Errorf("rule '%s': pattern must start with '/'", pattern)
		}
		if strings.TrimSpace(expr) == "" {
			return fmt.Errorf("rule '%s': expression is required", pattern)
		}
	}

	return nil
}

// LoadSeed reads the seed document referenced by the configuration.
// It returns nil when no seed file is configured.
func (c *Config) LoadSeed() (map[string]any, error) {
	if c.SeedFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.SeedFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed map[string]any
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return seed, nil
}
