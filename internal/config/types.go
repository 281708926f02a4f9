package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Host                 string            `json:"host"`
	WSPort               int               `json:"wsPort"`
	LogLevel             string            `json:"logLevel"`
	MaxMessageSize       int64             `json:"maxMessageSize"`       // bytes - largest accepted WebSocket message
	MaxChannelsPerClient int               `json:"maxChannelsPerClient"` // -1 means no limit
	RulesCacheSize       int               `json:"rulesCacheSize"`       // compiled rule expressions kept in memory, at least the number of rules
	RulesTimeout         int               `json:"rulesTimeout"`         // ms - evaluation bound for one rule expression
	Rules                map[string]string `json:"rules,omitempty"`      // path pattern -> read expression
	SeedFile             string            `json:"seedFile,omitempty"`   // JSON document loaded at the root on startup
}

// Default values
const (
	DefaultHost                 = "localhost"
	DefaultWSPort               = 9000
	DefaultLogLevel             = "info"
	DefaultMaxMessageSize       = int64(10 * 1024 * 1024)
	DefaultMaxChannelsPerClient = 100
	DefaultRulesCacheSize       = 256
	DefaultRulesTimeout         = 250 // ms
)

// HasRules returns true if read rules are configured
func (c *Config) HasRules() bool {
	return len(c.Rules) > 0
}

// GetRulesTimeoutDuration returns the rule evaluation bound as time.Duration
func (c *Config) GetRulesTimeoutDuration() time.Duration {
	return time.Duration(c.RulesTimeout) * time.Millisecond
}
