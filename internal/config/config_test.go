package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultWSPort, cfg.WSPort)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultMaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, DefaultMaxChannelsPerClient, cfg.MaxChannelsPerClient)
	assert.Equal(t, DefaultRulesCacheSize, cfg.RulesCacheSize)
	assert.Equal(t, 250*time.Millisecond, cfg.GetRulesTimeoutDuration())
	assert.False(t, cfg.HasRules())
	assert.Equal(t, cfg, Default())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad json", `{`},
		{"port", `{"wsPort": 70000}`},
		{"log level", `{"logLevel": "trace"}`},
		{"message size", `{"maxMessageSize": -1}`},
		{"channels", `{"maxChannelsPerClient": -5}`},
		{"rule pattern", `{"rules": {"users": "true"}}`},
		{"rule expression", `{"rules": {"/users": "  "}}`},
		{"rules timeout", `{"rulesTimeout": -1}`},
		{"cache smaller than rules", `{"rulesCacheSize": 1, "rules": {"/a": "true", "/b": "true"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_WithSeed(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.json")
	require.NoError(t, os.WriteFile(seedPath, []byte(`{"messages":{"m1":"hello"}}`), 0o644))

	cfgPath := filepath.Join(dir, "config.json")
	doc := `{"wsPort": 9100, "logLevel": "debug", "rules": {"/messages": "true"}, "seedFile": "` + filepath.ToSlash(seedPath) + `"}`
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o644))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.WSPort)
	assert.True(t, cfg.HasRules())

	seed, err := cfg.LoadSeed()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"m1": "hello"}, seed["messages"])

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
