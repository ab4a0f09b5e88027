package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	config := Config{}
	config.ApplyDefaults()
	assert.Equal(t, defaultPort, config.Port)
	assert.Equal(t, defaultTimeoutMs, config.ConnectionTimeoutMs)
	assert.Equal(t, defaultRetryAttempts, config.RetryAttempts)
	assert.Equal(t, defaultLogLevel, config.LogLevel)

	// Explicit values survive.
	config = Config{Port: 9000, LogLevel: "debug"}
	config.ApplyDefaults()
	assert.Equal(t, 9000, config.Port)
	assert.Equal(t, "debug", config.LogLevel)
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{ConnectionTimeoutMs: 1000, RetryAttempts: 1, LogLevel: "warn", Port: 3002}
	require.NoError(t, valid.Validate())

	testCases := []struct {
		description string
		mutate      func(c *Config)
	}{
		{"zero timeout", func(c *Config) { c.ConnectionTimeoutMs = 0 }},
		{"negative retries", func(c *Config) { c.RetryAttempts = -1 }},
		{"unknown log level", func(c *Config) { c.LogLevel = "trace" }},
		{"zero port", func(c *Config) { c.Port = 0 }},
		{"port out of range", func(c *Config) { c.Port = 70000 }},
	}
	for _, testCase := range testCases {
		config := valid
		testCase.mutate(&config)
		err := config.Validate()
		require.Error(t, err, testCase.description)
		var configErr *ConfigError
		assert.ErrorAs(t, err, &configErr, testCase.description)
	}
}

func TestConfig_MergePartialUpdate(t *testing.T) {
	base := Config{ServerPath: "/srv/index.js", ConnectionTimeoutMs: 1000, RetryAttempts: 3, LogLevel: "info", Port: 3002}

	port := 4000
	level := "debug"
	merged, err := base.merge(ConfigUpdate{Port: &port, LogLevel: &level})
	require.NoError(t, err)
	assert.Equal(t, 4000, merged.Port)
	assert.Equal(t, "debug", merged.LogLevel)
	// Untouched fields keep prior values.
	assert.Equal(t, "/srv/index.js", merged.ServerPath)
	assert.Equal(t, 3, merged.RetryAttempts)

	// An update that leaves the config invalid is rejected whole.
	badPort := -1
	_, err = base.merge(ConfigUpdate{Port: &badPort})
	require.Error(t, err)
}

func TestConfigStore_LoadMissingYieldsDefaults(t *testing.T) {
	store := NewConfigStore(filepath.Join(t.TempDir(), "missing.json"))
	config, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, defaultPort, config.Port)
	assert.Equal(t, defaultLogLevel, config.LogLevel)
}

func TestConfigStore_SaveLoadRoundTrip(t *testing.T) {
	url := filepath.Join(t.TempDir(), "config.json")
	store := NewConfigStore(url)
	ctx := context.Background()

	saved := Config{ServerPath: "/srv/index.js", ConnectionTimeoutMs: 2000, RetryAttempts: 2, LogLevel: "debug", Port: 4000}
	require.NoError(t, store.Save(ctx, saved))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)
}

func TestConfigStore_LoadMalformed(t *testing.T) {
	url := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(url, []byte("{not json"), 0o644))

	store := NewConfigStore(url)
	_, err := store.Load(context.Background())
	require.Error(t, err)
	var configErr *ConfigError
	assert.ErrorAs(t, err, &configErr)
}
