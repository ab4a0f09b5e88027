// Package local manages the lifecycle of the optional locally-spawned memory
// MCP server: detection, configuration, spawning, readiness, verification and
// shutdown. The local process is a separate concern from remote transport
// selection; once running it is reached over stdio/HTTP like any endpoint.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
)

// Log levels form a closed set; config validation rejects anything else.
var logLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

const (
	defaultPort              = 3002
	defaultTimeoutMs         = 15000
	defaultRetryAttempts     = 3
	defaultLogLevel          = "info"
	defaultConfigDirName     = ".lanonasis"
	defaultConfigFileName    = "local-server.json"
	defaultInstanceLogPrefix = "server-"
)

// Config is the persisted local-server configuration. It is validated on
// every update: a partial update may never leave a field outside its domain.
type Config struct {
	ServerPath          string `yaml:"serverPath" json:"serverPath"`
	AutoStart           bool   `yaml:"autoStart" json:"autoStart"`
	ConnectionTimeoutMs int    `yaml:"connectionTimeoutMs" json:"connectionTimeoutMs"`
	RetryAttempts       int    `yaml:"retryAttempts" json:"retryAttempts"`
	LogLevel            string `yaml:"logLevel" json:"logLevel"`
	Port                int    `yaml:"port" json:"port"`
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.ConnectionTimeoutMs == 0 {
		c.ConnectionTimeoutMs = defaultTimeoutMs
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = defaultRetryAttempts
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Port == 0 {
		c.Port = defaultPort
	}
}

// Validate checks every field domain.
func (c *Config) Validate() error {
	if c.ConnectionTimeoutMs <= 0 {
		return &ConfigError{Field: "connectionTimeoutMs", Reason: "must be positive"}
	}
	if c.RetryAttempts <= 0 {
		return &ConfigError{Field: "retryAttempts", Reason: "must be positive"}
	}
	if !logLevels[c.LogLevel] {
		return &ConfigError{Field: "logLevel", Reason: fmt.Sprintf("%q is not one of debug, info, warn, error", c.LogLevel)}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return &ConfigError{Field: "port", Reason: "must be in 1..65535"}
	}
	return nil
}

// ConnectionTimeout returns the readiness wait bound.
func (c *Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutMs) * time.Millisecond
}

// ConfigUpdate carries a partial update; nil fields retain prior values.
type ConfigUpdate struct {
	ServerPath          *string `json:"serverPath,omitempty"`
	AutoStart           *bool   `json:"autoStart,omitempty"`
	ConnectionTimeoutMs *int    `json:"connectionTimeoutMs,omitempty"`
	RetryAttempts       *int    `json:"retryAttempts,omitempty"`
	LogLevel            *string `json:"logLevel,omitempty"`
	Port                *int    `json:"port,omitempty"`
}

// merge applies the update onto a copy of c and validates the result.
func (c Config) merge(update ConfigUpdate) (Config, error) {
	if update.ServerPath != nil {
		c.ServerPath = *update.ServerPath
	}
	if update.AutoStart != nil {
		c.AutoStart = *update.AutoStart
	}
	if update.ConnectionTimeoutMs != nil {
		c.ConnectionTimeoutMs = *update.ConnectionTimeoutMs
	}
	if update.RetryAttempts != nil {
		c.RetryAttempts = *update.RetryAttempts
	}
	if update.LogLevel != nil {
		c.LogLevel = *update.LogLevel
	}
	if update.Port != nil {
		c.Port = *update.Port
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ConfigStore persists the config as JSON on disk.
type ConfigStore struct {
	fs  afs.Service
	url string
}

// DefaultConfigURL returns the per-user config location.
func DefaultConfigURL() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, defaultConfigDirName, defaultConfigFileName)
}

// NewConfigStore creates a store for the given location; an empty URL selects
// the default per-user path.
func NewConfigStore(URL string) *ConfigStore {
	if URL == "" {
		URL = DefaultConfigURL()
	}
	return &ConfigStore{fs: afs.New(), url: URL}
}

// URL returns the backing location.
func (s *ConfigStore) URL() string { return s.url }

// Load reads the persisted config; a missing file yields defaults.
func (s *ConfigStore) Load(ctx context.Context) (Config, error) {
	config := Config{}
	exists, err := s.fs.Exists(ctx, s.url)
	if err != nil {
		return config, fmt.Errorf("failed to probe config %v: %w", s.url, err)
	}
	if !exists {
		config.ApplyDefaults()
		return config, nil
	}
	data, err := s.fs.DownloadWithURL(ctx, s.url)
	if err != nil {
		return config, fmt.Errorf("failed to read config %v: %w", s.url, err)
	}
	if err := json.Unmarshal(data, &config); err != nil {
		return config, &ConfigError{Field: "config", Reason: fmt.Sprintf("malformed JSON at %v: %v", s.url, err)}
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Save validates and rewrites the config file.
func (s *ConfigStore) Save(ctx context.Context, config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := s.fs.Upload(ctx, s.url, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config %v: %w", s.url, err)
	}
	return nil
}
