/*
Package config handles loading, saving, and validating tool-lens-mcp configuration.

Configuration is stored in ~/.tool-lens-mcp/config.yaml. JSON is valid YAML,
so a JSON file works too.

Schema:

	servers:
	  filesystem:
	    command: npx
	    args: ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"]
	    env: {KEY: value}
	  remote:
	    url: https://example.com/mcp
	    enabled: false
	proxy:
	  name: tool-lens
	  namespaceSeparator: "__"
	storage:
	  path: learning.db
	  pruneThreshold: 5000
	  pruneMinConfidence: 0.1
	  pruneUnusedDays: 30
	  pruneInterval: 1h
	embedding:
	  provider: hash
	  dimensions: 384
	retrieval:
	  topK: 15
	  timeout: 2s
	session:
	  idleTTL: 30m
	learning:
	  enabled: true
	logging:
	  level: info
*/
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/khanglvm/tool-lens-mcp/internal/embedding"
	"github.com/khanglvm/tool-lens-mcp/internal/storage"
)

// EnvConfigPath overrides the default config location.
const EnvConfigPath = "TOOL_LENS_CONFIG"

// Defaults.
const (
	DefaultProxyName        = "tool-lens"
	DefaultSeparator        = "__"
	DefaultStorageFile      = "learning.db"
	DefaultTopK             = 15
	DefaultRetrievalTimeout = 2 * time.Second
	DefaultCacheSize        = 1024
	DefaultLogLevel         = "info"
)

// Config represents the root configuration structure.
type Config struct {
	// Servers maps server names to their configurations.
	Servers map[string]*ServerConfig `yaml:"servers"`

	Proxy     ProxyConfig     `yaml:"proxy"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Session   SessionConfig   `yaml:"session"`
	Learning  LearningConfig  `yaml:"learning"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig represents a single upstream MCP server.
// Exactly one of Command and URL is set.
type ServerConfig struct {
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Cwd     string            `yaml:"cwd,omitempty"`
	URL     string            `yaml:"url,omitempty"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the server should be connected.
func (s *ServerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ProxyConfig names the proxy and sets how tool names are namespaced.
type ProxyConfig struct {
	Name               string `yaml:"name,omitempty"`
	NamespaceSeparator string `yaml:"namespaceSeparator,omitempty"`
}

// StorageConfig locates the learning database and its retention policy.
type StorageConfig struct {
	// Path is resolved against the config directory when relative.
	Path string `yaml:"path,omitempty"`

	storage.PrunePolicy `yaml:",inline"`

	// PruneInterval runs retention periodically while serving. Zero means
	// prune only at startup and shutdown.
	PruneInterval time.Duration `yaml:"pruneInterval,omitempty"`
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider,omitempty"`
	Model      string `yaml:"model,omitempty"`
	BaseURL    string `yaml:"baseURL,omitempty"`
	APIKeyEnv  string `yaml:"apiKeyEnv,omitempty"`
	Dimensions int    `yaml:"dimensions,omitempty"`
	CacheSize  int    `yaml:"cacheSize,omitempty"`
}

// EmbedderConfig returns the embedding.Config, reading the API key from the
// environment variable named by APIKeyEnv.
func (e EmbeddingConfig) EmbedderConfig() embedding.Config {
	var key string
	if e.APIKeyEnv != "" {
		key = os.Getenv(e.APIKeyEnv)
	}
	return embedding.Config{
		Provider:   e.Provider,
		Model:      e.Model,
		BaseURL:    e.BaseURL,
		APIKey:     key,
		Dimensions: e.Dimensions,
		CacheSize:  e.CacheSize,
	}
}

// RetrievalConfig tunes tool filtering.
type RetrievalConfig struct {
	TopK    int           `yaml:"topK,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// SessionConfig bounds session state.
type SessionConfig struct {
	// IdleTTL evicts idle sessions. Zero keeps them for the process lifetime.
	IdleTTL time.Duration `yaml:"idleTTL,omitempty"`
}

// LearningConfig toggles learning from tool calls.
type LearningConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// IsEnabled reports whether learning signals are recorded. Defaults to true.
func (l LearningConfig) IsEnabled() bool {
	return l.Enabled == nil || *l.Enabled
}

// LoggingConfig sets the log level.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
}

// NewConfig creates an empty configuration with defaults applied.
func NewConfig() *Config {
	cfg := newBase()
	cfg.ApplyDefaults()
	return cfg
}

// newBase returns the config a file is decoded into. Fields whose zero value
// is meaningful, such as pruneMinConfidence: 0, are seeded here so that only
// an absent key takes the default.
func newBase() *Config {
	cfg := &Config{}
	cfg.Storage.PrunePolicy = storage.DefaultPrunePolicy()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Servers == nil {
		c.Servers = make(map[string]*ServerConfig)
	}
	if c.Proxy.Name == "" {
		c.Proxy.Name = DefaultProxyName
	}
	if c.Proxy.NamespaceSeparator == "" {
		c.Proxy.NamespaceSeparator = DefaultSeparator
	}
	if c.Storage.Path == "" {
		c.Storage.Path = DefaultStorageFile
	}
	c.Storage.PrunePolicy = c.Storage.PrunePolicy.WithDefaults()
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = embedding.ProviderHash
	}
	if c.Embedding.Provider == embedding.ProviderHash && c.Embedding.Dimensions == 0 {
		c.Embedding.Dimensions = embedding.DefaultDimensions
	}
	if c.Embedding.CacheSize == 0 {
		c.Embedding.CacheSize = DefaultCacheSize
	}
	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = DefaultTopK
	}
	if c.Retrieval.Timeout == 0 {
		c.Retrieval.Timeout = DefaultRetrievalTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
}

// EnabledServers returns the names of enabled servers, sorted.
func (c *Config) EnabledServers() []string {
	names := make([]string, 0, len(c.Servers))
	for name, srv := range c.Servers {
		if srv != nil && srv.IsEnabled() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// StoragePath returns the absolute database path for a config loaded from
// configPath. "~" is expanded and relative paths resolve against the config
// directory.
func (c *Config) StoragePath(configPath string) (string, error) {
	p, err := expandHome(c.Storage.Path)
	if err != nil {
		return "", err
	}
	if p == storage.MemoryPath || filepath.IsAbs(p) {
		return p, nil
	}
	return filepath.Join(filepath.Dir(configPath), p), nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

// GetDefaultConfigPath returns ~/.tool-lens-mcp/config.yaml.
func GetDefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".tool-lens-mcp", "config.yaml"), nil
}

// ResolvePath picks the config path: an explicit flag value, then
// TOOL_LENS_CONFIG, then the default location.
func ResolvePath(flagValue string) (string, error) {
	if flagValue != "" {
		return expandHome(flagValue)
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return expandHome(env)
	}
	return GetDefaultConfigPath()
}
