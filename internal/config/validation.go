package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var serverNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// selfNames are binary and package names that would make the proxy spawn itself.
var selfNames = []string{"tool-lens-mcp", "@khanglvm/tool-lens-mcp"}

// IsSelfReference checks if a server config refers to tool-lens-mcp itself.
func IsSelfReference(server *ServerConfig) bool {
	if server.Command == "" {
		return false
	}

	binaryName := filepath.Base(os.Args[0])
	cmd := filepath.Base(server.Command)
	if cmd == binaryName || isSelfName(cmd) {
		return true
	}

	if cmd == "npx" || cmd == "bunx" {
		for _, arg := range server.Args {
			if isSelfName(arg) || strings.HasPrefix(arg, "@khanglvm/tool-lens-mcp@") {
				return true
			}
		}
	}

	return false
}

func isSelfName(s string) bool {
	for _, n := range selfNames {
		if s == n {
			return true
		}
	}
	return false
}

// ValidateServer checks one server entry. separator is the namespace
// separator, which server names must not contain.
func ValidateServer(name string, server *ServerConfig, separator string) error {
	if server == nil {
		return fmt.Errorf("server '%s': empty definition", name)
	}
	if !serverNamePattern.MatchString(name) {
		return fmt.Errorf("server '%s': name must be alphanumeric, hyphens, or underscores", name)
	}
	if separator != "" && strings.Contains(name, separator) {
		return fmt.Errorf("server '%s': name must not contain '%s'", name, separator)
	}

	switch {
	case server.Command == "" && server.URL == "":
		return fmt.Errorf("server '%s': one of command or url is required", name)
	case server.Command != "" && server.URL != "":
		return fmt.Errorf("server '%s': command and url are mutually exclusive", name)
	}

	if IsSelfReference(server) {
		return fmt.Errorf("server '%s': self-reference detected (tool-lens-mcp cannot proxy itself)", name)
	}

	return nil
}

// Validate checks the whole config and reports every problem at once.
func (c *Config) Validate() error {
	var problems []string

	sep := c.Proxy.NamespaceSeparator
	if sep == "" {
		sep = DefaultSeparator
	}

	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := ValidateServer(name, c.Servers[name], sep); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if p := c.Storage.MinConfidence; p < 0 || p > 1 {
		problems = append(problems, fmt.Sprintf("storage.pruneMinConfidence must be between 0 and 1, got %v", p))
	}
	if c.Storage.SizeThreshold < 0 {
		problems = append(problems, fmt.Sprintf("storage.pruneThreshold must be >= 0, got %d", c.Storage.SizeThreshold))
	}
	if c.Storage.UnusedDays < 0 {
		problems = append(problems, fmt.Sprintf("storage.pruneUnusedDays must be >= 0, got %d", c.Storage.UnusedDays))
	}
	if c.Storage.PruneInterval < 0 {
		problems = append(problems, "storage.pruneInterval must not be negative")
	}
	if c.Retrieval.TopK < 0 {
		problems = append(problems, fmt.Sprintf("retrieval.topK must be >= 0, got %d", c.Retrieval.TopK))
	}
	if c.Retrieval.Timeout < 0 {
		problems = append(problems, "retrieval.timeout must not be negative")
	}
	if c.Session.IdleTTL < 0 {
		problems = append(problems, "session.idleTTL must not be negative")
	}
	switch strings.ToLower(c.Embedding.Provider) {
	case "", "hash":
	case "openai":
		if c.Embedding.Model == "" {
			problems = append(problems, "embedding.model is required for the openai provider")
		}
	default:
		problems = append(problems, fmt.Sprintf("embedding.provider must be 'hash' or 'openai', got '%s'", c.Embedding.Provider))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
