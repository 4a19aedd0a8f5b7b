package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the config at the default location.
func Load() (*Config, string, error) {
	path, err := ResolvePath("")
	if err != nil {
		return nil, "", err
	}
	cfg, err := LoadFrom(path)
	return cfg, path, err
}

// LoadFrom reads and validates the config at path, then applies defaults.
// Validation runs on the file as written so that a missing field is never
// masked by its default.
func LoadFrom(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, &InvalidConfigError{Path: path, Err: err, Hint: "Fix the listed fields; a running proxy keeps its last good config"}
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// LoadOrNew is LoadFrom for commands that edit the config: a missing file
// yields a fresh config and validation is left to Save.
func LoadOrNew(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if IsNotFound(err) {
		return NewConfig(), nil
	}
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func decodeFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, &ConfigNotFoundError{Path: path}
	case errors.Is(err, fs.ErrPermission):
		return nil, &PermissionError{Path: path, Op: "read", Mode: fileMode(path), Err: err}
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := newBase()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &InvalidConfigError{
			Path: path,
			Err:  fmt.Errorf("YAML parse error: %w", err),
			Hint: "Restore " + path + ".bak if the last save broke it",
		}
	}
	if cfg.Servers == nil {
		cfg.Servers = make(map[string]*ServerConfig)
	}
	return cfg, nil
}

func fileMode(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%04o", info.Mode().Perm())
}
