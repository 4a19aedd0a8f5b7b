package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/khanglvm/tool-lens-mcp/internal/storage"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	if cfg.Servers == nil {
		t.Fatal("servers map not initialized")
	}
	if cfg.Proxy.Name != "tool-lens" || cfg.Proxy.NamespaceSeparator != "__" {
		t.Errorf("unexpected proxy defaults: %+v", cfg.Proxy)
	}
	if cfg.Storage.SizeThreshold != storage.DefaultPruneThreshold ||
		cfg.Storage.MinConfidence != storage.DefaultPruneMinConfidence ||
		cfg.Storage.UnusedDays != storage.DefaultPruneUnusedDays {
		t.Errorf("unexpected prune defaults: %+v", cfg.Storage.PrunePolicy)
	}
	if cfg.Embedding.Provider != "hash" || cfg.Embedding.Dimensions != 384 {
		t.Errorf("unexpected embedding defaults: %+v", cfg.Embedding)
	}
	if cfg.Retrieval.TopK != 15 || cfg.Retrieval.Timeout != 2*time.Second {
		t.Errorf("unexpected retrieval defaults: %+v", cfg.Retrieval)
	}
	if !cfg.Learning.IsEnabled() {
		t.Error("learning should default to enabled")
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
servers:
  filesystem:
    command: npx
    args: ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"]
    env:
      DEBUG: "1"
  remote:
    url: http://localhost:8080/mcp
    enabled: false
storage:
  path: data/learning.db
  pruneThreshold: 100
  pruneInterval: 1h
retrieval:
  topK: 5
  timeout: 500ms
session:
  idleTTL: 30m
learning:
  enabled: false
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	fs := cfg.Servers["filesystem"]
	if fs == nil || fs.Command != "npx" || len(fs.Args) != 3 || fs.Env["DEBUG"] != "1" {
		t.Fatalf("unexpected filesystem server: %+v", fs)
	}
	if !fs.IsEnabled() {
		t.Error("filesystem should be enabled by default")
	}
	if cfg.Servers["remote"].IsEnabled() {
		t.Error("remote should be disabled")
	}
	if got := cfg.EnabledServers(); len(got) != 1 || got[0] != "filesystem" {
		t.Errorf("unexpected enabled servers: %v", got)
	}

	if cfg.Storage.SizeThreshold != 100 {
		t.Errorf("expected pruneThreshold 100, got %d", cfg.Storage.SizeThreshold)
	}
	if cfg.Storage.MinConfidence != storage.DefaultPruneMinConfidence {
		t.Errorf("expected default min confidence, got %v", cfg.Storage.MinConfidence)
	}
	if cfg.Storage.PruneInterval != time.Hour {
		t.Errorf("expected prune interval 1h, got %v", cfg.Storage.PruneInterval)
	}
	if cfg.Retrieval.TopK != 5 || cfg.Retrieval.Timeout != 500*time.Millisecond {
		t.Errorf("unexpected retrieval: %+v", cfg.Retrieval)
	}
	if cfg.Session.IdleTTL != 30*time.Minute {
		t.Errorf("expected idle TTL 30m, got %v", cfg.Session.IdleTTL)
	}
	if cfg.Learning.IsEnabled() {
		t.Error("learning should be disabled")
	}

	dbPath, err := cfg.StoragePath(path)
	if err != nil {
		t.Fatalf("StoragePath failed: %v", err)
	}
	if want := filepath.Join(filepath.Dir(path), "data", "learning.db"); dbPath != want {
		t.Errorf("expected %s, got %s", want, dbPath)
	}
}

func TestLoadFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"servers": {"echo": {"command": "node", "args": ["echo.js"]}}, "proxy": {"name": "lens"}}`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.Servers["echo"].Command != "node" {
		t.Errorf("unexpected server: %+v", cfg.Servers["echo"])
	}
	if cfg.Proxy.Name != "lens" || cfg.Proxy.NamespaceSeparator != "__" {
		t.Errorf("unexpected proxy: %+v", cfg.Proxy)
	}
}

func TestStoragePath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		name string
		path string
		want string
	}{
		{"relative", "learning.db", filepath.Join("/etc/lens", "learning.db")},
		{"absolute", "/var/lib/lens.db", "/var/lib/lens.db"},
		{"home", "~/lens/learning.db", filepath.Join(home, "lens", "learning.db")},
		{"memory", ":memory:", ":memory:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.Storage.Path = tt.path
			got, err := cfg.StoragePath("/etc/lens/config.yaml")
			if err != nil {
				t.Fatalf("StoragePath failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	def, err := GetDefaultConfigPath()
	if err != nil {
		t.Fatalf("GetDefaultConfigPath failed: %v", err)
	}
	if !strings.HasSuffix(def, filepath.Join(".tool-lens-mcp", "config.yaml")) {
		t.Errorf("unexpected default path: %s", def)
	}

	if got, _ := ResolvePath(""); got != def {
		t.Errorf("expected default path, got %s", got)
	}

	t.Setenv(EnvConfigPath, "/tmp/env.yaml")
	if got, _ := ResolvePath(""); got != "/tmp/env.yaml" {
		t.Errorf("expected env path, got %s", got)
	}
	if got, _ := ResolvePath("/tmp/flag.yaml"); got != "/tmp/flag.yaml" {
		t.Errorf("expected flag path, got %s", got)
	}
}

func TestEmbedderConfigReadsKeyFromEnv(t *testing.T) {
	t.Setenv("LENS_TEST_KEY", "secret")
	e := EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small", APIKeyEnv: "LENS_TEST_KEY"}

	got := e.EmbedderConfig()
	if got.APIKey != "secret" || got.Model != "text-embedding-3-small" {
		t.Errorf("unexpected embedder config: %+v", got)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("not found has hint", func(t *testing.T) {
		_, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
		var nf *ConfigNotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("expected ConfigNotFoundError, got %v", err)
		}
		if !strings.Contains(err.Error(), "💡") || !strings.Contains(err.Error(), "tool-lens-mcp add") {
			t.Errorf("error should contain a hint, got: %v", err)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		writeFile(t, path, "servers: [unclosed")
		_, err := LoadFrom(path)
		var inv *InvalidConfigError
		if !errors.As(err, &inv) {
			t.Fatalf("expected InvalidConfigError, got %v", err)
		}
		if !strings.Contains(err.Error(), ".bak") {
			t.Errorf("error should mention backup, got: %v", err)
		}
	})

	t.Run("invalid server", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "invalid.yaml")
		writeFile(t, path, "servers:\n  bad__name:\n    command: node\n")
		_, err := LoadFrom(path)
		var inv *InvalidConfigError
		if !errors.As(err, &inv) {
			t.Fatalf("expected InvalidConfigError, got %v", err)
		}
		if !strings.Contains(err.Error(), "must not contain '__'") {
			t.Errorf("unexpected message: %v", err)
		}
	})

	t.Run("permission denied", func(t *testing.T) {
		if runtime.GOOS == "windows" || os.Geteuid() == 0 {
			t.Skip("permission bits are not enforced")
		}
		path := filepath.Join(t.TempDir(), "readonly.yaml")
		writeFile(t, path, "servers: {}")
		os.Chmod(path, 0o000)
		defer os.Chmod(path, 0o644)

		_, err := LoadFrom(path)
		var pe *PermissionError
		if !errors.As(err, &pe) {
			t.Fatalf("expected PermissionError, got %v", err)
		}
		if !strings.Contains(err.Error(), "chmod") {
			t.Errorf("error should contain a fix, got: %v", err)
		}
	})
}

func TestLoadPruneMinConfidence(t *testing.T) {
	tests := []struct {
		name    string
		storage string
		want    float64
		wantErr string
	}{
		{name: "absent takes default", storage: "  pruneThreshold: 100\n", want: storage.DefaultPruneMinConfidence},
		{name: "zero disables floor", storage: "  pruneMinConfidence: 0\n", want: 0},
		{name: "upper bound", storage: "  pruneMinConfidence: 1\n", want: 1},
		{name: "above one rejected", storage: "  pruneMinConfidence: 1.5\n", wantErr: "between 0 and 1"},
		{name: "negative rejected", storage: "  pruneMinConfidence: -0.1\n", wantErr: "between 0 and 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeFile(t, path, "servers: {}\nstorage:\n"+tt.storage)

			cfg, err := LoadFrom(path)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadFrom failed: %v", err)
			}
			if cfg.Storage.MinConfidence != tt.want {
				t.Errorf("pruneMinConfidence = %v, want %v", cfg.Storage.MinConfidence, tt.want)
			}
		})
	}
}

func TestSaveKeepsZeroMinConfidence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := NewConfig()
	cfg.Storage.MinConfidence = 0
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if loaded.Storage.MinConfidence != 0 {
		t.Errorf("expected 0 after reload, got %v", loaded.Storage.MinConfidence)
	}
}

func TestLoadOrNew(t *testing.T) {
	cfg, err := LoadOrNew(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrNew failed: %v", err)
	}
	if len(cfg.Servers) != 0 || cfg.Proxy.Name != DefaultProxyName {
		t.Errorf("expected fresh config, got %+v", cfg)
	}
}
