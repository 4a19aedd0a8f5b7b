package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/khanglvm/tool-lens-mcp/internal/config"
)

func TestNewVerifyCmd(t *testing.T) {
	cmd := NewVerifyCmd()

	if cmd == nil {
		t.Fatal("NewVerifyCmd() returned nil")
	}
	if cmd.Use != "verify" {
		t.Errorf("Expected Use='verify', got %q", cmd.Use)
	}
	if cmd.Flags().Lookup("connect") == nil {
		t.Error("Flag 'connect' not registered")
	}
}

func TestVerifyCommandHelp(t *testing.T) {
	output, err := execute(t, NewVerifyCmd(), "", "--help")
	if err != nil {
		t.Fatalf("Execute() with --help failed: %v", err)
	}
	assertContains(t, output, "verify", "Verify", "configuration")
}

func TestVerifyValidConfig(t *testing.T) {
	path := useTempConfig(t)

	cfg := config.NewConfig()
	cfg.Servers["jira"] = &config.ServerConfig{Command: "npx"}
	saveConfig(t, path, cfg)

	output, err := execute(t, NewVerifyCmd(), "")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	assertContains(t, output,
		"✓ Config file: "+path,
		"Servers registered: 1 (1 enabled)",
		filepath.Join(filepath.Dir(path), "learning.db"),
		"Embedding provider: hash")
}

func TestVerifyErrors(t *testing.T) {
	t.Run("missing config", func(t *testing.T) {
		useTempConfig(t)
		_, err := execute(t, NewVerifyCmd(), "")
		if err == nil || !strings.Contains(err.Error(), "configuration error") {
			t.Errorf("expected configuration error, got %v", err)
		}
	})

	t.Run("invalid config", func(t *testing.T) {
		path := useTempConfig(t)
		content := "servers:\n  jira:\n    command: npx\nembedding:\n  provider: onnx\n"
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := execute(t, NewVerifyCmd(), "")
		if err == nil || !strings.Contains(err.Error(), "embedding.provider") {
			t.Errorf("expected provider error, got %v", err)
		}
	})

	t.Run("unreachable server", func(t *testing.T) {
		path := useTempConfig(t)
		cfg := config.NewConfig()
		cfg.Servers["ghost"] = &config.ServerConfig{Command: filepath.Join(t.TempDir(), "does-not-exist")}
		saveConfig(t, path, cfg)

		output, err := execute(t, NewVerifyCmd(), "", "--connect")
		if err == nil || !strings.Contains(err.Error(), "1 server(s) failed") {
			t.Errorf("expected connect failure, got %v", err)
		}
		assertContains(t, output, "✗ ghost:")
	})
}
