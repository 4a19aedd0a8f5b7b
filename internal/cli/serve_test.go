package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/khanglvm/tool-lens-mcp/internal/config"
	"github.com/khanglvm/tool-lens-mcp/internal/storage"
	"go.uber.org/zap"
)

func TestNewServeCmd(t *testing.T) {
	cmd := NewServeCmd()

	if cmd == nil {
		t.Fatal("NewServeCmd() returned nil")
	}
	if cmd.Use != "serve" {
		t.Errorf("Expected Use='serve', got %q", cmd.Use)
	}
	if cmd.Flags().Lookup("http") == nil {
		t.Error("Flag 'http' not registered")
	}
}

func TestServeCommandHelp(t *testing.T) {
	output, err := execute(t, NewServeCmd(), "", "--help")
	if err != nil {
		t.Fatalf("Execute() with --help failed: %v", err)
	}
	assertContains(t, output, "serve", "stdio", "--http", "set_context", "search_available_tools")
}

func TestServerSpecs(t *testing.T) {
	off := false
	cfg := config.NewConfig()
	cfg.Servers["jira"] = &config.ServerConfig{Command: "npx", Args: []string{"-y", "@lvmk/jira-mcp"}, Env: map[string]string{"TOKEN": "x"}}
	cfg.Servers["docs"] = &config.ServerConfig{URL: "http://localhost:9000/mcp"}
	cfg.Servers["old"] = &config.ServerConfig{Command: "node", Enabled: &off}

	specs := serverSpecs(cfg)
	if len(specs) != 2 {
		t.Fatalf("expected 2 enabled specs, got %d", len(specs))
	}
	if specs[0].Name != "docs" || specs[0].URL != "http://localhost:9000/mcp" {
		t.Errorf("unexpected first spec: %+v", specs[0])
	}
	if specs[1].Name != "jira" || specs[1].Command != "npx" || len(specs[1].Args) != 2 || specs[1].Env["TOKEN"] != "x" {
		t.Errorf("unexpected second spec: %+v", specs[1])
	}
}

// newTestApp builds an app with no upstream servers and an in-memory store.
func newTestApp(t *testing.T) (*app, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := config.NewConfig()
	cfg.Storage.Path = storage.MemoryPath
	saveConfig(t, path, cfg)

	a, err := newApp(context.Background(), cfg, path, zap.NewNop())
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	t.Cleanup(a.close)
	return a, path
}

func TestNewAppWithoutServers(t *testing.T) {
	a, _ := newTestApp(t)

	st := a.proxy.Stats()
	if st.Servers != 0 || st.Tools != 0 {
		t.Errorf("expected empty catalog, got %+v", st)
	}
	if !a.tracker.IsEnabled() {
		t.Error("learning should be enabled by default")
	}
}

func TestNewAppLearningDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	off := false
	cfg := config.NewConfig()
	cfg.Storage.Path = storage.MemoryPath
	cfg.Learning.Enabled = &off

	a, err := newApp(context.Background(), cfg, path, zap.NewNop())
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	defer a.close()

	if a.tracker.IsEnabled() {
		t.Error("learning should be disabled")
	}
}

func TestAppReload(t *testing.T) {
	a, path := newTestApp(t)

	off := false
	cfg := config.NewConfig()
	cfg.Storage.Path = storage.MemoryPath
	cfg.Learning.Enabled = &off
	saveConfig(t, path, cfg)

	a.reload(context.Background())
	if a.tracker.IsEnabled() {
		t.Error("reload should disable learning")
	}

	cfg.Learning.Enabled = nil
	saveConfig(t, path, cfg)
	a.reload(context.Background())
	if !a.tracker.IsEnabled() {
		t.Error("reload should re-enable learning")
	}
}

func TestAppReloadKeepsStateOnInvalidConfig(t *testing.T) {
	a, path := newTestApp(t)

	if err := os.WriteFile(path, []byte("servers: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	a.reload(context.Background())

	if !a.tracker.IsEnabled() {
		t.Error("invalid config must not change learning state")
	}
}

func TestRequestRefreshDoesNotBlock(t *testing.T) {
	a := &app{refreshCh: make(chan struct{}, 1)}

	done := make(chan struct{})
	go func() {
		a.requestRefresh()
		a.requestRefresh()
		a.requestRefresh()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("requestRefresh blocked")
	}
	if len(a.refreshCh) != 1 {
		t.Errorf("expected one pending refresh, got %d", len(a.refreshCh))
	}
}

func TestBackgroundLoopsStopOnCancel(t *testing.T) {
	a, _ := newTestApp(t)
	a.cfg.Storage.PruneInterval = 10 * time.Millisecond
	a.cfg.Session.IdleTTL = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 3)
	go func() { a.refreshLoop(ctx); done <- struct{}{} }()
	go func() { a.pruneLoop(ctx); done <- struct{}{} }()
	go func() { a.sweepLoop(ctx); done <- struct{}{} }()

	a.requestRefresh()
	time.Sleep(50 * time.Millisecond)
	cancel()

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("background loop did not stop")
		}
	}
}
