package cli

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/khanglvm/tool-lens-mcp/internal/config"
	"github.com/spf13/cobra"
)

// useTempConfig points every command at a config file in a fresh temp dir.
// The learning store resolves next to it.
func useTempConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv(config.EnvConfigPath, path)
	configFlag = ""
	return path
}

// saveConfig writes cfg to path, failing the test on error.
func saveConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	if err := config.Save(cfg, path); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}
}

// execute runs cmd with args and stdin, returning combined output.
func execute(t *testing.T, cmd *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	var in io.Reader = strings.NewReader(stdin)
	cmd.SetIn(in)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func assertContains(t *testing.T, output string, expected ...string) {
	t.Helper()
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q\n%s", want, output)
		}
	}
}
