package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/khanglvm/tool-lens-mcp/internal/config"
	"github.com/khanglvm/tool-lens-mcp/internal/upstream"
	"github.com/khanglvm/tool-lens-mcp/internal/version"
	"github.com/spf13/cobra"
)

// statusTimeout bounds connecting to all servers for --status.
const statusTimeout = 30 * time.Second

// NewListCmd creates the 'list' command for listing registered servers.
func NewListCmd() *cobra.Command {
	var jsonOutput bool
	var showStatus bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all registered upstream MCP servers",
		Long:    `Display all upstream MCP servers registered in the config file.`,
		Example: `  tool-lens-mcp list
  tool-lens-mcp ls
  tool-lens-mcp list --status  # connect and show tool counts
  tool-lens-mcp list --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, jsonOutput, showStatus)
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	cmd.Flags().BoolVarP(&showStatus, "status", "s", false, "Connect to servers and show tool counts")

	return cmd
}

// serverStatus is one row of list output.
type serverStatus struct {
	Name    string               `json:"name"`
	Server  *config.ServerConfig `json:"server"`
	Enabled bool                 `json:"enabled"`
	Tools   *int                 `json:"tools,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// runList displays all registered servers.
func runList(cmd *cobra.Command, jsonOutput, showStatus bool) error {
	out := cmd.OutOrStdout()

	path, err := configPath()
	if err != nil {
		return err
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		if !config.IsNotFound(err) {
			return err
		}
		cfg = config.NewConfig()
	}

	names := sortedNames(cfg.Servers)
	rows := make([]serverStatus, 0, len(names))
	for _, name := range names {
		rows = append(rows, serverStatus{Name: name, Server: cfg.Servers[name], Enabled: cfg.Servers[name].IsEnabled()})
	}

	if showStatus {
		probeServers(cmd.Context(), cfg, rows)
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(out, "No servers configured.")
		fmt.Fprintln(out, "Run 'tool-lens-mcp add <name> -- <command> [args...]' to add one.")
		return nil
	}

	fmt.Fprintf(out, "Registered MCP Servers (%d):\n\n", len(rows))
	for _, row := range rows {
		printServer(out, row.Name, row.Server)
		switch {
		case row.Error != "":
			fmt.Fprintf(out, "    Status:  ✗ %s\n", row.Error)
		case row.Tools != nil:
			fmt.Fprintf(out, "    Status:  ✓ %d tools\n", *row.Tools)
		}
		fmt.Fprintln(out)
	}
	return nil
}

// probeServers connects to every enabled server and fills in tool counts.
func probeServers(ctx context.Context, cfg *config.Config, rows []serverStatus) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	pool := upstream.NewPool(cfg.Proxy.Name, version.Version)
	defer pool.Close()
	_ = pool.ConnectAll(ctx, serverSpecs(cfg))

	counts := make(map[string]int)
	for _, src := range pool.Sources() {
		counts[src.Server] = len(src.Tools)
	}
	for i := range rows {
		if !rows[i].Enabled {
			continue
		}
		if n, ok := counts[rows[i].Name]; ok {
			rows[i].Tools = &n
		} else {
			rows[i].Error = "connection failed"
		}
	}
}
