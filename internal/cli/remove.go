package cli

import (
	"fmt"

	"github.com/khanglvm/tool-lens-mcp/internal/config"
	"github.com/spf13/cobra"
)

// NewRemoveCmd creates the 'remove' command for removing upstream servers.
func NewRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove an upstream MCP server",
		Long: `Remove an upstream MCP server from the configuration.

A running proxy picks up the change and drops the server's tools. Learned
associations for those tools are kept and expire through normal pruning.`,
		Example: `  tool-lens-mcp remove jira
  tool-lens-mcp rm jira`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd, args[0])
		},
	}

	return cmd
}

// runRemove removes an upstream server from the configuration.
func runRemove(cmd *cobra.Command, name string) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if _, exists := cfg.Servers[name]; !exists {
		return fmt.Errorf("server '%s' not found", name)
	}
	delete(cfg.Servers, name)

	if err := config.Save(cfg, path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed server '%s'\n", name)
	return nil
}
