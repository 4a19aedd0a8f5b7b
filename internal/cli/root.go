/*
Package cli implements the tool-lens-mcp commands.

Every command resolves the config file from --config, then TOOL_LENS_CONFIG,
then ~/.tool-lens-mcp/config.yaml.
*/
package cli

import (
	"github.com/khanglvm/tool-lens-mcp/internal/config"
	"github.com/khanglvm/tool-lens-mcp/internal/version"
	"github.com/spf13/cobra"
)

// Persistent flags shared by all subcommands.
var (
	configFlag string
	debugFlag  bool
)

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tool-lens-mcp",
		Short: "Context-aware MCP proxy that shows clients only the tools they need",
		Long: `tool-lens-mcp aggregates many MCP servers behind one endpoint and filters
the tool list each client sees by its declared working context.

Clients call set_context to describe their task. The proxy embeds that
context, ranks upstream tools against both their descriptions and what
similar contexts used before, and narrows tools/list to the best matches.
Every successful tool call is learned from, so rankings improve with use.`,
		Version:       version.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default ~/.tool-lens-mcp/config.yaml, or $TOOL_LENS_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging to stderr")

	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewAddCmd())
	rootCmd.AddCommand(NewRemoveCmd())
	rootCmd.AddCommand(NewListCmd())
	rootCmd.AddCommand(NewVerifyCmd())
	rootCmd.AddCommand(NewLearningCmd())
	rootCmd.AddCommand(NewBenchmarkCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// configPath resolves the config file for the current invocation.
func configPath() (string, error) {
	return config.ResolvePath(configFlag)
}
