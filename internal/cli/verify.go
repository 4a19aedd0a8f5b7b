package cli

import (
	"context"
	"fmt"

	"github.com/khanglvm/tool-lens-mcp/internal/config"
	"github.com/khanglvm/tool-lens-mcp/internal/embedding"
	"github.com/khanglvm/tool-lens-mcp/internal/upstream"
	"github.com/khanglvm/tool-lens-mcp/internal/version"
	"github.com/spf13/cobra"
)

// NewVerifyCmd creates the 'verify' command for checking configuration.
func NewVerifyCmd() *cobra.Command {
	var connect bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify configuration and connections",
		Long: `Verify that the configuration is valid and the embedding provider can be
built. With --connect, also connect to every enabled server.`,
		Example: `  tool-lens-mcp verify
  tool-lens-mcp verify --connect`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, connect)
		},
	}

	cmd.Flags().BoolVar(&connect, "connect", false, "Connect to each enabled server")

	return cmd
}

// runVerify validates the configuration.
func runVerify(cmd *cobra.Command, connect bool) error {
	out := cmd.OutOrStdout()

	path, err := configPath()
	if err != nil {
		return err
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	fmt.Fprintf(out, "✓ Config file: %s\n", path)
	fmt.Fprintf(out, "✓ Servers registered: %d (%d enabled)\n", len(cfg.Servers), len(cfg.EnabledServers()))

	dbPath, err := cfg.StoragePath(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Learning store: %s\n", dbPath)

	if _, err := embedding.New(cfg.Embedding.EmbedderConfig()); err != nil {
		return fmt.Errorf("embedding provider: %w", err)
	}
	fmt.Fprintf(out, "✓ Embedding provider: %s\n", cfg.Embedding.Provider)

	if !connect {
		return nil
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	failed := 0
	for _, spec := range serverSpecs(cfg) {
		if err := verifyServer(ctx, cfg, spec); err != nil {
			failed++
			fmt.Fprintf(out, "✗ %s: %v\n", spec.Name, err)
			continue
		}
		fmt.Fprintf(out, "✓ %s: connected\n", spec.Name)
	}
	if failed > 0 {
		return fmt.Errorf("%d server(s) failed to connect", failed)
	}
	return nil
}

func verifyServer(ctx context.Context, cfg *config.Config, spec upstream.ServerSpec) error {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	pool := upstream.NewPool(cfg.Proxy.Name, version.Version)
	defer pool.Close()
	return pool.Connect(ctx, spec)
}
