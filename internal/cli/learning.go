package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/khanglvm/tool-lens-mcp/internal/config"
	"github.com/khanglvm/tool-lens-mcp/internal/storage"
	"github.com/spf13/cobra"
)

// NewLearningCmd creates the learning command group.
func NewLearningCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learning",
		Short: "Manage learned context-to-tool associations",
		Long: `The proxy learns which tools are used under which context. Each
successful tool call strengthens the association between the session's
context and the tool, and later sessions with similar contexts see that
tool ranked higher.

Associations are stored locally in the SQLite learning store (see
storage.path in the config). Only the context text, its embedding and the
tool name are kept.

The store is locked while the proxy is running; stop it first.

Commands:
  status   Show store statistics and the most associated tools
  export   Export associations as JSON
  prune    Apply the retention policy now
  clear    Delete all learned associations
  disable  Stop learning from tool calls
  enable   Resume learning from tool calls`,
	}

	cmd.AddCommand(newLearningStatusCmd())
	cmd.AddCommand(newLearningExportCmd())
	cmd.AddCommand(newLearningPruneCmd())
	cmd.AddCommand(newLearningClearCmd())
	cmd.AddCommand(newLearningToggleCmd("disable", false))
	cmd.AddCommand(newLearningToggleCmd("enable", true))

	return cmd
}

// newLearningStatusCmd shows store statistics.
func newLearningStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show learning statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := openLearningStore()
			if err != nil {
				return err
			}
			defer store.Close()

			st, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeIndentedJSON(out, st)
			}

			fmt.Fprintln(out, "Learning Status")
			fmt.Fprintln(out, "===============")
			fmt.Fprintf(out, "Learning enabled: %t\n", cfg.Learning.IsEnabled())
			fmt.Fprintf(out, "Store:            %s\n", store.Path())
			fmt.Fprintf(out, "Associations:     %d\n", st.Total)
			if st.Total > 0 {
				fmt.Fprintf(out, "Confidence:       min %.3f, avg %.3f, max %.3f\n", st.MinConfidence, st.AvgConfidence, st.MaxConfidence)
				fmt.Fprintf(out, "Last used:        %s to %s\n",
					st.OldestUse.Format("2006-01-02 15:04"), st.NewestUse.Format("2006-01-02 15:04"))
			}
			p := cfg.Storage.PrunePolicy
			fmt.Fprintf(out, "Retention:        below %.2f or unused %d days, capped at %d\n", p.MinConfidence, p.UnusedDays, p.SizeThreshold)

			if len(st.TopCapabilities) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Most associated tools:")
				for _, c := range st.TopCapabilities {
					fmt.Fprintf(out, "  %-40s %d\n", c.Capability, c.Count)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	return cmd
}

// newLearningExportCmd exports associations as JSON, without vectors.
func newLearningExportCmd() *cobra.Command {
	var outputFile string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export learned associations as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openLearningStore()
			if err != nil {
				return err
			}
			defer store.Close()

			assocs, err := store.LoadAll(cmd.Context())
			if err != nil {
				return err
			}
			if assocs == nil {
				assocs = []storage.Association{}
			}

			if outputFile == "" {
				return writeIndentedJSON(cmd.OutOrStdout(), assocs)
			}

			f, err := os.Create(outputFile)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			if err := writeIndentedJSON(f, assocs); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported %d association(s) to %s\n", len(assocs), outputFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	return cmd
}

// newLearningPruneCmd applies the retention policy immediately.
func newLearningPruneCmd() *cobra.Command {
	var policy storage.PrunePolicy

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Apply the retention policy now",
		Long: `Remove associations below the confidence floor or unused for too long,
then trim the store to its size cap by lowest confidence. Flags override
the configured policy for this run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := openLearningStore()
			if err != nil {
				return err
			}
			defer store.Close()

			p := cfg.Storage.PrunePolicy
			if cmd.Flags().Changed("min-confidence") {
				p.MinConfidence = policy.MinConfidence
			}
			if cmd.Flags().Changed("unused-days") {
				p.UnusedDays = policy.UnusedDays
			}
			if cmd.Flags().Changed("max-size") {
				p.SizeThreshold = policy.SizeThreshold
			}

			n, err := store.Prune(cmd.Context(), p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d association(s)\n", n)
			return nil
		},
	}

	cmd.Flags().Float64Var(&policy.MinConfidence, "min-confidence", 0, "Remove associations below this confidence (0 disables)")
	cmd.Flags().IntVar(&policy.UnusedDays, "unused-days", 0, "Remove associations unused for this many days")
	cmd.Flags().IntVar(&policy.SizeThreshold, "max-size", 0, "Keep at most this many associations")
	return cmd
}

// newLearningClearCmd deletes all learned associations.
func newLearningClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all learned associations",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !yes {
				fmt.Fprint(out, "This will delete all learned associations. Continue? (y/N): ")
				response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				response = strings.TrimSpace(strings.ToLower(response))
				if response != "y" && response != "yes" {
					fmt.Fprintln(out, "Cancelled")
					return nil
				}
			}

			_, store, err := openLearningStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(out, "✓ Learning data cleared")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")
	return cmd
}

// newLearningToggleCmd sets learning.enabled in the config. A running proxy
// applies the change on reload.
func newLearningToggleCmd(use string, enabled bool) *cobra.Command {
	short := "Stop learning from tool calls"
	if enabled {
		short = "Resume learning from tool calls"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			cfg, err := config.LoadOrNew(path)
			if err != nil {
				return err
			}
			cfg.Learning.Enabled = &enabled
			if err := config.Save(cfg, path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			state := "disabled"
			if enabled {
				state = "enabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Learning %s in %s\n", state, path)
			return nil
		},
	}
}

// openLearningStore opens the store configured for the current config file.
func openLearningStore() (*config.Config, *storage.SQLiteStorage, error) {
	path, err := configPath()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadOrNew(path)
	if err != nil {
		return nil, nil, err
	}
	dbPath, err := cfg.StoragePath(path)
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.Open(dbPath)
	if err != nil {
		if errors.Is(err, storage.ErrLocked) {
			return nil, nil, fmt.Errorf("%w\n\n💡 Stop the running proxy (tool-lens-mcp serve) and retry", err)
		}
		return nil, nil, fmt.Errorf("failed to open learning store: %w", err)
	}
	return cfg, store, nil
}

// writeIndentedJSON pretty-prints v.
func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
