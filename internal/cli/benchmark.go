package cli

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/khanglvm/tool-lens-mcp/internal/benchmark"
	"github.com/khanglvm/tool-lens-mcp/internal/config"
	"github.com/khanglvm/tool-lens-mcp/internal/embedding"
	"github.com/khanglvm/tool-lens-mcp/internal/mcp"
	"github.com/khanglvm/tool-lens-mcp/internal/registry"
	"github.com/khanglvm/tool-lens-mcp/internal/retrieval"
	"github.com/khanglvm/tool-lens-mcp/internal/upstream"
	"github.com/khanglvm/tool-lens-mcp/internal/version"
)

// NewBenchmarkCmd creates the 'benchmark' command for token efficiency testing.
func NewBenchmarkCmd() *cobra.Command {
	var (
		query      string
		topK       int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Compare token consumption: full tool list vs filtered for a context",
		Long: `Run a token efficiency benchmark for one context against your servers.

UNFILTERED:
  Every upstream tool definition is sent to the AI client.

FILTERED:
  Only the tools ranked for the context are sent, using the learned
  associations in your store. Below the cold-start confidence the proxy
  still serves the full list, and the benchmark reports that.

Upstream servers are connected to read their real tool definitions.`,
		Example: `  tool-lens-mcp benchmark --query "triage open jira bugs"
  tool-lens-mcp benchmark --query "review pull requests" --top-k 10 --json

  # Retrieval latency
  tool-lens-mcp benchmark speed --query "triage open jira bugs"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(cmd, query, topK, jsonOutput)
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "Context to rank tools for (required)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Tools to keep (default retrieval.topK)")
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("query")

	cmd.AddCommand(NewSpeedBenchmarkCmd())
	return cmd
}

// benchCatalog is a connected catalog with a ranking engine over it.
type benchCatalog struct {
	cfg      *config.Config
	registry *registry.Registry
	engine   *retrieval.Retriever
	servers  int
	close    func()
}

// openBenchCatalog connects to the enabled servers, builds the registry and
// loads both static and learned indexes.
func openBenchCatalog(ctx context.Context) (*benchCatalog, error) {
	cfg, store, err := openLearningStore()
	if err != nil {
		return nil, err
	}
	if len(cfg.EnabledServers()) == 0 {
		store.Close()
		return nil, fmt.Errorf("no servers configured. Run 'tool-lens-mcp add' first")
	}

	embedder, err := embedding.New(cfg.Embedding.EmbedderConfig())
	if err != nil {
		store.Close()
		return nil, err
	}

	pool := upstream.NewPool(cfg.Proxy.Name, version.Version)
	cleanup := func() {
		pool.Close()
		store.Close()
	}

	connectCtx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()
	if err := pool.ConnectAll(connectCtx, serverSpecs(cfg)); err != nil {
		cleanup()
		return nil, err
	}

	reg := registry.New(cfg.Proxy.NamespaceSeparator, nil)
	reg.Build(pool.Sources())

	engine := retrieval.New(embedder, store)
	if err := engine.IndexStaticTools(ctx, reg); err != nil {
		cleanup()
		return nil, err
	}
	if _, err := engine.LoadLearned(ctx); err != nil {
		cleanup()
		return nil, err
	}

	return &benchCatalog{cfg: cfg, registry: reg, engine: engine, servers: pool.Len(), close: cleanup}, nil
}

// runBenchmark executes the token efficiency benchmark.
func runBenchmark(cmd *cobra.Command, query string, topK int, jsonOutput bool) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	bc, err := openBenchCatalog(ctx)
	if err != nil {
		return err
	}
	defer bc.close()

	if topK <= 0 {
		topK = bc.cfg.Retrieval.TopK
	}

	conf, err := bc.engine.ContextConfidence(ctx, query)
	if err != nil {
		return err
	}

	all := make([]*mcpsdk.Tool, 0, bc.registry.Size())
	for _, e := range bc.registry.All() {
		all = append(all, e.Tool)
	}

	filtered := all
	coldStart := conf < bc.engine.ColdStartThreshold()
	if !coldStart {
		names, err := bc.engine.Retrieve(ctx, query, topK)
		if err != nil {
			return err
		}
		filtered = make([]*mcpsdk.Tool, 0, len(names))
		for _, name := range names {
			if e, ok := bc.registry.Get(name); ok {
				filtered = append(filtered, e.Tool)
			}
		}
	}

	result := benchmark.Compare(all, filtered, mcp.MetaTools())
	result.Query = query
	result.Servers = bc.servers
	result.Confidence = conf
	result.ColdStart = coldStart
	if coldStart {
		result.Tools = nil
	}

	if jsonOutput {
		return writeIndentedJSON(cmd.OutOrStdout(), result)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprint(cmd.OutOrStdout(), benchmark.FormatResult(&result))
	return nil
}

// NewSpeedBenchmarkCmd creates the 'benchmark speed' command for latency testing.
func NewSpeedBenchmarkCmd() *cobra.Command {
	var (
		query      string
		iterations int
	)

	cmd := &cobra.Command{
		Use:   "speed",
		Short: "Measure retrieval latency",
		Long: `Measure the time the proxy spends deciding a filtered tool list:
1. Context confidence over the learned index
2. Blended retrieval over static and learned indexes

The first iteration includes embedding the context; later ones hit the
embedding cache when it is enabled.`,
		Example: `  tool-lens-mcp benchmark speed --query "triage open jira bugs"
  tool-lens-mcp benchmark speed --query "review pull requests" --iterations 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSpeedBenchmark(cmd, query, iterations)
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "Context to rank tools for (required)")
	cmd.Flags().IntVarP(&iterations, "iterations", "n", 20, "Number of iterations")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}

// runSpeedBenchmark measures the latency of one filtering decision.
func runSpeedBenchmark(cmd *cobra.Command, query string, iterations int) error {
	if iterations <= 0 {
		return fmt.Errorf("--iterations must be positive")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	bc, err := openBenchCatalog(ctx)
	if err != nil {
		return err
	}
	defer bc.close()

	st := bc.engine.Stats()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║              SPEED BENCHMARK (Retrieval Latency)             ║")
	fmt.Fprintln(out, "╠══════════════════════════════════════════════════════════════╣")
	fmt.Fprintf(out, "║  Iterations:      %-43d║\n", iterations)
	fmt.Fprintf(out, "║  Static entries:  %-43d║\n", st.StaticEntries)
	fmt.Fprintf(out, "║  Learned entries: %-43d║\n", st.LearnedEntries)
	fmt.Fprintln(out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	var total, first, fastest, slowest time.Duration
	for i := 0; i < iterations; i++ {
		start := time.Now()
		if _, err := bc.engine.ContextConfidence(ctx, query); err != nil {
			return err
		}
		if _, err := bc.engine.Retrieve(ctx, query, bc.cfg.Retrieval.TopK); err != nil {
			return err
		}
		elapsed := time.Since(start)

		total += elapsed
		if i == 0 {
			first, fastest, slowest = elapsed, elapsed, elapsed
		}
		fastest = min(fastest, elapsed)
		slowest = max(slowest, elapsed)
	}

	fmt.Fprintf(out, "First run: %v\n", first.Round(time.Microsecond))
	fmt.Fprintf(out, "Fastest:   %v\n", fastest.Round(time.Microsecond))
	fmt.Fprintf(out, "Slowest:   %v\n", slowest.Round(time.Microsecond))
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintf(out, "Average Latency: %v\n", (total / time.Duration(iterations)).Round(time.Microsecond))
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════════════")
	return nil
}
