package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/khanglvm/tool-lens-mcp/internal/config"
	"github.com/khanglvm/tool-lens-mcp/internal/embedding"
	"github.com/khanglvm/tool-lens-mcp/internal/filtering"
	"github.com/khanglvm/tool-lens-mcp/internal/learning"
	"github.com/khanglvm/tool-lens-mcp/internal/logging"
	"github.com/khanglvm/tool-lens-mcp/internal/mcp"
	"github.com/khanglvm/tool-lens-mcp/internal/registry"
	"github.com/khanglvm/tool-lens-mcp/internal/retrieval"
	"github.com/khanglvm/tool-lens-mcp/internal/search"
	"github.com/khanglvm/tool-lens-mcp/internal/session"
	"github.com/khanglvm/tool-lens-mcp/internal/storage"
	"github.com/khanglvm/tool-lens-mcp/internal/upstream"
	"github.com/khanglvm/tool-lens-mcp/internal/version"
	"github.com/khanglvm/tool-lens-mcp/internal/watcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// shutdownTimeout bounds the final prune and HTTP drain.
	shutdownTimeout = 10 * time.Second

	defaultSweepInterval = time.Minute
)

// NewServeCmd creates the 'serve' command for running the proxy.
func NewServeCmd() *cobra.Command {
	var httpAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP proxy (stdio transport, or HTTP with --http)",
		Long: `Start the tool-lens-mcp proxy.

By default the proxy speaks MCP over stdio. With --http it serves streamable
HTTP at /mcp, plus /healthz and /stats.

Upstream servers from the config are connected at startup. Edits to the
config file are applied while running: servers are added, removed or
reconnected and the tool list is refreshed.

Besides every upstream tool, two meta-tools are exposed:
  • set_context            - Declare the current task to narrow the tool list
  • search_available_tools - Keyword search across all upstream tools`,
		Example: `  # Run over stdio
  tool-lens-mcp serve

  # Serve streamable HTTP
  tool-lens-mcp serve --http 127.0.0.1:8808

  # Add to Claude Code
  claude mcp add tool-lens -- tool-lens-mcp serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
			defer stop()
			return runServe(ctx, httpAddr)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "Serve streamable HTTP on this address instead of stdio")

	return cmd
}

// app holds the running components of the proxy.
type app struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	store    *storage.SQLiteStorage
	engine   *retrieval.Retriever
	pool     *upstream.Pool
	sessions *session.Store
	tracker  *learning.Tracker
	proxy    *mcp.Server

	refreshCh chan struct{}
}

// runServe starts the proxy and blocks until ctx is cancelled or the
// transport ends.
func runServe(ctx context.Context, httpAddr string) error {
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

	logger, err := logging.New(cfg.Logging.Level, debugFlag)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if len(cfg.Servers) == 0 {
		logger.Warn("no upstream servers configured", zap.String("config", path))
	}

	a, err := newApp(ctx, cfg, path, logger)
	if err != nil {
		return err
	}
	defer a.close()

	// The transport ending, by client disconnect or signal, stops the
	// background loops too.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { a.refreshLoop(gctx); return nil })
	g.Go(func() error { a.pruneLoop(gctx); return nil })
	g.Go(func() error { a.sweepLoop(gctx); return nil })

	w := watcher.New(path, func() { a.reload(gctx) }, watcher.WithLogger(logger))
	if err := w.Start(gctx); err != nil {
		logger.Warn("config watcher disabled", zap.Error(err))
	}
	defer w.Stop()

	g.Go(func() error {
		defer cancel()
		if httpAddr != "" {
			return a.serveHTTP(gctx, httpAddr)
		}
		logger.Info("serving MCP over stdio")
		return a.proxy.RunStdio(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("shutting down")
	return nil
}

// newApp wires every component in startup order: embedder, store, startup
// prune, upstream connections, registry and indexes, learned index, recorder.
func newApp(ctx context.Context, cfg *config.Config, path string, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:        cfg,
		configPath: path,
		logger:     logger,
		refreshCh:  make(chan struct{}, 1),
	}

	embedder, err := embedding.New(cfg.Embedding.EmbedderConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	dbPath, err := cfg.StoragePath(path)
	if err != nil {
		return nil, err
	}
	a.store, err = storage.Open(dbPath, storage.WithLogger(logger.Named("storage")))
	if err != nil {
		return nil, fmt.Errorf("failed to open learning store: %w", err)
	}

	a.engine = retrieval.New(embedder, a.store, retrieval.WithLogger(logger.Named("retrieval")))
	if n, err := a.engine.Prune(ctx, cfg.Storage.PrunePolicy); err != nil {
		logger.Warn("startup prune failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("pruned learned associations", zap.Int("removed", n))
	}

	a.pool = upstream.NewPool(cfg.Proxy.Name, version.Version,
		upstream.WithLogger(logger.Named("upstream")),
		upstream.WithOnChange(func(string) { a.requestRefresh() }))
	if err := a.pool.ConnectAll(ctx, serverSpecs(cfg)); err != nil {
		logger.Error("no upstream server is reachable", zap.Error(err))
	}

	reg := registry.New(cfg.Proxy.NamespaceSeparator, logger.Named("registry"))
	idx, err := search.NewIndexer(logger.Named("search"))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create search index: %w", err)
	}

	sessionOpts := []session.Option{}
	if cfg.Session.IdleTTL > 0 {
		sessionOpts = append(sessionOpts, session.WithIdleTTL(cfg.Session.IdleTTL))
	}
	a.sessions = session.NewStore(sessionOpts...)

	filter := filtering.New(a.engine, a.sessions,
		filtering.WithTopK(cfg.Retrieval.TopK),
		filtering.WithTimeout(cfg.Retrieval.Timeout),
		filtering.WithLogger(logger.Named("filter")))

	a.tracker = learning.NewTracker(a.engine, learning.WithLogger(logger.Named("learning")))
	if !cfg.Learning.IsEnabled() {
		a.tracker.Disable()
	}

	a.proxy = mcp.NewServer(mcp.Options{
		Name:     cfg.Proxy.Name,
		Version:  version.Version,
		Upstream: a.pool,
		Registry: reg,
		Search:   idx,
		Engine:   a.engine,
		Filter:   filter,
		Sessions: a.sessions,
		Tracker:  a.tracker,
		Logger:   logger.Named("proxy"),
	})
	if err := a.proxy.Refresh(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to build tool catalog: %w", err)
	}

	n, err := a.engine.LoadLearned(ctx)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to load learned associations: %w", err)
	}

	logger.Info("proxy ready",
		zap.Int("servers", a.pool.Len()),
		zap.Int("tools", reg.Size()),
		zap.Int("learned", n),
		zap.String("db", dbPath))
	return a, nil
}

// serverSpecs converts the enabled config servers to upstream specs.
func serverSpecs(cfg *config.Config) []upstream.ServerSpec {
	names := cfg.EnabledServers()
	specs := make([]upstream.ServerSpec, 0, len(names))
	for _, name := range names {
		s := cfg.Servers[name]
		specs = append(specs, upstream.ServerSpec{
			Name:    name,
			Command: s.Command,
			Args:    s.Args,
			Env:     s.Env,
			Cwd:     s.Cwd,
			URL:     s.URL,
		})
	}
	return specs
}

func (a *app) requestRefresh() {
	select {
	case a.refreshCh <- struct{}{}:
	default:
	}
}

// refreshLoop republishes the catalog whenever an upstream tool list changes.
func (a *app) refreshLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.refreshCh:
			if err := a.proxy.Refresh(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("catalog refresh failed", zap.Error(err))
			}
		}
	}
}

// pruneLoop applies retention periodically when storage.pruneInterval is set.
func (a *app) pruneLoop(ctx context.Context) {
	interval := a.cfg.Storage.PruneInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.engine.Prune(ctx, a.cfg.Storage.PrunePolicy)
			if err != nil {
				a.logger.Warn("periodic prune failed", zap.Error(err))
				continue
			}
			a.logger.Debug("periodic prune", zap.Int("removed", n))
		}
	}
}

// sweepLoop evicts idle sessions when session.idleTTL is set.
func (a *app) sweepLoop(ctx context.Context) {
	ttl := a.cfg.Session.IdleTTL
	if ttl <= 0 {
		return
	}
	interval := ttl / 2
	if interval > defaultSweepInterval {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.sessions.Sweep(); n > 0 {
				a.logger.Debug("evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}

// reload applies an edited config file. Upstream servers are synced and the
// learning toggle is applied; other settings need a restart.
func (a *app) reload(ctx context.Context) {
	cfg, err := config.LoadFrom(a.configPath)
	if err != nil {
		a.logger.Error("ignoring invalid config change", zap.Error(err))
		return
	}

	changed, err := a.pool.Sync(ctx, serverSpecs(cfg))
	if err != nil {
		a.logger.Warn("some upstream servers failed to connect", zap.Error(err))
	}
	if changed {
		a.requestRefresh()
	}

	if cfg.Learning.IsEnabled() {
		a.tracker.Enable()
	} else {
		a.tracker.Disable()
	}
	a.logger.Info("config reloaded", zap.Bool("servers_changed", changed))
}

func (a *app) serveHTTP(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.proxy.HTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("serving MCP over HTTP", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}

// close releases everything in reverse startup order. Queued learning
// signals are applied before the final prune.
func (a *app) close() {
	if a.tracker != nil {
		a.tracker.Stop()
	}
	if a.engine != nil && a.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if _, err := a.engine.Prune(ctx, a.cfg.Storage.PrunePolicy); err != nil {
			a.logger.Warn("shutdown prune failed", zap.Error(err))
		}
		cancel()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close learning store", zap.Error(err))
		}
	}
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			a.logger.Warn("failed to close upstream connections", zap.Error(err))
		}
	}
}
