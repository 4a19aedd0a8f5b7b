/*
Package upstream manages client connections to the proxied MCP servers.

Each configured server gets its own go-sdk client session, either over a
spawned subprocess (stdio) or over streamable HTTP. The pool keeps the
latest tool list of every connected server and refreshes it when a server
announces tools/list_changed.
*/
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/khanglvm/tool-lens-mcp/internal/registry"
)

var (
	// ErrUnknownServer is returned when calling a server that is not connected.
	ErrUnknownServer = errors.New("unknown upstream server")

	errNoTransport = errors.New("no transport configured: must provide either 'command' or 'url'")
)

// ServerSpec describes how to reach one upstream server.
type ServerSpec struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	Cwd     string
	URL     string
}

// Equal reports whether two specs would start the same connection.
func (s ServerSpec) Equal(o ServerSpec) bool {
	if s.Name != o.Name || s.Command != o.Command || s.Cwd != o.Cwd || s.URL != o.URL {
		return false
	}
	if len(s.Args) != len(o.Args) || len(s.Env) != len(o.Env) {
		return false
	}
	for i := range s.Args {
		if s.Args[i] != o.Args[i] {
			return false
		}
	}
	for k, v := range s.Env {
		if ov, ok := o.Env[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// TransportFunc builds the client transport for a server.
type TransportFunc func(spec ServerSpec) (mcp.Transport, error)

type connection struct {
	spec    ServerSpec
	session *mcp.ClientSession

	mu    sync.RWMutex
	tools []*mcp.Tool
}

func (c *connection) setTools(tools []*mcp.Tool) {
	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
}

func (c *connection) getTools() []*mcp.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// Pool holds one client session per connected upstream server.
type Pool struct {
	mu    sync.RWMutex
	conns map[string]*connection

	impl      *mcp.Implementation
	transport TransportFunc
	onChange  func(server string)
	logger    *zap.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithTransport overrides how transports are built.
func WithTransport(fn TransportFunc) Option {
	return func(p *Pool) { p.transport = fn }
}

// WithOnChange registers a callback run after a server's tool list is refreshed
// in response to tools/list_changed.
func WithOnChange(fn func(server string)) Option {
	return func(p *Pool) { p.onChange = fn }
}

// NewPool creates an empty pool. name and version identify the proxy to upstreams.
func NewPool(name, version string, opts ...Option) *Pool {
	p := &Pool{
		conns:     make(map[string]*connection),
		impl:      &mcp.Implementation{Name: name, Version: version},
		transport: defaultTransport,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// execCommand is a variable that allows tests to mock exec.Command
var execCommand = exec.Command

func defaultTransport(spec ServerSpec) (mcp.Transport, error) {
	if spec.URL != "" {
		return &mcp.StreamableClientTransport{
			Endpoint:   spec.URL,
			MaxRetries: 5,
		}, nil
	}
	if spec.Command == "" {
		return nil, errNoTransport
	}

	cmd := execCommand(spec.Command, spec.Args...)
	if len(spec.Env) > 0 {
		keys := make([]string, 0, len(spec.Env))
		for k := range spec.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		env := os.Environ()
		for _, k := range keys {
			env = append(env, k+"="+spec.Env[k])
		}
		cmd.Env = env
	}
	cmd.Dir = spec.Cwd
	// Upstream stderr passes through; stdout carries the protocol.
	cmd.Stderr = os.Stderr

	return &mcp.CommandTransport{Command: cmd}, nil
}

// ConnectAll connects every spec concurrently. Failures are logged and skipped;
// an error is returned only when every server failed.
func (p *Pool) ConnectAll(ctx context.Context, specs []ServerSpec) error {
	if len(specs) == 0 {
		return nil
	}

	var failed atomic.Int32
	var g errgroup.Group
	for _, spec := range specs {
		spec := spec
		g.Go(func() error {
			if err := p.Connect(ctx, spec); err != nil {
				failed.Add(1)
				p.logger.Error("failed to connect upstream server",
					zap.String("server", spec.Name),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	if int(failed.Load()) == len(specs) {
		return fmt.Errorf("failed to connect any of %d upstream servers", len(specs))
	}
	return nil
}

// Connect opens a session to spec and lists its tools. An existing connection
// with the same name is closed first.
func (p *Pool) Connect(ctx context.Context, spec ServerSpec) error {
	transport, err := p.transport(spec)
	if err != nil {
		return err
	}

	name := spec.Name
	client := mcp.NewClient(p.impl, &mcp.ClientOptions{
		ToolListChangedHandler: func(context.Context, *mcp.ToolListChangedRequest) {
			// Listing from inside the notification handler would block the session.
			go p.handleListChanged(name)
		},
	})

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return connectError(spec, err)
	}

	tools, err := listTools(ctx, session)
	if err != nil {
		session.Close()
		return connectError(spec, err)
	}

	conn := &connection{spec: spec, session: session, tools: tools}

	p.mu.Lock()
	old := p.conns[name]
	p.conns[name] = conn
	p.mu.Unlock()

	if old != nil {
		old.session.Close()
	}

	p.logger.Info("connected upstream server",
		zap.String("server", name),
		zap.Int("tools", len(tools)))
	return nil
}

// connectError adds an npm hint for the common case of a missing npx package,
// which shows up as EOF during initialization.
func connectError(spec ServerSpec, err error) error {
	if strings.Contains(err.Error(), "EOF") {
		if pkg := getNpmPackage(spec); pkg != "" {
			return fmt.Errorf("MCP server %q failed to start. Package '%s' may not exist or failed to load. Verify with: npm view %s", spec.Name, pkg, pkg)
		}
	}
	return fmt.Errorf("failed to connect to %q: %w", spec.Name, err)
}

func getNpmPackage(spec ServerSpec) string {
	if spec.Command != "npx" {
		return ""
	}
	for _, arg := range spec.Args {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		return arg
	}
	return ""
}

func listTools(ctx context.Context, session *mcp.ClientSession) ([]*mcp.Tool, error) {
	var tools []*mcp.Tool
	params := &mcp.ListToolsParams{}
	for {
		res, err := session.ListTools(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("tools/list failed: %w", err)
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			return tools, nil
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}
}

func (p *Pool) handleListChanged(name string) {
	if err := p.Refresh(context.Background(), name); err != nil {
		p.logger.Warn("failed to refresh upstream tools", zap.String("server", name), zap.Error(err))
		return
	}
	if p.onChange != nil {
		p.onChange(name)
	}
}

// Refresh re-lists the tools of one server.
func (p *Pool) Refresh(ctx context.Context, name string) error {
	conn := p.get(name)
	if conn == nil {
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}

	tools, err := listTools(ctx, conn.session)
	if err != nil {
		return err
	}
	conn.setTools(tools)

	p.logger.Info("refreshed upstream tools",
		zap.String("server", name),
		zap.Int("tools", len(tools)))
	return nil
}

// Disconnect closes one server's session.
func (p *Pool) Disconnect(name string) error {
	p.mu.Lock()
	conn := p.conns[name]
	delete(p.conns, name)
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	p.logger.Info("disconnecting upstream server", zap.String("server", name))
	return conn.session.Close()
}

// Sync reconciles the pool with specs: removed or changed servers are
// disconnected, added or changed servers are connected. It reports whether
// anything changed.
func (p *Pool) Sync(ctx context.Context, specs []ServerSpec) (bool, error) {
	want := make(map[string]ServerSpec, len(specs))
	for _, s := range specs {
		want[s.Name] = s
	}

	p.mu.RLock()
	var stale []string
	for name, conn := range p.conns {
		if s, ok := want[name]; !ok || !s.Equal(conn.spec) {
			stale = append(stale, name)
		}
	}
	var pending []ServerSpec
	for _, s := range specs {
		if conn, ok := p.conns[s.Name]; !ok || !s.Equal(conn.spec) {
			pending = append(pending, s)
		}
	}
	p.mu.RUnlock()

	var errs []error
	for _, name := range stale {
		if err := p.Disconnect(name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(pending) > 0 {
		if err := p.ConnectAll(ctx, pending); err != nil {
			errs = append(errs, err)
		}
	}

	return len(stale) > 0 || len(pending) > 0, errors.Join(errs...)
}

// CallTool forwards a tool call to server using the upstream's own tool name.
func (p *Pool) CallTool(ctx context.Context, server, tool string, args json.RawMessage) (*mcp.CallToolResult, error) {
	conn := p.get(server)
	if conn == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, server)
	}

	var arguments any = map[string]any{}
	if len(args) > 0 && string(args) != "null" {
		arguments = args
	}

	res, err := conn.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      tool,
		Arguments: arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("tools/call %s on %s failed: %w", tool, server, err)
	}
	return res, nil
}

// Sources returns the current tool lists, ordered by server name.
func (p *Pool) Sources() []registry.Source {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]registry.Source, 0, len(p.conns))
	for name, conn := range p.conns {
		out = append(out, registry.Source{Server: name, Tools: conn.getTools()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Server < out[j].Server })
	return out
}

// Names returns the connected server names, sorted.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.conns))
	for name := range p.conns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of connected servers.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

func (p *Pool) get(name string) *connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conns[name]
}

// Close terminates every session. For stdio servers the SDK closes stdin and
// kills the process if it does not exit.
func (p *Pool) Close() error {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*connection)
	p.mu.Unlock()

	var errs []error
	for name, conn := range conns {
		p.logger.Debug("closing upstream session", zap.String("server", name))
		if err := conn.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
