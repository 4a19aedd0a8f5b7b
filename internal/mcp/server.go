/*
Package mcp implements the downstream MCP server of the proxy.

Every upstream tool is exposed under its namespaced name and routed to the
server that owns it. Two meta-tools are always present:
  - set_context: record what the user is trying to do
  - search_available_tools: keyword search across the whole catalog

Once enough has been learned about a stated context, tools/list answers with
the ranked subset instead of the full catalog.
*/
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/khanglvm/tool-lens-mcp/internal/filtering"
	"github.com/khanglvm/tool-lens-mcp/internal/learning"
	"github.com/khanglvm/tool-lens-mcp/internal/registry"
	"github.com/khanglvm/tool-lens-mcp/internal/retrieval"
	"github.com/khanglvm/tool-lens-mcp/internal/search"
	"github.com/khanglvm/tool-lens-mcp/internal/session"
)

// Upstream routes calls to connected servers and reports their tools.
type Upstream interface {
	CallTool(ctx context.Context, server, tool string, args json.RawMessage) (*mcpsdk.CallToolResult, error)
	Sources() []registry.Source
}

// Engine is the retrieval surface the server maintains.
type Engine interface {
	IndexStaticTools(ctx context.Context, catalog retrieval.Catalog) error
	Stats() retrieval.Stats
}

// Tracker receives learning signals.
type Tracker interface {
	Track(sig learning.Signal) bool
	Stats() learning.Stats
}

// Options holds the collaborators of a Server.
type Options struct {
	Name    string
	Version string

	Upstream Upstream
	Registry *registry.Registry
	Search   *search.Indexer
	Engine   Engine
	Filter   *filtering.Filter
	Sessions *session.Store
	// Tracker may be nil, in which case nothing is learned.
	Tracker Tracker
	Logger  *zap.Logger
}

// Server is the tool-lens-mcp MCP server.
type Server struct {
	server   *mcpsdk.Server
	upstream Upstream
	registry *registry.Registry
	search   *search.Indexer
	engine   Engine
	filter   *filtering.Filter
	sessions *session.Store
	tracker  Tracker
	logger   *zap.Logger

	// refreshMu serializes catalog rebuilds.
	refreshMu sync.Mutex
}

// NewServer creates the server and registers the meta-tools. Call Refresh to
// publish the upstream catalog.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	name := opts.Name
	if name == "" {
		name = "tool-lens"
	}

	s := &Server{
		upstream: opts.Upstream,
		registry: opts.Registry,
		search:   opts.Search,
		engine:   opts.Engine,
		filter:   opts.Filter,
		sessions: opts.Sessions,
		tracker:  opts.Tracker,
		logger:   logger,
	}

	s.server = mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: opts.Version}, nil)
	s.server.AddReceivingMiddleware(s.filterToolsList)
	s.server.AddTool(setContextTool(), s.handleSetContext)
	s.server.AddTool(searchToolsTool(), s.handleSearchTools)

	return s
}

// SDK returns the underlying go-sdk server.
func (s *Server) SDK() *mcpsdk.Server {
	return s.server
}

// RunStdio serves a single client over stdin/stdout until ctx is done or the
// client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.server.Run(ctx, &mcpsdk.StdioTransport{})
}

// Refresh rebuilds the registry from the current upstream tool lists, then
// reindexes keyword and static search and re-registers the routed tools.
func (s *Server) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	previous := s.registry.Names()
	s.registry.Build(s.upstream.Sources())

	var stale []string
	for _, name := range previous {
		if _, ok := s.registry.Get(name); !ok {
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		s.server.RemoveTools(stale...)
	}
	for _, e := range s.registry.All() {
		s.server.AddTool(e.Tool, s.routeTool(e))
	}

	if err := s.search.IndexCatalog(s.registry.Documents()); err != nil {
		return fmt.Errorf("index keyword search: %w", err)
	}
	if err := s.engine.IndexStaticTools(ctx, s.registry); err != nil {
		return fmt.Errorf("index static tools: %w", err)
	}

	s.logger.Info("published tool catalog",
		zap.Int("tools", s.registry.Size()),
		zap.Int("removed", len(stale)))
	return nil
}

// filterToolsList answers tools/list with the ranked subset when the filter
// decides to narrow the catalog.
func (s *Server) filterToolsList(next mcpsdk.MethodHandler) mcpsdk.MethodHandler {
	return func(ctx context.Context, method string, req mcpsdk.Request) (mcpsdk.Result, error) {
		if method != "tools/list" || s.filter == nil {
			return next(ctx, method, req)
		}

		ss, _ := req.GetSession().(*mcpsdk.ServerSession)
		decision := s.filter.Decide(ctx, sessionID(ss))
		if !decision.Filtered {
			return next(ctx, method, req)
		}

		tools := make([]*mcpsdk.Tool, 0, len(decision.Tools)+2)
		for _, name := range decision.Tools {
			if e, ok := s.registry.Get(name); ok {
				tools = append(tools, e.Tool)
			}
		}
		tools = append(tools, setContextTool(), searchToolsTool())

		s.logger.Debug("tools/list filtered",
			zap.Int("tools", len(tools)-2),
			zap.Int("catalog", s.registry.Size()),
			zap.Float64("confidence", decision.Confidence))
		return &mcpsdk.ListToolsResult{Tools: tools}, nil
	}
}

// routeTool forwards calls of e to its upstream server and feeds the
// outcome back into learning.
func (s *Server) routeTool(e *registry.Entry) mcpsdk.ToolHandler {
	name, server, original := e.Name, e.Server, e.Original

	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args json.RawMessage
		if req.Params != nil {
			args = req.Params.Arguments
		}

		res, err := s.upstream.CallTool(ctx, server, original, args)
		if err != nil {
			s.logger.Warn("upstream call failed", zap.String("tool", name), zap.Error(err))
			return errorResult(fmt.Sprintf("Error calling %s: %v", name, err)), nil
		}

		id := sessionID(req.Session)
		s.sessions.RecordCall(id, name)
		s.learn(id, name)
		return res, nil
	}
}

func (s *Server) learn(sessionID, tool string) {
	if s.tracker == nil || s.filter == nil {
		return
	}
	query, strength, ok := s.filter.Signal(sessionID, tool)
	if !ok {
		return
	}
	s.tracker.Track(learning.NewSignal(query, tool, strength))
}

// sessionID maps a downstream session to its state key. Stdio sessions have
// no ID and share the default key.
func sessionID(ss *mcpsdk.ServerSession) string {
	if ss != nil {
		if id := ss.ID(); id != "" {
			return id
		}
	}
	return session.DefaultID
}

func textResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcpsdk.CallToolResult {
	res := textResult(text)
	res.IsError = true
	return res
}

// Stats summarizes the proxy state.
type Stats struct {
	Tools     int             `json:"tools"`
	Servers   int             `json:"servers"`
	Sessions  int             `json:"sessions"`
	Retrieval retrieval.Stats `json:"retrieval"`
	Learning  *learning.Stats `json:"learning,omitempty"`
}

// Stats returns a snapshot of the proxy state.
func (s *Server) Stats() Stats {
	st := Stats{
		Tools:     s.registry.Size(),
		Servers:   len(s.upstream.Sources()),
		Sessions:  s.sessions.Len(),
		Retrieval: s.engine.Stats(),
	}
	if s.tracker != nil {
		ls := s.tracker.Stats()
		st.Learning = &ls
	}
	return st
}
