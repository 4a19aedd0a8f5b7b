package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/khanglvm/tool-lens-mcp/internal/search"
)

// Meta-tool names.
const (
	SetContextTool  = "set_context"
	SearchToolsTool = "search_available_tools"
)

// MetaTools returns the definitions of the tools the proxy always exposes.
func MetaTools() []*mcpsdk.Tool {
	return []*mcpsdk.Tool{setContextTool(), searchToolsTool()}
}

func setContextTool() *mcpsdk.Tool {
	return &mcpsdk.Tool{
		Name: SetContextTool,
		Description: "Tell the proxy what the user is trying to accomplish. " +
			"Call this early in a conversation to improve tool relevance. " +
			"The proxy uses this context to surface the most relevant tools.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What the user is trying to do, in your own words.",
				},
				"intent": map[string]any{
					"type":        "string",
					"description": "Optional high-level category (e.g., 'file-management', 'code-review').",
				},
			},
			"required": []string{"query"},
		},
	}
}

func searchToolsTool() *mcpsdk.Tool {
	return &mcpsdk.Tool{
		Name: SearchToolsTool,
		Description: "Search for tools across all connected MCP servers. " +
			"Use this when you need a capability that isn't in your current tool list.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query to match against tool names and descriptions.",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": fmt.Sprintf("Maximum number of results (default %d).", search.DefaultLimit),
				},
			},
			"required": []string{"query"},
		},
	}
}

type setContextArgs struct {
	Query  string `json:"query"`
	Intent string `json:"intent,omitempty"`
}

type searchToolsArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func decodeArgs(req *mcpsdk.CallToolRequest, v any) error {
	if req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params.Arguments, v)
}

// handleSetContext records the stated context and tells clients to re-list.
func (s *Server) handleSetContext(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args setContextArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("Invalid arguments: %v", err)), nil
	}
	if strings.TrimSpace(args.Query) == "" {
		return errorResult("query is required"), nil
	}

	id := sessionID(req.Session)
	s.sessions.SetContext(id, args.Query, args.Intent)
	s.logger.Debug("context set",
		zap.String("session", id),
		zap.String("query", args.Query),
		zap.String("intent", args.Intent))

	// Re-adding a tool makes the SDK send notifications/tools/list_changed.
	s.server.AddTool(setContextTool(), s.handleSetContext)

	text := fmt.Sprintf("Context updated. Query: \"%s\"", args.Query)
	if args.Intent != "" {
		text += fmt.Sprintf(", Intent: \"%s\"", args.Intent)
	}
	return textResult(text), nil
}

// handleSearchTools runs a keyword search and remembers the result so a
// following call of a found tool counts as a strong signal.
func (s *Server) handleSearchTools(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args searchToolsArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("Invalid arguments: %v", err)), nil
	}

	results, err := s.search.Search(args.Query, args.Limit)
	if err != nil {
		s.logger.Warn("tool search failed", zap.Error(err))
		return errorResult(fmt.Sprintf("Search failed: %v", err)), nil
	}

	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Name
	}
	s.sessions.SetLastSearch(sessionID(req.Session), args.Query, names)

	if len(results) == 0 {
		return textResult(fmt.Sprintf("No tools found matching \"%s\". Try a broader search term.", args.Query)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d tool(s) matching \"%s\":\n\n", len(results), args.Query)
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		desc := r.Description
		if desc == "" {
			desc = "(no description)"
		}
		fmt.Fprintf(&b, "- **%s**: %s", r.Name, desc)
	}
	return textResult(b.String()), nil
}
