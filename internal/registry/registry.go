// Package registry builds the namespaced tool catalog exposed downstream.
//
// Every upstream tool is renamed to "<server><sep><tool>" and its description
// is prefixed with "[server]" so clients can tell same-named tools apart.
package registry

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/khanglvm/tool-lens-mcp/internal/retrieval"
	"github.com/khanglvm/tool-lens-mcp/internal/search"
)

// DefaultSeparator joins server and tool names.
const DefaultSeparator = "__"

// Source is the tool list of one connected upstream server.
type Source struct {
	Server string
	Tools  []*mcp.Tool
}

// Entry is one namespaced tool.
type Entry struct {
	Name        string
	Server      string
	Original    string
	Description string
	// Tool is the definition exposed downstream, carrying Name and Description.
	Tool *mcp.Tool
}

// Registry maps namespaced names to upstream tools. It is safe for concurrent use.
type Registry struct {
	sep    string
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
}

// New creates an empty registry. An empty separator means DefaultSeparator.
func New(separator string, logger *zap.Logger) *Registry {
	if separator == "" {
		separator = DefaultSeparator
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sep:     separator,
		logger:  logger,
		entries: make(map[string]*Entry),
	}
}

// Separator returns the namespace separator.
func (r *Registry) Separator() string {
	return r.sep
}

// Namespace returns the qualified name of tool on server.
func (r *Registry) Namespace(server, tool string) string {
	return server + r.sep + tool
}

// Split reverses Namespace at the first separator.
func (r *Registry) Split(name string) (server, tool string, ok bool) {
	return strings.Cut(name, r.sep)
}

// Build replaces the catalog with the tools of sources.
// A duplicate qualified name keeps the last definition.
func (r *Registry) Build(sources []Source) {
	entries := make(map[string]*Entry)
	for _, src := range sources {
		for _, t := range src.Tools {
			if t == nil || t.Name == "" {
				continue
			}
			name := r.Namespace(src.Server, t.Name)
			if _, dup := entries[name]; dup {
				r.logger.Warn("duplicate tool name, keeping last definition", zap.String("tool", name))
			}
			entries[name] = newEntry(name, src.Server, t)
		}
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()

	r.logger.Info("built tool registry", zap.Int("tools", len(entries)), zap.Int("servers", len(sources)))
}

func newEntry(name, server string, t *mcp.Tool) *Entry {
	desc := "[" + server + "]"
	if t.Description != "" {
		desc += " " + t.Description
	}

	exposed := *t
	exposed.Name = name
	exposed.Description = desc
	exposed.InputSchema = objectSchema(t.InputSchema)
	if t.OutputSchema != nil && !isObjectSchema(t.OutputSchema) {
		exposed.OutputSchema = nil
	}

	return &Entry{
		Name:        name,
		Server:      server,
		Original:    t.Name,
		Description: desc,
		Tool:        &exposed,
	}
}

// objectSchema returns schema as a JSON object schema. MCP requires tool
// input schemas to have type "object"; upstreams that omit it get one.
func objectSchema(schema any) any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}

	m, ok := schema.(map[string]any)
	if !ok {
		b, err := json.Marshal(schema)
		if err != nil || json.Unmarshal(b, &m) != nil || m == nil {
			return map[string]any{"type": "object"}
		}
	}
	if m["type"] == "object" {
		return m
	}

	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out["type"] = "object"
	return out
}

func isObjectSchema(schema any) bool {
	m, ok := schema.(map[string]any)
	return ok && m["type"] == "object"
}

// Get returns the entry for a qualified name.
func (r *Registry) Get(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// All returns every entry sorted by name.
func (r *Registry) All() []*Entry {
	r.mu.RLock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns every qualified name, sorted.
func (r *Registry) Names() []string {
	all := r.All()
	names := make([]string, len(all))
	for i, e := range all {
		names[i] = e.Name
	}
	return names
}

// Size returns the number of tools.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Capabilities lists the catalog for static indexing.
func (r *Registry) Capabilities() []retrieval.Capability {
	all := r.All()
	caps := make([]retrieval.Capability, len(all))
	for i, e := range all {
		caps[i] = retrieval.Capability{Name: e.Name, Description: e.Description}
	}
	return caps
}

// Documents lists the catalog for keyword indexing.
func (r *Registry) Documents() []search.Document {
	all := r.All()
	docs := make([]search.Document, len(all))
	for i, e := range all {
		docs[i] = search.Document{Name: e.Name, Server: e.Server, Description: e.Description}
	}
	return docs
}
