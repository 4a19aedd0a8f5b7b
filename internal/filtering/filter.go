// Package filtering decides which tools a session sees and how strongly each
// routed call should reinforce the session's stated context.
package filtering

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/khanglvm/tool-lens-mcp/internal/session"
)

// Signal strengths by how a called tool was surfaced.
const (
	SignalBaseline = 0.5 // called while a context was set, but never suggested
	SignalRanked   = 1.0 // appeared in the last ranked tool list
	SignalSearched = 1.5 // appeared in the last explicit search result
)

// DefaultTimeout bounds one filtering decision.
const DefaultTimeout = 2 * time.Second

// Decision reasons.
const (
	ReasonNoContext = "no-context"
	ReasonColdStart = "cold-start"
	ReasonDegraded  = "degraded"
	ReasonFiltered  = "filtered"
)

// Engine is the retrieval surface used for decisions.
type Engine interface {
	ContextConfidence(ctx context.Context, query string) (float64, error)
	ColdStartThreshold() float64
	Retrieve(ctx context.Context, query string, topK int) ([]string, error)
}

// Decision is the outcome for one tools/list request.
// When Filtered is false the full catalog should be exposed.
type Decision struct {
	Filtered   bool
	Tools      []string
	Confidence float64
	Reason     string
}

// Filter combines the retrieval engine with session state.
type Filter struct {
	engine   Engine
	sessions *session.Store
	topK     int
	timeout  time.Duration
	logger   *zap.Logger
}

// Option configures a Filter.
type Option func(*Filter)

// WithTopK sets the ranked subset size. Non-positive values use the engine default.
func WithTopK(k int) Option {
	return func(f *Filter) { f.topK = k }
}

// WithTimeout bounds each decision. Non-positive disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(f *Filter) { f.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Filter) { f.logger = l }
}

// New creates a Filter.
func New(engine Engine, sessions *session.Store, opts ...Option) *Filter {
	f := &Filter{
		engine:   engine,
		sessions: sessions,
		timeout:  DefaultTimeout,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Decide picks the catalog to expose for sessionID.
//
// Without a stated context, below the cold-start threshold, or when the
// engine fails or is too slow, the full catalog is exposed. Otherwise the
// ranked subset is returned and remembered as the session's ranked set.
func (f *Filter) Decide(ctx context.Context, sessionID string) Decision {
	sc, ok := f.sessions.Context(sessionID)
	if !ok || f.engine == nil {
		return Decision{Reason: ReasonNoContext}
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	confidence, err := f.engine.ContextConfidence(ctx, sc.Query)
	if err != nil {
		f.logger.Warn("context confidence failed, exposing full catalog", zap.Error(err))
		return Decision{Reason: ReasonDegraded}
	}
	if confidence < f.engine.ColdStartThreshold() {
		f.logger.Debug("cold start, exposing full catalog",
			zap.String("query", sc.Query), zap.Float64("confidence", confidence))
		return Decision{Confidence: confidence, Reason: ReasonColdStart}
	}

	tools, err := f.engine.Retrieve(ctx, sc.Query, f.topK)
	if err != nil {
		f.logger.Warn("retrieval failed, exposing full catalog", zap.Error(err))
		return Decision{Confidence: confidence, Reason: ReasonDegraded}
	}

	f.sessions.SetRanked(sessionID, tools)
	f.logger.Debug("filtered catalog",
		zap.String("query", sc.Query),
		zap.Float64("confidence", confidence),
		zap.Int("tools", len(tools)))
	return Decision{Filtered: true, Tools: tools, Confidence: confidence, Reason: ReasonFiltered}
}

// Signal classifies a call of tool in sessionID. ok is false when the session
// has no stated context, in which case nothing should be learned.
func (f *Filter) Signal(sessionID, tool string) (query string, strength float64, ok bool) {
	sc, ok := f.sessions.Context(sessionID)
	if !ok {
		return "", 0, false
	}

	if search, found := f.sessions.LastSearch(sessionID); found && contains(search.Results, tool) {
		return sc.Query, SignalSearched, true
	}
	if contains(f.sessions.Ranked(sessionID), tool) {
		return sc.Query, SignalRanked, true
	}
	return sc.Query, SignalBaseline, true
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
