/*
Package retrieval ranks catalog tools against a stated context and learns
from the tools that actually get called.

Two similarity indexes back every decision. The static index is a projection
of the current catalog (one vector per tool description). The learned index
holds query to tool associations observed at runtime, mirrored one-to-one in
the persistent association store. Rankings blend both, so behaviorally
observed pairings can lift a tool whose description alone would never match.
*/
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/khanglvm/tool-lens-mcp/internal/embedding"
	"github.com/khanglvm/tool-lens-mcp/internal/storage"
	"github.com/khanglvm/tool-lens-mcp/internal/vector"
)

// Ranking and learning constants.
const (
	StaticWeight        = 0.6
	DynamicWeight       = 0.4
	DefaultTopK         = 15
	ConfidenceNeighbors = 10
	ColdStartThreshold  = 0.3

	// EMA weights: newConfidence = old*EMARetain + signal*EMASignal.
	EMARetain = 0.8
	EMASignal = 0.2
)

// ErrEmptyQuery is returned when learning is requested without query text.
var ErrEmptyQuery = errors.New("empty learning query")

// Capability is one catalog entry as seen by the retriever.
type Capability struct {
	Name        string
	Description string
}

// Catalog provides the current set of capabilities.
type Catalog interface {
	Capabilities() []Capability
}

// Store is the durable backing of the learned index.
type Store interface {
	LoadAll(ctx context.Context) ([]storage.Association, error)
	Upsert(ctx context.Context, a storage.Association) error
	Remove(ctx context.Context, id string) error
	PruneIDs(ctx context.Context, policy storage.PrunePolicy) ([]string, error)
}

// Stats reports index sizes.
type Stats struct {
	StaticEntries  int `json:"static_entries"`
	LearnedEntries int `json:"learned_entries"`
}

// Retriever ranks capabilities for a query and records learning signal.
// It is safe for concurrent use.
type Retriever struct {
	embedder embedding.Embedder
	store    Store
	logger   *zap.Logger

	static  *vector.Index
	learned *vector.Index

	// idLocks serializes read-modify-write of one association.
	idLocks *keyedMutex
	// pruneMu is held for reading by learning writes and for writing by Prune,
	// so the learned index never drops an ID that a concurrent write just persisted.
	pruneMu sync.RWMutex
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// New creates a Retriever with empty indexes.
func New(embedder embedding.Embedder, store Store, opts ...Option) *Retriever {
	r := &Retriever{
		embedder: embedder,
		store:    store,
		logger:   zap.NewNop(),
		static:   vector.NewIndex(),
		learned:  vector.NewIndex(),
		idLocks:  newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IndexStaticTools replaces the static index with one entry per capability in
// catalog, embedded in a single batch. An empty catalog clears the index.
func (r *Retriever) IndexStaticTools(ctx context.Context, catalog Catalog) error {
	caps := catalog.Capabilities()
	if len(caps) == 0 {
		r.static.Clear()
		return nil
	}

	texts := make([]string, len(caps))
	for i, c := range caps {
		texts[i] = c.Name + ": " + c.Description
	}
	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed catalog: %w", err)
	}
	if len(vecs) != len(caps) {
		return fmt.Errorf("embed catalog: got %d vectors for %d capabilities", len(vecs), len(caps))
	}

	entries := make([]vector.Entry, len(caps))
	for i, c := range caps {
		entries[i] = vector.Entry{
			ID:         StaticID(c.Name),
			Vector:     vecs[i],
			Capability: c.Name,
			Kind:       vector.Static,
		}
	}
	if err := r.static.Replace(entries); err != nil {
		return err
	}

	r.logger.Debug("indexed static tools", zap.Int("count", len(entries)))
	return nil
}

// LoadLearned repopulates the learned index from the store and returns the
// number of loaded associations. Rows whose vector length disagrees with the
// embedder (a model change between runs) are skipped.
func (r *Retriever) LoadLearned(ctx context.Context) (int, error) {
	assocs, err := r.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load learned associations: %w", err)
	}

	dims := r.embedder.Dimensions()
	entries := make([]vector.Entry, 0, len(assocs))
	skipped := 0
	for _, a := range assocs {
		if dims == 0 {
			dims = len(a.Vector)
		}
		if len(a.Vector) != dims {
			skipped++
			continue
		}
		entries = append(entries, vector.Entry{
			ID:          a.ID,
			Vector:      a.Vector,
			Capability:  a.Capability,
			Kind:        vector.Learned,
			Confidence:  a.Confidence,
			SourceQuery: a.Query,
		})
	}
	if skipped > 0 {
		r.logger.Warn("skipped learned associations with mismatched dimensions",
			zap.Int("skipped", skipped), zap.Int("dimensions", dims))
	}

	if err := r.learned.Replace(entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Retrieve returns up to topK capability names ranked for query.
// A non-positive topK means DefaultTopK.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]string, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	staticHits, err := r.static.Search(vec, topK*2)
	if err != nil {
		return nil, fmt.Errorf("search static index: %w", err)
	}
	var learnedHits []vector.Result
	if r.learned.Size() > 0 {
		learnedHits, err = r.learned.Search(vec, topK*2)
		if err != nil {
			return nil, fmt.Errorf("search learned index: %w", err)
		}
	}

	ranked := blend(staticHits, learnedHits)
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	names := make([]string, len(ranked))
	for i, s := range ranked {
		names[i] = s.capability
	}
	return names, nil
}

type blended struct {
	capability string
	score      float64
}

// blend sums weighted scores per capability. Equal scores keep the order in
// which capabilities were first seen, static hits before learned hits.
func blend(staticHits, learnedHits []vector.Result) []blended {
	out := make([]blended, 0, len(staticHits)+len(learnedHits))
	pos := make(map[string]int, cap(out))

	add := func(hits []vector.Result, weight float64) {
		for _, h := range hits {
			if i, ok := pos[h.Capability]; ok {
				out[i].score += h.Score * weight
				continue
			}
			pos[h.Capability] = len(out)
			out = append(out, blended{capability: h.Capability, score: h.Score * weight})
		}
	}
	add(staticHits, StaticWeight)
	add(learnedHits, DynamicWeight)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].score > out[j].score
	})
	return out
}

// ContextConfidence estimates how much learned evidence supports query.
//
// The result is the average similarity of the nearest learned associations
// scaled by how many of ConfidenceNeighbors were found, clamped to [0, 1].
// An empty learned index yields 0 without calling the embedder.
func (r *Retriever) ContextConfidence(ctx context.Context, query string) (float64, error) {
	if r.learned.Size() == 0 {
		return 0, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("embed query: %w", err)
	}
	hits, err := r.learned.Search(vec, ConfidenceNeighbors)
	if err != nil {
		return 0, fmt.Errorf("search learned index: %w", err)
	}
	if len(hits) == 0 {
		return 0, nil
	}

	var sum float64
	for _, h := range hits {
		sum += h.Score
	}
	avg := sum / float64(len(hits))
	density := float64(len(hits)) / ConfidenceNeighbors

	c := avg * density
	if c < 0 {
		return 0, nil
	}
	if c > 1 {
		return 1, nil
	}
	return c, nil
}

// ColdStartThreshold returns the confidence below which filtering is skipped.
func (r *Retriever) ColdStartThreshold() float64 {
	return ColdStartThreshold
}

// RecordLearning reinforces the association between query and capability.
//
// An existing association moves toward signal by the EMA rule; a new one is
// embedded and starts at signal. The store write happens first and the
// in-memory index is only updated once it succeeds.
func (r *Retriever) RecordLearning(ctx context.Context, query, capability string, signal float64) error {
	if strings.TrimSpace(query) == "" {
		return ErrEmptyQuery
	}
	id := AssociationID(query, capability)

	r.pruneMu.RLock()
	defer r.pruneMu.RUnlock()
	unlock := r.idLocks.Lock(id)
	defer unlock()

	if e, ok := r.learned.Get(id); ok {
		confidence := e.Confidence*EMARetain + signal*EMASignal
		err := r.store.Upsert(ctx, storage.Association{
			ID:         id,
			Vector:     e.Vector,
			Capability: e.Capability,
			Query:      e.SourceQuery,
			Confidence: confidence,
		})
		if err != nil {
			return fmt.Errorf("persist association: %w", err)
		}
		e.Confidence = confidence
		return r.learned.Upsert(e)
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return fmt.Errorf("embed query: %w", err)
	}
	if dims := r.learned.Dimensions(); dims != 0 && len(vec) != dims {
		return fmt.Errorf("learn %q: %w: got %d, want %d", capability, vector.ErrDimensionMismatch, len(vec), dims)
	}

	if err := r.store.Upsert(ctx, storage.Association{
		ID:         id,
		Vector:     vec,
		Capability: capability,
		Query:      query,
		Confidence: signal,
	}); err != nil {
		return fmt.Errorf("persist association: %w", err)
	}
	return r.learned.Upsert(vector.Entry{
		ID:          id,
		Vector:      vec,
		Capability:  capability,
		Kind:        vector.Learned,
		Confidence:  signal,
		SourceQuery: query,
	})
}

// Confidence returns the learned confidence for a (query, capability) pair.
func (r *Retriever) Confidence(query, capability string) (float64, bool) {
	e, ok := r.learned.Get(AssociationID(query, capability))
	return e.Confidence, ok
}

// Forget removes one learned association from the store and the index.
func (r *Retriever) Forget(ctx context.Context, id string) error {
	r.pruneMu.RLock()
	defer r.pruneMu.RUnlock()
	unlock := r.idLocks.Lock(id)
	defer unlock()

	if err := r.store.Remove(ctx, id); err != nil {
		return fmt.Errorf("remove association: %w", err)
	}
	r.learned.Remove(id)
	return nil
}

// Prune applies policy to the store and drops the removed associations from
// the learned index. Learning writes wait while it runs.
func (r *Retriever) Prune(ctx context.Context, policy storage.PrunePolicy) (int, error) {
	r.pruneMu.Lock()
	defer r.pruneMu.Unlock()

	ids, err := r.store.PruneIDs(ctx, policy)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		r.learned.Remove(id)
	}
	return len(ids), nil
}

// Stats returns the current index sizes.
func (r *Retriever) Stats() Stats {
	return Stats{
		StaticEntries:  r.static.Size(),
		LearnedEntries: r.learned.Size(),
	}
}
