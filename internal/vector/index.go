/*
Package vector implements the in-memory similarity index used for tool retrieval.

The index is an exact linear scan: every search computes the inner product of the
query against every stored vector. Vectors are expected to be unit length, so the
inner product equals cosine similarity. At the scale of an MCP catalog (hundreds to
a few thousand entries) a scan is fast and keeps ranking exact.
*/
package vector

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDimensionMismatch is returned when a vector's length differs from the
// dimensionality already established by the index.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Kind tells which index an entry belongs to.
type Kind int

const (
	// Static entries are projections of the current tool catalog.
	Static Kind = iota
	// Learned entries come from observed query to tool associations.
	Learned
)

// String returns the lower-case kind name.
func (k Kind) String() string {
	switch k {
	case Static:
		return "static"
	case Learned:
		return "learned"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Entry is one vector held by an Index.
type Entry struct {
	ID          string
	Vector      []float32
	Capability  string
	Kind        Kind
	Confidence  float64
	SourceQuery string
}

// Result is a single ranked hit returned by Search.
type Result struct {
	ID          string
	Capability  string
	Score       float64
	Kind        Kind
	Confidence  float64
	SourceQuery string
}

// Index is a thread-safe exact similarity index.
//
// Entries keep the slot of their first insertion, so results with equal scores
// come back in insertion order.
type Index struct {
	mu      sync.RWMutex
	entries []Entry
	byID    map[string]int
	dims    int
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{byID: make(map[string]int)}
}

// Upsert inserts an entry or replaces the entry with the same ID.
func (idx *Index) Upsert(e Entry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.checkDims(len(e.Vector)); err != nil {
		return fmt.Errorf("upsert %q: %w", e.ID, err)
	}
	idx.put(e)
	return nil
}

// Replace swaps the whole content of the index for entries.
// On error the previous content is left untouched.
func (idx *Index) Replace(entries []Entry) error {
	next := &Index{byID: make(map[string]int, len(entries))}
	for _, e := range entries {
		if err := next.checkDims(len(e.Vector)); err != nil {
			return fmt.Errorf("replace %q: %w", e.ID, err)
		}
		next.put(e)
	}

	idx.mu.Lock()
	idx.entries, idx.byID, idx.dims = next.entries, next.byID, next.dims
	idx.mu.Unlock()
	return nil
}

// Remove deletes the entry with the given ID. Removing an unknown ID is a no-op.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	pos, ok := idx.byID[id]
	if !ok {
		return
	}
	idx.entries = append(idx.entries[:pos], idx.entries[pos+1:]...)
	delete(idx.byID, id)
	for i := pos; i < len(idx.entries); i++ {
		idx.byID[idx.entries[i].ID] = i
	}
	if len(idx.entries) == 0 {
		idx.dims = 0
	}
}

// Get returns a copy of the entry with the given ID.
func (idx *Index) Get(id string) (Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	pos, ok := idx.byID[id]
	if !ok {
		return Entry{}, false
	}
	return idx.entries[pos], true
}

// Search returns at most topK entries ordered by descending inner product with query.
// An empty index yields an empty result.
func (idx *Index) Search(query []float32, topK int) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.entries) == 0 || topK <= 0 {
		return []Result{}, nil
	}
	if len(query) != idx.dims {
		return nil, fmt.Errorf("search: %w: got %d, want %d", ErrDimensionMismatch, len(query), idx.dims)
	}

	results := make([]Result, len(idx.entries))
	for i, e := range idx.entries {
		results[i] = Result{
			ID:          e.ID,
			Capability:  e.Capability,
			Score:       InnerProduct(query, e.Vector),
			Kind:        e.Kind,
			Confidence:  e.Confidence,
			SourceQuery: e.SourceQuery,
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Size returns the number of entries.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Dimensions returns the established vector length, or 0 for an empty index.
func (idx *Index) Dimensions() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dims
}

// Clear removes every entry.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = nil
	idx.byID = make(map[string]int)
	idx.dims = 0
}

// put stores e, keeping the position of an existing entry with the same ID.
// Caller holds the write lock and has validated dimensions.
func (idx *Index) put(e Entry) {
	e.Vector = append([]float32(nil), e.Vector...)
	if idx.dims == 0 {
		idx.dims = len(e.Vector)
	}
	if pos, ok := idx.byID[e.ID]; ok {
		idx.entries[pos] = e
		return
	}
	idx.byID[e.ID] = len(idx.entries)
	idx.entries = append(idx.entries, e)
}

func (idx *Index) checkDims(n int) error {
	if n == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	if idx.dims != 0 && n != idx.dims {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, n, idx.dims)
	}
	return nil
}
