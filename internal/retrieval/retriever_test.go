package retrieval

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khanglvm/tool-lens-mcp/internal/storage"
	"github.com/khanglvm/tool-lens-mcp/internal/vector"
)

func norm(v ...float32) []float32 {
	return vector.Normalize(v)
}

// keywordEmbedder maps texts to 4-dimensional topic vectors:
// files, misc, web, database.
type keywordEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  error
}

var keywordVectors = []struct {
	pattern string
	vec     []float32
}{
	{"file_read", norm(0.9, 0.1, 0, 0)},
	{"file_write", norm(0.8, 0.2, 0, 0)},
	{"web_search", norm(0, 0, 0.9, 0.1)},
	{"db_query", norm(0, 0.1, 0, 0.9)},
	{"echo", norm(0.1, 0.1, 0.1, 0.1)},
}

var queryVectors = map[string][]float32{
	"I need to read and write files": norm(0.85, 0.15, 0, 0),
	"search the web for info":        norm(0, 0, 0.95, 0.05),
	"query the database":             norm(0, 0.05, 0, 0.95),
}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	fail := e.fail
	e.mu.Unlock()
	if fail != nil {
		return nil, fail
	}

	if v, ok := queryVectors[text]; ok {
		return v, nil
	}
	for _, kv := range keywordVectors {
		if strings.Contains(text, kv.pattern) {
			return kv.vec, nil
		}
	}
	return norm(0.1, 0.1, 0.1, 0.1), nil
}

func (e *keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *keywordEmbedder) Dimensions() int { return 4 }
func (e *keywordEmbedder) Close() error    { return nil }

type staticCatalog []Capability

func (c staticCatalog) Capabilities() []Capability { return c }

func testCatalog() staticCatalog {
	return staticCatalog{
		{Name: "test__file_read", Description: "[test] Read a file from disk"},
		{Name: "test__file_write", Description: "[test] Write content to a file"},
		{Name: "test__web_search", Description: "[test] Search the internet"},
		{Name: "test__db_query", Description: "[test] Query a database"},
		{Name: "test__echo", Description: "[test] Echo input back"},
	}
}

// memStore is an in-memory Store with injectable failures.
type memStore struct {
	mu      sync.Mutex
	rows    map[string]storage.Association
	order   []string
	upserts int
	fail    error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]storage.Association)}
}

func (s *memStore) LoadAll(context.Context) ([]storage.Association, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.Association, 0, len(s.order))
	for _, id := range s.order {
		if a, ok := s.rows[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStore) Upsert(_ context.Context, a storage.Association) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.upserts++
	if old, ok := s.rows[a.ID]; ok {
		if len(old.Vector) == len(a.Vector) {
			a.CreatedAt = old.CreatedAt
		}
		s.rows[a.ID] = a
		return nil
	}
	s.rows[a.ID] = a
	s.order = append(s.order, a.ID)
	return nil
}

func (s *memStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *memStore) PruneIDs(_ context.Context, p storage.PrunePolicy) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, a := range s.rows {
		if a.Confidence < p.MinConfidence {
			ids = append(ids, id)
			delete(s.rows, id)
		}
	}
	return ids, nil
}

func newTestRetriever(t *testing.T) (*Retriever, *memStore, *keywordEmbedder) {
	t.Helper()
	emb := &keywordEmbedder{}
	store := newMemStore()
	r := New(emb, store)
	require.NoError(t, r.IndexStaticTools(context.Background(), testCatalog()))
	return r, store, emb
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func TestRetrieveRanksFileToolsFirst(t *testing.T) {
	r, _, _ := newTestRetriever(t)

	results, err := r.Retrieve(context.Background(), "I need to read and write files", 0)
	require.NoError(t, err)
	require.Len(t, results, 5)

	for _, file := range []string{"test__file_read", "test__file_write"} {
		for _, other := range []string{"test__web_search", "test__db_query"} {
			assert.Less(t, indexOf(results, file), indexOf(results, other), "%s should rank ahead of %s", file, other)
		}
	}
}

func TestRetrieveRespectsTopK(t *testing.T) {
	r, _, _ := newTestRetriever(t)

	results, err := r.Retrieve(context.Background(), "search the web for info", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "test__web_search", results[0])
}

func TestRetrieveDeduplicatesAcrossIndexes(t *testing.T) {
	r, _, _ := newTestRetriever(t)
	ctx := context.Background()

	require.NoError(t, r.RecordLearning(ctx, "query the database", "test__db_query", 1.0))
	require.NoError(t, r.RecordLearning(ctx, "search the web for info", "test__db_query", 1.0))

	results, err := r.Retrieve(ctx, "query the database", 10)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, n := range results {
		assert.False(t, seen[n], "duplicate %s", n)
		seen[n] = true
	}
	assert.Equal(t, "test__db_query", results[0])
}

func TestRetrieveEmptyCatalog(t *testing.T) {
	r := New(&keywordEmbedder{}, newMemStore())
	require.NoError(t, r.IndexStaticTools(context.Background(), staticCatalog{}))

	results, err := r.Retrieve(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndexStaticToolsIsIdempotent(t *testing.T) {
	r, _, _ := newTestRetriever(t)
	require.NoError(t, r.IndexStaticTools(context.Background(), testCatalog()))
	assert.Equal(t, 5, r.Stats().StaticEntries)

	require.NoError(t, r.IndexStaticTools(context.Background(), testCatalog()[:2]))
	assert.Equal(t, 2, r.Stats().StaticEntries)
}

func TestRetrieveEmbeddingFailure(t *testing.T) {
	r, _, emb := newTestRetriever(t)
	emb.fail = errors.New("provider down")

	_, err := r.Retrieve(context.Background(), "query the database", 5)
	assert.ErrorContains(t, err, "provider down")
}

func TestContextConfidenceEmptyLearnedIndex(t *testing.T) {
	r, _, emb := newTestRetriever(t)
	calls := emb.calls

	for _, q := range []string{"", "query the database", "anything at all"} {
		c, err := r.ContextConfidence(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, 0.0, c)
	}
	assert.Equal(t, calls, emb.calls, "no embedding on an empty learned index")
	assert.Equal(t, 0.3, r.ColdStartThreshold())
}

func TestContextConfidenceScalesWithDensity(t *testing.T) {
	r, _, _ := newTestRetriever(t)
	ctx := context.Background()

	require.NoError(t, r.RecordLearning(ctx, "query the database", "test__db_query", 1.0))
	one, err := r.ContextConfidence(ctx, "query the database")
	require.NoError(t, err)
	// One exact neighbor out of ten.
	assert.InDelta(t, 0.1, one, 1e-6)
	assert.Less(t, one, r.ColdStartThreshold())

	for _, tool := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"} {
		require.NoError(t, r.RecordLearning(ctx, "query the database", "test__"+tool, 1.0))
	}
	full, err := r.ContextConfidence(ctx, "query the database")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, full, 1e-6)
	assert.GreaterOrEqual(t, full, r.ColdStartThreshold())
}

func TestRecordLearningEMA(t *testing.T) {
	r, store, _ := newTestRetriever(t)
	ctx := context.Background()

	require.NoError(t, r.RecordLearning(ctx, "query the database", "test__db_query", 1.5))
	require.NoError(t, r.RecordLearning(ctx, "  Query the   DATABASE ", "test__db_query", 0.5))

	c, ok := r.Confidence("query the database", "test__db_query")
	require.True(t, ok)
	assert.InDelta(t, 1.3, c, 1e-6)

	assert.Equal(t, 1, r.Stats().LearnedEntries, "normalized queries share one association")
	rows, _ := store.LoadAll(ctx)
	require.Len(t, rows, 1)
	assert.InDelta(t, 1.3, rows[0].Confidence, 1e-6)
	assert.Equal(t, "query the database", rows[0].Query)
}

func TestRecordLearningStoreFailureLeavesIndexUntouched(t *testing.T) {
	r, store, _ := newTestRetriever(t)
	ctx := context.Background()

	store.fail = errors.New("disk full")
	err := r.RecordLearning(ctx, "query the database", "test__file_read", 1.5)
	require.Error(t, err)
	assert.Equal(t, 0, r.Stats().LearnedEntries)

	store.fail = nil
	require.NoError(t, r.RecordLearning(ctx, "query the database", "test__file_read", 1.5))

	store.fail = errors.New("disk full")
	require.Error(t, r.RecordLearning(ctx, "query the database", "test__file_read", 0.5))
	c, _ := r.Confidence("query the database", "test__file_read")
	assert.Equal(t, 1.5, c, "failed write must not change in-memory confidence")
}

func TestRecordLearningEmptyQuery(t *testing.T) {
	r, _, _ := newTestRetriever(t)
	assert.ErrorIs(t, r.RecordLearning(context.Background(), "  ", "test__echo", 1), ErrEmptyQuery)
}

// TestRecordLearningConcurrentSameID checks no EMA update is lost when many
// signals for one association race.
func TestRecordLearningConcurrentSameID(t *testing.T) {
	r, store, _ := newTestRetriever(t)
	ctx := context.Background()
	require.NoError(t, r.RecordLearning(ctx, "query the database", "test__db_query", 0))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.RecordLearning(ctx, "query the database", "test__db_query", 1))
		}()
	}
	wg.Wait()

	c, _ := r.Confidence("query the database", "test__db_query")
	assert.InDelta(t, 1-math.Pow(0.8, n), c, 1e-9)
	assert.Equal(t, n+1, store.upserts)
	assert.Equal(t, 0, r.idLocks.Len())
}

func TestLearnedPairingImprovesRank(t *testing.T) {
	ctx := context.Background()

	control, _, _ := newTestRetriever(t)
	controlResults, err := control.Retrieve(ctx, "query the database", 0)
	require.NoError(t, err)
	require.NotEqual(t, "test__file_read", controlResults[0])

	learner, store, _ := newTestRetriever(t)
	require.NoError(t, learner.RecordLearning(ctx, "query the database", "test__file_read", 1.5))

	reloaded := New(&keywordEmbedder{}, store)
	n, err := reloaded.LoadLearned(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, reloaded.IndexStaticTools(ctx, testCatalog()))

	results, err := reloaded.Retrieve(ctx, "query the database", 0)
	require.NoError(t, err)
	assert.Less(t, indexOf(results, "test__file_read"), indexOf(controlResults, "test__file_read"))
}

func TestPersistenceAcrossRestart(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "learning.db")

	store1, err := storage.Open(dbPath)
	require.NoError(t, err)
	r1 := New(&keywordEmbedder{}, store1)
	require.NoError(t, r1.IndexStaticTools(ctx, testCatalog()))
	require.NoError(t, r1.RecordLearning(ctx, "query the database", "test__db_query", 1.5))
	require.NoError(t, r1.RecordLearning(ctx, "query the database", "test__db_query", 0.5))
	require.NoError(t, store1.Close())

	store2, err := storage.Open(dbPath)
	require.NoError(t, err)
	defer store2.Close()

	rows, err := store2.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 1.3, rows[0].Confidence, 1e-6)

	r2 := New(&keywordEmbedder{}, store2)
	_, err = r2.LoadLearned(ctx)
	require.NoError(t, err)
	c, ok := r2.Confidence("query the database", "test__db_query")
	require.True(t, ok)
	assert.InDelta(t, 1.3, c, 1e-6)
}

func TestLearnPruneReload(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "learning.db")

	store1, err := storage.Open(dbPath)
	require.NoError(t, err)
	r1 := New(&keywordEmbedder{}, store1)
	require.NoError(t, r1.RecordLearning(ctx, "query the database", "test__db_query", 1.5))
	require.NoError(t, r1.RecordLearning(ctx, "search the web for info", "test__web_search", 0.05))
	require.NoError(t, r1.RecordLearning(ctx, "I need to read and write files", "test__file_read", 0.08))
	assert.Equal(t, 3, r1.Stats().LearnedEntries)

	removed, err := r1.Prune(ctx, storage.PrunePolicy{MinConfidence: 0.1})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, r1.Stats().LearnedEntries, "pruned ids leave the learned index")
	require.NoError(t, store1.Close())

	store2, err := storage.Open(dbPath)
	require.NoError(t, err)
	defer store2.Close()
	r2 := New(&keywordEmbedder{}, store2)
	n, err := r2.LoadLearned(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLoadLearnedSkipsMismatchedDimensions(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	require.NoError(t, store.Upsert(ctx, storage.Association{ID: "ok", Vector: norm(1, 0, 0, 0), Capability: "a", Query: "a", Confidence: 1}))
	require.NoError(t, store.Upsert(ctx, storage.Association{ID: "old-model", Vector: norm(1, 0), Capability: "b", Query: "b", Confidence: 1}))

	r := New(&keywordEmbedder{}, store)
	n, err := r.LoadLearned(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// paddedEmbedder stands in for a new embedding model with one more dimension.
type paddedEmbedder struct{ keywordEmbedder }

func (e *paddedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.keywordEmbedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return append(append([]float32{}, v...), 0), nil
}

func (e *paddedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *paddedEmbedder) Dimensions() int { return 5 }

func TestRelearnAfterModelChangeSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "learning.db")
	const query, tool = "query the database", "test__db_query"

	store1, err := storage.Open(dbPath)
	require.NoError(t, err)
	r1 := New(&keywordEmbedder{}, store1)
	require.NoError(t, r1.RecordLearning(ctx, query, tool, 1.5))
	require.NoError(t, store1.Close())

	store2, err := storage.Open(dbPath)
	require.NoError(t, err)
	r2 := New(&paddedEmbedder{}, store2)
	n, err := r2.LoadLearned(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "rows from the old model are skipped")
	require.NoError(t, r2.RecordLearning(ctx, query, tool, 1.0))
	c, ok := r2.Confidence(query, tool)
	require.True(t, ok)
	assert.InDelta(t, 1.0, c, 1e-9)
	require.NoError(t, store2.Close())

	store3, err := storage.Open(dbPath)
	require.NoError(t, err)
	defer store3.Close()
	rows, err := store3.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Len(t, rows[0].Vector, 5, "store holds the re-embedded vector")
	assert.InDelta(t, 1.0, rows[0].Confidence, 1e-6)

	r3 := New(&paddedEmbedder{}, store3)
	n, err = r3.LoadLearned(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	c, ok = r3.Confidence(query, tool)
	require.True(t, ok)
	assert.InDelta(t, 1.0, c, 1e-6)
}

func TestForget(t *testing.T) {
	r, store, _ := newTestRetriever(t)
	ctx := context.Background()
	require.NoError(t, r.RecordLearning(ctx, "query the database", "test__db_query", 1))

	require.NoError(t, r.Forget(ctx, AssociationID("query the database", "test__db_query")))
	assert.Equal(t, 0, r.Stats().LearnedEntries)
	rows, _ := store.LoadAll(ctx)
	assert.Empty(t, rows)
}

func TestAssociationID(t *testing.T) {
	a := AssociationID("Read  the FILE", "fs__read")
	assert.Equal(t, a, AssociationID("read the file", "fs__read"))
	assert.NotEqual(t, a, AssociationID("read the file", "fs__write"))
	assert.NotEqual(t, a, AssociationID("read a file", "fs__read"))
	assert.True(t, strings.HasPrefix(a, "learned:"))
	assert.Equal(t, "static:fs__read", StaticID("fs__read"))
}
