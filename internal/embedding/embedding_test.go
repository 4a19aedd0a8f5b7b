package embedding

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khanglvm/tool-lens-mcp/internal/vector"
)

func norm(v []float32) float64 {
	return math.Sqrt(vector.InnerProduct(v, v))
}

func TestHashEmbedderDeterministicAndNormalized(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "Read a file from disk")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "read   a FILE from disk")
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, norm(a), 1e-5)
}

func TestHashEmbedderRanksLexicalOverlap(t *testing.T) {
	e := NewHashEmbedder(0)
	ctx := context.Background()
	assert.Equal(t, DefaultDimensions, e.Dimensions())

	vecs, err := e.EmbedBatch(ctx, []string{
		"fs__file_read: [fs] Read the contents of a file",
		"db__query: [db] Run a SQL query against the database",
	})
	require.NoError(t, err)

	q, err := e.Embed(ctx, "read file contents")
	require.NoError(t, err)
	assert.Greater(t, vector.InnerProduct(q, vecs[0]), vector.InnerProduct(q, vecs[1]))
}

func TestHashEmbedderEmptyText(t *testing.T) {
	v, err := NewHashEmbedder(8).Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), v)
}

type countingEmbedder struct {
	*HashEmbedder
	texts int
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.texts += len(texts)
	return c.HashEmbedder.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.texts++
	return c.HashEmbedder.Embed(ctx, text)
}

func TestCachedEmbedder(t *testing.T) {
	base := &countingEmbedder{HashEmbedder: NewHashEmbedder(16)}
	c := NewCachedEmbedder(base, 2)
	ctx := context.Background()

	_, err := c.Embed(ctx, "alpha")
	require.NoError(t, err)
	_, err = c.Embed(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, base.texts)

	out, err := c.EmbedBatch(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 2, base.texts, "only the miss is sent to the base embedder")

	_, err = c.Embed(ctx, "gamma")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	// alpha was least recently used and got evicted.
	_, err = c.Embed(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 4, base.texts)
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "text-embedding-3-small", body.Model)
		assert.Equal(t, []string{"a", "b"}, body.Input)

		// Out of order on purpose.
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,3]},{"index":0,"embedding":[2,0]}]}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(Config{Model: "text-embedding-3-small", BaseURL: srv.URL + "/v1/", APIKey: "secret"})
	require.NoError(t, err)
	assert.Equal(t, 0, e.Dimensions())

	out, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, out)
	assert.Equal(t, 2, e.Dimensions())
}

func TestOpenAIEmbedderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(Config{Model: "m", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 429")
}

func TestOpenAIEmbedderTruncatedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", "1024")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data": [{"index": 0, "embedding": [0.1,`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(Config{Model: "m", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Contains(t, err.Error(), "read embeddings response")
	assert.NotContains(t, err.Error(), "parse")
}

func TestNew(t *testing.T) {
	e, err := New(Config{Provider: "hash", Dimensions: 32, CacheSize: 10})
	require.NoError(t, err)
	assert.IsType(t, &CachedEmbedder{}, e)
	assert.Equal(t, 32, e.Dimensions())

	_, err = New(Config{Provider: "openai"})
	assert.Error(t, err, "model is required")

	_, err = New(Config{Provider: "onnx"})
	assert.Error(t, err)
}
