// Package embedding turns tool descriptions and context queries into vectors.
package embedding

import (
	"context"
	"fmt"
	"strings"
)

// Embedder produces unit-length vector embeddings for text.
// Implementations must be deterministic for the same input and model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the vector length, or 0 if it is not known until the
	// first request completes.
	Dimensions() int
	Close() error
}

// Provider names accepted by New.
const (
	ProviderHash   = "hash"
	ProviderOpenAI = "openai"
)

// Config selects and configures an embedding backend.
type Config struct {
	Provider   string
	Model      string
	BaseURL    string
	APIKey     string
	Dimensions int
	CacheSize  int
}

// New returns the embedder described by cfg, wrapped in an LRU cache when
// CacheSize is positive.
func New(cfg Config) (Embedder, error) {
	var base Embedder
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderHash:
		base = NewHashEmbedder(cfg.Dimensions)
	case ProviderOpenAI:
		p, err := NewOpenAIEmbedder(cfg)
		if err != nil {
			return nil, err
		}
		base = p
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(base, cfg.CacheSize), nil
	}
	return base, nil
}
