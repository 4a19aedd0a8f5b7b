package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/khanglvm/tool-lens-mcp/internal/vector"
)

// DefaultDimensions is the vector length used when none is configured.
const DefaultDimensions = 384

// trigramWeight scales character trigram features relative to whole words,
// so "files" and "file" land close without outweighing exact word matches.
const trigramWeight = 0.5

// HashEmbedder is an offline embedder based on the hashing trick.
//
// Each lower-cased word and each character trigram of that word is hashed
// into a signed bucket. The result captures lexical overlap, which is enough
// to rank tool descriptions against short intent statements without a model.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of the given length.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed returns the normalized feature vector for text.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := make([]float32, e.dimensions)
	for _, word := range tokenize(text) {
		e.add(v, word, 1)
		padded := " " + word + " "
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			e.add(v, "#"+string(runes[i:i+3]), trigramWeight)
		}
	}
	return vector.Normalize(v), nil
}

// EmbedBatch calls Embed for each text.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the vector length.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *HashEmbedder) Close() error {
	return nil
}

func (e *HashEmbedder) add(v []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	bucket := int(sum % uint64(e.dimensions))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[bucket] += weight
}

// tokenize splits text into lower-case words. Underscores and other
// punctuation separate words, so "file_read" yields "file" and "read".
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
