package search

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"go.uber.org/zap"
)

// Indexer manages the keyword index for all tools.
type Indexer struct {
	mu         sync.RWMutex
	bleveIndex bleve.Index
	docs       []Document
	logger     *zap.Logger
}

// NewIndexer creates an indexer with an empty in-memory Bleve index.
func NewIndexer(logger *zap.Logger) (*Indexer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}

	return &Indexer{bleveIndex: index, logger: logger}, nil
}

// buildIndexMapping creates the Bleve index mapping.
func buildIndexMapping() mapping.IndexMapping {
	toolMapping := bleve.NewDocumentMapping()

	toolMapping.AddFieldMappingsAt("name", bleve.NewTextFieldMapping())

	// The standard tokenizer keeps "fs__read_file" whole, so the split
	// form is indexed separately and not returned.
	termsMapping := bleve.NewTextFieldMapping()
	termsMapping.Store = false
	toolMapping.AddFieldMappingsAt("terms", termsMapping)

	toolMapping.AddFieldMappingsAt("description", bleve.NewTextFieldMapping())
	toolMapping.AddFieldMappingsAt("server", bleve.NewTextFieldMapping())

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = toolMapping

	return indexMapping
}

var nameSplitter = strings.NewReplacer("_", " ", "-", " ", ".", " ", "/", " ")

// IndexCatalog replaces the indexed catalog with docs.
func (i *Indexer) IndexCatalog(docs []Document) error {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return fmt.Errorf("failed to create bleve index: %w", err)
	}

	batch := index.NewBatch()
	for _, d := range docs {
		doc := map[string]interface{}{
			"name":        d.Name,
			"terms":       nameSplitter.Replace(d.Name),
			"description": d.Description,
			"server":      d.Server,
		}
		if err := batch.Index(d.Name, doc); err != nil {
			i.logger.Warn("failed to index tool", zap.String("tool", d.Name), zap.Error(err))
		}
	}
	if err := index.Batch(batch); err != nil {
		index.Close()
		return fmt.Errorf("failed to batch index tools: %w", err)
	}

	i.mu.Lock()
	old := i.bleveIndex
	i.bleveIndex = index
	i.docs = append([]Document(nil), docs...)
	i.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// Count returns the total number of indexed tools.
func (i *Indexer) Count() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	docCount, err := i.bleveIndex.DocCount()
	if err != nil {
		return 0, fmt.Errorf("failed to get doc count: %w", err)
	}

	return docCount, nil
}

// Close closes the index and releases resources.
func (i *Indexer) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.bleveIndex != nil {
		err := i.bleveIndex.Close()
		i.bleveIndex = nil
		return err
	}

	return nil
}
