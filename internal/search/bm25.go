package search

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
)

// DefaultLimit caps results when the caller gives no limit.
const DefaultLimit = 20

var errClosed = errors.New("search index closed")

// SearchBM25 performs BM25 keyword search using Bleve.
func (i *Indexer) SearchBM25(query string, limit int) ([]Result, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.bleveIndex == nil {
		return nil, errClosed
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	searchRequest := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), limit, 0, false)
	searchRequest.Fields = []string{"name", "description", "server"}

	results, err := i.bleveIndex.Search(searchRequest)
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}

	return convertBleveResults(results), nil
}

// convertBleveResults converts Bleve hits to Results.
func convertBleveResults(results *bleve.SearchResult) []Result {
	out := make([]Result, 0, len(results.Hits))

	for _, hit := range results.Hits {
		name, _ := hit.Fields["name"].(string)
		if name == "" {
			name = hit.ID
		}
		description, _ := hit.Fields["description"].(string)
		server, _ := hit.Fields["server"].(string)

		out = append(out, Result{
			Name:        name,
			Server:      server,
			Description: description,
			Score:       hit.Score,
		})
	}

	return out
}

// Search returns BM25 hits with scores normalized to [0, 1], followed by
// case-insensitive substring matches on name or description that BM25 missed.
// Substring-only matches keep catalog order and score 0.
func (i *Indexer) Search(query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	hits, err := i.SearchBM25(query, limit)
	if err != nil {
		return nil, err
	}
	results := normalizeScores(hits)

	seen := make(map[string]bool, len(results))
	for _, r := range results {
		seen[r.Name] = true
	}

	q := strings.ToLower(query)
	i.mu.RLock()
	for _, d := range i.docs {
		if len(results) >= limit {
			break
		}
		if seen[d.Name] {
			continue
		}
		if strings.Contains(strings.ToLower(d.Name), q) || strings.Contains(strings.ToLower(d.Description), q) {
			results = append(results, Result{Name: d.Name, Server: d.Server, Description: d.Description})
			seen[d.Name] = true
		}
	}
	i.mu.RUnlock()

	return results, nil
}

// normalizeScores rescales scores so the best hit is 1.
func normalizeScores(results []Result) []Result {
	if len(results) == 0 {
		return results
	}

	maxScore := results[0].Score
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}

	normalized := make([]Result, len(results))
	for i, r := range results {
		normalized[i] = r
		if maxScore > 0 {
			normalized[i].Score = r.Score / maxScore
		} else {
			normalized[i].Score = 1.0
		}
	}
	return normalized
}
