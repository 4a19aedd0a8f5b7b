package search

import (
	"testing"
)

func testDocs() []Document {
	return []Document{
		{Name: "fs__read_file", Server: "fs", Description: "[fs] Read the contents of a file"},
		{Name: "fs__write_file", Server: "fs", Description: "[fs] Write content to a file"},
		{Name: "jira__create_ticket", Server: "jira", Description: "[jira] Create a Jira ticket"},
		{Name: "web__fetch", Server: "web", Description: "[web] Fetch a URL over HTTP"},
	}
}

func newTestIndexer(t *testing.T) *Indexer {
	t.Helper()
	indexer, err := NewIndexer(nil)
	if err != nil {
		t.Fatalf("failed to create indexer: %v", err)
	}
	t.Cleanup(func() { indexer.Close() })

	if err := indexer.IndexCatalog(testDocs()); err != nil {
		t.Fatalf("failed to index catalog: %v", err)
	}
	return indexer
}

func TestIndexCatalog(t *testing.T) {
	indexer := newTestIndexer(t)

	count, err := indexer.Count()
	if err != nil {
		t.Fatalf("failed to get count: %v", err)
	}
	if count != 4 {
		t.Errorf("expected 4 indexed tools, got %d", count)
	}

	// Reindexing replaces rather than appends
	if err := indexer.IndexCatalog(testDocs()[:1]); err != nil {
		t.Fatalf("failed to reindex: %v", err)
	}
	count, _ = indexer.Count()
	if count != 1 {
		t.Errorf("expected 1 indexed tool after reindex, got %d", count)
	}
}

func TestSearchBM25(t *testing.T) {
	indexer := newTestIndexer(t)

	results, err := indexer.SearchBM25("ticket", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results for 'ticket'")
	}
	if results[0].Name != "jira__create_ticket" {
		t.Errorf("expected jira__create_ticket first, got %s", results[0].Name)
	}
	if results[0].Server != "jira" {
		t.Errorf("expected server jira, got %s", results[0].Server)
	}
}

func TestSearchMatchesSplitNameTerms(t *testing.T) {
	indexer := newTestIndexer(t)

	results, err := indexer.SearchBM25("fetch", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	found := false
	for _, r := range results {
		if r.Name == "web__fetch" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected web__fetch in results, got %+v", results)
	}
}

func TestSearchSubstringFallback(t *testing.T) {
	indexer := newTestIndexer(t)

	// "__wri" is not a token, only a substring of the name
	results, err := indexer.Search("__wri", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].Name != "fs__write_file" {
		t.Fatalf("expected only fs__write_file, got %+v", results)
	}
	if results[0].Score != 0 {
		t.Errorf("expected substring-only match to score 0, got %v", results[0].Score)
	}
}

func TestSearchNormalizesAndDedups(t *testing.T) {
	indexer := newTestIndexer(t)

	results, err := indexer.Search("file", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %+v", results)
	}
	if results[0].Score != 1.0 {
		t.Errorf("expected top score 1.0, got %v", results[0].Score)
	}
	if results[0].Name == results[1].Name {
		t.Error("expected distinct results")
	}
}

func TestSearchNoMatch(t *testing.T) {
	indexer := newTestIndexer(t)

	results, err := indexer.Search("kubernetes", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %+v", results)
	}
}

func TestSearchLimit(t *testing.T) {
	indexer := newTestIndexer(t)

	// Every description contains "["
	results, err := indexer.Search("[", 2)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 results, got %d", len(results))
	}
}

func TestSearchAfterClose(t *testing.T) {
	indexer, err := NewIndexer(nil)
	if err != nil {
		t.Fatalf("failed to create indexer: %v", err)
	}
	indexer.Close()

	if _, err := indexer.Search("file", 10); err == nil {
		t.Error("expected error after close")
	}
}
