/*
Package search implements keyword search across the proxied tool catalog.

It backs the search_available_tools meta-tool: BM25 ranking over tool names
and descriptions, followed by plain substring matches that BM25 missed.
*/
package search

// Document is one catalog tool as indexed.
type Document struct {
	Name        string
	Server      string
	Description string
}

// Result is a single search hit with its relevance score.
type Result struct {
	Name        string  `json:"name"`
	Server      string  `json:"server"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}
