/*
Package benchmark measures the context tokens saved by filtering.

It compares the tool definitions a client receives in two cases:
1. Unfiltered: every upstream tool plus the meta-tools
2. Filtered: the tools ranked for one context plus the meta-tools

Token estimation uses a tiktoken-compatible approximation of ~3 characters
per token for JSON.
*/
package benchmark

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// TokenEstimate is the size of one tools/list answer.
type TokenEstimate struct {
	ToolCount        int `json:"toolCount"`
	DefinitionTokens int `json:"definitionTokens"`
}

// Result contains comparison results.
type Result struct {
	Query          string        `json:"query"`
	Servers        int           `json:"servers"`
	Confidence     float64       `json:"confidence"`
	ColdStart      bool          `json:"coldStart"`
	Unfiltered     TokenEstimate `json:"unfiltered"`
	Filtered       TokenEstimate `json:"filtered"`
	Tools          []string      `json:"tools"`
	TokenSavings   int           `json:"tokenSavings"`
	SavingsPercent float64       `json:"savingsPercent"`
}

// Compare prices the full catalog against the filtered one. meta is added to
// both sides since the meta-tools are always listed.
func Compare(all, filtered, meta []*mcp.Tool) Result {
	full := append(append([]*mcp.Tool{}, all...), meta...)
	narrow := append(append([]*mcp.Tool{}, filtered...), meta...)

	r := Result{
		Unfiltered: TokenEstimate{ToolCount: len(full), DefinitionTokens: CountTokens(full)},
		Filtered:   TokenEstimate{ToolCount: len(narrow), DefinitionTokens: CountTokens(narrow)},
	}
	for _, t := range filtered {
		r.Tools = append(r.Tools, t.Name)
	}
	r.TokenSavings = r.Unfiltered.DefinitionTokens - r.Filtered.DefinitionTokens
	if r.Unfiltered.DefinitionTokens > 0 {
		r.SavingsPercent = float64(r.TokenSavings) / float64(r.Unfiltered.DefinitionTokens) * 100
	}
	return r
}

// CountTokens estimates token count for a JSON structure.
// Uses approximation: ~3 characters per token for JSON/code.
func CountTokens(v interface{}) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(data) / 3
}

// FormatResult formats the benchmark result for display.
func FormatResult(result *Result) string {
	var sb strings.Builder

	sb.WriteString("╔══════════════════════════════════════════════════════════════╗\n")
	sb.WriteString("║           TOKEN EFFICIENCY BENCHMARK RESULTS                 ║\n")
	sb.WriteString("╠══════════════════════════════════════════════════════════════╣\n")
	sb.WriteString(fmt.Sprintf("║  Context:    %-48s║\n", truncate(result.Query, 48)))
	sb.WriteString(fmt.Sprintf("║  Servers:    %-48d║\n", result.Servers))
	sb.WriteString(fmt.Sprintf("║  Confidence: %-48.2f║\n", result.Confidence))
	if result.ColdStart {
		sb.WriteString("║  Cold start: full tool list is served                        ║\n")
	}
	sb.WriteString("╠══════════════════════════════════════════════════════════════╣\n")
	sb.WriteString("║  📊 UNFILTERED                                               ║\n")
	sb.WriteString(fmt.Sprintf("║     Tools:   %-48d║\n", result.Unfiltered.ToolCount))
	sb.WriteString(fmt.Sprintf("║     Tokens:  ~%-47d║\n", result.Unfiltered.DefinitionTokens))
	sb.WriteString("╠══════════════════════════════════════════════════════════════╣\n")
	sb.WriteString("║  🚀 FILTERED                                                 ║\n")
	sb.WriteString(fmt.Sprintf("║     Tools:   %-48d║\n", result.Filtered.ToolCount))
	sb.WriteString(fmt.Sprintf("║     Tokens:  ~%-47d║\n", result.Filtered.DefinitionTokens))
	sb.WriteString("╠══════════════════════════════════════════════════════════════╣\n")
	sb.WriteString("║  💰 SAVINGS                                                  ║\n")
	sb.WriteString(fmt.Sprintf("║     Tokens saved: ~%-42d║\n", result.TokenSavings))
	sb.WriteString(fmt.Sprintf("║     Reduction:    %-43s║\n", fmt.Sprintf("%.1f%%", result.SavingsPercent)))
	sb.WriteString("╚══════════════════════════════════════════════════════════════╝\n")

	if len(result.Tools) > 0 {
		sb.WriteString("\nRanked tools:\n")
		for i, name := range result.Tools {
			sb.WriteString(fmt.Sprintf("  %2d. %s\n", i+1, name))
		}
	}

	return sb.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
