package benchmark

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func makeTools(prefix string, n int) []*mcp.Tool {
	tools := make([]*mcp.Tool, n)
	for i := range tools {
		tools[i] = &mcp.Tool{
			Name:        prefix + "__tool_" + string(rune('a'+i)),
			Description: "A tool that does something useful with a fairly long description text.",
			InputSchema: map[string]any{"type": "object"},
		}
	}
	return tools
}

func TestCountTokens(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
	}{
		{"empty map", map[string]interface{}{}},
		{"simple map", map[string]interface{}{"key": "value"}},
		{"tool list", makeTools("s", 3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, _ := json.Marshal(tt.input)
			if got, want := CountTokens(tt.input), len(data)/3; got != want {
				t.Errorf("CountTokens() = %d, want %d", got, want)
			}
		})
	}

	if got := CountTokens(make(chan int)); got != 0 {
		t.Errorf("unmarshalable input should count 0, got %d", got)
	}
}

func TestCompare(t *testing.T) {
	all := makeTools("jira", 20)
	filtered := all[:3]
	meta := makeTools("meta", 2)

	r := Compare(all, filtered, meta)

	if r.Unfiltered.ToolCount != 22 {
		t.Errorf("unfiltered count = %d, want 22", r.Unfiltered.ToolCount)
	}
	if r.Filtered.ToolCount != 5 {
		t.Errorf("filtered count = %d, want 5", r.Filtered.ToolCount)
	}
	if r.TokenSavings <= 0 || r.TokenSavings != r.Unfiltered.DefinitionTokens-r.Filtered.DefinitionTokens {
		t.Errorf("unexpected savings %d", r.TokenSavings)
	}
	if r.SavingsPercent <= 50 || r.SavingsPercent >= 100 {
		t.Errorf("unexpected savings percent %.2f", r.SavingsPercent)
	}
	if len(r.Tools) != 3 || r.Tools[0] != all[0].Name {
		t.Errorf("unexpected ranked tools %v", r.Tools)
	}

	// filtered shares all's backing array; appending meta-tools must not clobber it.
	if all[3].Name != "jira__tool_d" {
		t.Errorf("input was modified: %s", all[3].Name)
	}
}

func TestCompareEmpty(t *testing.T) {
	r := Compare(nil, nil, nil)
	if r.SavingsPercent != 0 || r.TokenSavings != 0 {
		t.Errorf("empty compare should have no savings, got %+v", r)
	}
}

func TestFormatResult(t *testing.T) {
	r := Compare(makeTools("gh", 10), makeTools("gh", 2), nil)
	r.Query = "review the open pull requests on the main repository and leave comments"
	r.Servers = 1

	out := FormatResult(&r)
	for _, want := range []string{"TOKEN EFFICIENCY", "UNFILTERED", "FILTERED", "SAVINGS", "Ranked tools:", "gh__tool_a", "…"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}
