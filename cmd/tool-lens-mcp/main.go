/*
Package main is the entry point for the tool-lens-mcp CLI.

tool-lens-mcp is an MCP aggregation proxy that narrows the tool list each
client sees to the tools relevant to its declared context, and learns from
the tools that actually get called.

Usage:

	tool-lens-mcp [command]

Available Commands:

	serve       Run the MCP proxy (stdio, or HTTP with --http)
	add         Add an MCP server
	remove      Remove an MCP server
	list        List registered MCP servers
	verify      Verify configuration and connections
	learning    Inspect and manage learned associations
	benchmark   Measure token savings and retrieval latency
	version     Show version information

Examples:

	# Register a server
	tool-lens-mcp add jira -- npx -y @lvmk/jira-mcp

	# Run as an MCP server
	tool-lens-mcp serve
*/
package main

import (
	"fmt"
	"os"

	"github.com/khanglvm/tool-lens-mcp/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
