package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/khanglvm/tool-lens-mcp/internal/config"
	"github.com/spf13/cobra"
)

// NewAddCmd creates the 'add' command for registering upstream servers.
//
// Supports two modes:
// 1. JSON: paste an MCP config in any common client format, preview, confirm
// 2. Flags: name plus --command/--arg/--env, --url, or a command after "--"
func NewAddCmd() *cobra.Command {
	var (
		command   string
		args      []string
		envVars   []string
		cwd       string
		url       string
		jsonInput string
		disabled  bool
		noConfirm bool
	)

	cmd := &cobra.Command{
		Use:   "add [name] [-- command [args...]]",
		Short: "Add upstream MCP server(s) - paste config JSON or use flags",
		Long: `Add upstream MCP server configuration(s) to tool-lens-mcp.

JSON MODE:
  Paste any valid MCP configuration JSON. Supports formats from:
  • Claude Code (mcpServers)
  • OpenCode (mcp)
  • VS Code and Zed (servers, context_servers)
  • Single server object

  The format is auto-detected and the servers are previewed before saving.

FLAG MODE:
  Give a name, then either --command with --arg, --url for a streamable
  HTTP server, or the command line after "--".`,
		Example: `  # Paste JSON when prompted
  tool-lens-mcp add

  # Command after --
  tool-lens-mcp add filesystem -- npx -y @modelcontextprotocol/server-filesystem /tmp

  # Flags
  tool-lens-mcp add jira --command npx --arg -y --arg @lvmk/jira-mcp --env JIRA_TOKEN=xxx

  # Remote server
  tool-lens-mcp add docs --url https://example.com/mcp

  # JSON inline
  tool-lens-mcp add --json '{"mcpServers": {"jira": {"command": "npx", "args": ["-y", "@lvmk/jira-mcp"]}}}'`,
		RunE: func(cmd *cobra.Command, positional []string) error {
			if jsonInput != "" || (len(positional) == 0 && command == "" && url == "") {
				return runAddJSON(cmd, jsonInput, noConfirm)
			}

			if len(positional) == 0 {
				return fmt.Errorf("server name required when using flag mode")
			}
			name := positional[0]
			if dash := cmd.ArgsLenAtDash(); dash >= 0 {
				if dash != 1 {
					return fmt.Errorf("expected exactly one name before --")
				}
				rest := positional[1:]
				if len(rest) == 0 {
					return fmt.Errorf("missing command after --")
				}
				if command != "" {
					return fmt.Errorf("use either --command or a command after --, not both")
				}
				command, args = rest[0], append(rest[1:], args...)
			} else if len(positional) > 1 {
				return fmt.Errorf("unexpected arguments %v (put the command after --)", positional[1:])
			}

			server := &config.ServerConfig{
				Command: command,
				Args:    args,
				Env:     parseEnvVars(envVars),
				Cwd:     cwd,
				URL:     url,
			}
			if disabled {
				off := false
				server.Enabled = &off
			}
			return runAddServers(cmd, map[string]*config.ServerConfig{name: server})
		},
	}

	cmd.Flags().StringVarP(&command, "command", "c", "", "Command to run the MCP server")
	cmd.Flags().StringArrayVarP(&args, "arg", "a", nil, "Arguments for the command")
	cmd.Flags().StringArrayVarP(&envVars, "env", "e", nil, "Environment variables (KEY=VALUE)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "Working directory for the command")
	cmd.Flags().StringVarP(&url, "url", "u", "", "Streamable HTTP endpoint of a remote MCP server")
	cmd.Flags().StringVarP(&jsonInput, "json", "j", "", "MCP config JSON (auto-detect format)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Add the server but leave it disabled")
	cmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")

	return cmd
}

// runAddJSON handles JSON input mode with preview and confirmation.
func runAddJSON(cmd *cobra.Command, jsonInput string, noConfirm bool) error {
	out := cmd.OutOrStdout()
	in := bufio.NewReader(cmd.InOrStdin())

	input := jsonInput
	if input == "" {
		fmt.Fprintln(out, "📋 Paste your MCP configuration JSON (press Enter on an empty line when done):")
		fmt.Fprintln(out, "   Supports: Claude Code, OpenCode, VS Code, Zed, or single server format")
		fmt.Fprintln(out)

		input = readMultilineInput(in)
		if strings.TrimSpace(input) == "" {
			return fmt.Errorf("no input provided")
		}
	}

	servers, format, err := parseAnyMCPConfig(input)
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "🔍 Detected format: %s\n", format)
	fmt.Fprintf(out, "📦 Found %d server(s):\n\n", len(servers))
	for _, name := range sortedNames(servers) {
		printServer(out, name, servers[name])
		fmt.Fprintln(out)
	}

	if !noConfirm {
		fmt.Fprint(out, "Add these servers? [Y/n] ")
		response, _ := in.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "" && response != "y" && response != "yes" {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	return runAddServers(cmd, servers)
}

// runAddServers validates servers, merges them into the config and saves it.
// Existing servers with the same name are replaced.
func runAddServers(cmd *cobra.Command, servers map[string]*config.ServerConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	cfg, err := config.LoadOrNew(path)
	if err != nil {
		return err
	}

	for _, name := range sortedNames(servers) {
		if err := config.ValidateServer(name, servers[name], cfg.Proxy.NamespaceSeparator); err != nil {
			return err
		}
	}
	for name, server := range servers {
		cfg.Servers[name] = server
	}

	if err := config.Save(cfg, path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(servers) == 1 {
		for name := range servers {
			fmt.Fprintf(out, "✓ Added server '%s' to %s\n", name, path)
		}
		return nil
	}
	fmt.Fprintf(out, "✓ Added %d server(s) to %s\n", len(servers), path)
	return nil
}

// parseAnyMCPConfig attempts to parse various MCP config formats.
// Returns servers map, detected format name, and error.
func parseAnyMCPConfig(input string) (map[string]*config.ServerConfig, string, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(input)), &raw); err != nil {
		return nil, "", fmt.Errorf("invalid JSON: %w", err)
	}

	wrapperKeys := []string{
		"mcpServers", "mcp_servers", "MCPServers",
		"mcp",
		"servers",
		"context_servers", // Zed format
	}
	for _, key := range wrapperKeys {
		if wrapped, ok := raw[key].(map[string]interface{}); ok {
			if servers := parseServersMap(wrapped); len(servers) > 0 {
				return servers, fmt.Sprintf("Wrapped (%s)", key), nil
			}
		}
	}

	if servers := parseServersMap(raw); len(servers) > 0 {
		return servers, "Direct server map", nil
	}

	if server := parseSingleServer(raw); server != nil {
		return map[string]*config.ServerConfig{"server": server}, "Single server object", nil
	}

	return nil, "", fmt.Errorf("could not find valid MCP server configuration")
}

// parseServersMap parses a map of server name -> server config.
func parseServersMap(raw map[string]interface{}) map[string]*config.ServerConfig {
	result := make(map[string]*config.ServerConfig)
	for name, val := range raw {
		if serverMap, ok := val.(map[string]interface{}); ok {
			if server := parseSingleServer(serverMap); server != nil {
				result[name] = server
			}
		}
	}
	return result
}

// parseSingleServer parses one server from a map. A command or a url is
// required. OpenCode writes the command as an array, which is split into
// command and args.
func parseSingleServer(raw map[string]interface{}) *config.ServerConfig {
	server := &config.ServerConfig{
		Command: findStringKey(raw, "command", "cmd", "executable"),
		Args:    findStringArrayKey(raw, "args", "arguments", "argv"),
		Env:     findStringMapKey(raw, "env", "environment", "envVars", "env_vars"),
		Cwd:     findStringKey(raw, "cwd", "workingDirectory"),
		URL:     findStringKey(raw, "url", "serverUrl", "httpUrl"),
	}

	if server.Command == "" {
		if parts := findStringArrayKey(raw, "command"); len(parts) > 0 {
			server.Command = parts[0]
			server.Args = append(parts[1:], server.Args...)
		}
	}
	if server.Command == "" && server.URL == "" {
		return nil
	}
	if enabled, ok := raw["enabled"].(bool); ok && !enabled {
		server.Enabled = &enabled
	}
	return server
}

// findStringKey looks for a string value under any of the given keys.
func findStringKey(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// findStringArrayKey looks for a string array under any of the given keys.
func findStringArrayKey(m map[string]interface{}, keys ...string) []string {
	for _, key := range keys {
		arr, ok := m[key].([]interface{})
		if !ok {
			continue
		}
		result := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return nil
}

// findStringMapKey looks for a string map under any of the given keys.
func findStringMapKey(m map[string]interface{}, keys ...string) map[string]string {
	for _, key := range keys {
		obj, ok := m[key].(map[string]interface{})
		if !ok {
			continue
		}
		result := make(map[string]string)
		for k, v := range obj {
			if s, ok := v.(string); ok {
				result[k] = s
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return nil
}

// readMultilineInput reads lines until an empty line or EOF.
func readMultilineInput(r *bufio.Reader) string {
	var lines []string
	for {
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		lines = append(lines, line)
		if err != nil {
			break
		}
	}
	return strings.Join(lines, "\n")
}

// parseEnvVars converts KEY=VALUE pairs to a map. Entries without a key are skipped.
func parseEnvVars(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, _ := strings.Cut(p, "=")
		if key != "" {
			env[key] = value
		}
	}
	return env
}

func printServer(out io.Writer, name string, server *config.ServerConfig) {
	fmt.Fprintf(out, "  %s", colorGreen(name))
	if !server.IsEnabled() {
		fmt.Fprint(out, " (disabled)")
	}
	fmt.Fprintln(out)
	if server.URL != "" {
		fmt.Fprintf(out, "    URL:     %s\n", server.URL)
	} else {
		fmt.Fprintf(out, "    Command: %s %s\n", server.Command, strings.Join(server.Args, " "))
	}
	if server.Cwd != "" {
		fmt.Fprintf(out, "    Cwd:     %s\n", server.Cwd)
	}
	if len(server.Env) > 0 {
		fmt.Fprintf(out, "    Env:     %d variable(s)\n", len(server.Env))
	}
}

func sortedNames(servers map[string]*config.ServerConfig) []string {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// colorGreen returns text with green ANSI color.
func colorGreen(s string) string {
	return "\033[32m" + s + "\033[0m"
}
