/*
Package version holds build metadata for tool-lens-mcp.

Values are injected with -ldflags at release time:

	-X github.com/khanglvm/tool-lens-mcp/internal/version.Version=v0.3.0
	-X github.com/khanglvm/tool-lens-mcp/internal/version.Commit=abc1234
	-X github.com/khanglvm/tool-lens-mcp/internal/version.Date=2026-10-16

Local builds report "dev". Version is also sent as the implementation version
in the MCP handshake, both to clients and to upstream servers.
*/
package version

var (
	// Version is the release tag.
	Version = "dev"
	// Commit is the short git commit hash.
	Commit = "none"
	// Date is the UTC build date.
	Date = "unknown"
)

// GetVersion returns the version line shown by --version.
func GetVersion() string {
	return FormatVersion(Version, Commit, Date)
}

// FormatVersion joins version components into a display string.
func FormatVersion(version, commit, date string) string {
	if version == "dev" || version == "" {
		return "dev (development build)"
	}
	return version + " (commit: " + commit + ", built: " + date + ")"
}

// GetVersionComponents returns the raw components.
func GetVersionComponents() (version, commit, date string) {
	return Version, Commit, Date
}
