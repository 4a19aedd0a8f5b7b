package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ConfigNotFoundError means the config file does not exist yet. serve treats
// it as an empty config; editing commands create the file.
type ConfigNotFoundError struct {
	Path string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("config file not found: %s\n\n💡 Run 'tool-lens-mcp add <name> -- <command> [args...]' to create it", e.Path)
}

// IsNotFound reports whether err is, or wraps, a ConfigNotFoundError.
func IsNotFound(err error) bool {
	var nf *ConfigNotFoundError
	return errors.As(err, &nf)
}

// InvalidConfigError means the file could not be parsed or failed validation.
type InvalidConfigError struct {
	Path string
	Err  error
	Hint string
}

func (e *InvalidConfigError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid config: %s\n%v", e.Path, e.Err)
	if e.Hint != "" {
		b.WriteString("\n💡 " + e.Hint)
	}
	return b.String()
}

func (e *InvalidConfigError) Unwrap() error { return e.Err }

// PermissionError means the config file or its directory is not accessible.
type PermissionError struct {
	Path string
	Op   string // "read" or "write"
	Mode string // current permission bits, when known
	Err  error
}

func (e *PermissionError) Error() string {
	msg := fmt.Sprintf("permission denied (cannot %s config): %s\n", e.Op, e.Path)
	if e.Mode != "" {
		msg += "Current permissions: " + e.Mode + "\n"
	}
	return msg + "💡 Fix: " + permissionFix(e.Op, e.Path)
}

func (e *PermissionError) Unwrap() error { return e.Err }

func permissionFix(op, path string) string {
	if runtime.GOOS == "windows" {
		return fmt.Sprintf("Right-click %s → Properties → Security → allow %s", path, op)
	}
	if op == "write" {
		return "Run: chmod u+w " + path
	}
	return "Run: chmod 644 " + path
}

// ValidationError lists every problem found in a config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(e.Problems, "\n  - ")
}
