// Package logging builds the process logger. Output always goes to stderr
// because stdout carries the MCP stream in stdio mode.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvDebug enables the development logger when set to a true value.
const EnvDebug = "TOOL_LENS_DEBUG"

// New returns a zap logger at level. When debug is true (or TOOL_LENS_DEBUG is
// set) it uses the development config (console, debug level); otherwise the
// production config (JSON).
func New(level string, debug bool) (*zap.Logger, error) {
	if debug || DebugFromEnv() {
		cfg := zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
		return cfg.Build()
	}

	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// ParseLevel parses a level name. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return lvl, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

// DebugFromEnv reports whether TOOL_LENS_DEBUG is set to 1, true or yes.
func DebugFromEnv() bool {
	switch strings.ToLower(os.Getenv(EnvDebug)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
