// Package dexlog provides the subsystem-logger conventions shared across
// the node's components, following the same pattern as dcrdex's top-level
// logging package: one Backend, one Logger per subsystem, independently
// levelled.
package dexlog

import (
	"fmt"

	"github.com/decred/slog"
)

// Logger is the interface every component logs through.
type Logger = slog.Logger

// LoggerMaker creates per-subsystem loggers with predefined levels.
type LoggerMaker struct {
	*slog.Backend
	DefaultLevel slog.Level
	Levels       map[string]slog.Level
}

// SubLogger creates a Logger named "parent[name]", inheriting parent's
// configured level if set, else DefaultLevel.
func (lm *LoggerMaker) SubLogger(parent, name string) Logger {
	level, ok := lm.Levels[parent]
	if !ok {
		level = lm.DefaultLevel
	}
	logger := lm.Backend.Logger(fmt.Sprintf("%s[%s]", parent, name))
	logger.SetLevel(level)
	return logger
}

// NewLogger creates a Logger for the named subsystem.
func (lm *LoggerMaker) NewLogger(name string, level ...slog.Level) Logger {
	lvl := lm.DefaultLevel
	if len(level) > 0 {
		lvl = level[0]
	}
	logger := lm.Backend.Logger(name)
	logger.SetLevel(lvl)
	return logger
}
