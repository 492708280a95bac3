package lock

import (
	"sync"

	"github.com/rs/zerolog"
)

var (
	// loggerMu protects Logger from concurrent access in tests.
	loggerMu sync.RWMutex

	// Logger is the package-level logger for lock operations.
	// Uses a no-op logger by default until explicitly configured.
	Logger = zerolog.Nop()
)

// SetLogger sets the package-level logger for lock operations.
// The logger is automatically tagged with component: lock.
func SetLogger(l *zerolog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	Logger = l.With().Str("component", "lock").Logger()
}

// logger returns the current package logger.
func logger() *zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	l := Logger
	return &l
}
