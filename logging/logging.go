// File: logging/logging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide structured logger for hioload-net. Logging is a cross-cutting
// concern shared by every reactor, so a package-level logger avoids threading
// a logger handle through each component. The backend is replaceable at
// startup via SetLogger.

package logging

import (
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var logger atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.InfoLevel).
		With().Timestamp().Logger()
	logger.Store(&l)
}

// L returns the current process-wide logger.
func L() *zerolog.Logger {
	return logger.Load()
}

// SetLogger replaces the process-wide logger. Intended to be called once
// during program initialization, before any loops are started.
func SetLogger(l zerolog.Logger) {
	logger.Store(&l)
}

// SetLevel adjusts the level of the current logger in place.
func SetLevel(level zerolog.Level) {
	l := logger.Load().Level(level)
	logger.Store(&l)
}
