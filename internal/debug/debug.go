package debug

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var current atomic.Pointer[zap.Logger]

// SetLogger installs the process logger used by the Debug helpers
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	current.Store(l)
}

// Logger returns the process logger, a no-op logger until SetLogger is called
func Logger() *zap.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// OrNop lets components accept a nil logger
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// DebugHeader prints debug header if debugging is enabled
func DebugHeader(enabled bool) {
	if enabled {
		Logger().Debug("=== DEBUG START ===")
	}
}

// DebugFooter prints debug footer if debugging is enabled
func DebugFooter(enabled bool) {
	if enabled {
		Logger().Debug("=== DEBUG END ===")
	}
}

// DebugOutput prints debug output if debugging is enabled
func DebugOutput(enabled bool, format string, args ...interface{}) {
	if enabled {
		Logger().Debug(fmt.Sprintf(format, args...))
	}
}

// DebugTiming measures and logs execution time if debugging is enabled
func DebugTiming(enabled bool, operation string) func() {
	if !enabled {
		return func() {}
	}

	start := time.Now()
	Logger().Debug("starting", zap.String("operation", operation))

	return func() {
		Logger().Debug("completed",
			zap.String("operation", operation),
			zap.Duration("took", time.Since(start)))
	}
}
