// Package logging is a thin prefix layer over the standard logger. Every
// line is tagged with the subsystem that wrote it.
package logging

import (
	"log"
	"os"
	"strings"
	"sync/atomic"
)

var debugEnabled atomic.Bool

func init() {
	debugEnabled.Store(os.Getenv("CLR_DEBUG") == "true" || os.Getenv("DEBUG") == "true")
}

// Info logs an informational message (always shown)
func Info(subsystem, format string, args ...any) {
	log.Printf("[%s] "+format, append([]any{subsystem}, args...)...)
}

// Warn logs a recoverable fault. The tick loop keeps running after these.
func Warn(subsystem, format string, args ...any) {
	log.Printf("[%s] WARN "+format, append([]any{subsystem}, args...)...)
}

// Debug logs only when debug output is on (CLR_DEBUG=true or --debug).
func Debug(subsystem, format string, args ...any) {
	if debugEnabled.Load() {
		log.Printf("[%s] "+format, append([]any{subsystem}, args...)...)
	}
}

// SetDebug toggles debug output at runtime.
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

// DebugEnabled reports whether Debug lines are written.
func DebugEnabled() bool {
	return debugEnabled.Load()
}

// Truncate collapses s onto one line and cuts it at maxLen runes.
func Truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
