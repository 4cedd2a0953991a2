// Package monitoring holds the diagnostic logging hooks shared by the frame
// processing packages. Tests redirect or mute them with SetLogger.
package monitoring

import (
	"log"
	"sync"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Warnf logs a recoverable condition through Logf with a "Warning: " prefix.
func Warnf(format string, v ...interface{}) {
	Logf("Warning: "+format, v...)
}

var (
	onceMu   sync.Mutex
	onceSeen = make(map[string]struct{})
)

// LogOnce logs the message the first time key is seen in this process and
// reports whether it did so. Later calls with the same key are dropped.
func LogOnce(key, format string, v ...interface{}) bool {
	onceMu.Lock()
	_, seen := onceSeen[key]
	if !seen {
		onceSeen[key] = struct{}{}
	}
	onceMu.Unlock()

	if seen {
		return false
	}
	Logf(format, v...)
	return true
}

// ResetOnce forgets every key recorded by LogOnce.
func ResetOnce() {
	onceMu.Lock()
	onceSeen = make(map[string]struct{})
	onceMu.Unlock()
}
