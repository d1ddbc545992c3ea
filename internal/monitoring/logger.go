// Package monitoring holds the process-wide loggers used by the grid
// disturbance pipeline and its collaborators.
package monitoring

import (
	"io"
	"log"
	"sync"
)

// Logf is the package-level lifecycle logger. It defaults to log.Printf but may
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

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

var (
	mu          sync.RWMutex
	opsLogger   *log.Logger
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures all three logging streams at once.
// Pass nil for any writer to disable that stream.
func SetLogWriters(w LogWriters) {
	mu.Lock()
	defer mu.Unlock()
	opsLogger = newLogger("[grid] ", w.Ops)
	diagLogger = newLogger("[grid] ", w.Diag)
	traceLogger = newLogger("[grid] ", w.Trace)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream (calibration changes, settings updates, store failures).
func Opsf(format string, args ...interface{}) {
	printTo(&opsLogger, format, args...)
}

// Diagf logs to the diag stream (degraded frames, rejected calibrations).
func Diagf(format string, args ...interface{}) {
	printTo(&diagLogger, format, args...)
}

// Tracef logs to the trace stream (per-frame counters).
func Tracef(format string, args ...interface{}) {
	printTo(&traceLogger, format, args...)
}

func printTo(target **log.Logger, format string, args ...interface{}) {
	mu.RLock()
	l := *target
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}
