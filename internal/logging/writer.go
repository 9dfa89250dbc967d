// Package logging provides the diagnostic logging framework for the dirsync
// daemon: a size-based rotating file writer and a small leveled logger on top
// of it. These are the server's own operational logs, not the replication
// changelog itself.
//
// The package is safe for concurrent use from multiple goroutines.
package logging

import (
	"fmt"
	"log"
)

// Logger provides a simple, structured logging interface wrapping the
// standard log.Logger with leveled methods.
type Logger struct {
	base *log.Logger
}

// New constructs a Logger that writes through the provided rotator.
func New(rotator *Rotator) *Logger {
	return &Logger{base: NewLogger(rotator)}
}

// Info logs an informational message.
func (l *Logger) Info(msg string) {
	l.base.Println("INFO", msg)
}

// Infof logs a formatted informational message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.base.Println("INFO", fmt.Sprintf(format, args...))
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.base.Println("WARN", msg)
}

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.base.Println("WARN", fmt.Sprintf(format, args...))
}

// Error logs an error message along with the underlying error.
func (l *Logger) Error(err error, msg string) {
	l.base.Println("ERROR", msg, "err=", err)
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.base.Println("ERROR", fmt.Sprintf(format, args...))
}
