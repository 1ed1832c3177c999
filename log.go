package panel

import (
	"io"
	"log"
	"os"
)

// defaultLogger returns the logger used when none is configured.
func defaultLogger() *log.Logger {
	return log.New(os.Stderr, "[panel] ", log.LstdFlags)
}

// NewLogger returns a logger with the bracketed prefix used throughout the
// package, e.g. NewLogger(os.Stderr, "transport") prefixes "[panel/transport] ".
func NewLogger(w io.Writer, name string) *log.Logger {
	prefix := "[panel] "
	if name != "" {
		prefix = "[panel/" + name + "] "
	}
	return log.New(w, prefix, log.LstdFlags)
}

// DiscardLogger returns a logger that drops everything. Tests use it.
func DiscardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}
