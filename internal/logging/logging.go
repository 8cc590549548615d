// Package logging hands out prefixed loggers that follow the process-wide
// output and level. Loggers derived with log.WithPrefix copy the default
// logger's settings at creation, so changes made after package init would
// otherwise never reach them.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

var (
	mu      sync.Mutex
	loggers []*log.Logger
	output  io.Writer = os.Stderr
	level             = log.InfoLevel
)

// New returns a logger with the given prefix.
func New(prefix string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()

	l := log.NewWithOptions(output, log.Options{
		Prefix:          prefix,
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})
	loggers = append(loggers, l)
	return l
}

// Configure points every logger, including the default one, at w and sets
// the level.
func Configure(w io.Writer, lvl log.Level) {
	mu.Lock()
	defer mu.Unlock()

	output, level = w, lvl
	log.SetOutput(w)
	log.SetLevel(lvl)
	for _, l := range loggers {
		l.SetOutput(w)
		l.SetLevel(lvl)
	}
}

// SetFormatter switches every logger between text, JSON and logfmt.
func SetFormatter(f log.Formatter) {
	mu.Lock()
	defer mu.Unlock()

	log.SetFormatter(f)
	for _, l := range loggers {
		l.SetFormatter(f)
	}
}
