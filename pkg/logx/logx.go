// Package logx provides component-scoped structured logging with an
// in-memory buffer served to the browser IDE over the logs endpoint.
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger writes timestamped component-tagged lines to stderr and mirrors
// them into the shared in-memory buffer.
type Logger struct {
	component string
	logger    *log.Logger
}

// Level is a log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Entry is one buffered log line, shaped for the logs API.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// debugConfig controls debug-level logging, initialized from the
// environment: DEBUG=1 enables it, DEBUG_DOMAINS=engine,sandbox restricts it.
type debugSettings struct {
	enabled bool
	domains map[string]bool // nil = all components
}

const bufferSize = 1000

//nolint:gochecknoglobals // Intentional process-wide buffer and debug settings
var (
	debugMu sync.RWMutex
	debug   = debugSettings{}

	bufMu   sync.RWMutex
	entries []Entry
)

//nolint:gochecknoinits // Env var initialization must happen before first use
func init() {
	if v := os.Getenv("DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		debug.enabled = true
	}
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debug.domains = make(map[string]bool)
		for _, d := range strings.Split(domains, ",") {
			debug.domains[strings.TrimSpace(d)] = true
		}
	}
}

// SetDebug overrides the env-derived debug setting.
func SetDebug(enabled bool, domains []string) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debug.enabled = enabled
	if len(domains) == 0 {
		debug.domains = nil
		return
	}
	debug.domains = make(map[string]bool)
	for _, d := range domains {
		debug.domains[strings.TrimSpace(d)] = true
	}
}

func debugEnabledFor(component string) bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	if !debug.enabled {
		return false
	}
	if debug.domains == nil {
		return true
	}
	return debug.domains[component]
}

// NewLogger creates a logger for one component (engine, sandbox, api, ...).
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(os.Stderr, "", 0), // stderr keeps stdout clean for CLI output
	}
}

func (l *Logger) log(level Level, format string, args ...any) {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] [%s] %s: %s", timestamp, l.component, level, message)

	bufMu.Lock()
	entries = append(entries, Entry{
		Timestamp: timestamp,
		Component: l.component,
		Level:     string(level),
		Message:   message,
	})
	if len(entries) > bufferSize {
		entries = entries[len(entries)-bufferSize:]
	}
	bufMu.Unlock()
}

// Debug logs at debug level when enabled for this component.
func (l *Logger) Debug(format string, args ...any) {
	if !debugEnabledFor(l.component) {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

// RecentEntries returns buffered entries, optionally filtered by component
// and a lower timestamp bound.
func RecentEntries(component string, since time.Time) []Entry {
	bufMu.RLock()
	defer bufMu.RUnlock()

	filtered := make([]Entry, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		if component != "" && !strings.EqualFold(e.Component, component) {
			continue
		}
		if !since.IsZero() {
			ts, err := time.Parse("2006-01-02T15:04:05.000Z", e.Timestamp)
			if err != nil || ts.Before(since) {
				continue
			}
		}
		filtered = append(filtered, *e)
	}
	return filtered
}

//nolint:gochecknoglobals // Default logger for package-level helpers
var defaultLogger = NewLogger("system")

// Errorf logs and returns the formatted error:
//
//	return logx.Errorf("staging failed: %w", err)
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + err and returns fmt.Errorf("%s: %w", msg, err).
// Returns nil when err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}
