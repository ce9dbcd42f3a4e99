// Package eventlog keeps the append-only operator event journal. Entries
// are formatted "[<UTC RFC 3339 timestamp>] <message>" and never change.
package eventlog

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Log is safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	lines   []string
	now     func() time.Time
	logger  *zap.Logger
	onEntry []func(string)
}

type Option func(*Log)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithLogger mirrors every entry to a zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func New(opts ...Option) *Log {
	l := &Log{
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append timestamps message and stores it. It returns the stored entry.
// Entries are stamped under the lock so stored order matches time order.
func (l *Log) Append(message string) string {
	l.mu.Lock()
	ts := l.now().UTC().Format(time.RFC3339Nano)
	entry := fmt.Sprintf("[%s] %s", ts, message)
	l.lines = append(l.lines, entry)
	hooks := l.onEntry
	l.mu.Unlock()

	switch {
	case strings.HasPrefix(message, "CRITICAL"):
		l.logger.Error(message, zap.String("event_time", ts))
	case strings.HasPrefix(message, "CAUTION"):
		l.logger.Warn(message, zap.String("event_time", ts))
	default:
		l.logger.Info(message, zap.String("event_time", ts))
	}

	for _, fn := range hooks {
		fn(entry)
	}
	return entry
}

func (l *Log) Appendf(format string, args ...any) string {
	return l.Append(fmt.Sprintf(format, args...))
}

// OnEntry registers fn to receive each new entry after it is stored.
func (l *Log) OnEntry(fn func(entry string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := make([]func(string), len(l.onEntry), len(l.onEntry)+1)
	copy(next, l.onEntry)
	l.onEntry = append(next, fn)
}

// Snapshot returns a copy of every entry in append order.
func (l *Log) Snapshot() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

// Tail returns up to n of the most recent entries.
func (l *Log) Tail(n int) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	start := len(l.lines) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, len(l.lines)-start)
	copy(out, l.lines[start:])
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.lines)
}
