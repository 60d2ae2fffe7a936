// Package eventlog keeps a bounded, append-only record of raw channel
// traffic for inspection surfaces. Runs of identical event types collapse
// into a single entry with a count, which keeps chatty streams (per-chunk
// audio deltas) from flooding the log while leaving one visible entry per
// burst.
package eventlog

import (
	"sync"
	"time"

	"github.com/voxloop-ai/voxloop/internal/eventbus"
)

// Entry is one coalesced log record.
type Entry struct {
	Timestamp       time.Time
	Origin          eventbus.EventOrigin
	EventType       string
	OccurrenceCount int
	Raw             any
}

const defaultCapacity = 1000

// Log is the coalescing event log. Safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	lastTS   time.Time
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithCapacity bounds the number of retained entries. The oldest entries are
// evicted once the bound is exceeded.
func WithCapacity(capacity int) LogOption {
	return func(l *Log) {
		if capacity > 0 {
			l.capacity = capacity
		}
	}
}

// NewLog constructs an empty log.
func NewLog(opts ...LogOption) *Log {
	l := &Log{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records one raw event. When the event type matches the tail entry,
// only the tail's count is incremented; the comparison never looks past the
// tail, so non-adjacent repeats stay separate entries.
func (l *Log) Append(origin eventbus.EventOrigin, eventType string, raw any, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Timestamps are monotonic within a session even if sources disagree.
	if ts.Before(l.lastTS) {
		ts = l.lastTS
	}
	l.lastTS = ts

	if n := len(l.entries); n > 0 && l.entries[n-1].EventType == eventType {
		l.entries[n-1].OccurrenceCount++
		return
	}

	l.entries = append(l.entries, Entry{
		Timestamp:       ts,
		Origin:          origin,
		EventType:       eventType,
		OccurrenceCount: 1,
		Raw:             raw,
	})
	if len(l.entries) > l.capacity {
		overflow := len(l.entries) - l.capacity
		l.entries = append(l.entries[:0], l.entries[overflow:]...)
	}
}

// Entries returns a copy of the log in append order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len reports the number of coalesced entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Reset drops all entries. Called on session start.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.lastTS = time.Time{}
}
