package logger

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// LogEntry represents a single captured log line
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	Table     string    `json:"table,omitempty"`
	Records   int       `json:"records,omitempty"`
	Keys      []string  `json:"keys,omitempty"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
}

// LogBuffer is a circular buffer that stores recent log entries
type LogBuffer struct {
	mu       sync.RWMutex
	entries  []LogEntry
	size     int
	writePos int
	count    int
}

var (
	globalBuffer *LogBuffer
	bufferOnce   sync.Once
)

// GetBuffer returns the global log buffer instance
func GetBuffer() *LogBuffer {
	bufferOnce.Do(func() {
		globalBuffer = NewLogBuffer(5000)
	})
	return globalBuffer
}

// NewLogBuffer creates a new log buffer with specified capacity
func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = 1
	}
	return &LogBuffer{
		entries: make([]LogEntry, size),
		size:    size,
	}
}

// Add adds a log entry to the buffer, evicting the oldest when full
func (b *LogBuffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.writePos] = entry
	b.writePos = (b.writePos + 1) % b.size
	if b.count < b.size {
		b.count++
	}
}

// Query filters buffered entries
type Query struct {
	Limit        int
	Level        string // minimum level
	RunID        string
	SinceMinutes int
}

// GetRecent returns matching entries, most recent first
func (b *LogBuffer) GetRecent(q Query) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 || limit > b.count {
		limit = b.count
	}

	var cutoff time.Time
	if q.SinceMinutes > 0 {
		cutoff = time.Now().Add(-time.Duration(q.SinceMinutes) * time.Minute)
	}
	levelUpper := strings.ToUpper(q.Level)

	result := make([]LogEntry, 0, limit)
	for i := 0; i < b.count && len(result) < limit; i++ {
		idx := (b.writePos - 1 - i + b.size) % b.size
		entry := b.entries[idx]

		if !cutoff.IsZero() && entry.Timestamp.Before(cutoff) {
			continue
		}
		if q.RunID != "" && entry.RunID != q.RunID {
			continue
		}
		if levelUpper != "" && !matchesLevel(entry.Level, levelUpper) {
			continue
		}
		result = append(result, entry)
	}

	return result
}

var levelPriority = map[string]int{
	"DEBUG": 0,
	"INFO":  1,
	"WARN":  2,
	"ERROR": 3,
	"FATAL": 4,
	"PANIC": 5,
}

// matchesLevel reports whether entryLevel is at or above filterLevel
func matchesLevel(entryLevel, filterLevel string) bool {
	entryPriority, ok1 := levelPriority[strings.ToUpper(entryLevel)]
	filterPriority, ok2 := levelPriority[filterLevel]
	if !ok1 || !ok2 {
		return strings.EqualFold(entryLevel, filterLevel)
	}
	return entryPriority >= filterPriority
}

// Count returns the current number of entries in the buffer
func (b *LogBuffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// LogBufferWriter decodes zerolog JSON lines into a LogBuffer
type LogBufferWriter struct {
	buffer *LogBuffer
}

// NewLogBufferWriter creates a writer that captures logs to buffer
func NewLogBufferWriter(buffer *LogBuffer) *LogBufferWriter {
	return &LogBufferWriter{buffer: buffer}
}

// Write implements io.Writer. Lines that are not JSON objects are dropped.
func (w *LogBufferWriter) Write(p []byte) (int, error) {
	if entry, ok := parseLogLine(p); ok {
		w.buffer.Add(entry)
	}
	return len(p), nil
}

type rawLine struct {
	Time      string `json:"time"`
	Level     string `json:"level"`
	Component string `json:"component"`
	RunID     string `json:"run_id"`
	Table     string   `json:"table"`
	Records   int      `json:"records"`
	Keys      []string `json:"keys"`
	Message   string   `json:"message"`
	Error     string `json:"error"`
}

func parseLogLine(p []byte) (LogEntry, bool) {
	var raw rawLine
	if err := json.Unmarshal(p, &raw); err != nil {
		return LogEntry{}, false
	}
	if raw.Message == "" && raw.Level == "" {
		return LogEntry{}, false
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     strings.ToUpper(raw.Level),
		Component: raw.Component,
		RunID:     raw.RunID,
		Table:     raw.Table,
		Records:   raw.Records,
		Keys:      raw.Keys,
		Message:   raw.Message,
		Error:     raw.Error,
	}
	if t, err := time.Parse(time.RFC3339, raw.Time); err == nil {
		entry.Timestamp = t
	}
	return entry, true
}
