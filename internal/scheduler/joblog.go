package scheduler

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/t77yq/gradeflow/internal/model"
)

// maxLogEntries caps the in-memory execution log; the oldest entry is
// evicted first (plain FIFO)
const maxLogEntries = 100

// ExecutionLog keeps the most recent task firings in memory
type ExecutionLog struct {
	mu      sync.Mutex
	entries []model.ExecutionLogEntry
	cap     int
}

// NewExecutionLog creates a log capped at capacity entries
func NewExecutionLog(capacity int) *ExecutionLog {
	if capacity <= 0 {
		capacity = maxLogEntries
	}
	return &ExecutionLog{cap: capacity}
}

// Append records one firing, evicting the oldest entry past the cap
func (l *ExecutionLog) Append(entry model.ExecutionLogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry)
	if len(l.entries) > l.cap {
		l.entries = l.entries[len(l.entries)-l.cap:]
	}
}

// Entries returns the retained firings in order, oldest first
func (l *ExecutionLog) Entries() []model.ExecutionLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]model.ExecutionLogEntry, len(l.entries))
	copy(entries, l.entries)
	return entries
}

// FileLogSink mirrors execution log entries to an append-only text file
type FileLogSink struct {
	logger *zap.Logger
	mu     sync.Mutex
	file   *os.File
}

// NewFileLogSink opens (or creates) the sink file in append mode
func NewFileLogSink(path string, logger *zap.Logger) (*FileLogSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log sink: %w", err)
	}

	return &FileLogSink{
		logger: logger.Named("log-sink"),
		file:   file,
	}, nil
}

// Append writes one line for the entry. Write failures are logged and
// swallowed; the sink is observability, not a dependency.
func (s *FileLogSink) Append(entry model.ExecutionLogEntry) {
	line := FormatLogLine(entry)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintln(s.file, line); err != nil {
		s.logger.Warn("Failed to append log line", zap.Error(err))
	}
}

// Close closes the sink file
func (s *FileLogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// FormatLogLine renders an entry as
// [timestamp] taskId - taskName - Duration: Nms[ - ERROR: msg]
func FormatLogLine(entry model.ExecutionLogEntry) string {
	line := fmt.Sprintf("[%s] %s - %s - Duration: %dms",
		entry.Timestamp.Format("2006-01-02 15:04:05"),
		entry.TaskID,
		entry.TaskName,
		entry.Duration.Milliseconds())

	if entry.ErrorMessage != "" {
		line += fmt.Sprintf(" - ERROR: %s", entry.ErrorMessage)
	}
	return line
}
