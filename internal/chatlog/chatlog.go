// Package chatlog provides the append-only activity log: every public
// message and system event is written as one timestamped line to a text
// file, and a bounded in-memory ring of recent lines backs the status
// page's message API.
package chatlog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// maxRecent bounds the in-memory ring of recent lines.
const maxRecent = 1000

const timeLayout = "2006-01-02 15:04:05"

// Log is an append-only line sink. Safe for concurrent use. The file has
// no read contract; Recent serves the in-memory ring only.
type Log struct {
	mu     sync.Mutex
	f      *os.File
	recent []string
	now    func() time.Time
}

// Open opens (creating if needed) the log file at path for appending.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open chat log: %w", err)
	}
	return &Log{f: f, now: time.Now}, nil
}

// Append writes one timestamped line. Write failures are swallowed: the
// log is a best-effort sink and must never fail a message delivery.
func (l *Log) Append(line string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := fmt.Sprintf("[%s] %s", l.now().Format(timeLayout), line)
	if l.f != nil {
		fmt.Fprintln(l.f, entry)
	}

	l.recent = append(l.recent, entry)
	if len(l.recent) > maxRecent {
		// Copy into a fresh slice so the backing array stays bounded and
		// evicted lines can be collected.
		trimmed := make([]string, maxRecent)
		copy(trimmed, l.recent[len(l.recent)-maxRecent:])
		l.recent = trimmed
	}
}

// Appendf formats and appends one line.
func (l *Log) Appendf(format string, args ...any) {
	if l == nil {
		return
	}
	l.Append(fmt.Sprintf(format, args...))
}

// Recent returns a copy of the buffered lines, oldest first.
func (l *Log) Recent() []string {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.recent))
	copy(out, l.recent)
	return out
}

// Close closes the underlying file.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
