package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nenadatanasovski/memory-cube/internal/types"
)

// Rotation defaults
const (
	DefaultMaxLogBytes = 10 * 1024 * 1024
	DefaultMaxLogLines = 10000
	DefaultRotateCount = 3
)

// LogEntry is one line of the event log
type LogEntry struct {
	Event             Event    `json:"event"`
	ProcessedAt       string   `json:"processedAt"`
	TriggersActivated []string `json:"triggersActivated"`
	Errors            []string `json:"errors,omitempty"`
}

// LogOptions configures rotation; zero values take the defaults
type LogOptions struct {
	MaxBytes    int64
	MaxLines    int
	RotateCount int
}

// LogStats summarizes the current log file
type LogStats struct {
	Lines  int
	Bytes  int64
	Oldest time.Time
	Newest time.Time
}

// Log is the append-only JSON-per-line event log with size/count
// rotation: current file plus rotated tails .1 (newest) through .N.
type Log struct {
	mu          sync.Mutex
	path        string
	maxBytes    int64
	maxLines    int
	rotateCount int
	lines       int // line count of the current file
}

// OpenLog opens (or creates) the event log at path
func OpenLog(path string, opts LogOptions) (*Log, error) {
	l := &Log{
		path:        path,
		maxBytes:    opts.MaxBytes,
		maxLines:    opts.MaxLines,
		rotateCount: opts.RotateCount,
	}
	if l.maxBytes <= 0 {
		l.maxBytes = DefaultMaxLogBytes
	}
	if l.maxLines <= 0 {
		l.maxLines = DefaultMaxLogLines
	}
	if l.rotateCount <= 0 {
		l.rotateCount = DefaultRotateCount
	}
	lines, err := countLines(path)
	if err != nil {
		return nil, types.Wrap(types.KindIO, "events.open_log", err)
	}
	l.lines = lines
	return l, nil
}

// Append writes one entry as a single JSON line, rotating first when
// the current file is at its size or line limit
func (l *Log) Append(entry LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return types.Wrap(types.KindIO, "events.append", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.shouldRotate() {
		l.rotate()
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return types.Wrap(types.KindIO, "events.append", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return types.Wrap(types.KindIO, "events.append", err)
	}
	l.lines++
	return nil
}

// AppendEvent wraps an event into a minimal entry
func (l *Log) AppendEvent(event Event, triggersActivated []string) error {
	if triggersActivated == nil {
		triggersActivated = []string{}
	}
	return l.Append(LogEntry{
		Event:             event,
		ProcessedAt:       time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		TriggersActivated: triggersActivated,
	})
}

func (l *Log) shouldRotate() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		return false
	}
	return info.Size() >= l.maxBytes || l.lines >= l.maxLines
}

// rotate shifts the tail chain: .N is deleted, .(k) -> .(k+1), current
// -> .1. On failure the current file is truncated so appends continue.
func (l *Log) rotate() {
	os.Remove(l.rotatedPath(l.rotateCount))
	for k := l.rotateCount - 1; k >= 1; k-- {
		os.Rename(l.rotatedPath(k), l.rotatedPath(k+1))
	}
	if err := os.Rename(l.path, l.rotatedPath(1)); err != nil && !os.IsNotExist(err) {
		// Rotation failed; fall back to truncating the current file
		os.Truncate(l.path, 0)
	}
	l.lines = 0
}

func (l *Log) rotatedPath(n int) string {
	return fmt.Sprintf("%s.%d", l.path, n)
}

// ReadAll returns every entry, oldest first, across rotated tails and
// the current file. Corrupt lines are dropped silently.
func (l *Log) ReadAll() ([]LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var all []LogEntry
	for n := l.rotateCount; n >= 1; n-- {
		entries, err := readEntries(l.rotatedPath(n))
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	entries, err := readEntries(l.path)
	if err != nil {
		return nil, err
	}
	return append(all, entries...), nil
}

// ReadRecent returns the newest n entries, oldest first
func (l *Log) ReadRecent(n int) ([]LogEntry, error) {
	all, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// ReadByType returns the newest n entries of one event type
func (l *Log) ReadByType(t EventType, n int) ([]LogEntry, error) {
	return l.readFiltered(n, func(e LogEntry) bool {
		return e.Event.Type == t
	})
}

// ReadByNode returns the newest n entries whose payload references the
// node id, either directly or through an embedded node snapshot
func (l *Log) ReadByNode(id string, n int) ([]LogEntry, error) {
	return l.readFiltered(n, func(e LogEntry) bool {
		if e.Event.Payload == nil {
			return false
		}
		if nodeID, ok := e.Event.Payload["nodeId"].(string); ok && nodeID == id {
			return true
		}
		if snapshot, ok := e.Event.Payload["node"].(map[string]interface{}); ok {
			if nodeID, ok := snapshot["id"].(string); ok && nodeID == id {
				return true
			}
		}
		return false
	})
}

// ReadByTimeRange returns entries whose event timestamp falls in
// [start, end]
func (l *Log) ReadByTimeRange(start, end time.Time) ([]LogEntry, error) {
	all, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []LogEntry
	for _, e := range all {
		ts := e.Event.Timestamp
		if !ts.Before(start) && !ts.After(end) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *Log) readFiltered(n int, keep func(LogEntry) bool) ([]LogEntry, error) {
	all, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []LogEntry
	for _, e := range all {
		if keep(e) {
			out = append(out, e)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// Stats reports size and timestamp bounds of the current file
func (l *Log) Stats() (LogStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := LogStats{Lines: l.lines}
	info, err := os.Stat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, types.Wrap(types.KindIO, "events.stats", err)
	}
	stats.Bytes = info.Size()

	entries, err := readEntries(l.path)
	if err != nil {
		return stats, err
	}
	if len(entries) > 0 {
		stats.Oldest = entries[0].Event.Timestamp
		stats.Newest = entries[len(entries)-1].Event.Timestamp
	}
	return stats, nil
}

func readEntries(path string) ([]LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.Wrap(types.KindIO, "events.read", err)
	}
	defer f.Close()

	var entries []LogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var entry LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // corrupt line, drop
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, types.Wrap(types.KindIO, "events.read", err)
	}
	return entries, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()
	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		count++
	}
	return count, scanner.Err()
}
