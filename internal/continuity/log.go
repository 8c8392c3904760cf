// Package continuity keeps a session's rolling conversation log and summary
// and persists them so a conversation survives reconnects and restarts.
package continuity

import (
	"strings"
	"sync"
)

// Role identifies who produced a log entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// DefaultLogCap bounds the log when no cap is configured.
const DefaultLogCap = 60

// Entry is one line of conversation. Order in the log is significant.
type Entry struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Log is a capped FIFO of entries, safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
}

// NewLog creates a log holding at most capacity entries.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultLogCap
	}
	return &Log{cap: capacity}
}

// Append adds an entry, evicting the oldest entries beyond the cap. Blank
// text is ignored.
func (l *Log) Append(role Role, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Role: role, Text: text})
	l.trimLocked()
}

// Replace swaps in a restored history, keeping only the newest entries.
func (l *Log) Replace(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]Entry(nil), entries...)
	l.trimLocked()
}

// Entries returns a copy of the log, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Tail returns a copy of the newest n entries.
func (l *Log) Tail(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 {
		return nil
	}
	if n > len(l.entries) {
		n = len(l.entries)
	}
	return append([]Entry(nil), l.entries[len(l.entries)-n:]...)
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Log) Cap() int { return l.cap }

func (l *Log) trimLocked() {
	if over := len(l.entries) - l.cap; over > 0 {
		l.entries = append([]Entry(nil), l.entries[over:]...)
	}
}

// Format renders entries as "role: text" lines.
func Format(entries []Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(e.Role))
		b.WriteString(": ")
		b.WriteString(e.Text)
	}
	return b.String()
}
