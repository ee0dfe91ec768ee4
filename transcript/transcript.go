// Package transcript collects finalized conversation text. The relay core
// pushes (role, content, timestamp) tuples into a Sink; what happens to them
// afterwards is the collaborator's business.
package transcript

import (
	"sync"
	"time"
)

// Entry is one transcript fragment.
type Entry struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// Sink accepts transcript fragments. Implementations must be safe for
// concurrent use.
type Sink interface {
	Append(role, content string, ts time.Time)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(role, content string, ts time.Time)

// Append implements Sink.
func (f SinkFunc) Append(role, content string, ts time.Time) {
	f(role, content, ts)
}

// Memory is an in-memory Sink retaining everything appended, used to keep
// the session's conversation record.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Append implements Sink.
func (m *Memory) Append(role, content string, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, Entry{Role: role, Content: content, Timestamp: ts})
}

// Entries returns a copy of everything appended so far.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Text concatenates the content of all entries for a role.
func (m *Memory) Text(role string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s string
	for _, e := range m.entries {
		if e.Role == role {
			s += e.Content
		}
	}
	return s
}
