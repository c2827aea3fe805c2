// Package history implements the bounded linear undo log over buffer snapshots.
package history

import "errors"

// DefaultCapacity is the number of entries kept before the oldest is evicted.
const DefaultCapacity = 50

// ErrNothingToUndo is returned by Undo when the cursor is at the first entry.
var ErrNothingToUndo = errors.New("nothing to undo")

// Entry is a point-in-time copy of the code buffers.
type Entry struct {
	HTML      string `json:"html"`
	CSS       string `json:"css"`
	JS        string `json:"js"`
	Timestamp int64  `json:"timestamp"`
}

// Stack is a linear undo log with a cursor. Branching is not supported:
// pushing while behind the tail discards the forward entries.
type Stack struct {
	entries  []Entry
	cursor   int
	capacity int
}

// New creates an empty stack. A non-positive capacity uses DefaultCapacity.
func New(capacity int) *Stack {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Stack{cursor: -1, capacity: capacity}
}

// Push appends e after the cursor and moves the cursor onto it.
func (s *Stack) Push(e Entry) {
	if s.cursor < len(s.entries)-1 {
		s.entries = s.entries[:s.cursor+1]
	}
	s.entries = append(s.entries, e)
	s.cursor++

	if len(s.entries) > s.capacity {
		over := len(s.entries) - s.capacity
		s.entries = append([]Entry(nil), s.entries[over:]...)
		s.cursor -= over
	}
}

// Undo steps the cursor back one entry and returns the entry now under it.
func (s *Stack) Undo() (Entry, error) {
	if s.cursor <= 0 {
		return Entry{}, ErrNothingToUndo
	}
	s.cursor--
	return s.entries[s.cursor], nil
}

// Current returns the entry under the cursor.
func (s *Stack) Current() (Entry, bool) {
	if s.cursor < 0 {
		return Entry{}, false
	}
	return s.entries[s.cursor], true
}

// CanUndo reports whether Undo would succeed.
func (s *Stack) CanUndo() bool {
	return s.cursor > 0
}

// Len returns the number of retained entries.
func (s *Stack) Len() int {
	return len(s.entries)
}

// Cursor returns the index of the current entry, or -1 when empty.
func (s *Stack) Cursor() int {
	return s.cursor
}

// Entries returns a copy of the retained entries, oldest first.
func (s *Stack) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
