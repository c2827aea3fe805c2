// Package console models the log panel fed by the preview's console bridge
// and by host-side diagnostics.
package console

import (
	"fmt"
	"strings"
	"time"
)

// Level is the severity of a panel line. It matches the methods the preview
// bridge reports.
type Level string

const (
	LevelLog     Level = "log"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// ParseLevel normalizes a console method name. Unknown methods log as "log".
func ParseLevel(method string) Level {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "error":
		return LevelError
	case "warn", "warning":
		return LevelWarning
	case "info":
		return LevelInfo
	default:
		return LevelLog
	}
}

// Message is what the preview bridge posts to the host.
type Message struct {
	Type       string   `json:"type"`
	Method     string   `json:"method"`
	Args       []string `json:"args"`
	Generation string   `json:"generation,omitempty"`
}

// Entry is one timestamped panel line.
type Entry struct {
	Time  time.Time `json:"time"`
	Level Level     `json:"level"`
	Text  string    `json:"text"`
	// Stale marks output from a preview that has since been replaced.
	Stale bool `json:"stale,omitempty"`
}

// Line formats the entry the way the panel shows it.
func (e Entry) Line() string {
	line := fmt.Sprintf("[%s] %s", e.Time.Format("15:04:05"), e.Text)
	if e.Stale {
		line += " (stale)"
	}
	return line
}

// DefaultLimit bounds the number of retained entries.
const DefaultLimit = 500

// Panel is a bounded, append-only list of entries. It is owned by a single
// goroutine.
type Panel struct {
	entries []Entry
	limit   int
	now     func() time.Time
}

// NewPanel creates an empty panel. A non-positive limit uses DefaultLimit.
// now may be nil.
func NewPanel(limit int, now func() time.Time) *Panel {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if now == nil {
		now = time.Now
	}
	return &Panel{limit: limit, now: now}
}

// Add appends a host-side line.
func (p *Panel) Add(level Level, text string) Entry {
	e := Entry{Time: p.now(), Level: level, Text: text}
	p.append(e)
	return e
}

// Addf appends a formatted host-side line.
func (p *Panel) Addf(level Level, format string, args ...any) Entry {
	return p.Add(level, fmt.Sprintf(format, args...))
}

// Receive appends a bridge message. stale is decided by the caller, which
// knows the current render generation.
func (p *Panel) Receive(m Message, stale bool) Entry {
	e := Entry{
		Time:  p.now(),
		Level: ParseLevel(m.Method),
		Text:  strings.Join(m.Args, " "),
		Stale: stale,
	}
	p.append(e)
	return e
}

func (p *Panel) append(e Entry) {
	p.entries = append(p.entries, e)
	if over := len(p.entries) - p.limit; over > 0 {
		p.entries = append([]Entry(nil), p.entries[over:]...)
	}
}

// Clear removes all entries.
func (p *Panel) Clear() {
	p.entries = nil
}

// Entries returns a copy of the retained entries, oldest first.
func (p *Panel) Entries() []Entry {
	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Len returns the number of retained entries.
func (p *Panel) Len() int {
	return len(p.entries)
}
