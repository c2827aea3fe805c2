// Package editor holds the live editor buffers and the rules that move text
// between buffers and file records.
package editor

import (
	"fmt"

	"github.com/livetemplate/codepane/internal/vfs"
)

// Buffer is one editable text surface.
type Buffer struct {
	Value string `json:"value"`
	Dirty bool   `json:"dirty"`
}

// Change is emitted for every buffer edit.
type Change struct {
	Buffer vfs.BufferKind
	Value  string
}

// ContentStore is the write side of the file store used for flushing.
type ContentStore interface {
	Resolve(ref vfs.Ref) (vfs.FileRecord, bool)
	UpdateContent(folder vfs.FolderID, name, content string) error
}

// TextRenderer turns a text-kind record into HTML for the html buffer.
type TextRenderer func(name, content string) string

// Bindings owns the four buffers.
type Bindings struct {
	buffers    map[vfs.BufferKind]*Buffer
	renderText TextRenderer
}

// New creates empty buffers. renderText may be nil, in which case text files
// load verbatim.
func New(renderText TextRenderer) *Bindings {
	b := &Bindings{
		buffers:    make(map[vfs.BufferKind]*Buffer, len(vfs.Buffers)),
		renderText: renderText,
	}
	for _, k := range vfs.Buffers {
		b.buffers[k] = &Buffer{}
	}
	return b
}

func (b *Bindings) buffer(kind vfs.BufferKind) (*Buffer, error) {
	buf, ok := b.buffers[kind]
	if !ok {
		return nil, fmt.Errorf("unknown buffer %q", kind)
	}
	return buf, nil
}

// Get returns a buffer's current value.
func (b *Bindings) Get(kind vfs.BufferKind) string {
	if buf, ok := b.buffers[kind]; ok {
		return buf.Value
	}
	return ""
}

// IsDirty reports whether a buffer has unflushed edits.
func (b *Bindings) IsDirty(kind vfs.BufferKind) bool {
	if buf, ok := b.buffers[kind]; ok {
		return buf.Dirty
	}
	return false
}

// Set records a user edit: the value changes and the buffer becomes dirty.
func (b *Bindings) Set(kind vfs.BufferKind, value string) (Change, error) {
	buf, err := b.buffer(kind)
	if err != nil {
		return Change{}, err
	}
	buf.Value = value
	buf.Dirty = true
	return Change{Buffer: kind, Value: value}, nil
}

// Hydrate sets a value programmatically (restore, undo, load) without
// marking the buffer dirty.
func (b *Bindings) Hydrate(kind vfs.BufferKind, value string) {
	if buf, ok := b.buffers[kind]; ok {
		buf.Value = value
		buf.Dirty = false
	}
}

// Values returns a copy of every buffer value.
func (b *Bindings) Values() map[vfs.BufferKind]string {
	out := make(map[vfs.BufferKind]string, len(b.buffers))
	for k, buf := range b.buffers {
		out[k] = buf.Value
	}
	return out
}

// Snapshot returns a copy of every buffer.
func (b *Bindings) Snapshot() map[vfs.BufferKind]Buffer {
	out := make(map[vfs.BufferKind]Buffer, len(b.buffers))
	for k, buf := range b.buffers {
		out[k] = *buf
	}
	return out
}

// FlushTo writes the buffer matching ref's kind into that record. It returns
// false without error when there is nothing to write: the record is gone, or
// its kind has no buffer, or the file is text rendered into html.
func (b *Bindings) FlushTo(store ContentStore, ref vfs.Ref) (bool, error) {
	rec, ok := store.Resolve(ref)
	if !ok {
		return false, nil
	}
	target := rec.Kind.Buffer()
	if target == vfs.BufferNone || rec.Kind == vfs.KindText {
		return false, nil
	}
	buf := b.buffers[target]
	if rec.Content == buf.Value {
		buf.Dirty = false
		return false, nil
	}
	if err := store.UpdateContent(ref.Folder, rec.Name, buf.Value); err != nil {
		return false, err
	}
	buf.Dirty = false
	return true, nil
}

// LoadFrom copies a record into its buffer and returns the buffer it touched.
// Buffers of other kinds keep their values.
func (b *Bindings) LoadFrom(rec vfs.FileRecord) vfs.BufferKind {
	target := rec.Kind.Buffer()
	if target == vfs.BufferNone {
		return vfs.BufferNone
	}
	content := rec.Content
	switch rec.Kind {
	case vfs.KindText:
		if b.renderText != nil {
			content = b.renderText(rec.Name, rec.Content)
		}
	case vfs.KindHTML:
		if content == "" {
			content = "<!-- " + rec.Name + " -->\n\n"
		}
	case vfs.KindCSS:
		if content == "" {
			content = "/* " + rec.Name + " */\n\n"
		}
	case vfs.KindJavaScript:
		if content == "" {
			content = "// " + rec.Name + "\n\n"
		}
	}
	b.Hydrate(target, content)
	return target
}
