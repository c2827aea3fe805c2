// Package selection tracks the active folder and the single open file.
package selection

import (
	"github.com/livetemplate/codepane/internal/vfs"
)

// Resolver looks up records by reference. *vfs.Store satisfies it.
type Resolver interface {
	Resolve(ref vfs.Ref) (vfs.FileRecord, bool)
}

// SwitchCommand tells the binding layer to flush the previous file and load
// the next one. From is nil when nothing was selected before.
type SwitchCommand struct {
	From *vfs.Ref
	To   vfs.FileRecord
	Ref  vfs.Ref
}

// Cursor holds the selection state. The selected file is a weak reference:
// it is cleared, never left dangling, when the store deletes the record.
type Cursor struct {
	store    Resolver
	active   vfs.FolderID
	selected *vfs.Ref
}

// New creates a cursor with the html folder active and nothing selected.
func New(store Resolver) *Cursor {
	return &Cursor{store: store, active: vfs.FolderHTML}
}

// Select resolves folder/name and moves the selection there. On a miss the
// previous selection is kept and vfs.ErrNotFound is returned.
func (c *Cursor) Select(folder vfs.FolderID, name string) (SwitchCommand, error) {
	ref := vfs.Ref{Folder: folder, Name: name}
	rec, ok := c.store.Resolve(ref)
	if !ok {
		return SwitchCommand{}, &vfs.FileError{Op: "select", Folder: folder, Name: name, Err: vfs.ErrNotFound}
	}
	// Canonicalise the name to the stored spelling.
	ref.Name = rec.Name

	cmd := SwitchCommand{To: rec, Ref: ref}
	if c.selected != nil {
		prev := *c.selected
		cmd.From = &prev
	}
	c.active = folder
	c.selected = &ref
	return cmd, nil
}

// SetActiveFolder switches the folder. A selection in another folder is
// released so the validity invariant keeps holding.
func (c *Cursor) SetActiveFolder(folder vfs.FolderID) (released *vfs.Ref) {
	if folder == c.active {
		return nil
	}
	c.active = folder
	if c.selected != nil && c.selected.Folder != folder {
		prev := *c.selected
		c.selected = nil
		return &prev
	}
	return nil
}

// ActiveFolder returns the folder shown in the explorer.
func (c *Cursor) ActiveFolder() vfs.FolderID {
	return c.active
}

// Current returns the selected reference if it still resolves.
func (c *Cursor) Current() (vfs.Ref, bool) {
	if c.selected == nil {
		return vfs.Ref{}, false
	}
	if _, ok := c.store.Resolve(*c.selected); !ok {
		c.selected = nil
		return vfs.Ref{}, false
	}
	return *c.selected, true
}

// CurrentRecord returns the selected record, if any.
func (c *Cursor) CurrentRecord() (vfs.FileRecord, bool) {
	ref, ok := c.Current()
	if !ok {
		return vfs.FileRecord{}, false
	}
	return c.store.Resolve(ref)
}

// Clear drops the selection.
func (c *Cursor) Clear() {
	c.selected = nil
}

// OnStoreEvent consumes store events. It returns true when the event cleared
// the selection, so callers can cancel work pending for that file.
func (c *Cursor) OnStoreEvent(e vfs.Event) bool {
	if e.Type != vfs.FileDeleted || c.selected == nil {
		return false
	}
	if c.selected.Matches(e.Folder, e.Record.Name) {
		c.selected = nil
		return true
	}
	return false
}

// Restore sets the state loaded from a snapshot. A selection that does not
// resolve in the active folder is dropped.
func (c *Cursor) Restore(active vfs.FolderID, selected *vfs.Ref) {
	if !active.Valid() {
		active = vfs.FolderHTML
	}
	c.active = active
	c.selected = nil
	if selected == nil || selected.Folder != active {
		return
	}
	if rec, ok := c.store.Resolve(*selected); ok {
		c.selected = &vfs.Ref{Folder: active, Name: rec.Name}
	}
}
