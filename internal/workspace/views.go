package workspace

import (
	"context"

	"github.com/livetemplate/codepane/internal/console"
	"github.com/livetemplate/codepane/internal/editor"
	"github.com/livetemplate/codepane/internal/persist"
	"github.com/livetemplate/codepane/internal/render"
	"github.com/livetemplate/codepane/internal/vfs"
)

// State returns the explorer and status bar state.
func (w *Workspace) State(ctx context.Context) (StateView, error) {
	var view StateView
	err := w.do(ctx, func() error {
		view = w.stateView()
		return nil
	})
	return view, err
}

// Buffers returns every editor buffer.
func (w *Workspace) Buffers(ctx context.Context) (map[vfs.BufferKind]editor.Buffer, error) {
	var out map[vfs.BufferKind]editor.Buffer
	err := w.do(ctx, func() error {
		out = w.buffers.Snapshot()
		return nil
	})
	return out, err
}

// Files lists a folder.
func (w *Workspace) Files(ctx context.Context, folder vfs.FolderID) ([]vfs.FileRecord, error) {
	var out []vfs.FileRecord
	err := w.do(ctx, func() error {
		out = w.store.List(folder)
		return nil
	})
	return out, err
}

// File returns one record.
func (w *Workspace) File(ctx context.Context, folder vfs.FolderID, name string) (vfs.FileRecord, error) {
	var rec vfs.FileRecord
	err := w.do(ctx, func() error {
		var ok bool
		rec, ok = w.store.Get(folder, name)
		if !ok {
			return &vfs.FileError{Op: "get", Folder: folder, Name: name, Err: vfs.ErrNotFound}
		}
		return nil
	})
	return rec, err
}

// Preview returns the published document, or nil before the first render.
func (w *Workspace) Preview(ctx context.Context) (*render.Document, error) {
	var doc *render.Document
	err := w.do(ctx, func() error {
		doc = w.pipeline.Current()
		return nil
	})
	return doc, err
}

// Logs returns the panel lines.
func (w *Workspace) Logs(ctx context.Context) ([]console.Entry, error) {
	var out []console.Entry
	err := w.do(ctx, func() error {
		out = w.panel.Entries()
		return nil
	})
	return out, err
}

// DataPreview parses the data buffer and describes the result.
func (w *Workspace) DataPreview(ctx context.Context) (*render.Stats, error) {
	var text string
	if err := w.do(ctx, func() error {
		text = w.buffers.Get(vfs.BufferData)
		return nil
	}); err != nil {
		return nil, err
	}
	return render.Describe(text)
}

// Snapshot captures the current state without saving it. The open file is
// not flushed, so its record may lag the buffer.
func (w *Workspace) Snapshot(ctx context.Context) (*persist.Snapshot, error) {
	var snap *persist.Snapshot
	err := w.do(ctx, func() error {
		snap = w.capture()
		return nil
	})
	return snap, err
}
