package workspace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/livetemplate/codepane/internal/console"
	"github.com/livetemplate/codepane/internal/history"
	"github.com/livetemplate/codepane/internal/metrics"
	"github.com/livetemplate/codepane/internal/persist"
	"github.com/livetemplate/codepane/internal/render"
	"github.com/livetemplate/codepane/internal/vfs"
)

// Edit records a user edit of a buffer and schedules a render and a save.
func (w *Workspace) Edit(ctx context.Context, kind vfs.BufferKind, value string) error {
	return w.do(ctx, func() error {
		if _, err := w.buffers.Set(kind, value); err != nil {
			return err
		}
		w.scheduleRender()
		w.scheduleSave()
		return nil
	})
}

// Select opens a file: the previous file is flushed from its buffer, then
// the new one is loaded. Pending timers are replaced by an immediate render
// and save.
func (w *Workspace) Select(ctx context.Context, folder vfs.FolderID, name string) error {
	return w.do(ctx, func() error {
		return w.selectFile(folder, name, "select")
	})
}

func (w *Workspace) selectFile(folder vfs.FolderID, name, trigger string) error {
	cmd, err := w.cursor.Select(folder, name)
	if err != nil {
		w.logLine(console.LevelError, err.Error())
		return err
	}
	w.renderTimer.Cancel()
	w.saveTimer.Cancel()

	if cmd.From != nil {
		if _, err := w.buffers.FlushTo(w.store, *cmd.From); err != nil {
			w.log.Warn("flush before switch failed", zap.Error(err))
		}
	}

	w.checkpoint()
	if target := w.buffers.LoadFrom(cmd.To); target != vfs.BufferNone {
		w.activeBuffer = target
	}
	w.checkpoint()

	w.notifyBuffers()
	w.notifyState()
	_, renderErr := w.runRender(trigger)
	saveErr := w.save(trigger)
	return errors.Join(renderErr, saveErr)
}

// SwitchFolder changes the active folder. A selection in another folder is
// flushed and released.
func (w *Workspace) SwitchFolder(ctx context.Context, folder vfs.FolderID) error {
	return w.do(ctx, func() error {
		if !folder.Valid() {
			return fmt.Errorf("unknown folder %q", folder)
		}
		if released := w.cursor.SetActiveFolder(folder); released != nil {
			if _, err := w.buffers.FlushTo(w.store, *released); err != nil {
				w.log.Warn("flush on folder switch failed", zap.Error(err))
			}
		}
		w.activeBuffer = vfs.FolderBuffer(folder)
		w.renderTimer.Cancel()
		w.saveTimer.Cancel()

		w.notifyState()
		_, renderErr := w.runRender("folder")
		return errors.Join(renderErr, w.save("folder"))
	})
}

// CreateFile adds a file to a folder. Empty content is replaced by the
// kind's new-file template. Duplicate names fail with vfs.ErrDuplicateName.
func (w *Workspace) CreateFile(ctx context.Context, folder vfs.FolderID, name string, kind vfs.FileKind, content string) (vfs.FileRecord, error) {
	var rec vfs.FileRecord
	err := w.do(ctx, func() error {
		if !kind.Valid() {
			kind = vfs.KindForName(name)
		}
		if content == "" {
			content = kind.DefaultContent(name)
		}
		var err error
		rec, err = w.store.Create(folder, name, kind, content)
		if err != nil {
			w.logLine(console.LevelError, err.Error())
			return err
		}
		w.logLine(console.LevelInfo, fmt.Sprintf("Created %s/%s", folder, rec.Name))
		w.notifyState()
		w.scheduleSave()
		return nil
	})
	return rec, err
}

// UpdateFile replaces a file's content. The open file's buffer is reloaded.
func (w *Workspace) UpdateFile(ctx context.Context, folder vfs.FolderID, name, content string) error {
	return w.do(ctx, func() error {
		if err := w.store.UpdateContent(folder, name, content); err != nil {
			return err
		}
		if ref, ok := w.cursor.Current(); ok && ref.Matches(folder, name) {
			if rec, ok := w.store.Resolve(ref); ok {
				w.buffers.LoadFrom(rec)
				w.notifyBuffers()
				w.scheduleRender()
			}
		}
		w.notifyState()
		w.scheduleSave()
		return nil
	})
}

// DeleteFile removes a file. Deleting the open file clears the selection
// and drops the save pending for it; buffers keep their values.
func (w *Workspace) DeleteFile(ctx context.Context, folder vfs.FolderID, name string) error {
	return w.do(ctx, func() error {
		return w.deleteFile(folder, name)
	})
}

func (w *Workspace) deleteFile(folder vfs.FolderID, name string) error {
	if err := w.store.Delete(folder, name); err != nil {
		w.logLine(console.LevelError, err.Error())
		return err
	}
	w.logLine(console.LevelInfo, fmt.Sprintf("Deleted %s/%s", folder, name))
	w.notifyState()
	w.scheduleSave()
	return nil
}

// Run renders immediately, replacing any scheduled render.
func (w *Workspace) Run(ctx context.Context) (*render.Document, error) {
	var doc *render.Document
	err := w.do(ctx, func() error {
		w.renderTimer.Cancel()
		var err error
		doc, err = w.runRender("run")
		return err
	})
	return doc, err
}

// Save writes the snapshot immediately, replacing any scheduled save.
// trigger labels the save in logs and metrics (save, unload, visibility).
func (w *Workspace) Save(ctx context.Context, trigger string) error {
	if trigger == "" {
		trigger = "save"
	}
	return w.do(ctx, func() error {
		w.saveTimer.Cancel()
		return w.save(trigger)
	})
}

// Clear blanks the html, css and javascript buffers and renders at once.
// The previous contents stay reachable through Undo.
func (w *Workspace) Clear(ctx context.Context) error {
	return w.do(ctx, func() error {
		w.checkpoint()
		for _, b := range []vfs.BufferKind{vfs.BufferHTML, vfs.BufferCSS, vfs.BufferJavaScript} {
			if _, err := w.buffers.Set(b, ""); err != nil {
				return err
			}
		}
		w.checkpoint()
		w.renderTimer.Cancel()
		w.notifyBuffers()
		w.logLine(console.LevelInfo, "Editors cleared")
		_, err := w.runRender("clear")
		w.scheduleSave()
		return err
	})
}

// SmartDelete deletes the open file, or clears the active buffer when no
// file is open.
func (w *Workspace) SmartDelete(ctx context.Context) error {
	return w.do(ctx, func() error {
		if ref, ok := w.cursor.Current(); ok {
			return w.deleteFile(ref.Folder, ref.Name)
		}
		w.checkpoint()
		if _, err := w.buffers.Set(w.activeBuffer, ""); err != nil {
			return err
		}
		w.checkpoint()
		w.renderTimer.Cancel()
		w.notifyBuffers()
		w.logLine(console.LevelInfo, fmt.Sprintf("Cleared the %s editor", w.activeBuffer))
		_, err := w.runRender("clear")
		w.scheduleSave()
		return err
	})
}

// Undo restores the previous history entry into the code buffers.
func (w *Workspace) Undo(ctx context.Context) error {
	return w.do(ctx, func() error {
		w.checkpoint()
		entry, err := w.history.Undo()
		if err != nil {
			w.logLine(console.LevelWarning, "Nothing to undo")
			return err
		}
		w.applyEntry(entry)
		w.renderTimer.Cancel()
		w.notifyBuffers()
		w.notifyState()
		_, err = w.runRender("undo")
		w.scheduleSave()
		return err
	})
}

// ReceiveConsole records a message from the preview bridge. Messages from a
// replaced preview are kept and marked stale.
func (w *Workspace) ReceiveConsole(ctx context.Context, m console.Message) error {
	return w.do(ctx, func() error {
		stale := m.Generation != "" && !w.pipeline.IsCurrent(m.Generation)
		e := w.panel.Receive(m, stale)
		metrics.RecordConsoleMessage(string(e.Level), stale)
		w.notify(Notice{Type: NoticeLog, Data: e})
		return nil
	})
}

func (w *Workspace) applyEntry(e history.Entry) {
	// Set, not Hydrate: restored text still has to reach the selected file.
	_, _ = w.buffers.Set(vfs.BufferHTML, e.HTML)
	_, _ = w.buffers.Set(vfs.BufferCSS, e.CSS)
	_, _ = w.buffers.Set(vfs.BufferJavaScript, e.JS)
}

// checkpoint pushes the code buffers unless they equal the entry under the
// history cursor.
func (w *Workspace) checkpoint() {
	e := history.Entry{
		HTML:      w.buffers.Get(vfs.BufferHTML),
		CSS:       w.buffers.Get(vfs.BufferCSS),
		JS:        w.buffers.Get(vfs.BufferJavaScript),
		Timestamp: w.clock.Now().UnixMilli(),
	}
	if cur, ok := w.history.Current(); ok && cur.HTML == e.HTML && cur.CSS == e.CSS && cur.JS == e.JS {
		return
	}
	w.history.Push(e)
}

func (w *Workspace) scheduleRender() {
	w.renderTimer.Trigger(func() {
		_, _ = w.runRender("debounce")
	})
}

func (w *Workspace) scheduleSave() {
	w.setStatus(StatusUnsaved)
	w.saveTimer.Trigger(func() {
		w.checkpoint()
		_ = w.save("debounce")
		w.notifyState()
	})
}

// runRender clears the panel and publishes a new preview. A failed build
// keeps the previous preview and reports the error in the panel.
func (w *Workspace) runRender(trigger string) (*render.Document, error) {
	w.panel.Clear()
	w.notify(Notice{Type: NoticeLogClear})

	start := time.Now()
	doc, err := w.pipeline.Run(render.Input{
		HTML: w.buffers.Get(vfs.BufferHTML),
		CSS:  w.buffers.Get(vfs.BufferCSS),
		JS:   w.buffers.Get(vfs.BufferJavaScript),
		Data: w.buffers.Get(vfs.BufferData),
	})
	metrics.RecordRender(trigger, time.Since(start), err == nil)
	if err != nil {
		w.log.Error("render failed", zap.String("trigger", trigger), zap.Error(err))
		w.logLine(console.LevelError, "Render failed: "+err.Error())
		return nil, err
	}

	if doc.DataErr != nil {
		w.logLine(console.LevelError, doc.DataErr.Error())
	}
	if doc.Dropped > 0 {
		w.log.Debug("csv rows dropped", zap.Int("rows", doc.Dropped))
	}

	w.notify(previewNotice(doc))
	return doc, nil
}

// save flushes the open file from its buffer and writes the snapshot.
func (w *Workspace) save(trigger string) error {
	if ref, ok := w.cursor.Current(); ok {
		if _, err := w.buffers.FlushTo(w.store, ref); err != nil {
			w.log.Warn("flush before save failed", zap.Error(err))
		}
	}
	w.setStatus(StatusSaving)

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	n, err := w.gateway.Save(ctx, w.capture())
	metrics.RecordSave(trigger, n, err == nil)
	if err != nil {
		w.log.Error("save failed", zap.String("trigger", trigger), zap.Error(err))
		w.logLine(console.LevelError, "Save failed: "+err.Error())
		w.setStatus(StatusError)
		return err
	}
	w.lastSaved = w.clock.Now()
	w.setStatus(StatusSaved)
	return nil
}

func (w *Workspace) capture() *persist.Snapshot {
	st := persist.State{
		Buffers:      w.buffers.Values(),
		ActiveFolder: w.cursor.ActiveFolder(),
		Folders:      w.store.Snapshot(),
		Timestamp:    w.clock.Now(),
	}
	if rec, ok := w.cursor.CurrentRecord(); ok {
		st.Selected = &rec
	}
	return persist.Capture(st)
}
