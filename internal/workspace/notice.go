package workspace

import (
	"time"

	"github.com/livetemplate/codepane/internal/console"
	"github.com/livetemplate/codepane/internal/render"
	"github.com/livetemplate/codepane/internal/vfs"
)

// NoticeType names a change pushed to connected clients.
type NoticeType string

const (
	NoticePreview  NoticeType = "preview"
	NoticeLog      NoticeType = "log"
	NoticeLogClear NoticeType = "logclear"
	NoticeState    NoticeType = "state"
	NoticeBuffers  NoticeType = "buffers"
	NoticeStatus   NoticeType = "status"
	NoticeReload   NoticeType = "reload"
)

// Notice is one event for subscribers.
type Notice struct {
	Type NoticeType `json:"type"`
	Data any        `json:"data,omitempty"`
}

// SaveStatus is shown in the status bar.
type SaveStatus string

const (
	StatusSaved   SaveStatus = "saved"
	StatusUnsaved SaveStatus = "unsaved"
	StatusSaving  SaveStatus = "saving"
	StatusError   SaveStatus = "error"
)

// PreviewData is the payload of a preview notice.
type PreviewData struct {
	Generation string    `json:"generation"`
	HTML       string    `json:"html"`
	BuiltAt    time.Time `json:"builtAt"`
}

// StatusData is the payload of a status notice.
type StatusData struct {
	Status    SaveStatus `json:"status"`
	LastSaved time.Time  `json:"lastSaved,omitzero"`
}

// FileView is a file as listed in the explorer.
type FileView struct {
	Name      string       `json:"name"`
	Kind      vfs.FileKind `json:"type"`
	Icon      string       `json:"icon"`
	Size      int          `json:"size"`
	HumanSize string       `json:"humanSize"`
	Selected  bool         `json:"selected,omitempty"`
}

// StateView is the explorer and status bar state.
type StateView struct {
	ActiveFolder vfs.FolderID                `json:"activeFolder"`
	ActiveBuffer vfs.BufferKind              `json:"activeBuffer"`
	Selected     *vfs.Ref                    `json:"selected"`
	Folders      map[vfs.FolderID][]FileView `json:"folders"`
	CanUndo      bool                        `json:"canUndo"`
	HistoryLen   int                         `json:"historyLen"`
	SaveStatus   SaveStatus                  `json:"saveStatus"`
	LastSaved    time.Time                   `json:"lastSaved,omitzero"`
	Generation   string                      `json:"generation,omitempty"`
}

func (w *Workspace) stateView() StateView {
	view := StateView{
		ActiveFolder: w.cursor.ActiveFolder(),
		ActiveBuffer: w.activeBuffer,
		Folders:      make(map[vfs.FolderID][]FileView, len(vfs.Folders)),
		CanUndo:      w.history.CanUndo(),
		HistoryLen:   w.history.Len(),
		SaveStatus:   w.saveStatus,
		LastSaved:    w.lastSaved,
	}
	ref, hasSel := w.cursor.Current()
	if hasSel {
		view.Selected = &ref
	}
	for _, f := range vfs.Folders {
		files := w.store.List(f)
		views := make([]FileView, 0, len(files))
		for _, rec := range files {
			views = append(views, FileView{
				Name:      rec.Name,
				Kind:      rec.Kind,
				Icon:      rec.Icon,
				Size:      rec.SizeBytes(),
				HumanSize: rec.HumanSize(),
				Selected:  hasSel && ref.Matches(f, rec.Name),
			})
		}
		view.Folders[f] = views
	}
	if doc := w.pipeline.Current(); doc != nil {
		view.Generation = doc.Generation
	}
	return view
}

func previewNotice(doc *render.Document) Notice {
	return Notice{Type: NoticePreview, Data: PreviewData{
		Generation: doc.Generation,
		HTML:       doc.HTML,
		BuiltAt:    doc.BuiltAt,
	}}
}

func (w *Workspace) notifyState() {
	w.notify(Notice{Type: NoticeState, Data: w.stateView()})
}

func (w *Workspace) notifyBuffers() {
	w.notify(Notice{Type: NoticeBuffers, Data: w.buffers.Snapshot()})
}

func (w *Workspace) setStatus(s SaveStatus) {
	if w.saveStatus == s {
		return
	}
	w.saveStatus = s
	w.notify(Notice{Type: NoticeStatus, Data: StatusData{Status: s, LastSaved: w.lastSaved}})
}

// logLine appends a host-side panel line and pushes it to subscribers.
func (w *Workspace) logLine(level console.Level, text string) {
	e := w.panel.Add(level, text)
	w.notify(Notice{Type: NoticeLog, Data: e})
}
