// Package persist saves and restores the whole workspace as one JSON snapshot
// under a single well-known key.
package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/livetemplate/codepane/internal/vfs"
)

// Key is the slot key the snapshot is stored under.
const Key = "jsEditorCode"

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrMalformedState is returned by Load when the stored value cannot be read
// as a snapshot.
var ErrMalformedState = errors.New("malformed persisted state")

// SelectedFile identifies the selection inside a snapshot.
type SelectedFile struct {
	Name string       `json:"name"`
	Type vfs.FileKind `json:"type"`
}

// FileSystem is the persisted file tree and selection.
type FileSystem struct {
	CurrentFolder vfs.FolderID                      `json:"currentFolder"`
	SelectedFile  *SelectedFile                     `json:"selectedFile"`
	Files         map[vfs.FolderID][]vfs.FileRecord `json:"files"`
}

// Snapshot is the persisted workspace.
type Snapshot struct {
	HTML          string       `json:"html"`
	CSS           string       `json:"css"`
	JS            string       `json:"js"`
	Data          string       `json:"data,omitempty"`
	CurrentFolder vfs.FolderID `json:"currentFolder"`
	FileSystem    FileSystem   `json:"fileSystem"`
	Timestamp     string       `json:"timestamp,omitempty"`

	// FilesDefaulted is set by Load when the stored value had no usable
	// file tree and the built-in files were substituted.
	FilesDefaulted bool `json:"-"`

	present map[vfs.BufferKind]bool
}

// State is what the workspace hands to Capture.
type State struct {
	Buffers      map[vfs.BufferKind]string
	ActiveFolder vfs.FolderID
	Selected     *vfs.FileRecord
	Folders      map[vfs.FolderID][]vfs.FileRecord
	Timestamp    time.Time
}

// Capture builds a snapshot from live state. Folders are deep-copied.
func Capture(st State) *Snapshot {
	files := make(map[vfs.FolderID][]vfs.FileRecord, len(vfs.Folders))
	for _, f := range vfs.Folders {
		recs := st.Folders[f]
		cp := make([]vfs.FileRecord, len(recs))
		copy(cp, recs)
		files[f] = cp
	}

	var sel *SelectedFile
	if st.Selected != nil {
		sel = &SelectedFile{Name: st.Selected.Name, Type: st.Selected.Kind}
	}

	snap := &Snapshot{
		HTML:          st.Buffers[vfs.BufferHTML],
		CSS:           st.Buffers[vfs.BufferCSS],
		JS:            st.Buffers[vfs.BufferJavaScript],
		Data:          st.Buffers[vfs.BufferData],
		CurrentFolder: st.ActiveFolder,
		FileSystem: FileSystem{
			CurrentFolder: st.ActiveFolder,
			SelectedFile:  sel,
			Files:         files,
		},
		present:   make(map[vfs.BufferKind]bool, len(vfs.Buffers)),
	}
	if !st.Timestamp.IsZero() {
		snap.Timestamp = st.Timestamp.UTC().Format(TimestampLayout)
	}
	for _, b := range vfs.Buffers {
		snap.present[b] = true
	}
	return snap
}

// SavedAt parses the display timestamp. It reports false when the snapshot
// has none or it is not ISO-8601.
func (s *Snapshot) SavedAt() (time.Time, bool) {
	if s.Timestamp == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Buffers returns the buffer values the snapshot carries. Buffers absent
// from a stored value are omitted so callers can keep their defaults.
func (s *Snapshot) Buffers() map[vfs.BufferKind]string {
	all := map[vfs.BufferKind]string{
		vfs.BufferHTML:       s.HTML,
		vfs.BufferCSS:        s.CSS,
		vfs.BufferJavaScript: s.JS,
		vfs.BufferData:       s.Data,
	}
	out := make(map[vfs.BufferKind]string, len(all))
	for k, v := range all {
		if s.present[k] {
			out[k] = v
		}
	}
	return out
}

// Selection returns the active folder and selected file reference.
func (s *Snapshot) Selection() (vfs.FolderID, *vfs.Ref) {
	folder := s.FileSystem.CurrentFolder
	if !folder.Valid() {
		folder = s.CurrentFolder
	}
	if !folder.Valid() {
		folder = vfs.FolderHTML
	}
	if s.FileSystem.SelectedFile == nil || s.FileSystem.SelectedFile.Name == "" {
		return folder, nil
	}
	return folder, &vfs.Ref{Folder: folder, Name: s.FileSystem.SelectedFile.Name}
}

// Encode serializes the snapshot.
func Encode(s *Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

type wireSnapshot struct {
	HTML          *string         `json:"html"`
	CSS           *string         `json:"css"`
	JS            *string         `json:"js"`
	Data          *string         `json:"data"`
	CurrentFolder vfs.FolderID    `json:"currentFolder"`
	FileSystem    json.RawMessage `json:"fileSystem"`
	Timestamp     json.RawMessage `json:"timestamp"`
}

// Decode parses a stored value. A missing or unreadable file tree is replaced
// by the built-in files; anything else that does not fit the schema is
// ErrMalformedState.
func Decode(data []byte) (*Snapshot, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedState)
	}

	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}

	snap := &Snapshot{
		CurrentFolder: w.CurrentFolder,
		present:       make(map[vfs.BufferKind]bool, len(vfs.Buffers)),
	}
	for kind, v := range map[vfs.BufferKind]*string{
		vfs.BufferHTML:       w.HTML,
		vfs.BufferCSS:        w.CSS,
		vfs.BufferJavaScript: w.JS,
		vfs.BufferData:       w.Data,
	} {
		if v == nil {
			continue
		}
		snap.present[kind] = true
		switch kind {
		case vfs.BufferHTML:
			snap.HTML = *v
		case vfs.BufferCSS:
			snap.CSS = *v
		case vfs.BufferJavaScript:
			snap.JS = *v
		case vfs.BufferData:
			snap.Data = *v
		}
	}

	// The timestamp is display-only; a value of the wrong type is ignored.
	if len(w.Timestamp) > 0 {
		var ts string
		if err := json.Unmarshal(w.Timestamp, &ts); err == nil {
			snap.Timestamp = ts
		}
	}

	fs, ok := decodeFileSystem(w.FileSystem)
	if !ok {
		fs = FileSystem{
			CurrentFolder: w.CurrentFolder,
			Files:         vfs.DefaultFiles(),
		}
		snap.FilesDefaulted = true
	}
	snap.FileSystem = fs
	return snap, nil
}

func decodeFileSystem(raw json.RawMessage) (FileSystem, bool) {
	var fs FileSystem
	if len(raw) == 0 || string(raw) == "null" {
		return fs, false
	}
	if err := json.Unmarshal(raw, &fs); err != nil || fs.Files == nil {
		return FileSystem{}, false
	}
	return fs, true
}
