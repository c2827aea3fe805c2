package vfs

import (
	"fmt"
	"path"
	"strings"
)

// FileRecord is one file in the virtual tree. Content is always a string;
// images are stored as data URIs.
type FileRecord struct {
	Name    string   `json:"name"`
	Kind    FileKind `json:"type"`
	Icon    string   `json:"icon,omitempty"`
	Content string   `json:"content"`
}

// SizeBytes is the display size of the record's content.
func (r FileRecord) SizeBytes() int {
	return len(r.Content)
}

// Ref is a weak reference to a record, resolved by lookup.
type Ref struct {
	Folder FolderID `json:"folder"`
	Name   string   `json:"name"`
}

// Matches reports whether r refers to name in folder, ignoring case.
func (r Ref) Matches(folder FolderID, name string) bool {
	return r.Folder == folder && strings.EqualFold(r.Name, name)
}

// EventType classifies store mutations.
type EventType int

const (
	FileCreated EventType = iota
	FileUpdated
	FileReplaced
	FileDeleted
)

func (t EventType) String() string {
	switch t {
	case FileCreated:
		return "created"
	case FileUpdated:
		return "updated"
	case FileReplaced:
		return "replaced"
	case FileDeleted:
		return "deleted"
	}
	return "unknown"
}

// Event describes a completed mutation.
type Event struct {
	Type   EventType
	Folder FolderID
	Record FileRecord
}

// Listener receives store events synchronously, after the mutation is applied.
type Listener func(Event)

// OverwriteFunc decides whether an existing record may be replaced.
type OverwriteFunc func(existing FileRecord) bool

// ConflictPolicy resolves a name clash the caller declined to overwrite.
type ConflictPolicy string

const (
	// ConflictReject fails with ErrDuplicateName.
	ConflictReject ConflictPolicy = "reject"
	// ConflictSuffix stores the file under "name (n).ext".
	ConflictSuffix ConflictPolicy = "suffix"
)

// Store owns the folder → records mapping. It is not safe for concurrent use;
// the workspace serialises all access through its event loop.
type Store struct {
	folders   map[FolderID][]FileRecord
	listeners []Listener
	policy    ConflictPolicy
}

// NewStore creates an empty store with every folder present.
func NewStore() *Store {
	s := &Store{
		folders: make(map[FolderID][]FileRecord, len(Folders)),
		policy:  ConflictSuffix,
	}
	for _, f := range Folders {
		s.folders[f] = []FileRecord{}
	}
	return s
}

// SetConflictPolicy configures how Upsert resolves declined overwrites.
func (s *Store) SetConflictPolicy(p ConflictPolicy) {
	if p == ConflictReject || p == ConflictSuffix {
		s.policy = p
	}
}

// Subscribe registers a listener for mutation events.
func (s *Store) Subscribe(l Listener) {
	s.listeners = append(s.listeners, l)
}

func (s *Store) emit(e Event) {
	for _, l := range s.listeners {
		l(e)
	}
}

func (s *Store) index(folder FolderID, name string) int {
	for i, r := range s.folders[folder] {
		if strings.EqualFold(r.Name, name) {
			return i
		}
	}
	return -1
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: a name is required", ErrInvalidName)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: %q must not contain path separators", ErrInvalidName, name)
	}
	return nil
}

// Create appends a new record. It never overwrites.
func (s *Store) Create(folder FolderID, name string, kind FileKind, content string) (FileRecord, error) {
	if !folder.Valid() {
		return FileRecord{}, fmt.Errorf("create: unknown folder %q", folder)
	}
	if err := validName(name); err != nil {
		return FileRecord{}, fmt.Errorf("create: %w", err)
	}
	if s.index(folder, name) >= 0 {
		return FileRecord{}, fileErr("create", folder, name, ErrDuplicateName)
	}
	if !kind.Valid() {
		kind = KindForName(name)
	}
	rec := FileRecord{Name: name, Kind: kind, Icon: kind.Icon(), Content: content}
	s.folders[folder] = append(s.folders[folder], rec)
	s.emit(Event{Type: FileCreated, Folder: folder, Record: rec})
	return rec, nil
}

// Replace overwrites an existing record in place. Callers must have resolved
// the overwrite decision before calling it.
func (s *Store) Replace(folder FolderID, name string, kind FileKind, content string) (FileRecord, error) {
	i := s.index(folder, name)
	if i < 0 {
		return FileRecord{}, fileErr("replace", folder, name, ErrNotFound)
	}
	if !kind.Valid() {
		kind = KindForName(name)
	}
	rec := s.folders[folder][i]
	rec.Kind = kind
	rec.Icon = kind.Icon()
	rec.Content = content
	s.folders[folder][i] = rec
	s.emit(Event{Type: FileReplaced, Folder: folder, Record: rec})
	return rec, nil
}

// Upsert creates name, or on a clash asks decide. A true answer replaces the
// existing record; otherwise the conflict policy applies.
func (s *Store) Upsert(folder FolderID, name string, kind FileKind, content string, decide OverwriteFunc) (FileRecord, error) {
	i := s.index(folder, name)
	if i < 0 {
		return s.Create(folder, name, kind, content)
	}
	if decide != nil && decide(s.folders[folder][i]) {
		return s.Replace(folder, name, kind, content)
	}
	if s.policy == ConflictReject {
		return FileRecord{}, fileErr("upsert", folder, name, ErrDuplicateName)
	}
	return s.Create(folder, s.freeName(folder, name), kind, content)
}

// freeName returns "base (n).ext" for the smallest n not in use.
func (s *Store) freeName(folder FolderID, name string) string {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		if s.index(folder, candidate) < 0 {
			return candidate
		}
	}
}

// Delete removes a record. A missing record is a no-op reported as ErrNotFound.
func (s *Store) Delete(folder FolderID, name string) error {
	i := s.index(folder, name)
	if i < 0 {
		return fileErr("delete", folder, name, ErrNotFound)
	}
	rec := s.folders[folder][i]
	files := s.folders[folder]
	s.folders[folder] = append(files[:i:i], files[i+1:]...)
	s.emit(Event{Type: FileDeleted, Folder: folder, Record: rec})
	return nil
}

// UpdateContent replaces a record's content, preserving its position.
func (s *Store) UpdateContent(folder FolderID, name, content string) error {
	i := s.index(folder, name)
	if i < 0 {
		return fileErr("update", folder, name, ErrNotFound)
	}
	s.folders[folder][i].Content = content
	s.emit(Event{Type: FileUpdated, Folder: folder, Record: s.folders[folder][i]})
	return nil
}

// Get looks up a record by case-insensitive name.
func (s *Store) Get(folder FolderID, name string) (FileRecord, bool) {
	i := s.index(folder, name)
	if i < 0 {
		return FileRecord{}, false
	}
	return s.folders[folder][i], true
}

// Resolve looks up the record a ref points at.
func (s *Store) Resolve(ref Ref) (FileRecord, bool) {
	return s.Get(ref.Folder, ref.Name)
}

// List returns a copy of a folder's records in insertion order.
func (s *Store) List(folder FolderID) []FileRecord {
	files := s.folders[folder]
	out := make([]FileRecord, len(files))
	copy(out, files)
	return out
}

// Snapshot returns a deep copy of every folder.
func (s *Store) Snapshot() map[FolderID][]FileRecord {
	out := make(map[FolderID][]FileRecord, len(Folders))
	for _, f := range Folders {
		out[f] = s.List(f)
	}
	return out
}

// Restore replaces the whole tree. Unknown folders are ignored, missing ones
// become empty, and case-insensitive duplicates keep the first occurrence.
// No events are emitted.
func (s *Store) Restore(folders map[FolderID][]FileRecord) {
	next := make(map[FolderID][]FileRecord, len(Folders))
	for _, f := range Folders {
		next[f] = []FileRecord{}
		seen := make(map[string]bool)
		for _, rec := range folders[f] {
			key := strings.ToLower(rec.Name)
			if rec.Name == "" || seen[key] {
				continue
			}
			seen[key] = true
			if !rec.Kind.Valid() {
				rec.Kind = KindForName(rec.Name)
			}
			if rec.Icon == "" {
				rec.Icon = rec.Kind.Icon()
			}
			next[f] = append(next[f], rec)
		}
	}
	s.folders = next
}

// Count returns the total number of records across folders.
func (s *Store) Count() int {
	n := 0
	for _, files := range s.folders {
		n += len(files)
	}
	return n
}
