package persist

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sync"
)

// ErrEmpty is returned by Slot.Read when nothing is stored under the key.
var ErrEmpty = errors.New("slot is empty")

// Slot is a durable key/value location for snapshots.
type Slot interface {
	Name() string
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Close() error
}

// SlotError wraps a slot failure with the backend and operation.
type SlotError struct {
	Slot string // Backend name (e.g., "sqlite")
	Op   string // "read" or "write"
	Err  error
}

func (e *SlotError) Error() string {
	return fmt.Sprintf("%s slot %s failed: %v", e.Slot, e.Op, e.Err)
}

func (e *SlotError) Unwrap() error {
	return e.Err
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

func validKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("invalid slot key %q", key)
	}
	return nil
}

// MemorySlot keeps values in process memory.
type MemorySlot struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemorySlot creates an empty in-memory slot.
func NewMemorySlot() *MemorySlot {
	return &MemorySlot{values: make(map[string][]byte)}
}

func (s *MemorySlot) Name() string { return "memory" }

func (s *MemorySlot) Read(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, ErrEmpty
	}
	return append([]byte(nil), v...), nil
}

func (s *MemorySlot) Write(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = append([]byte(nil), data...)
	return nil
}

func (s *MemorySlot) Close() error { return nil }

// recentWrites is how many of this slot's own values per key are recognised
// when the watcher reads the file back.
const recentWrites = 8

// FileSlot stores each key as <dir>/<key>.json, replaced atomically.
type FileSlot struct {
	dir string

	mu   sync.Mutex
	seen map[string][][sha256.Size]byte
}

// NewFileSlot creates the directory if needed.
func NewFileSlot(dir string) (*FileSlot, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &SlotError{Slot: "file", Op: "open", Err: err}
	}
	return &FileSlot{dir: dir, seen: make(map[string][][sha256.Size]byte)}, nil
}

func (s *FileSlot) Name() string { return "file" }

// Dir returns the directory holding the slot files.
func (s *FileSlot) Dir() string { return s.dir }

// Path returns the file backing key.
func (s *FileSlot) Path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *FileSlot) Read(_ context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, &SlotError{Slot: "file", Op: "read", Err: err}
	}
	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, &SlotError{Slot: "file", Op: "read", Err: err}
	}
	s.remember(key, data)
	return data, nil
}

func (s *FileSlot) Write(_ context.Context, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return &SlotError{Slot: "file", Op: "write", Err: err}
	}
	// Remembered first so the watcher never mistakes this write for a
	// foreign one.
	s.remember(key, data)
	if err := writeFileAtomic(s.Path(key), data, 0o644); err != nil {
		return &SlotError{Slot: "file", Op: "write", Err: err}
	}
	return nil
}

func (s *FileSlot) remember(key string, data []byte) {
	sum := sha256.Sum256(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := s.seen[key]
	if n := len(seen); n > 0 && seen[n-1] == sum {
		return
	}
	seen = append(seen, sum)
	if len(seen) > recentWrites {
		seen = seen[len(seen)-recentWrites:]
	}
	s.seen[key] = seen
}

// ChangedExternally reports whether the file for key holds a value this slot
// has not recently written or read. Reading back an older one of our own
// writes is not a change.
func (s *FileSlot) ChangedExternally(key string) bool {
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		return false
	}
	sum := sha256.Sum256(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	return !slices.Contains(s.seen[key], sum)
}

func (s *FileSlot) Close() error { return nil }

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, ".codepane-*")
	if err != nil {
		return err
	}
	tmpPath := f.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(perm); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
