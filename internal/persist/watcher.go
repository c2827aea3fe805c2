package persist

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/livetemplate/codepane/internal/debounce"
)

// watchDebounce collapses the burst of events one atomic replace produces.
const watchDebounce = 100 * time.Millisecond

// Watcher notices writes to a FileSlot made by another process (another
// server instance or a hand edit) and reports them.
type Watcher struct {
	watcher  *fsnotify.Watcher
	slot     *FileSlot
	key      string
	onChange func()
	settle   *debounce.Debouncer
	done     chan bool
	log      *zap.Logger
}

// NewWatcher watches the slot directory for changes to key.
func NewWatcher(slot *FileSlot, key string, onChange func(), log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// The directory is watched rather than the file because atomic writes
	// replace the inode.
	if err := fsWatcher.Add(slot.Dir()); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	return &Watcher{
		watcher:  fsWatcher,
		slot:     slot,
		key:      key,
		onChange: onChange,
		settle:   debounce.New("watch", watchDebounce, nil, nil),
		done:     make(chan bool),
		log:      log,
	}, nil
}

// Start begins watching in a new goroutine.
func (w *Watcher) Start() {
	target := filepath.Clean(w.slot.Path(w.key))

	go func() {
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				w.settle.Trigger(func() { w.check(target) })

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.log.Warn("watch error", zap.Error(err))

			case <-w.done:
				return
			}
		}
	}()
}

// check runs once the file has been quiet for watchDebounce.
func (w *Watcher) check(target string) {
	if !w.slot.ChangedExternally(w.key) {
		return
	}
	w.log.Info("snapshot changed on disk", zap.String("path", target))
	w.onChange()
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.settle.Cancel()
	close(w.done)
	return w.watcher.Close()
}
