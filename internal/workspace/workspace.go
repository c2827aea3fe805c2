// Package workspace owns the editor state and serialises every command,
// timer fire and socket message through a single event loop goroutine.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/livetemplate/codepane/internal/assistant"
	"github.com/livetemplate/codepane/internal/console"
	"github.com/livetemplate/codepane/internal/debounce"
	"github.com/livetemplate/codepane/internal/editor"
	"github.com/livetemplate/codepane/internal/history"
	"github.com/livetemplate/codepane/internal/logging"
	"github.com/livetemplate/codepane/internal/metrics"
	"github.com/livetemplate/codepane/internal/persist"
	"github.com/livetemplate/codepane/internal/render"
	"github.com/livetemplate/codepane/internal/selection"
	"github.com/livetemplate/codepane/internal/vfs"
)

const (
	DefaultRenderDelay = time.Second
	DefaultSaveDelay   = 2 * time.Second

	commandQueueSize = 64
	saveTimeout      = 10 * time.Second
)

// ErrClosed is returned for commands issued after Close.
var ErrClosed = errors.New("workspace is closed")

// Generator produces code for the assistant command. *assistant.Client
// satisfies it.
type Generator interface {
	Generate(ctx context.Context, req assistant.Request) (*assistant.Result, error)
}

// Options configures a Workspace.
type Options struct {
	Gateway        *persist.Gateway
	Clock          debounce.Clock
	RenderDelay    time.Duration
	SaveDelay      time.Duration
	HistorySize    int
	ConsoleLimit   int
	ConflictPolicy vfs.ConflictPolicy
	Assistant      Generator
	Logger         *zap.Logger
}

// Workspace is the composition root. All fields below the mutex-guarded
// subscriber list are owned by the loop goroutine.
type Workspace struct {
	log         *zap.Logger
	clock       debounce.Clock
	gateway     *persist.Gateway
	generator   Generator
	historySize int

	cmds      chan func()
	quit      chan struct{}
	stopped   chan struct{}
	startOnce sync.Once
	closeOnce sync.Once

	subMu   sync.Mutex
	subs    map[int]func(Notice)
	nextSub int

	store        *vfs.Store
	cursor       *selection.Cursor
	buffers      *editor.Bindings
	history      *history.Stack
	pipeline     *render.Pipeline
	panel        *console.Panel
	renderTimer  *debounce.Debouncer
	saveTimer    *debounce.Debouncer
	activeBuffer vfs.BufferKind
	saveStatus   SaveStatus
	lastSaved    time.Time
}

// New creates a workspace holding the built-in project. Call Load to
// restore saved state and Start to run the loop.
func New(opts Options) *Workspace {
	if opts.Clock == nil {
		opts.Clock = debounce.RealClock
	}
	if opts.RenderDelay <= 0 {
		opts.RenderDelay = DefaultRenderDelay
	}
	if opts.SaveDelay <= 0 {
		opts.SaveDelay = DefaultSaveDelay
	}
	if opts.Logger == nil {
		opts.Logger = logging.Named("workspace")
	}
	if opts.Gateway == nil {
		opts.Gateway = persist.NewGateway(persist.NewMemorySlot(), opts.Logger)
	}

	w := &Workspace{
		log:         opts.Logger,
		clock:       opts.Clock,
		gateway:     opts.Gateway,
		generator:   opts.Assistant,
		historySize: opts.HistorySize,
		cmds:        make(chan func(), commandQueueSize),
		quit:        make(chan struct{}),
		stopped:     make(chan struct{}),
		subs:        make(map[int]func(Notice)),
		store:       vfs.NewDefaultStore(),
		buffers:     editor.New(render.Text),
		history:     history.New(opts.HistorySize),
		pipeline:    render.NewPipeline(),
		panel:       console.NewPanel(opts.ConsoleLimit, opts.Clock.Now),
		saveStatus:  StatusSaved,
	}
	w.cursor = selection.New(w.store)
	w.store.SetConflictPolicy(opts.ConflictPolicy)
	w.store.Subscribe(w.onStoreEvent)
	for k, v := range vfs.DefaultBuffers() {
		w.buffers.Hydrate(k, v)
	}
	w.activeBuffer = vfs.BufferHTML

	w.renderTimer = debounce.New("render", opts.RenderDelay, opts.Clock, w.postTimer)
	w.saveTimer = debounce.New("save", opts.SaveDelay, opts.Clock, w.postTimer)
	return w
}

// Start runs the event loop. It is safe to call more than once.
func (w *Workspace) Start() {
	w.startOnce.Do(func() {
		go w.run()
	})
}

func (w *Workspace) run() {
	defer close(w.stopped)
	for {
		select {
		case f := <-w.cmds:
			f()
		case <-w.quit:
			return
		}
	}
}

// Close flushes state with a final save and stops the loop.
func (w *Workspace) Close(ctx context.Context) error {
	var saveErr error
	w.closeOnce.Do(func() {
		w.Start()
		saveErr = w.do(ctx, func() error {
			w.renderTimer.Cancel()
			w.saveTimer.Cancel()
			return w.save("shutdown")
		})
		close(w.quit)
		select {
		case <-w.stopped:
		case <-ctx.Done():
			if saveErr == nil {
				saveErr = ctx.Err()
			}
		}
	})
	return saveErr
}

// post queues f for the loop. It reports false after Close.
func (w *Workspace) post(f func()) bool {
	select {
	case <-w.quit:
		return false
	default:
	}
	select {
	case w.cmds <- f:
		return true
	case <-w.quit:
		return false
	}
}

// postTimer is the debounce Poster: timer fires run on the loop.
func (w *Workspace) postTimer(f func()) {
	w.post(func() { w.guard("timer", func() error { f(); return nil }) })
}

// do runs fn on the loop and waits for it. Panics become errors and are
// logged to the panel, leaving the loop running.
func (w *Workspace) do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	if !w.post(func() { done <- w.guard("command", fn) }) {
		return ErrClosed
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopped:
		return ErrClosed
	}
}

func (w *Workspace) guard(what string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", what, r)
			w.log.Error("recovered panic in event loop", zap.String("what", what), zap.Any("panic", r))
			w.logLine(console.LevelError, "Internal error: "+err.Error())
		}
	}()
	return fn()
}

// Subscribe registers fn for notices. fn runs on the loop goroutine and must
// not block or call back into the workspace synchronously.
func (w *Workspace) Subscribe(fn func(Notice)) (cancel func()) {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = fn
	return func() {
		w.subMu.Lock()
		defer w.subMu.Unlock()
		delete(w.subs, id)
	}
}

// Attach replays the current state, buffers, preview and panel lines to fn
// and then subscribes it. Both happen on the loop, so fn sees no gap and no
// reordering between the replay and later notices.
func (w *Workspace) Attach(ctx context.Context, fn func(Notice)) (cancel func(), err error) {
	err = w.do(ctx, func() error {
		fn(Notice{Type: NoticeState, Data: w.stateView()})
		fn(Notice{Type: NoticeBuffers, Data: w.buffers.Snapshot()})
		if doc := w.pipeline.Current(); doc != nil {
			fn(previewNotice(doc))
		}
		for _, e := range w.panel.Entries() {
			fn(Notice{Type: NoticeLog, Data: e})
		}
		cancel = w.Subscribe(fn)
		return nil
	})
	return cancel, err
}

func (w *Workspace) notify(n Notice) {
	w.subMu.Lock()
	subs := make([]func(Notice), 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	w.subMu.Unlock()

	for _, fn := range subs {
		fn(n)
	}
}

// Load restores the saved snapshot, falling back to the built-in project
// when nothing usable is stored. It renders the restored state.
func (w *Workspace) Load(ctx context.Context) error {
	return w.do(ctx, func() error {
		w.renderTimer.Cancel()
		w.saveTimer.Cancel()
		warning := w.load(ctx)
		_, err := w.runRender("load")
		if warning != "" {
			w.logLine(console.LevelWarning, warning)
		}
		w.notifyBuffers()
		w.notifyState()
		return err
	})
}

// ExternalChange reloads after another writer replaced the stored snapshot.
func (w *Workspace) ExternalChange() {
	w.post(func() {
		_ = w.guard("reload", func() error {
			w.renderTimer.Cancel()
			w.saveTimer.Cancel()
			warning := w.load(context.Background())
			w.notify(Notice{Type: NoticeReload})
			w.notifyBuffers()
			w.notifyState()
			_, err := w.runRender("reload")
			if warning != "" {
				w.logLine(console.LevelWarning, warning)
			}
			w.logLine(console.LevelInfo, "Workspace reloaded after an external change")
			return err
		})
	})
}

// load replaces the state from the gateway. It returns a warning for the
// panel when stored state had to be discarded.
func (w *Workspace) load(ctx context.Context) (warning string) {
	buffers := vfs.DefaultBuffers()
	folders := vfs.DefaultFiles()
	active, selected := vfs.FolderHTML, (*vfs.Ref)(nil)

	snap, err := w.gateway.Load(ctx)
	switch {
	case err != nil:
		warning = "Saved state could not be read, the default project was restored"
	case snap == nil:
		w.log.Info("no saved state, starting from the default project")
	default:
		for k, v := range snap.Buffers() {
			buffers[k] = v
		}
		folders = snap.FileSystem.Files
		active, selected = snap.Selection()
		if at, ok := snap.SavedAt(); ok {
			w.log.Info("restored saved state", zap.Time("saved_at", at))
		}
	}

	w.store.Restore(folders)
	for k, v := range buffers {
		w.buffers.Hydrate(k, v)
	}
	w.cursor.Restore(active, selected)
	w.activeBuffer = vfs.FolderBuffer(w.cursor.ActiveFolder())
	w.history = history.New(w.historySize)
	w.checkpoint()
	w.saveStatus = StatusSaved
	w.updateFolderMetrics()
	return warning
}

func (w *Workspace) onStoreEvent(e vfs.Event) {
	if w.cursor.OnStoreEvent(e) && w.saveTimer.Cancel() {
		w.log.Debug("pending save dropped for deleted file",
			zap.String("folder", string(e.Folder)),
			zap.String("file", e.Record.Name),
		)
	}
	metrics.SetFolderSize(string(e.Folder), len(w.store.List(e.Folder)))
}

func (w *Workspace) updateFolderMetrics() {
	for _, f := range vfs.Folders {
		metrics.SetFolderSize(string(f), len(w.store.List(f)))
	}
}
