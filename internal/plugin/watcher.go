package plugin

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bellabot/bella/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 300 * time.Millisecond

// Watcher reloads active plugins when their entry point changes on disk.
// Manifest edits are not watched: the registry rewrites manifests itself.
type Watcher struct {
	reg      *Registry
	fw       *fsnotify.Watcher
	debounce time.Duration
	onReload func(ctx context.Context, rec Record)
	log      *logging.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher for reg's directory. onReload runs after a
// plugin was reloaded successfully and may be nil.
func NewWatcher(reg *Registry, onReload func(ctx context.Context, rec Record), log *logging.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		reg:      reg,
		fw:       fw,
		debounce: DefaultDebounce,
		onReload: onReload,
		log:      log.Sub("plugin-watcher"),
		pending:  make(map[string]*time.Timer),
	}, nil
}

// SetDebounce changes the quiet period before a reload fires.
func (w *Watcher) SetDebounce(d time.Duration) { w.debounce = d }

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fw.Close()

	if err := w.addTree(w.reg.Root()); err != nil {
		return err
	}
	w.log.Info().Str("dir", w.reg.Root()).Msg("watching plugins")

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			w.wg.Wait()
			return nil
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := w.fw.Add(p); err != nil {
				w.log.Warn().Err(err).Str("dir", p).Msg("cannot watch directory")
			}
		}
		return nil
	})
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.addTree(ev.Name)
			return
		}
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return
	}

	id, ok := w.owner(ev.Name)
	if !ok {
		return
	}
	w.schedule(ctx, id)
}

// owner finds the active plugin whose entry point is path.
func (w *Watcher) owner(path string) (string, bool) {
	clean := filepath.Clean(path)
	for _, rec := range w.reg.All() {
		if rec.Active && filepath.Clean(rec.EntryPoint) == clean {
			return rec.Manifest.ID, true
		}
	}
	return "", false
}

func (w *Watcher) schedule(ctx context.Context, id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// A timer that already fired is waiting for mu or reloading; it must
	// not be re-armed, so a fresh one takes its place.
	if t, ok := w.pending[id]; ok && t.Stop() {
		t.Reset(w.debounce)
		return
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[id] == t {
			delete(w.pending, id)
		}
		w.mu.Unlock()
		w.reload(ctx, id)
	})
	w.pending[id] = t
}

func (w *Watcher) reload(ctx context.Context, id string) {
	if ctx.Err() != nil {
		return
	}
	rec, err := w.reg.Reload(ctx, id)
	if err != nil {
		w.log.Error().Err(err).Str("id", id).Msg("hot reload failed, keeping previous module")
		return
	}
	w.log.Info().Str("id", id).Msg("plugin reloaded")
	if w.onReload != nil {
		w.onReload(ctx, rec)
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, id)
	}
}
