package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bellabot/bella/internal/hooks"
	"github.com/bellabot/bella/internal/logging"
)

// Registry scans the plugin directory and holds the loaded plugins keyed by
// id. Scan, Load, SetEnabled, Disable and Reload are serialized; readers
// never block on a running load.
type Registry struct {
	admin sync.Mutex

	mu      sync.RWMutex
	plugins map[string]*Record
	order   []string // load order; dispatch iterates in this order

	root    string
	loader  loader
	runtime Runtime
	env     func(id string) SetupEnv
	hooks   *hooks.Manager
	log     *logging.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithHooks emits plugin lifecycle events on hm.
func WithHooks(hm *hooks.Manager) Option {
	return func(r *Registry) { r.hooks = hm }
}

// WithEnvironment sets the factory for the environment passed to setup hooks.
func WithEnvironment(fn func(id string) SetupEnv) Option {
	return func(r *Registry) { r.env = fn }
}

// WithValidator overrides the manifest validator.
func WithValidator(v *Validator) Option {
	return func(r *Registry) { r.loader.validator = v }
}

// NewRegistry creates a registry rooted at dir. Modules are materialized by rt.
func NewRegistry(dir string, rt Runtime, log *logging.Logger, opts ...Option) *Registry {
	r := &Registry{
		plugins: make(map[string]*Record),
		root:    dir,
		loader:  loader{root: dir},
		runtime: rt,
		log:     log.Sub("plugins"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.loader.validator == nil {
		r.loader.validator = DefaultValidator()
	}
	if r.env == nil {
		r.env = r.defaultEnv
	}
	return r
}

func (r *Registry) defaultEnv(id string) SetupEnv {
	return SetupEnv{
		Logger:  r.log.Sub(id),
		Config:  map[string]any{},
		Storage: NewMemoryStorage(),
	}
}

// Root returns the plugin directory.
func (r *Registry) Root() string { return r.root }

func (r *Registry) indexPath() string { return filepath.Join(r.root, IndexFile) }

// EnsureLayout creates the plugin directory and an empty index if missing.
func (r *Registry) EnsureLayout() error {
	if err := os.MkdirAll(r.root, 0o755); err != nil {
		return fmt.Errorf("create plugin dir: %w", err)
	}
	if _, err := os.Stat(r.indexPath()); os.IsNotExist(err) {
		empty := Index{Plugins: []IndexEntry{}, Version: indexVersion}
		if err := writeIndex(r.indexPath(), empty); err != nil {
			return fmt.Errorf("create plugin index: %w", err)
		}
	}
	return nil
}

// Scan walks the plugin directory and returns every valid candidate in walk
// order. Candidates that fail to parse or validate are logged and skipped.
// The persisted index is rewritten afterwards. Scan does not load modules.
func (r *Registry) Scan(ctx context.Context) ([]Record, error) {
	r.admin.Lock()
	defer r.admin.Unlock()
	return r.scanLocked(ctx)
}

func (r *Registry) scanLocked(ctx context.Context) ([]Record, error) {
	if err := r.EnsureLayout(); err != nil {
		return nil, err
	}

	var records []Record
	if err := r.scanDir(ctx, r.root, &records); err != nil {
		return nil, err
	}

	if err := writeIndex(r.indexPath(), newIndex(records, time.Now().UTC())); err != nil {
		r.log.Error().Err(err).Msg("failed to write plugin index")
	}

	r.log.Info().Int("count", len(records)).Msg("plugins scanned")
	return records, nil
}

func (r *Registry) scanDir(ctx context.Context, dir string, out *[]Record) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("scan %s: %w", dir, err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := entry.Name()
		if name == IndexFile {
			continue
		}
		full := filepath.Join(dir, name)

		if entry.IsDir() {
			if !isFolderPlugin(full) {
				if err := r.scanDir(ctx, full, out); err != nil {
					r.log.Error().Err(err).Str("dir", r.loader.rel(full)).Msg("skipping directory")
				}
				continue
			}
			rec, err := r.loader.loadFolder(full)
			if err != nil {
				r.log.Error().Err(err).Str("path", r.loader.rel(full)).Msg("skipping folder plugin")
				continue
			}
			*out = append(*out, rec)
			continue
		}

		if !strings.HasSuffix(name, SourceExt) {
			continue
		}
		rec, err := r.loader.loadFile(full)
		if err != nil {
			r.log.Error().Err(err).Str("path", r.loader.rel(full)).Msg("skipping plugin file")
			continue
		}
		*out = append(*out, rec)
	}
	return nil
}

// Load materializes rec's module, runs its setup hook and registers it as
// active, replacing any earlier record with the same id. On error the
// registry is left unchanged.
func (r *Registry) Load(ctx context.Context, rec Record) error {
	r.admin.Lock()
	defer r.admin.Unlock()
	return r.loadLocked(ctx, rec)
}

func (r *Registry) loadLocked(ctx context.Context, rec Record) error {
	id := rec.Manifest.ID
	if r.runtime == nil {
		return &LoadError{ID: id, Err: ErrNoRuntime}
	}

	mod, err := r.runtime.Load(ctx, rec)
	if err != nil {
		r.log.Error().Err(err).Str("id", id).Msg("failed to load plugin")
		return &LoadError{ID: id, Err: err}
	}

	if mod.Setup != nil {
		if err := mod.Setup(ctx, r.env(id)); err != nil {
			mod.close()
			r.log.Error().Err(err).Str("id", id).Msg("plugin setup failed")
			return &LoadError{ID: id, Err: fmt.Errorf("setup: %w", err)}
		}
	}

	rec.Module = mod
	rec.Active = true
	rec.LoadedAt = time.Now()

	if rec.Kind == KindFolder {
		rec.Manifest.Enabled = true
		if err := persistEnabled(r.manifestPath(rec), true); err != nil {
			r.log.Error().Err(err).Str("id", id).Msg("failed to persist enabled state")
		}
	}

	r.mu.Lock()
	old, exists := r.plugins[id]
	r.plugins[id] = &rec
	if !exists {
		r.order = append(r.order, id)
	}
	r.mu.Unlock()

	if exists && old.Module != mod {
		old.Module.close()
	}

	if problems := r.dependencyProblems(rec.Manifest); len(problems) > 0 {
		r.log.Warn().Str("id", id).Strs("problems", problems).Msg("unmet plugin dependencies")
	}

	r.log.Info().
		Str("id", id).
		Str("name", rec.Manifest.Name).
		Str("type", string(rec.Kind)).
		Msg("plugin loaded")
	r.hooks.Emit(ctx, hooks.EventPluginLoaded, map[string]any{"id": id, "reload": exists})
	return nil
}

func (r *Registry) manifestPath(rec Record) string {
	return filepath.Join(r.root, filepath.FromSlash(rec.Path), ManifestFile)
}

// Reload re-reads a registered plugin from disk and loads it again. The old
// module keeps serving until the new one is in place.
func (r *Registry) Reload(ctx context.Context, id string) (Record, error) {
	r.admin.Lock()
	defer r.admin.Unlock()

	cur, ok := r.Get(id)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	fresh, err := r.loader.reread(cur)
	if err != nil {
		return Record{}, err
	}
	if fresh.Manifest.ID != id {
		return Record{}, fmt.Errorf("reload %s: manifest id changed to %s", id, fresh.Manifest.ID)
	}
	if err := r.loadLocked(ctx, fresh); err != nil {
		return Record{}, err
	}
	rec, _ := r.Get(id)
	return rec, nil
}

// SetEnabled flips the persisted enabled flag. Folder plugins also get their
// manifest file rewritten.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.admin.Lock()
	defer r.admin.Unlock()
	return r.setEnabledLocked(id, enabled, nil)
}

// Disable clears both the enabled flag and the active flag. Disabling an
// already disabled plugin is not an error.
func (r *Registry) Disable(id string) error {
	r.admin.Lock()
	defer r.admin.Unlock()
	inactive := false
	return r.setEnabledLocked(id, false, &inactive)
}

func (r *Registry) setEnabledLocked(id string, enabled bool, active *bool) error {
	r.mu.Lock()
	rec, ok := r.plugins[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	updated := *rec
	updated.Manifest.Enabled = enabled
	if active != nil {
		updated.Active = *active
	}
	r.plugins[id] = &updated
	r.mu.Unlock()

	if updated.Kind != KindFolder {
		return nil
	}
	if err := persistEnabled(r.manifestPath(updated), enabled); err != nil {
		return fmt.Errorf("persist enabled state for %s: %w", id, err)
	}
	return nil
}

// FindByID returns the registered plugin, or rescans the plugin directory
// when it is not registered. A rescanned record is not loaded.
func (r *Registry) FindByID(ctx context.Context, id string) (Record, bool) {
	if rec, ok := r.Get(id); ok {
		return rec, true
	}

	r.admin.Lock()
	defer r.admin.Unlock()

	records, err := r.scanLocked(ctx)
	if err != nil {
		r.log.Error().Err(err).Str("id", id).Msg("rescan failed")
		return Record{}, false
	}
	var found Record
	var ok bool
	for _, rec := range records {
		if rec.Manifest.ID == id {
			found, ok = rec, true
		}
	}
	return found, ok
}

// PersistEnabled writes the enabled flag of a plugin on disk without
// registering or loading it. Only folder plugins have a manifest to write.
func (r *Registry) PersistEnabled(ctx context.Context, id string, enabled bool) (Record, error) {
	rec, ok := r.FindByID(ctx, id)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	if _, registered := r.Get(id); registered {
		return rec, r.SetEnabled(id, enabled)
	}
	if rec.Kind != KindFolder {
		return rec, fmt.Errorf("%s plugin %s has no manifest file", rec.Kind, id)
	}

	r.admin.Lock()
	defer r.admin.Unlock()
	if err := persistEnabled(r.manifestPath(rec), enabled); err != nil {
		return rec, fmt.Errorf("persist enabled state for %s: %w", id, err)
	}
	rec.Manifest.Enabled = enabled
	if _, err := r.scanLocked(ctx); err != nil {
		r.log.Warn().Err(err).Msg("index refresh failed")
	}
	return rec, nil
}

// Get returns a registered plugin.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.plugins[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// All returns every registered plugin in load order.
func (r *Registry) All() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.plugins[id])
	}
	return out
}

// Enabled returns the plugins that are both enabled and active, in load
// order. This is the set dispatch operates on.
func (r *Registry) Enabled() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.order))
	for _, id := range r.order {
		if rec := r.plugins[id]; rec.Runnable() {
			out = append(out, *rec)
		}
	}
	return out
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// Indexed returns the index written by the last scan, covering plugins that
// were scanned but never loaded.
func (r *Registry) Indexed() (Index, error) {
	return readIndex(r.indexPath())
}

// DependencyProblems reports unmet dependencies of a registered plugin.
func (r *Registry) DependencyProblems(id string) []string {
	rec, ok := r.Get(id)
	if !ok {
		return nil
	}
	return r.dependencyProblems(rec.Manifest)
}

func (r *Registry) dependencyProblems(m Manifest) []string {
	if len(m.Dependencies) == 0 {
		return nil
	}
	return CheckDependencies(m, func(dep string) (string, bool) {
		rec, ok := r.Get(dep)
		if !ok || !rec.Active {
			return "", false
		}
		return rec.Manifest.Version, true
	})
}

// Close releases every loaded module in reverse load order.
func (r *Registry) Close() {
	r.admin.Lock()
	defer r.admin.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		id := r.order[i]
		r.log.Debug().Str("id", id).Msg("closing plugin")
		r.plugins[id].Module.close()
	}
	r.plugins = make(map[string]*Record)
	r.order = nil
}
