// Package plugin discovers, validates and loads Bella plugins and keeps the
// registry the dispatcher reads from.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bellabot/bella/internal/domain"
	"github.com/bellabot/bella/internal/logging"
)

// On-disk names the scanner recognizes.
const (
	ManifestFile = "manifest.json"
	EntryFile    = "index.lua"
	ReadmeFile   = "README.md"
	IndexFile    = "index.json"
	SourceExt    = ".lua"
)

var (
	ErrInvalidManifest = errors.New("invalid manifest")
	ErrPluginNotFound  = errors.New("plugin not found")
	ErrNoEntryPoint    = errors.New("no entry point")
	ErrNoRuntime       = errors.New("no runtime for plugin")
)

// Kind is the on-disk representation a plugin was discovered in.
type Kind string

const (
	KindFolder Kind = "folder"
	KindSingle Kind = "single"
	KindLegacy Kind = "legacy"
)

// CommandFunc handles one chat command.
type CommandFunc func(ctx context.Context, mc *domain.MessageContext) error

// ToolFunc handles a direct tool invocation.
type ToolFunc func(ctx context.Context, mc *domain.MessageContext, input map[string]any) (any, error)

// Tool is a named callable a plugin exposes outside the chat flow.
type Tool struct {
	Description string
	Schema      map[string]any
	Handler     ToolFunc
}

// Storage is the per-plugin key-value handle passed to setup.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// SetupEnv is handed to a module's setup hook once per load.
type SetupEnv struct {
	Logger  *logging.Logger
	Config  map[string]any
	Storage Storage
}

// Module is the loaded body of a plugin. It is replaced wholesale on reload.
type Module struct {
	commands map[string]CommandFunc
	order    []string
	tools    map[string]Tool

	// Setup runs once after loading, before the module becomes active.
	Setup func(ctx context.Context, env SetupEnv) error

	// Close releases runtime resources. May be nil.
	Close func()
}

// NewModule creates an empty module.
func NewModule() *Module {
	return &Module{
		commands: make(map[string]CommandFunc),
		tools:    make(map[string]Tool),
	}
}

// Handle registers a command. The first registration of a name fixes its
// position in declaration order.
func (m *Module) Handle(name string, fn CommandFunc) *Module {
	if _, exists := m.commands[name]; !exists {
		m.order = append(m.order, name)
	}
	m.commands[name] = fn
	return m
}

// AddTool registers a tool, replacing any previous one with the same name.
func (m *Module) AddTool(name string, t Tool) *Module {
	m.tools[name] = t
	return m
}

// Command looks up a command handler by exact name.
func (m *Module) Command(name string) (CommandFunc, bool) {
	if m == nil {
		return nil, false
	}
	fn, ok := m.commands[name]
	return fn, ok
}

// Commands returns command names in declaration order.
func (m *Module) Commands() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// FirstCommand returns the first declared command.
func (m *Module) FirstCommand() (string, CommandFunc, bool) {
	if m == nil || len(m.order) == 0 {
		return "", nil, false
	}
	name := m.order[0]
	return name, m.commands[name], true
}

// Tools returns a copy of the module's tools.
func (m *Module) Tools() map[string]Tool {
	if m == nil {
		return nil
	}
	out := make(map[string]Tool, len(m.tools))
	for k, v := range m.tools {
		out[k] = v
	}
	return out
}

// ToolNames returns tool names sorted alphabetically.
func (m *Module) ToolNames() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.tools))
	for name := range m.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Module) close() {
	if m != nil && m.Close != nil {
		m.Close()
	}
}

// Record is one discovered plugin.
type Record struct {
	Manifest Manifest `json:"manifest"`
	// Path is relative to the plugin root.
	Path       string    `json:"path"`
	Kind       Kind      `json:"type"`
	EntryPoint string    `json:"-"`
	Readme     string    `json:"readme,omitempty"`
	LoadedAt   time.Time `json:"loadedAt"`
	// Active reports whether the module is loaded and runnable. Enabled on
	// the manifest is the persisted intent.
	Active bool    `json:"active"`
	Module *Module `json:"-"`
}

// ID returns the manifest identifier.
func (r Record) ID() string { return r.Manifest.ID }

// Runnable reports whether the record takes part in dispatch.
func (r Record) Runnable() bool { return r.Manifest.Enabled && r.Active && r.Module != nil }

// LoadError reports a module import or setup failure.
type LoadError struct {
	ID  string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load plugin %s: %v", e.ID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
