package bot

import (
	"sort"
	"sync"

	"github.com/bellabot/bella/internal/plugin"
)

// ToolInfo is the public description of a registered tool.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema,omitempty"`
	Plugin      string         `json:"plugin"`
}

type toolEntry struct {
	plugin string
	tool   plugin.Tool
}

// Tools is the name→tool table aggregated from enabled plugins. Entries are
// indexed by owning plugin so a plugin's tools can be dropped without
// walking every plugin.
type Tools struct {
	mu       sync.RWMutex
	tools    map[string]toolEntry
	byPlugin map[string]map[string]struct{}
}

// NewTools creates an empty tool table.
func NewTools() *Tools {
	return &Tools{
		tools:    make(map[string]toolEntry),
		byPlugin: make(map[string]map[string]struct{}),
	}
}

// RegisterPlugin adds every tool of rec's module, overwriting entries with
// the same name. It returns the number of tools added.
func (t *Tools) RegisterPlugin(rec plugin.Record) int {
	tools := rec.Module.Tools()
	if len(tools) == 0 {
		return 0
	}
	id := rec.Manifest.ID

	t.mu.Lock()
	defer t.mu.Unlock()

	owned := t.byPlugin[id]
	if owned == nil {
		owned = make(map[string]struct{}, len(tools))
		t.byPlugin[id] = owned
	}
	for name, tool := range tools {
		if prev, ok := t.tools[name]; ok && prev.plugin != id {
			delete(t.byPlugin[prev.plugin], name)
		}
		t.tools[name] = toolEntry{plugin: id, tool: tool}
		owned[name] = struct{}{}
	}
	return len(tools)
}

// RemovePlugin drops every tool owned by plugin id and returns how many
// were removed.
func (t *Tools) RemovePlugin(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	owned := t.byPlugin[id]
	for name := range owned {
		delete(t.tools, name)
	}
	delete(t.byPlugin, id)
	return len(owned)
}

// Get returns a tool and the id of the plugin that owns it.
func (t *Tools) Get(name string) (plugin.Tool, string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.tools[name]
	return e.tool, e.plugin, ok
}

// Len returns the number of registered tools.
func (t *Tools) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tools)
}

// List describes every registered tool, sorted by name.
func (t *Tools) List() []ToolInfo {
	t.mu.RLock()
	out := make([]ToolInfo, 0, len(t.tools))
	for name, e := range t.tools {
		out = append(out, ToolInfo{
			Name:        name,
			Description: e.tool.Description,
			Schema:      e.tool.Schema,
			Plugin:      e.plugin,
		})
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
