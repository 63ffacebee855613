package plugin

// CatalogTool describes one tool in a catalog listing.
type CatalogTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// CatalogEntry is the full description of a registered plugin.
type CatalogEntry struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	Capabilities   Capabilities  `json:"capabilities"`
	Triggers       Triggers      `json:"triggers"`
	IntentExamples []string      `json:"intent_examples"`
	Tools          []CatalogTool `json:"tools"`
	Commands       []string      `json:"commands"`
	Enabled        bool          `json:"enabled"`
	Maturity       Maturity      `json:"maturity"`
}

// CompactEntry is the reduced listing handed to language models.
type CompactEntry struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Commands    []string      `json:"commands"`
	Tools       []CatalogTool `json:"tools"`
	Examples    []string      `json:"examples"`
	Enabled     bool          `json:"enabled"`
}

// Catalog describes every registered plugin in load order.
func (r *Registry) Catalog() []CatalogEntry {
	records := r.All()
	out := make([]CatalogEntry, 0, len(records))
	for _, rec := range records {
		m := rec.Manifest
		examples := m.IntentExamples
		if examples == nil {
			examples = []string{}
		}
		commands := rec.Module.Commands()
		if commands == nil {
			commands = []string{}
		}
		out = append(out, CatalogEntry{
			ID:             m.ID,
			Name:           m.Name,
			Description:    m.Description,
			Capabilities:   m.Capabilities,
			Triggers:       m.Triggers,
			IntentExamples: examples,
			Tools:          catalogTools(rec.Module, true),
			Commands:       commands,
			Enabled:        m.Enabled,
			Maturity:       m.MaturityOrDefault(),
		})
	}
	return out
}

// CompactCatalog is Catalog without schemas and trigger detail.
func (r *Registry) CompactCatalog() []CompactEntry {
	full := r.Catalog()
	out := make([]CompactEntry, 0, len(full))
	for _, e := range full {
		tools := make([]CatalogTool, 0, len(e.Tools))
		for _, t := range e.Tools {
			tools = append(tools, CatalogTool{Name: t.Name, Description: t.Description})
		}
		out = append(out, CompactEntry{
			ID:          e.ID,
			Name:        e.Name,
			Description: e.Description,
			Commands:    e.Commands,
			Tools:       tools,
			Examples:    e.IntentExamples,
			Enabled:     e.Enabled,
		})
	}
	return out
}

func catalogTools(mod *Module, withSchema bool) []CatalogTool {
	tools := mod.Tools()
	out := make([]CatalogTool, 0, len(tools))
	for _, name := range mod.ToolNames() {
		t := tools[name]
		ct := CatalogTool{Name: name, Description: t.Description}
		if withSchema {
			ct.Schema = t.Schema
			if ct.Schema == nil {
				ct.Schema = map[string]any{}
			}
		}
		out = append(out, ct)
	}
	return out
}
