package plugin

// Maturity grades how stable a plugin is.
type Maturity string

const (
	MaturityStable       Maturity = "stable"
	MaturityBeta         Maturity = "beta"
	MaturityAlpha        Maturity = "alpha"
	MaturityExperimental Maturity = "experimental"
)

// Capabilities lists what a plugin declares it provides. Informational only;
// dispatch reads the loaded module.
type Capabilities struct {
	Commands []string `json:"commands,omitempty"`
	Events   []string `json:"events,omitempty"`
	Tools    []string `json:"tools,omitempty"`
}

// Triggers drive command and intent matching.
type Triggers struct {
	Commands []string `json:"commands,omitempty"`
	Patterns []string `json:"patterns,omitempty"`
}

// Manifest is a plugin's declared metadata.
type Manifest struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Version        string         `json:"version"`
	Author         string         `json:"author,omitempty"`
	Description    string         `json:"description"`
	Tags           []string       `json:"tags,omitempty"`
	Permissions    []string       `json:"permissions,omitempty"`
	Capabilities   Capabilities   `json:"capabilities"`
	Triggers       Triggers       `json:"triggers"`
	IntentExamples []string       `json:"intent_examples,omitempty"`
	ConfigSchema   map[string]any `json:"config_schema,omitempty"`
	Dependencies   []string       `json:"dependencies,omitempty"`
	Maturity       Maturity       `json:"maturity,omitempty"`
	Enabled        bool           `json:"enabled"`
}

// MaturityOrDefault returns the declared maturity, or experimental.
func (m Manifest) MaturityOrDefault() Maturity {
	if m.Maturity == "" {
		return MaturityExperimental
	}
	return m.Maturity
}

// manifestSchema is the JSON Schema every folder and single-file manifest
// must satisfy.
const manifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "name", "version", "description"],
  "properties": {
    "id": {"type": "string", "pattern": "^[a-z0-9_-]+$"},
    "name": {"type": "string", "minLength": 1},
    "version": {"type": "string", "pattern": "^\\d+\\.\\d+\\.\\d+$"},
    "author": {"type": "string"},
    "description": {"type": "string", "minLength": 1},
    "tags": {"type": "array", "items": {"type": "string"}},
    "permissions": {"type": "array", "items": {"type": "string"}},
    "capabilities": {
      "type": "object",
      "properties": {
        "commands": {"type": "array", "items": {"type": "string"}},
        "events": {"type": "array", "items": {"type": "string"}},
        "tools": {"type": "array", "items": {"type": "string"}}
      }
    },
    "triggers": {
      "type": "object",
      "properties": {
        "commands": {"type": "array", "items": {"type": "string"}},
        "patterns": {"type": "array", "items": {"type": "string"}}
      }
    },
    "intent_examples": {"type": "array", "items": {"type": "string"}},
    "config_schema": {"type": "object"},
    "dependencies": {"type": "array", "items": {"type": "string"}},
    "maturity": {"type": "string", "enum": ["stable", "beta", "alpha", "experimental"]},
    "enabled": {"type": "boolean", "default": false}
  }
}`
