package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/sjson"
)

const indexVersion = "1.0.0"

// IndexEntry is one scanned plugin in the persisted index.
type IndexEntry struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	Kind    Kind   `json:"type"`
}

// Index is the listing rewritten after every scan. It is a cache only;
// dispatch never reads it.
type Index struct {
	Plugins  []IndexEntry `json:"plugins"`
	LastScan *time.Time   `json:"lastScan"`
	Version  string       `json:"version"`
}

func newIndex(records []Record, scannedAt time.Time) Index {
	idx := Index{
		Plugins:  make([]IndexEntry, 0, len(records)),
		LastScan: &scannedAt,
		Version:  indexVersion,
	}
	for _, r := range records {
		idx.Plugins = append(idx.Plugins, IndexEntry{
			ID:      r.Manifest.ID,
			Name:    r.Manifest.Name,
			Version: r.Manifest.Version,
			Enabled: r.Manifest.Enabled,
			Path:    r.Path,
			Kind:    r.Kind,
		})
	}
	return idx
}

func readIndex(path string) (Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Index{}, err
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return Index{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if idx.Plugins == nil {
		idx.Plugins = []IndexEntry{}
	}
	return idx, nil
}

func writeIndex(path string, idx Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// persistEnabled rewrites only the "enabled" key of a manifest file, keeping
// the rest of the document as the author wrote it.
func persistEnabled(manifestPath string, enabled bool) error {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return err
	}
	out, err := sjson.SetBytes(data, "enabled", enabled)
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	return writeFileAtomic(manifestPath, out)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
