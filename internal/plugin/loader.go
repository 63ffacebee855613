package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// headerComment matches a leading Lua long comment holding a JSON object.
var headerComment = regexp.MustCompile(`^--\[\[\s*(\{[\s\S]*?\})\s*\]\]`)

// HeaderJSON returns the manifest JSON embedded at the top of a single-file
// plugin, if any.
func HeaderJSON(src []byte) ([]byte, bool) {
	m := headerComment.FindSubmatch(src)
	if m == nil {
		return nil, false
	}
	return m[1], true
}

// loader turns on-disk candidates into records.
type loader struct {
	root      string
	validator *Validator
}

func (l *loader) rel(path string) string {
	rel, err := filepath.Rel(l.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// isFolderPlugin reports whether dir holds both a manifest and an entry point.
func isFolderPlugin(dir string) bool {
	return fileExists(filepath.Join(dir, ManifestFile)) && fileExists(filepath.Join(dir, EntryFile))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (l *loader) loadFolder(dir string) (Record, error) {
	manifestPath := filepath.Join(dir, ManifestFile)
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return Record{}, fmt.Errorf("read manifest: %w", err)
	}

	m, err := l.validator.Validate(raw)
	if err != nil {
		var me *ManifestError
		if errors.As(err, &me) {
			me.Path = l.rel(manifestPath)
		}
		return Record{}, err
	}

	var readme string
	if data, err := os.ReadFile(filepath.Join(dir, ReadmeFile)); err == nil {
		readme = string(data)
	}

	return Record{
		Manifest:   *m,
		Path:       l.rel(dir),
		Kind:       KindFolder,
		EntryPoint: filepath.Join(dir, EntryFile),
		Readme:     readme,
		LoadedAt:   time.Now(),
	}, nil
}

// loadFile handles loose source files: a JSON header makes it a single-file
// plugin, anything else is treated as legacy.
func (l *loader) loadFile(path string) (Record, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("read %s: %w", l.rel(path), err)
	}

	if header, ok := HeaderJSON(src); ok {
		m, err := l.validator.Validate(header)
		if err != nil {
			var me *ManifestError
			if errors.As(err, &me) {
				me.Path = l.rel(path)
			}
			return Record{}, err
		}
		return Record{
			Manifest:   *m,
			Path:       l.rel(path),
			Kind:       KindSingle,
			EntryPoint: path,
			LoadedAt:   time.Now(),
		}, nil
	}

	return Record{
		Manifest:   LegacyManifest(path, string(src)),
		Path:       l.rel(path),
		Kind:       KindLegacy,
		EntryPoint: path,
		LoadedAt:   time.Now(),
	}, nil
}

// reread refreshes a record from disk, keeping its kind.
func (l *loader) reread(rec Record) (Record, error) {
	abs := filepath.Join(l.root, filepath.FromSlash(rec.Path))
	switch rec.Kind {
	case KindFolder:
		return l.loadFolder(abs)
	case KindSingle, KindLegacy:
		return l.loadFile(abs)
	default:
		return Record{}, fmt.Errorf("unknown plugin kind %q", rec.Kind)
	}
}
