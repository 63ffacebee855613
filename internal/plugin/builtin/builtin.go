// Package builtin holds the plugins compiled into bella. Their manifests are
// installed into the plugin directory like any other folder plugin, so they
// are discovered, enabled and disabled the usual way; the native runtime
// serves their code.
package builtin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bellabot/bella/internal/logging"
	"github.com/bellabot/bella/internal/plugin"
	"github.com/bellabot/bella/internal/version"
	"github.com/hashicorp/go-retryablehttp"
)

const stubEntry = "-- Served by the native runtime.\nreturn {}\n"

// Builtin pairs a manifest with the factory of its native module.
type Builtin struct {
	Manifest plugin.Manifest
	New      func() *plugin.Module
}

// Options tunes the built-in plugins.
type Options struct {
	HTTPClient *retryablehttp.Client

	// WeatherAPI overrides the api.weather.gov base URL.
	WeatherAPI string

	// AllowPrivate lets the fetcher reach loopback and private addresses.
	AllowPrivate bool
}

// All returns every built-in plugin.
func All(log *logging.Logger, opts Options) []Builtin {
	hc := opts.HTTPClient
	if hc == nil {
		hc = newHTTPClient()
	}
	log = log.Sub("builtin")

	fhc := hc
	if !opts.AllowPrivate {
		fhc = guardClient(hc, internalAddr)
	}
	f := &fetcher{http: fhc, log: log.With("plugin", "fetch")}
	w := &weather{http: hc, base: opts.WeatherAPI, log: log.With("plugin", "weather")}
	if w.base == "" {
		w.base = defaultWeatherAPI
	}

	return []Builtin{
		{Manifest: fetchManifest, New: f.module},
		{Manifest: weatherManifest, New: w.module},
	}
}

// Register binds every built-in module to its plugin id.
func Register(rt *plugin.NativeRuntime, builtins []Builtin) {
	for _, b := range builtins {
		rt.Register(b.Manifest.ID, b.New)
	}
}

// Install writes the manifest and a stub entry point of each built-in whose
// folder is missing from dir. Existing folders are left alone so a user's
// enabled flag survives. It returns the ids it installed.
func Install(dir string, builtins []Builtin) ([]string, error) {
	var installed []string
	for _, b := range builtins {
		pdir := filepath.Join(dir, b.Manifest.ID)
		if _, err := os.Stat(pdir); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return installed, err
		}

		data, err := json.MarshalIndent(b.Manifest, "", "  ")
		if err != nil {
			return installed, fmt.Errorf("encode %s manifest: %w", b.Manifest.ID, err)
		}
		if err := os.MkdirAll(pdir, 0o755); err != nil {
			return installed, err
		}
		if err := os.WriteFile(filepath.Join(pdir, plugin.ManifestFile), append(data, '\n'), 0o644); err != nil {
			return installed, err
		}
		if err := os.WriteFile(filepath.Join(pdir, plugin.EntryFile), []byte(stubEntry), 0o644); err != nil {
			return installed, err
		}
		installed = append(installed, b.Manifest.ID)
	}
	return installed, nil
}

func newHTTPClient() *retryablehttp.Client {
	hc := retryablehttp.NewClient()
	hc.RetryMax = 2
	hc.RetryWaitMin = 300 * time.Millisecond
	hc.RetryWaitMax = 3 * time.Second
	hc.HTTPClient.Timeout = 20 * time.Second
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	hc.Logger = nil
	return hc
}

func userAgent() string {
	return version.UserAgent() + " (+builtin)"
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) (string, bool) {
	r := []rune(s)
	if len(r) <= n {
		return s, false
	}
	return string(r[:n]), true
}
