package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bellabot/bella/internal/domain"
	"github.com/bellabot/bella/internal/hooks"
	"github.com/bellabot/bella/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func writeFolderPlugin(t *testing.T, root, dir, manifest string) {
	t.Helper()
	writeFile(t, filepath.Join(root, dir, ManifestFile), manifest)
	writeFile(t, filepath.Join(root, dir, EntryFile), "return {}\n")
}

func pingModule() *Module {
	return NewModule().Handle("ping", func(ctx context.Context, mc *domain.MessageContext) error {
		mc.Reply(ctx, "pong")
		return nil
	})
}

func testRegistry(t *testing.T, root string) (*Registry, *NativeRuntime) {
	t.Helper()
	rt := NewNativeRuntime(nil)
	return NewRegistry(root, rt, logging.New(nil, "silent")), rt
}

func ids(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Manifest.ID)
	}
	return out
}

func TestScan_AllKinds(t *testing.T) {
	root := t.TempDir()
	writeFolderPlugin(t, root, "ping", `{"id":"ping","name":"Ping","version":"1.0.0","description":"Replies pong"}`)
	writeFile(t, filepath.Join(root, "ping", "README.md"), "# Ping")
	// Files inside a folder plugin belong to it and are not scanned.
	writeFile(t, filepath.Join(root, "ping", "helper.lua"), "handler.command = /^(helper)$/i")
	writeFile(t, filepath.Join(root, "hello.lua"), "--[[ {\"id\":\"hello\",\"name\":\"Hello\",\"version\":\"0.1.0\",\"description\":\"Greets\"} ]]\nreturn {}\n")
	writeFile(t, filepath.Join(root, "downloader", "tiktok.lua"), "handler.command = /^(tt|tiktok)$/i\n")
	writeFile(t, filepath.Join(root, "notes.txt"), "not a plugin")

	reg, _ := testRegistry(t, root)
	records, err := reg.Scan(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"tiktok", "hello", "ping"}, ids(records))

	byID := map[string]Record{}
	for _, r := range records {
		byID[r.Manifest.ID] = r
	}
	assert.Equal(t, KindLegacy, byID["tiktok"].Kind)
	assert.Equal(t, "downloader/tiktok.lua", byID["tiktok"].Path)
	assert.Equal(t, KindSingle, byID["hello"].Kind)
	assert.Equal(t, KindFolder, byID["ping"].Kind)
	assert.Equal(t, "ping", byID["ping"].Path)
	assert.Equal(t, "# Ping", byID["ping"].Readme)
	assert.False(t, byID["ping"].Active, "scan does not load")
	assert.Equal(t, 0, reg.Count())
}

func TestScan_WritesIndex(t *testing.T) {
	root := t.TempDir()
	writeFolderPlugin(t, root, "ping", `{"id":"ping","name":"Ping","version":"1.0.0","description":"d","enabled":true}`)

	reg, _ := testRegistry(t, root)
	_, err := reg.Scan(context.Background())
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(root, IndexFile))
	require.NoError(t, err)
	doc := gjson.ParseBytes(raw)
	assert.Equal(t, "1.0.0", doc.Get("version").String())
	assert.True(t, doc.Get("lastScan").Exists())
	assert.Equal(t, "ping", doc.Get("plugins.0.id").String())
	assert.Equal(t, "folder", doc.Get("plugins.0.type").String())
	assert.True(t, doc.Get("plugins.0.enabled").Bool())

	idx, err := reg.Indexed()
	require.NoError(t, err)
	require.Len(t, idx.Plugins, 1)
	assert.Equal(t, KindFolder, idx.Plugins[0].Kind)
}

func TestScan_InvalidManifest(t *testing.T) {
	root := t.TempDir()
	writeFolderPlugin(t, root, "good", `{"id":"good","name":"Good","version":"1.0.0","description":"d"}`)
	writeFolderPlugin(t, root, "bad", `{"id":"bad","name":"Bad","version":"1.0.0"}`)
	writeFile(t, filepath.Join(root, "broken.lua"), "--[[ {\"id\":\"broken\"} ]]\nreturn {}\n")

	reg, rt := testRegistry(t, root)
	rt.Register("good", pingModule)
	rt.Register("bad", pingModule)

	records, err := reg.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, ids(records))

	for _, rec := range records {
		require.NoError(t, reg.Load(context.Background(), rec))
	}
	assert.Equal(t, []string{"good"}, ids(reg.Enabled()))
	_, ok := reg.Get("bad")
	assert.False(t, ok)
}

func TestLoad_FolderPlugin(t *testing.T) {
	root := t.TempDir()
	manifest := `{
  "id": "ping",
  "name": "Ping",
  "version": "1.0.0",
  "description": "d",
  "x-owner": "ops",
  "enabled": false
}`
	writeFolderPlugin(t, root, "ping", manifest)

	hm := hooks.NewManager(logging.New(nil, "silent"))
	var loaded []string
	hm.On(hooks.EventPluginLoaded, "test", func(_ context.Context, p hooks.Payload) error {
		loaded = append(loaded, p.Data["id"].(string))
		return nil
	})

	rt := NewNativeRuntime(nil)
	rt.Register("ping", pingModule)
	reg := NewRegistry(root, rt, logging.New(nil, "silent"), WithHooks(hm))

	records, err := reg.Scan(context.Background())
	require.NoError(t, err)
	require.NoError(t, reg.Load(context.Background(), records[0]))

	rec, ok := reg.Get("ping")
	require.True(t, ok)
	assert.True(t, rec.Active)
	assert.True(t, rec.Manifest.Enabled)
	assert.Equal(t, []string{"ping"}, rec.Module.Commands())
	assert.Equal(t, []string{"ping"}, loaded)

	raw, err := os.ReadFile(filepath.Join(root, "ping", ManifestFile))
	require.NoError(t, err)
	assert.True(t, gjson.GetBytes(raw, "enabled").Bool())
	assert.Equal(t, "ops", gjson.GetBytes(raw, "x-owner").String(), "other keys survive the rewrite")
}

func TestLoad_LegacyNotPersisted(t *testing.T) {
	root := t.TempDir()
	src := "handler.command = /^(tt)$/i\n"
	writeFile(t, filepath.Join(root, "downloader", "tiktok.lua"), src)

	reg, rt := testRegistry(t, root)
	rt.Register("tiktok", pingModule)

	records, err := reg.Scan(context.Background())
	require.NoError(t, err)
	require.NoError(t, reg.Load(context.Background(), records[0]))

	raw, err := os.ReadFile(filepath.Join(root, "downloader", "tiktok.lua"))
	require.NoError(t, err)
	assert.Equal(t, src, string(raw))
	assert.Len(t, reg.Enabled(), 1)
}

func TestLoad_FailureLeavesRegistry(t *testing.T) {
	root := t.TempDir()
	writeFolderPlugin(t, root, "ping", `{"id":"ping","name":"Ping","version":"1.0.0","description":"d"}`)

	reg, _ := testRegistry(t, root)
	records, err := reg.Scan(context.Background())
	require.NoError(t, err)

	err = reg.Load(context.Background(), records[0])
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoRuntime)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "ping", le.ID)

	_, ok := reg.Get("ping")
	assert.False(t, ok)
	assert.Empty(t, reg.Enabled())
}

func TestLoad_SetupFailure(t *testing.T) {
	root := t.TempDir()
	writeFolderPlugin(t, root, "db", `{"id":"db","name":"DB","version":"1.0.0","description":"d"}`)

	var closed bool
	reg, rt := testRegistry(t, root)
	rt.Register("db", func() *Module {
		mod := pingModule()
		mod.Setup = func(context.Context, SetupEnv) error { return errors.New("no database") }
		mod.Close = func() { closed = true }
		return mod
	})

	records, err := reg.Scan(context.Background())
	require.NoError(t, err)

	err = reg.Load(context.Background(), records[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database")
	assert.True(t, closed)
	assert.Zero(t, reg.Count())
}

func TestLoad_SetupEnvironment(t *testing.T) {
	root := t.TempDir()
	writeFolderPlugin(t, root, "kv", `{"id":"kv","name":"KV","version":"1.0.0","description":"d"}`)

	storage := NewMemoryStorage()
	env := func(id string) SetupEnv {
		return SetupEnv{
			Logger:  logging.New(nil, "silent").Sub(id),
			Config:  map[string]any{"greeting": "halo"},
			Storage: storage,
		}
	}

	rt := NewNativeRuntime(nil)
	rt.Register("kv", func() *Module {
		mod := NewModule()
		mod.Setup = func(ctx context.Context, env SetupEnv) error {
			return env.Storage.Set(ctx, "greeting", env.Config["greeting"].(string))
		}
		return mod
	})
	reg := NewRegistry(root, rt, logging.New(nil, "silent"), WithEnvironment(env))

	records, err := reg.Scan(context.Background())
	require.NoError(t, err)
	require.NoError(t, reg.Load(context.Background(), records[0]))

	v, ok, err := storage.Get(context.Background(), "greeting")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "halo", v)
}

func TestReload_ReplacesModule(t *testing.T) {
	root := t.TempDir()
	writeFolderPlugin(t, root, "ping", `{"id":"ping","name":"Ping","version":"1.0.0","description":"d"}`)

	var generation, closes int
	reg, rt := testRegistry(t, root)
	rt.Register("ping", func() *Module {
		generation++
		mod := pingModule()
		mod.Close = func() { closes++ }
		return mod
	})

	records, err := reg.Scan(context.Background())
	require.NoError(t, err)
	require.NoError(t, reg.Load(context.Background(), records[0]))
	first, _ := reg.Get("ping")

	writeFile(t, filepath.Join(root, "ping", ManifestFile), `{"id":"ping","name":"Ping","version":"1.1.0","description":"d"}`)
	rec, err := reg.Reload(context.Background(), "ping")
	require.NoError(t, err)

	assert.Equal(t, 2, generation)
	assert.Equal(t, 1, closes, "previous module is closed")
	assert.Equal(t, "1.1.0", rec.Manifest.Version)
	assert.NotSame(t, first.Module, rec.Module)
	assert.Equal(t, []string{"ping"}, ids(reg.All()), "reload keeps a single entry")

	_, err = reg.Reload(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPluginNotFound)
}

func TestSetEnabled_RoundTrip(t *testing.T) {
	root := t.TempDir()
	writeFolderPlugin(t, root, "ping", `{"id":"ping","name":"Ping","version":"1.0.0","description":"d"}`)

	reg, rt := testRegistry(t, root)
	rt.Register("ping", pingModule)
	ctx := context.Background()

	records, err := reg.Scan(ctx)
	require.NoError(t, err)
	require.NoError(t, reg.Load(ctx, records[0]))

	require.NoError(t, reg.SetEnabled("ping", false))
	rec, _ := reg.Get("ping")
	assert.False(t, rec.Manifest.Enabled)
	assert.Empty(t, reg.Enabled())

	records, err = reg.Scan(ctx)
	require.NoError(t, err)
	assert.False(t, records[0].Manifest.Enabled)

	require.NoError(t, reg.SetEnabled("ping", true))
	require.NoError(t, reg.SetEnabled("ping", true), "idempotent")

	records, err = reg.Scan(ctx)
	require.NoError(t, err)
	assert.True(t, records[0].Manifest.Enabled, "persisted state survives a rescan")
	assert.Len(t, reg.Enabled(), 1)

	assert.ErrorIs(t, reg.SetEnabled("nope", true), ErrPluginNotFound)
}

func TestSetEnabled_LegacyInMemory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "fun", "dadu.lua"), `handler.command = ["dadu"]`)

	reg, rt := testRegistry(t, root)
	rt.Register("dadu", pingModule)
	ctx := context.Background()

	records, err := reg.Scan(ctx)
	require.NoError(t, err)
	require.NoError(t, reg.Load(ctx, records[0]))

	require.NoError(t, reg.SetEnabled("dadu", false))
	rec, _ := reg.Get("dadu")
	assert.False(t, rec.Manifest.Enabled)

	records, err = reg.Scan(ctx)
	require.NoError(t, err)
	assert.True(t, records[0].Manifest.Enabled, "legacy manifests are synthesized fresh")
}

func TestDisable_Idempotent(t *testing.T) {
	root := t.TempDir()
	writeFolderPlugin(t, root, "ping", `{"id":"ping","name":"Ping","version":"1.0.0","description":"d"}`)

	reg, rt := testRegistry(t, root)
	rt.Register("ping", pingModule)
	records, err := reg.Scan(context.Background())
	require.NoError(t, err)
	require.NoError(t, reg.Load(context.Background(), records[0]))

	require.NoError(t, reg.Disable("ping"))
	require.NoError(t, reg.Disable("ping"))

	rec, ok := reg.Get("ping")
	require.True(t, ok)
	assert.False(t, rec.Active)
	assert.False(t, rec.Manifest.Enabled)
	assert.Empty(t, reg.Enabled())
}

func TestFindByID_Rescans(t *testing.T) {
	root := t.TempDir()
	reg, _ := testRegistry(t, root)
	ctx := context.Background()

	_, err := reg.Scan(ctx)
	require.NoError(t, err)

	_, ok := reg.FindByID(ctx, "late")
	assert.False(t, ok)

	writeFolderPlugin(t, root, "late", `{"id":"late","name":"Late","version":"1.0.0","description":"added after startup"}`)

	rec, ok := reg.FindByID(ctx, "late")
	require.True(t, ok)
	assert.Equal(t, "added after startup", rec.Manifest.Description)
	assert.False(t, rec.Active)

	idx, err := reg.Indexed()
	require.NoError(t, err)
	assert.Len(t, idx.Plugins, 1, "the rescan rewrites the index")
}

func TestPersistEnabled_WithoutLoading(t *testing.T) {
	root := t.TempDir()
	writeFolderPlugin(t, root, "ping", `{"id":"ping","name":"Ping","version":"1.0.0","description":"d","enabled":false}`)
	writeFile(t, filepath.Join(root, "hello.lua"), "--[[ {\"id\":\"hello\",\"name\":\"Hello\",\"version\":\"0.1.0\",\"description\":\"Greets\"} ]]\nreturn {}\n")
	reg, _ := testRegistry(t, root)
	ctx := context.Background()

	rec, err := reg.PersistEnabled(ctx, "ping", true)
	require.NoError(t, err)
	assert.True(t, rec.Manifest.Enabled)
	assert.Equal(t, 0, reg.Count(), "nothing is registered")

	data, err := os.ReadFile(filepath.Join(root, "ping", ManifestFile))
	require.NoError(t, err)
	assert.True(t, gjson.GetBytes(data, "enabled").Bool())

	_, err = reg.PersistEnabled(ctx, "hello", true)
	assert.Error(t, err)

	_, err = reg.PersistEnabled(ctx, "ghost", true)
	assert.True(t, errors.Is(err, ErrPluginNotFound))
}

func TestEnabled_LoadOrder(t *testing.T) {
	root := t.TempDir()
	writeFolderPlugin(t, root, "a", `{"id":"a","name":"A","version":"1.0.0","description":"d"}`)
	writeFolderPlugin(t, root, "b", `{"id":"b","name":"B","version":"1.0.0","description":"d"}`)

	reg, rt := testRegistry(t, root)
	rt.Register("a", pingModule)
	rt.Register("b", pingModule)

	records, err := reg.Scan(context.Background())
	require.NoError(t, err)
	require.NoError(t, reg.Load(context.Background(), records[1]))
	require.NoError(t, reg.Load(context.Background(), records[0]))

	assert.Equal(t, []string{"b", "a"}, ids(reg.Enabled()))
}

func TestCatalog(t *testing.T) {
	root := t.TempDir()
	writeFolderPlugin(t, root, "weather", `{
  "id": "weather",
  "name": "Weather",
  "version": "1.0.0",
  "description": "Forecasts",
  "triggers": {"patterns": ["cuaca"]},
  "intent_examples": ["cuaca jakarta"]
}`)

	reg, rt := testRegistry(t, root)
	rt.Register("weather", func() *Module {
		return NewModule().
			Handle("cuaca", func(context.Context, *domain.MessageContext) error { return nil }).
			AddTool("forecast", Tool{Description: "Forecast for a city", Schema: map[string]any{"type": "object"}})
	})

	records, err := reg.Scan(context.Background())
	require.NoError(t, err)
	require.NoError(t, reg.Load(context.Background(), records[0]))

	catalog := reg.Catalog()
	require.Len(t, catalog, 1)
	e := catalog[0]
	assert.Equal(t, "weather", e.ID)
	assert.Equal(t, []string{"cuaca"}, e.Commands)
	assert.Equal(t, MaturityExperimental, e.Maturity)
	require.Len(t, e.Tools, 1)
	assert.Equal(t, "forecast", e.Tools[0].Name)
	assert.Equal(t, map[string]any{"type": "object"}, e.Tools[0].Schema)

	compact := reg.CompactCatalog()
	require.Len(t, compact, 1)
	assert.Equal(t, []string{"cuaca jakarta"}, compact[0].Examples)
	assert.Nil(t, compact[0].Tools[0].Schema)
}

func TestDependencyProblems(t *testing.T) {
	root := t.TempDir()
	writeFolderPlugin(t, root, "base", `{"id":"base","name":"Base","version":"1.2.0","description":"d"}`)
	writeFolderPlugin(t, root, "ext", `{"id":"ext","name":"Ext","version":"1.0.0","description":"d","dependencies":["base@^1.0.0","other"]}`)

	reg, rt := testRegistry(t, root)
	rt.Register("base", pingModule)
	rt.Register("ext", pingModule)

	records, err := reg.Scan(context.Background())
	require.NoError(t, err)
	for _, rec := range records {
		require.NoError(t, reg.Load(context.Background(), rec))
	}

	assert.Equal(t, []string{"other: not loaded"}, reg.DependencyProblems("ext"))
	assert.Empty(t, reg.DependencyProblems("base"))
}

func TestClose_ReleasesModules(t *testing.T) {
	root := t.TempDir()
	writeFolderPlugin(t, root, "ping", `{"id":"ping","name":"Ping","version":"1.0.0","description":"d"}`)

	var closed bool
	reg, rt := testRegistry(t, root)
	rt.Register("ping", func() *Module {
		mod := pingModule()
		mod.Close = func() { closed = true }
		return mod
	})
	records, err := reg.Scan(context.Background())
	require.NoError(t, err)
	require.NoError(t, reg.Load(context.Background(), records[0]))

	reg.Close()
	assert.True(t, closed)
	assert.Zero(t, reg.Count())
}
