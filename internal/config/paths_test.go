package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"single segment", "bot", []string{"bot"}, false},
		{"two segments", "bot.prefix", []string{"bot", "prefix"}, false},
		{"three segments", "channels.irc.server", []string{"channels", "irc", "server"}, false},
		{"empty", "", nil, true},
		{"empty segment", "bot..prefix", nil, true},
		{"trailing dot", "bot.", nil, true},
		{"blocked __proto__", "foo.__proto__.bar", nil, true},
		{"blocked constructor", "constructor", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfigPath(tt.input)
			if tt.wantErr {
				var ce *ConfigError
				assert.ErrorAs(t, err, &ce)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValueAtPath(t *testing.T) {
	root := map[string]any{
		"plugins": map[string]any{"dir": "/srv/plugins"},
		"simple":  "value",
	}

	val, ok := GetValueAtPath(root, []string{"plugins", "dir"})
	assert.True(t, ok)
	assert.Equal(t, "/srv/plugins", val)

	_, ok = GetValueAtPath(root, []string{"simple", "sub"})
	assert.False(t, ok, "non-map intermediate")

	SetValueAtPath(root, []string{"ai", "provider"}, "ollama")
	val, ok = GetValueAtPath(root, []string{"ai", "provider"})
	assert.True(t, ok)
	assert.Equal(t, "ollama", val)

	SetValueAtPath(root, []string{"simple", "nested"}, 1)
	val, _ = GetValueAtPath(root, []string{"simple", "nested"})
	assert.Equal(t, 1, val, "non-map values are replaced by maps")

	assert.True(t, UnsetValueAtPath(root, []string{"plugins", "dir"}))
	assert.False(t, UnsetValueAtPath(root, []string{"plugins", "dir"}))
	assert.False(t, UnsetValueAtPath(root, []string{"missing", "key"}))
}

func TestResolvePaths_DefaultHome(t *testing.T) {
	t.Setenv("BELLA_HOME", "")

	paths, err := ResolvePaths()
	require.NoError(t, err)

	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, ".bella"), paths.Base)
	assert.Equal(t, filepath.Join(home, ".bella", "config.yaml"), paths.Config)
	assert.Equal(t, filepath.Join(home, ".bella", "plugins"), paths.Plugins)
	assert.Equal(t, filepath.Join(home, ".bella", "data", "bella.db"), paths.DB)
}

func TestResolvePaths_CustomHome(t *testing.T) {
	t.Setenv("BELLA_HOME", "/tmp/bella-test")

	paths, err := ResolvePaths()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/bella-test", paths.Base)
	assert.Equal(t, "/tmp/bella-test/logs", paths.Logs)
	assert.Equal(t, "/tmp/bella-test/data", paths.Data)
}

func TestPathsApply(t *testing.T) {
	paths := Paths{Plugins: "/home/p", DB: "/home/d.db"}

	cfg := Defaults()
	paths.Apply(&cfg)
	assert.Equal(t, "/home/p", cfg.Plugins.Dir)
	assert.Equal(t, "/home/d.db", cfg.Store.Path)

	cfg = Defaults()
	cfg.Plugins.Dir = "/custom"
	paths.Apply(&cfg)
	assert.Equal(t, "/custom", cfg.Plugins.Dir, "explicit dir wins")
}

func TestEnsureDirs(t *testing.T) {
	t.Setenv("BELLA_HOME", t.TempDir())

	paths, err := ResolvePaths()
	require.NoError(t, err)
	require.NoError(t, paths.EnsureDirs())
	require.NoError(t, paths.EnsureDirs(), "idempotent")

	for _, dir := range []string{paths.Base, paths.Logs, paths.Plugins, paths.Data} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
