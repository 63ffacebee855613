package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDependency(t *testing.T) {
	d, err := ParseDependency("storage@^1.2.0")
	require.NoError(t, err)
	assert.Equal(t, "storage", d.ID)
	assert.NotNil(t, d.Constraint)

	d, err = ParseDependency("storage")
	require.NoError(t, err)
	assert.Nil(t, d.Constraint)

	_, err = ParseDependency("@1.0.0")
	assert.Error(t, err)

	_, err = ParseDependency("storage@not-a-range")
	assert.Error(t, err)
}

func TestCheckDependencies(t *testing.T) {
	loaded := map[string]string{"storage": "1.4.2", "ai": "0.9.0"}
	lookup := func(id string) (string, bool) {
		v, ok := loaded[id]
		return v, ok
	}

	m := Manifest{Dependencies: []string{"storage@^1.2.0", "ai@>=1.0.0", "missing", "storage"}}
	problems := CheckDependencies(m, lookup)

	require.Len(t, problems, 2)
	assert.Contains(t, problems[0], "ai")
	assert.Equal(t, "missing: not loaded", problems[1])

	assert.Empty(t, CheckDependencies(Manifest{}, lookup))
}
