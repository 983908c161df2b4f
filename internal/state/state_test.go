package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string  `json:"name"`
	Count int     `json:"count"`
	Ratio float64 `json:"ratio"`
}

func TestSaveAndLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "sample.json")

	in := sample{Name: "budget", Count: 42, Ratio: 0.8}
	require.NoError(t, SaveJSON(path, in))

	// No .tmp leftover after a successful save
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	var out sample
	require.NoError(t, LoadJSON(path, &out))
	assert.Equal(t, in, out)
}

func TestLoadJSON_Missing(t *testing.T) {
	var out sample
	err := LoadJSON(filepath.Join(t.TempDir(), "absent.json"), &out)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSaveJSON_OverwritesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")

	require.NoError(t, SaveJSON(path, sample{Name: "first", Count: 1}))
	require.NoError(t, SaveJSON(path, sample{Name: "second", Count: 2}))

	var out sample
	require.NoError(t, LoadJSON(path, &out))
	assert.Equal(t, "second", out.Name)
	assert.Equal(t, 2, out.Count)
}

func TestLoadJSON_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	var out sample
	assert.Error(t, LoadJSON(path, &out))
}
