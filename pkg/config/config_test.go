package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`
}

func (s *sample) Validate() error {
	if s.Count < 0 {
		return errors.New("count must not be negative")
	}
	return nil
}

func TestLoad_ExpandsEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	t.Setenv("SAMPLE_NAME", "assets")
	require.NoError(t, os.WriteFile(path, []byte("name: ${SAMPLE_NAME}\n"), 0o644))

	s := sample{Count: 3}
	require.NoError(t, Load(path, &s))
	assert.Equal(t, "assets", s.Name)
	assert.Equal(t, 3, s.Count)
}

func TestLoad_Validates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("count: -1\n"), 0o644))

	err := Load(path, &sample{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoad_MissingFile(t *testing.T) {
	assert.Error(t, Load(filepath.Join(t.TempDir(), "none.yaml"), &sample{}))
}

func TestLoadOptional(t *testing.T) {
	s := sample{Name: "default"}
	require.NoError(t, LoadOptional(filepath.Join(t.TempDir(), "none.yaml"), &s), "missing file falls back")
	assert.Equal(t, "default", s.Name)

	bad := sample{Count: -2}
	assert.Error(t, LoadOptional(filepath.Join(t.TempDir(), "none.yaml"), &bad), "defaults are still validated")
}
