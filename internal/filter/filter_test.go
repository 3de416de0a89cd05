package filter

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathFilter(t *testing.T) {
	root := t.TempDir()
	f, err := New(root, []string{"**/*.tmp", "drafts", ".git/**"})
	require.NoError(t, err)

	cases := map[string]bool{
		root:                                   false,
		filepath.Join(root, "a.png"):           false,
		filepath.Join(root, "x", "b.tmp"):      true,
		filepath.Join(root, "drafts"):          true,
		filepath.Join(root, "drafts", "c.png"): true,
		filepath.Join(root, ".git", "HEAD"):    true,
		filepath.Join(root, "..", "outside"):   true,
	}
	for p, want := range cases {
		assert.Equal(t, want, f.ShouldIgnore(p), p)
		assert.Equal(t, !want, f.ShouldInclude(p), p)
	}
}

func TestPathFilter_Memoized(t *testing.T) {
	root := t.TempDir()
	f, err := New(root, []string{"*.tmp"})
	require.NoError(t, err)

	p := filepath.Join(root, "a.tmp")
	assert.True(t, f.ShouldIgnore(p))
	v, ok := f.decided.Get(p)
	require.True(t, ok)
	assert.True(t, v)
}

func TestNewMatcher_InvalidGlob(t *testing.T) {
	_, err := NewMatcher([]string{"[abc"})
	assert.Error(t, err)
}

func TestMatcher(t *testing.T) {
	m, err := NewMatcher([]string{"./images/**/*.png", "fonts/*"})
	require.NoError(t, err)
	assert.True(t, m.Match("images/ui/btn.png"))
	assert.True(t, m.Match("fonts/a.ttf"))
	assert.False(t, m.Match("audio/a.ogg"))
}
