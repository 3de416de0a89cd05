package asset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTags(t *testing.T) {
	tags := ParseTags("hero{nc}{scale=0.5}{sizes=12&16&big}{name=logo}.png")
	assert.Equal(t, true, tags["nc"])
	assert.Equal(t, 0.5, tags["scale"])
	assert.Equal(t, []any{12, 16, "big"}, tags["sizes"])
	assert.Equal(t, "logo", tags["name"])

	assert.Empty(t, ParseTags("plain.png"))
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, "sprites/hero.png", StripTags("sprites{tps}/hero{nc}.png"))
	assert.True(t, HasTags("a/b{x}.png"))
	assert.False(t, HasTags("a{x}/b.png"))
}

func TestNew_ParsesMetaData(t *testing.T) {
	a := New("/in/icon{copy}.svg", false)
	assert.Equal(t, StateAdded, a.State())
	assert.Equal(t, ".svg", a.Extension())
	assert.Equal(t, "icon{copy}.svg", a.Filename())
	assert.True(t, a.HasTag("copy"))
}

func TestBuffer_LazyReadAndHash(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(p, []byte("one"), 0o644))

	a := New(p, false)
	h1, err := a.Hash()
	require.NoError(t, err)

	a.SetBuffer([]byte("two"))
	h2, err := a.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2, "hash must be invalidated when buffer changes")

	a.SetBuffer([]byte("one"))
	h3, _ := a.Hash()
	assert.Equal(t, h1, h3)
}

func TestHash_InvalidatedOnStateChange(t *testing.T) {
	a := New("/virtual.txt", false)
	a.SetBuffer([]byte("x"))
	_, err := a.Hash()
	require.NoError(t, err)

	a.SetState(StateModified)
	a.mu.Lock()
	cached := a.hash
	a.mu.Unlock()
	assert.Empty(t, cached)
}

func TestFolder_HasNoBufferOrHash(t *testing.T) {
	f := New(t.TempDir(), true)
	f.SetBuffer([]byte("ignored"))
	buf, err := f.Buffer()
	require.NoError(t, err)
	assert.Nil(t, buf)
	h, err := f.Hash()
	require.NoError(t, err)
	assert.Empty(t, h)
}

func TestReleaseBuffer_RereadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(p, []byte("disk"), 0o644))

	a := New(p, false)
	a.SetBuffer([]byte("memory"))
	a.ReleaseBuffer()
	buf, err := a.Buffer()
	require.NoError(t, err)
	assert.Equal(t, "disk", string(buf))
}
