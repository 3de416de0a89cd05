package compress

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/assetforge/internal/asset"
	"github.com/starford/assetforge/internal/pipeline"
	"github.com/starford/assetforge/internal/testutil"
)

func setup(t *testing.T, files map[string]string, overrides map[string]any) (*pipeline.Pipeline, *asset.Graph, string, string) {
	t.Helper()
	in := testutil.Tree(t, files)
	store := testutil.Output(t)
	pc := pipeline.NewContext(in, store, testutil.Logger())
	p, err := pipeline.New(pc, []pipeline.Stage{New()}, overrides)
	require.NoError(t, err)
	g := asset.NewGraph(asset.New(in, true))
	for rel := range files {
		require.NoError(t, g.AddChild(g.Root(), asset.New(filepath.Join(in, rel), false)))
	}
	require.NoError(t, p.Start(context.Background(), g))
	return p, g, in, store.Root()
}

func TestCompress_Variants(t *testing.T) {
	body := strings.Repeat("body { color: red; }\n", 50)
	p, g, in, out := setup(t, map[string]string{"main.css": body}, nil)
	a, _ := g.Get(filepath.Join(in, "main.css"))
	require.NoError(t, p.Transform(context.Background(), a))

	leaves := g.FinalTransformedChildren(a)
	var paths []string
	for _, l := range leaves {
		paths = append(paths, l.Path)
	}
	assert.ElementsMatch(t, []string{
		filepath.Join(out, "main.css"),
		filepath.Join(out, "main.css.gz"),
		filepath.Join(out, "main.css.zst"),
	}, paths)

	r, err := gzip.NewReader(bytes.NewReader(readFile(t, filepath.Join(out, "main.css.gz"))))
	require.NoError(t, err)
	plain, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, body, string(plain))

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	plain, err = dec.DecodeAll(readFile(t, filepath.Join(out, "main.css.zst")), nil)
	require.NoError(t, err)
	assert.Equal(t, body, string(plain))
}

func TestCompress_Skips(t *testing.T) {
	big := strings.Repeat("x", 1024)
	p, g, in, _ := setup(t, map[string]string{
		"small.js":      "1",
		"photo.png":     big,
		"vendor{nc}.js": big,
	}, nil)
	for _, name := range []string{"small.js", "photo.png", "vendor{nc}.js"} {
		a, _ := g.Get(filepath.Join(in, name))
		require.NoError(t, p.Transform(context.Background(), a))
		assert.Len(t, g.FinalTransformedChildren(a), 1, name)
	}
}

func TestCompress_CodecDisabled(t *testing.T) {
	big := strings.Repeat("x", 1024)
	p, g, in, out := setup(t, map[string]string{"app.js": big}, map[string]any{
		Name: map[string]any{"zstd": false},
	})
	a, _ := g.Get(filepath.Join(in, "app.js"))
	require.NoError(t, p.Transform(context.Background(), a))

	var paths []string
	for _, l := range g.FinalTransformedChildren(a) {
		paths = append(paths, l.Path)
	}
	assert.ElementsMatch(t, []string{filepath.Join(out, "app.js"), filepath.Join(out, "app.js.gz")}, paths)
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}
