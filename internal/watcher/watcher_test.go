package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/assetforge/internal/asset"
	"github.com/starford/assetforge/internal/cache"
	"github.com/starford/assetforge/internal/filter"
	"github.com/starford/assetforge/internal/testutil"
)

// recorder captures node states seen by the update handler per cycle.
type recorder struct {
	mu     sync.Mutex
	cycles []map[string]asset.State
	count  atomic.Int32
}

func (r *recorder) update(_ context.Context, g *asset.Graph) error {
	states := map[string]asset.State{}
	_ = g.Walk(g.Root(), asset.Files, func(a *asset.Asset) error {
		states[a.Path] = a.State()
		return nil
	})
	r.mu.Lock()
	r.cycles = append(r.cycles, states)
	r.mu.Unlock()
	r.count.Add(1)
	return nil
}

func (r *recorder) last() map[string]asset.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycles[len(r.cycles)-1]
}

// derive attaches one artifact to every dirty file, the way a build would.
func derive(_ context.Context, g *asset.Graph) error {
	return g.Walk(g.Root(), asset.Files, func(a *asset.Asset) error {
		if a.IsFolder || a.State() == asset.StateNormal || a.State() == asset.StateDeleted {
			return nil
		}
		g.ClearTransformChildren(a)
		out := asset.New(a.Path+".out", false)
		out.TransformData = map[string]any{"hash": "abc"}
		if err := g.AddTransformChild(a, out); err != nil {
			return err
		}
		a.SetStats(&asset.Stats{Date: time.Unix(1700000000, 0).UTC(), Success: true})
		return nil
	})
}

func writeCache(gc *cache.GraphCache) Handler {
	return func(ctx context.Context, g *asset.Graph) error {
		return gc.Write(ctx, g)
	}
}

func newCache(path string) *cache.GraphCache {
	return cache.New(cache.NewJSONStore(path), testutil.Logger())
}

func newWatcher(t *testing.T, opts Options, onUpdate, onComplete Handler) *Watcher {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = testutil.Logger()
	}
	w, err := New(opts, onUpdate, onComplete)
	require.NoError(t, err)
	return w
}

func TestWatcher_ScanAppliesFilter(t *testing.T) {
	in := testutil.Tree(t, map[string]string{
		"a.css":             "a",
		"lib/b.js":          "b",
		"node_modules/x.js": "x",
		"empty/":            "",
	})
	f, err := filter.New(in, []string{"node_modules"})
	require.NoError(t, err)

	rec := &recorder{}
	w := newWatcher(t, Options{Root: in, Filter: f}, rec.update, nil)
	require.NoError(t, w.Run(context.Background()))

	states := rec.last()
	assert.Equal(t, asset.StateAdded, states[filepath.Join(in, "a.css")])
	assert.Equal(t, asset.StateAdded, states[filepath.Join(in, "lib", "b.js")])
	assert.Equal(t, asset.StateAdded, states[filepath.Join(in, "empty")])
	assert.NotContains(t, states, filepath.Join(in, "node_modules"))
	assert.NotContains(t, states, filepath.Join(in, "node_modules", "x.js"))

	// Cleanup demotes everything to normal.
	_ = w.Graph().Walk(w.Graph().Root(), asset.Files, func(a *asset.Asset) error {
		assert.Equal(t, asset.StateNormal, a.State(), a.Path)
		return nil
	})
}

func TestWatcher_ReconcileIsIdempotent(t *testing.T) {
	in := testutil.Tree(t, map[string]string{
		"a{w=100}.png":  "png",
		"css/main.css":  "body{}",
		"css/reset.css": "*{}",
	})
	cachePath := filepath.Join(t.TempDir(), "cache.json")

	gc := newCache(cachePath)
	first := newWatcher(t, Options{Root: in, Cache: gc}, derive, writeCache(gc))
	require.NoError(t, first.Run(context.Background()))
	snap1, err := os.ReadFile(cachePath)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		gc := newCache(cachePath)
		rec := &recorder{}
		w := newWatcher(t, Options{Root: in, Cache: gc}, rec.update, writeCache(gc))
		require.NoError(t, w.Run(context.Background()))

		for path, st := range rec.last() {
			assert.Equal(t, asset.StateNormal, st, path)
		}
		a, ok := w.Graph().Get(filepath.Join(in, "a{w=100}.png"))
		require.True(t, ok)
		children := w.Graph().TransformChildren(a)
		require.Len(t, children, 1)
		assert.Equal(t, "abc", children[0].TransformData["hash"])
		assert.EqualValues(t, 100, children[0].InheritedMetaData["w"])

		snap, err := os.ReadFile(cachePath)
		require.NoError(t, err)
		assert.Equal(t, string(snap1), string(snap), "run %d", i)
	}
}

func TestWatcher_HashGatedModification(t *testing.T) {
	in := testutil.Tree(t, map[string]string{
		"same.txt":        "same",
		"dir/changed.txt": "old",
	})
	cachePath := filepath.Join(t.TempDir(), "cache.json")
	gc := newCache(cachePath)
	first := newWatcher(t, Options{Root: in, Cache: gc}, derive, writeCache(gc))
	require.NoError(t, first.Run(context.Background()))

	testutil.WriteFile(t, in, "same.txt", "same")
	testutil.WriteFile(t, in, "dir/changed.txt", "new")

	outputs := &fakeOutputs{}
	gc = newCache(cachePath)
	rec := &recorder{}
	w := newWatcher(t, Options{Root: in, Cache: gc, Outputs: outputs}, rec.update, nil)
	require.NoError(t, w.Run(context.Background()))

	states := rec.last()
	assert.Equal(t, asset.StateNormal, states[filepath.Join(in, "same.txt")])
	assert.Equal(t, asset.StateModified, states[filepath.Join(in, "dir", "changed.txt")])
	assert.Equal(t, asset.StateModified, states[filepath.Join(in, "dir")])
	assert.Equal(t, asset.StateModified, states[in])
	assert.Equal(t, []string{filepath.Join(in, "dir", "changed.txt")}, outputs.paths())
}

func TestWatcher_DeletedSinceLastRun(t *testing.T) {
	in := testutil.Tree(t, map[string]string{
		"keep.txt":       "k",
		"gone/a.txt":     "a",
		"gone/sub/b.txt": "b",
	})
	cachePath := filepath.Join(t.TempDir(), "cache.json")
	gc := newCache(cachePath)
	first := newWatcher(t, Options{Root: in, Cache: gc}, derive, writeCache(gc))
	require.NoError(t, first.Run(context.Background()))

	require.NoError(t, os.RemoveAll(filepath.Join(in, "gone")))

	var artifacts []string
	onUpdate := func(_ context.Context, g *asset.Graph) error {
		_ = g.Walk(g.Root(), asset.Files, func(a *asset.Asset) error {
			if a.State() == asset.StateDeleted {
				for _, leaf := range g.FinalTransformedChildren(a) {
					if leaf != a {
						artifacts = append(artifacts, leaf.Path)
					}
				}
			}
			return nil
		})
		return nil
	}
	rec := &recorder{}
	gc = newCache(cachePath)
	w := newWatcher(t, Options{Root: in, Cache: gc}, func(ctx context.Context, g *asset.Graph) error {
		_ = rec.update(ctx, g)
		return onUpdate(ctx, g)
	}, writeCache(gc))
	require.NoError(t, w.Run(context.Background()))

	states := rec.last()
	assert.Equal(t, asset.StateDeleted, states[filepath.Join(in, "gone")])
	assert.Equal(t, asset.StateDeleted, states[filepath.Join(in, "gone", "a.txt")])
	assert.Equal(t, asset.StateDeleted, states[filepath.Join(in, "gone", "sub", "b.txt")])
	assert.Equal(t, asset.StateNormal, states[filepath.Join(in, "keep.txt")])
	assert.Equal(t, asset.StateModified, states[in])
	assert.ElementsMatch(t, []string{
		filepath.Join(in, "gone", "a.txt.out"),
		filepath.Join(in, "gone", "sub", "b.txt.out"),
	}, artifacts)

	_, ok := w.Graph().Get(filepath.Join(in, "gone"))
	assert.False(t, ok)
	snap := gc.Read(context.Background())
	assert.NotContains(t, snap, filepath.Join(in, "gone", "a.txt"))
	assert.NotContains(t, snap, filepath.Join(in, "gone", "a.txt.out"))
}

func TestWatcher_UnresolvedTransformParent(t *testing.T) {
	in := testutil.Tree(t, map[string]string{"a.txt": "a"})
	cachePath := filepath.Join(t.TempDir(), "cache.json")
	store := cache.NewJSONStore(cachePath)
	require.NoError(t, store.Save(context.Background(), cache.Snapshot{
		in: {IsFolder: true},
		filepath.Join(in, "orphan.out"): {TransformParent: filepath.Join(in, "never-cached.txt")},
	}))

	w := newWatcher(t, Options{Root: in, Cache: cache.New(store, testutil.Logger())}, nil, nil)
	err := w.Run(context.Background())
	require.ErrorIs(t, err, ErrUnresolvedTransformParent)
}

func TestWatcher_AssetSettings(t *testing.T) {
	in := testutil.Tree(t, map[string]string{
		"a{w=5}.css": "a",
		"b.css":      "b",
		"c.js":       "c",
	})
	w := newWatcher(t, Options{
		Root: in,
		Settings: []AssetSetting{{
			Files:    []string{"*.css"},
			Settings: asset.Settings{"minify": false},
			MetaData: map[string]any{"w": 1, "lang": "en"},
		}},
	}, nil, nil)
	require.NoError(t, w.Run(context.Background()))

	a, _ := w.Graph().Get(filepath.Join(in, "a{w=5}.css"))
	b, _ := w.Graph().Get(filepath.Join(in, "b.css"))
	c, _ := w.Graph().Get(filepath.Join(in, "c.js"))
	require.NotNil(t, a)
	assert.Equal(t, 5, a.MetaData["w"])
	assert.Equal(t, "en", a.MetaData["lang"])
	assert.Equal(t, false, a.Settings["minify"])
	assert.Equal(t, 1, b.MetaData["w"])
	assert.Nil(t, c.Settings)
	assert.NotContains(t, c.MetaData, "lang")
}

type fakeOutputs struct {
	mu      sync.Mutex
	removed []string
}

func (f *fakeOutputs) DeleteOutputs(_ *asset.Graph, a *asset.Asset) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, a.Path)
	return 1
}

func (f *fakeOutputs) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

type live struct {
	w    *Watcher
	src  *ChanSource
	rec  *recorder
	stop context.CancelFunc
	done chan error
}

func startLive(t *testing.T, in string, outputs OutputRemover) *live {
	t.Helper()
	src := NewChanSource(64)
	rec := &recorder{}
	w := newWatcher(t, Options{Root: in, Source: src, Debounce: 50 * time.Millisecond, Outputs: outputs}, rec.update, nil)
	ctx, cancel := context.WithCancel(context.Background())
	l := &live{w: w, src: src, rec: rec, stop: cancel, done: make(chan error, 1)}
	go func() { l.done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-l.done:
		case <-time.After(2 * time.Second):
			assert.Fail(t, "watcher did not stop")
		}
	})
	require.Eventually(t, func() bool { return rec.count.Load() == 1 }, 2*time.Second, 5*time.Millisecond, "initial cycle did not run")
	return l
}

func (l *live) waitCycles(t *testing.T, n int32) {
	t.Helper()
	require.Eventually(t, func() bool { return l.rec.count.Load() >= n }, 2*time.Second, 5*time.Millisecond, "cycle did not run")
}

func TestWatcher_DebounceCoalescesBurst(t *testing.T) {
	in := testutil.Tree(t, map[string]string{"a.txt": "a"})
	outputs := &fakeOutputs{}
	l := startLive(t, in, outputs)

	path := filepath.Join(in, "a.txt")
	for i := 0; i < 10; i++ {
		l.src.Push(Event{Kind: EventChange, Path: path})
		time.Sleep(5 * time.Millisecond)
	}
	l.waitCycles(t, 2)
	time.Sleep(200 * time.Millisecond)

	assert.EqualValues(t, 2, l.rec.count.Load())
	states := l.rec.last()
	assert.Equal(t, asset.StateModified, states[path])
	assert.Equal(t, asset.StateModified, states[in])
	// Outputs are removed once: later events in the batch hit a modified node.
	assert.Equal(t, []string{path}, outputs.paths())
}

func TestWatcher_AddSynthesizesAncestors(t *testing.T) {
	in := testutil.Tree(t, map[string]string{"a.txt": "a"})
	l := startLive(t, in, nil)

	deep := testutil.WriteFile(t, in, "x/y/z.txt", "z")
	l.src.Push(Event{Kind: EventAdd, Path: deep})
	l.waitCycles(t, 2)

	states := l.rec.last()
	assert.Equal(t, asset.StateAdded, states[deep])
	assert.Equal(t, asset.StateAdded, states[filepath.Join(in, "x")])
	assert.Equal(t, asset.StateAdded, states[filepath.Join(in, "x", "y")])
	assert.Equal(t, asset.StateModified, states[in])
	assert.Equal(t, asset.StateNormal, states[filepath.Join(in, "a.txt")])
}

func TestWatcher_UnlinkDirMarksSubtree(t *testing.T) {
	in := testutil.Tree(t, map[string]string{
		"d/a.txt":   "a",
		"d/e/b.txt": "b",
		"c.txt":     "c",
	})
	l := startLive(t, in, nil)

	require.NoError(t, os.RemoveAll(filepath.Join(in, "d")))
	l.src.Push(Event{Kind: EventUnlinkDir, Path: filepath.Join(in, "d")})
	l.waitCycles(t, 2)

	states := l.rec.last()
	assert.Equal(t, asset.StateDeleted, states[filepath.Join(in, "d")])
	assert.Equal(t, asset.StateDeleted, states[filepath.Join(in, "d", "a.txt")])
	assert.Equal(t, asset.StateDeleted, states[filepath.Join(in, "d", "e", "b.txt")])
	assert.Equal(t, asset.StateModified, states[in])

	l.src.Push(Event{Kind: EventChange, Path: filepath.Join(in, "c.txt")})
	l.waitCycles(t, 3)
	assert.NotContains(t, l.rec.last(), filepath.Join(in, "d"))
}

func TestWatcher_ReAddRevivesDeleted(t *testing.T) {
	in := testutil.Tree(t, map[string]string{"a.txt": "a"})
	outputs := &fakeOutputs{}
	l := startLive(t, in, outputs)

	// Editors that save by replacing the file emit unlink then add.
	path := filepath.Join(in, "a.txt")
	l.src.Push(Event{Kind: EventUnlink, Path: path}, Event{Kind: EventAdd, Path: path})
	l.waitCycles(t, 2)

	assert.Equal(t, asset.StateModified, l.rec.last()[path])
	assert.Equal(t, []string{path}, outputs.paths(), "artifacts of the replaced file are removed")
}

func TestWatcher_FailedAssetIsRetriedAfterRestart(t *testing.T) {
	in := testutil.Tree(t, map[string]string{"bad.txt": "b", "ok.txt": "o"})
	cachePath := filepath.Join(t.TempDir(), "cache.json")

	failBad := func(_ context.Context, g *asset.Graph) error {
		return g.Walk(g.Root(), asset.Files, func(a *asset.Asset) error {
			if a.IsFolder {
				return nil
			}
			ok := a.Filename() != "bad.txt"
			a.SetStats(&asset.Stats{Date: time.Unix(1700000000, 0).UTC(), Success: ok})
			return nil
		})
	}
	gc := newCache(cachePath)
	first := newWatcher(t, Options{Root: in, Cache: gc}, failBad, writeCache(gc))
	require.NoError(t, first.Run(context.Background()))

	outputs := &fakeOutputs{}
	rec := &recorder{}
	gc = newCache(cachePath)
	w := newWatcher(t, Options{Root: in, Cache: gc, Outputs: outputs}, rec.update, nil)
	require.NoError(t, w.Run(context.Background()))

	states := rec.last()
	assert.Equal(t, asset.StateModified, states[filepath.Join(in, "bad.txt")], "unchanged but failed last run")
	assert.Equal(t, asset.StateNormal, states[filepath.Join(in, "ok.txt")])
	assert.Equal(t, asset.StateModified, states[in])
	assert.Equal(t, []string{filepath.Join(in, "bad.txt")}, outputs.paths())
}

func TestWatcher_FailedUpdateKeepsChanges(t *testing.T) {
	in := testutil.Tree(t, map[string]string{"a.txt": "a", "b.txt": "b"})
	rec := &recorder{}
	var completes atomic.Int32
	src := NewChanSource(8)
	w := newWatcher(t, Options{Root: in, Source: src, Debounce: 20 * time.Millisecond},
		func(ctx context.Context, g *asset.Graph) error {
			_ = rec.update(ctx, g)
			if rec.count.Load() == 2 {
				return errors.New("start hook failed")
			}
			return nil
		},
		func(context.Context, *asset.Graph) error {
			completes.Add(1)
			return nil
		})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()
	require.Eventually(t, func() bool { return rec.count.Load() == 1 }, 2*time.Second, 5*time.Millisecond, "initial cycle did not run")

	a := filepath.Join(in, "a.txt")
	require.NoError(t, os.Remove(a))
	src.Push(Event{Kind: EventUnlink, Path: a})
	require.Eventually(t, func() bool { return rec.count.Load() == 2 }, 2*time.Second, 5*time.Millisecond, "failing cycle did not run")

	b := filepath.Join(in, "b.txt")
	src.Push(Event{Kind: EventChange, Path: b})
	require.Eventually(t, func() bool { return rec.count.Load() == 3 }, 2*time.Second, 5*time.Millisecond, "recovery cycle did not run")

	states := rec.last()
	assert.Equal(t, asset.StateDeleted, states[a], "deletion carried over from the failed cycle")
	assert.Equal(t, asset.StateModified, states[b])
	require.Eventually(t, func() bool { return completes.Load() == 2 }, time.Second, 5*time.Millisecond, "complete ran for the failed cycle")
	assert.EqualValues(t, 2, completes.Load())
}

func TestWatcher_FiredBatchAppliedOnStop(t *testing.T) {
	in := testutil.Tree(t, map[string]string{"a.txt": "a", "b.txt": "b"})
	rec := &recorder{}
	entered := make(chan struct{})
	release := make(chan struct{})
	src := NewChanSource(8)
	w := newWatcher(t, Options{Root: in, Source: src, Debounce: 20 * time.Millisecond},
		func(ctx context.Context, g *asset.Graph) error {
			_ = rec.update(ctx, g)
			if rec.count.Load() == 2 {
				close(entered)
				<-release
			}
			return nil
		}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	require.Eventually(t, func() bool { return rec.count.Load() == 1 }, 2*time.Second, 5*time.Millisecond, "initial cycle did not run")

	src.Push(Event{Kind: EventChange, Path: filepath.Join(in, "a.txt")})
	<-entered
	// The next batch's timer fires while the cycle is still running.
	b := filepath.Join(in, "b.txt")
	src.Push(Event{Kind: EventChange, Path: b})
	time.Sleep(150 * time.Millisecond)
	cancel()
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "watcher did not stop")
	}
	assert.EqualValues(t, 3, rec.count.Load())
	assert.Equal(t, asset.StateModified, rec.last()[b])
}

func TestWatcher_InFlightCycleFinishesOnStop(t *testing.T) {
	in := testutil.Tree(t, map[string]string{"a.txt": "a"})
	release := make(chan struct{})
	entered := make(chan struct{})
	var cycleErr atomic.Value

	src := NewChanSource(1)
	w := newWatcher(t, Options{Root: in, Source: src}, func(ctx context.Context, _ *asset.Graph) error {
		close(entered)
		<-release
		if ctx.Err() != nil {
			cycleErr.Store(ctx.Err())
		}
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	<-entered
	cancel()
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "watcher did not stop")
	}
	assert.Nil(t, cycleErr.Load())
	assert.Equal(t, asset.StateNormal, w.Graph().Root().State())
}

func TestDebouncer(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(30*time.Millisecond, func() { calls.Add(1) })
	for i := 0; i < 10; i++ {
		d.Trigger()
		time.Sleep(2 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond, "debouncer did not fire")
	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())

	d.Trigger()
	assert.True(t, d.Stop())
	d.Trigger()
	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
}

func TestFSNotifySource(t *testing.T) {
	if testing.Short() {
		t.Skip("filesystem notifications")
	}
	in := testutil.Tree(t, map[string]string{"a.txt": "a", "skip/": ""})
	f, err := filter.New(in, []string{"skip"})
	require.NoError(t, err)
	src, err := NewFSNotifySource(f, testutil.Logger())
	require.NoError(t, err)

	rec := &recorder{}
	w := newWatcher(t, Options{Root: in, Filter: f, Source: src, Debounce: 50 * time.Millisecond}, rec.update, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
		_ = src.Close()
	}()
	require.Eventually(t, func() bool { return rec.count.Load() == 1 }, 2*time.Second, 5*time.Millisecond, "initial cycle did not run")

	testutil.WriteFile(t, in, "skip/ignored.txt", "i")
	added := testutil.WriteFile(t, in, "new/b.txt", "b")
	require.Eventually(t, func() bool {
		if rec.count.Load() < 2 {
			return false
		}
		_, ok := rec.last()[added]
		return ok
	}, 3*time.Second, 10*time.Millisecond, "new file was not picked up")
	assert.NotContains(t, rec.last(), filepath.Join(in, "skip", "ignored.txt"))
}
