// Package watcher owns the asset graph: it scans the input tree, reconciles
// it against the cached snapshot and, in live mode, turns debounced
// filesystem events into graph mutations followed by an update cycle.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/starford/assetforge/internal/asset"
	"github.com/starford/assetforge/internal/cache"
	"github.com/starford/assetforge/internal/checksum"
	"github.com/starford/assetforge/internal/filter"
)

// DefaultDebounce is the quiet period before a batch of events is applied.
const DefaultDebounce = 500 * time.Millisecond

// Handler is invoked with the graph during an update cycle.
type Handler func(ctx context.Context, g *asset.Graph) error

// OutputRemover deletes files previously produced from an asset.
type OutputRemover interface {
	DeleteOutputs(g *asset.Graph, a *asset.Asset) int
}

// Options configures a Watcher.
type Options struct {
	// Root is the input directory.
	Root   string
	Filter *filter.PathFilter
	// Cache, when set, is used to reconcile the first scan.
	Cache *cache.GraphCache
	// Source delivers live events; nil means a single build.
	Source   Source
	Debounce time.Duration
	Settings []AssetSetting
	Hash     checksum.Func
	// Outputs removes stale artifacts when a normal asset changes.
	Outputs OutputRemover
	Logger  *slog.Logger
}

// Watcher drives scan, reconciliation and the live update loop.
type Watcher struct {
	opts       Options
	settings   []compiledSetting
	onUpdate   Handler
	onComplete Handler
	logger     *slog.Logger

	graph *asset.Graph

	mu      sync.Mutex
	pending []Event
}

// New creates a Watcher. onUpdate runs the build; onComplete runs after the
// cleanup pass and typically persists the cache.
func New(opts Options, onUpdate, onComplete Handler) (*Watcher, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("watcher: root is required")
	}
	abs, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("watcher: resolve root: %w", err)
	}
	opts.Root = abs
	if opts.Filter == nil {
		if opts.Filter, err = filter.New(abs, nil); err != nil {
			return nil, err
		}
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Hash == nil {
		opts.Hash = checksum.Sum
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	settings, err := compileSettings(opts.Settings)
	if err != nil {
		return nil, fmt.Errorf("watcher: asset settings: %w", err)
	}
	noop := func(context.Context, *asset.Graph) error { return nil }
	if onUpdate == nil {
		onUpdate = noop
	}
	if onComplete == nil {
		onComplete = noop
	}
	return &Watcher{
		opts:       opts,
		settings:   settings,
		onUpdate:   onUpdate,
		onComplete: onComplete,
		logger:     opts.Logger,
	}, nil
}

// Graph returns the asset graph once Run has scanned the input tree.
func (w *Watcher) Graph() *asset.Graph { return w.graph }

// Run scans, reconciles and runs the first update cycle. Without a Source it
// returns afterwards; otherwise it applies live events until ctx is done.
// A cycle in flight when ctx is cancelled is allowed to finish.
func (w *Watcher) Run(ctx context.Context) error {
	g, err := w.scan()
	if err != nil {
		return err
	}
	if w.opts.Cache != nil && w.opts.Cache.Exists(ctx) {
		if err := w.reconcile(g, w.opts.Cache.Read(ctx)); err != nil {
			return err
		}
	}
	w.graph = g
	w.logger.Info("watcher: scanned", slog.String("root", w.opts.Root), slog.Int("assets", g.Len()))

	updateErr, err := w.cycle(ctx)
	if err != nil {
		return err
	}
	if w.opts.Source == nil {
		return updateErr
	}
	return w.watch(ctx)
}

func (w *Watcher) watch(ctx context.Context) error {
	flush := make(chan struct{}, 1)
	deb := NewDebouncer(w.opts.Debounce, func() {
		select {
		case flush <- struct{}{}:
		default:
		}
	})
	defer deb.Stop()

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.read(readCtx, deb)

	w.logger.Info("watcher: started", slog.String("root", w.opts.Root))
	for {
		select {
		case <-ctx.Done():
			deb.Stop()
			// A batch whose timer already fired is still applied.
			select {
			case <-flush:
				if batch := w.drain(); len(batch) > 0 {
					w.apply(batch)
					if _, err := w.cycle(ctx); err != nil {
						return err
					}
				}
			default:
			}
			w.logger.Info("watcher: stopped")
			return nil
		case <-flush:
			batch := w.drain()
			if len(batch) == 0 {
				continue
			}
			w.apply(batch)
			if _, err := w.cycle(ctx); err != nil {
				return err
			}
		}
	}
}

// read pulls raw events into the pending queue and restarts the debounce
// timer for each batch.
func (w *Watcher) read(ctx context.Context, deb *Debouncer) {
	for {
		batch, err := w.opts.Source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrSourceClosed) {
				return
			}
			w.logger.Error("watcher: error", slog.String("error", err.Error()))
			continue
		}
		if len(batch) == 0 {
			continue
		}
		w.mu.Lock()
		w.pending = append(w.pending, batch...)
		w.mu.Unlock()
		deb.Trigger()
	}
}

func (w *Watcher) drain() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	batch := w.pending
	w.pending = nil
	return batch
}

// cycle runs onUpdate, the cleanup pass and onComplete. Cancellation of ctx
// does not interrupt a started cycle. updateErr is reported for one-shot
// builds only; err from onComplete stops the watcher.
//
// A failed update skips cleanup and onComplete: node states carry over to
// the next cycle and the persisted snapshot keeps describing the last
// completed one.
func (w *Watcher) cycle(ctx context.Context) (updateErr, err error) {
	cctx := context.WithoutCancel(ctx)
	if updateErr = w.onUpdate(cctx, w.graph); updateErr != nil {
		w.logger.Error("watcher: update failed, changes kept for the next cycle", slog.String("error", updateErr.Error()))
		w.graph.ReleaseChildrenBuffers(w.graph.Root())
		return updateErr, nil
	}
	w.cleanup(w.graph)
	if err = w.onComplete(cctx, w.graph); err != nil {
		return updateErr, fmt.Errorf("watcher: complete: %w", err)
	}
	return updateErr, nil
}

// cleanup excises deleted nodes (children first) and demotes every other
// node to normal.
func (w *Watcher) cleanup(g *asset.Graph) {
	_ = g.WalkPost(g.Root(), asset.Files, func(a *asset.Asset) error {
		a.Skip = false
		switch a.State() {
		case asset.StateNormal:
		case asset.StateDeleted:
			if p := g.Parent(a); p != nil {
				g.RemoveChild(p, a)
			}
		default:
			a.SetState(asset.StateNormal)
		}
		return nil
	})
}

// apply mutates the graph for a batch of events, in order.
func (w *Watcher) apply(batch []Event) {
	g := w.graph
	for _, ev := range batch {
		path := filepath.Clean(ev.Path)
		if path == w.opts.Root || w.opts.Filter.ShouldIgnore(path) {
			continue
		}
		w.logger.Debug("watcher: event", slog.String("kind", ev.Kind.String()), slog.String("path", path))

		switch ev.Kind {
		case EventUnlink, EventUnlinkDir:
			a, ok := g.Get(path)
			if !ok {
				continue
			}
			markDeleted(g, a)
			g.MarkParentAsModified(a)

		case EventAdd, EventAddDir:
			w.added(g, path, ev.Kind == EventAddDir)

		default:
			a, ok := g.Get(path)
			if !ok {
				info, err := os.Stat(path)
				if err != nil {
					continue
				}
				w.added(g, path, info.IsDir())
				continue
			}
			w.changed(g, a)
		}
	}
}

func (w *Watcher) added(g *asset.Graph, path string, isDir bool) {
	if a, ok := g.Get(path); ok {
		if a.State() == asset.StateDeleted {
			// Saved by replacing the file: the old artifacts are stale.
			a.SetState(asset.StateModified)
			if w.opts.Outputs != nil && !a.IsFolder {
				w.opts.Outputs.DeleteOutputs(g, a)
			}
			g.MarkParentAsModified(a)
			return
		}
		w.changed(g, a)
		return
	}
	parent, err := w.ensureFolder(g, filepath.Dir(path))
	if err != nil {
		w.logger.Warn("watcher: add failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	a := w.newAsset(path, isDir)
	if err := g.AddChild(parent, a); err != nil {
		w.logger.Warn("watcher: add failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	g.MarkParentAsModified(a)
}

func (w *Watcher) changed(g *asset.Graph, a *asset.Asset) {
	if a.State() == asset.StateNormal {
		a.SetState(asset.StateModified)
		if w.opts.Outputs != nil && !a.IsFolder {
			w.opts.Outputs.DeleteOutputs(g, a)
		}
	}
	g.MarkParentAsModified(a)
}

// ensureFolder returns the folder node for dir, creating missing ancestors
// from the root downwards so synthesized folders always attach in depth order.
func (w *Watcher) ensureFolder(g *asset.Graph, dir string) (*asset.Asset, error) {
	var missing []string
	cur := dir
	for {
		if a, ok := g.Get(cur); ok {
			if a.State() == asset.StateDeleted {
				a.SetState(asset.StateModified)
			}
			parent := a
			for i := len(missing) - 1; i >= 0; i-- {
				folder := w.newAsset(missing[i], true)
				if err := g.AddChild(parent, folder); err != nil {
					return nil, err
				}
				parent = folder
			}
			return parent, nil
		}
		next := filepath.Dir(cur)
		if next == cur || !within(w.opts.Root, cur) {
			return nil, fmt.Errorf("watcher: %s is outside %s", dir, w.opts.Root)
		}
		missing = append(missing, cur)
		cur = next
	}
}

func (w *Watcher) newAsset(path string, isDir bool) *asset.Asset {
	a := asset.New(path, isDir)
	if rel, err := filepath.Rel(w.opts.Root, path); err == nil {
		applySettings(w.settings, a, rel)
	}
	return a
}

// markDeleted flags a and its whole filesystem subtree as deleted so every
// descendant's artifacts are removed too.
func markDeleted(g *asset.Graph, a *asset.Asset) {
	_ = g.Walk(a, asset.Files, func(n *asset.Asset) error {
		n.SetState(asset.StateDeleted)
		return nil
	})
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
