// Package build drives one update cycle over the asset graph: start hooks,
// dirty-set collection, bounded concurrent pipeline runs, finish hooks, cache
// persistence and buffer release.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/assetforge/internal/asset"
	"github.com/starford/assetforge/internal/cache"
	"github.com/starford/assetforge/internal/pipeline"
	"github.com/starford/assetforge/internal/storage"
)

// DefaultConcurrency caps in-flight pipeline runs per cycle.
const DefaultConcurrency = 5

// ErrStrict is returned by Complete when strict mode is on and the cycle
// recorded at least one failure.
var ErrStrict = errors.New("build: errors reported in strict mode")

// Event kinds passed to the Notifier.
const (
	EventStarted   = "build.started"
	EventCompleted = "build.completed"
	EventFailed    = "asset.failed"
)

// Notifier receives build events. It must not block.
type Notifier func(kind string, data any)

// Summary describes one update cycle.
type Summary struct {
	CycleID        string            `json:"cycle_id"`
	Started        time.Time         `json:"started"`
	Duration       time.Duration     `json:"duration"`
	Processed      int               `json:"processed"`
	Failed         int               `json:"failed"`
	Skipped        int               `json:"skipped"`
	DeletedOutputs int               `json:"deleted_outputs"`
	Errors         map[string]string `json:"errors,omitempty"`
}

// Builder is the build orchestrator.
type Builder struct {
	pipeline    *pipeline.Pipeline
	store       storage.Provider
	cache       *cache.GraphCache
	logger      *slog.Logger
	concurrency int
	strict      bool
	notify      Notifier

	mu      sync.Mutex
	current *Summary
	last    *Summary
}

// Option configures a Builder.
type Option func(*Builder)

// WithConcurrency caps concurrent pipeline runs. Values below 1 use the default.
func WithConcurrency(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithStrict makes Complete fail when any asset failed.
func WithStrict(strict bool) Option {
	return func(b *Builder) { b.strict = strict }
}

// WithCache persists the graph after every cycle.
func WithCache(c *cache.GraphCache) Option {
	return func(b *Builder) { b.cache = c }
}

// WithNotifier sets the event sink.
func WithNotifier(n Notifier) Option {
	return func(b *Builder) { b.notify = n }
}

// New creates a Builder.
func New(p *pipeline.Pipeline, store storage.Provider, logger *slog.Logger, opts ...Option) *Builder {
	b := &Builder{
		pipeline:    p,
		store:       store,
		logger:      logger,
		concurrency: DefaultConcurrency,
		notify:      func(string, any) {},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Update runs start hooks, transforms every dirty asset and runs finish hooks.
// A failing asset is recorded in its stats and does not stop its siblings.
func (b *Builder) Update(ctx context.Context, g *asset.Graph) error {
	sum := &Summary{
		CycleID: uuid.NewString(),
		Started: time.Now(),
		Errors:  map[string]string{},
	}
	b.mu.Lock()
	b.current = sum
	b.mu.Unlock()

	logger := b.logger.With(slog.String("cycle", sum.CycleID))
	b.notify(EventStarted, map[string]string{"cycle_id": sum.CycleID})

	if err := b.pipeline.Start(ctx, g); err != nil {
		return err
	}

	dirty, deleted := b.collect(g, logger)
	b.mu.Lock()
	sum.DeletedOutputs = deleted
	b.mu.Unlock()
	logger.Info("build: cycle started", slog.Int("dirty", len(dirty)), slog.Int("deleted_outputs", deleted))

	// Folders run level by level ahead of files so a folder stage can mark
	// its contents skipped before they are dispatched.
	folders, files := partition(dirty)
	for _, level := range levels(g, folders) {
		b.run(ctx, g, level, sum, logger)
	}
	b.run(ctx, g, files, sum, logger)

	if err := ctx.Err(); err != nil {
		return err
	}
	return b.pipeline.Finish(ctx, g)
}

// run transforms batch with at most b.concurrency pipelines in flight.
func (b *Builder) run(ctx context.Context, g *asset.Graph, batch []*asset.Asset, sum *Summary, logger *slog.Logger) {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.concurrency)
	for _, a := range batch {
		if a.Skip {
			b.mu.Lock()
			sum.Skipped++
			b.mu.Unlock()
			continue
		}
		eg.Go(func() error {
			b.process(egCtx, g, a, sum, logger)
			return nil
		})
	}
	_ = eg.Wait()
}

func partition(dirty []*asset.Asset) (folders, files []*asset.Asset) {
	for _, a := range dirty {
		if a.IsFolder {
			folders = append(folders, a)
		} else {
			files = append(files, a)
		}
	}
	return folders, files
}

// levels groups folders by depth, shallowest first.
func levels(g *asset.Graph, folders []*asset.Asset) [][]*asset.Asset {
	byDepth := map[int][]*asset.Asset{}
	for _, a := range folders {
		d := 0
		for p := g.Parent(a); p != nil; p = g.Parent(p) {
			d++
		}
		byDepth[d] = append(byDepth[d], a)
	}
	out := make([][]*asset.Asset, 0, len(byDepth))
	for _, d := range slices.Sorted(maps.Keys(byDepth)) {
		out = append(out, byDepth[d])
	}
	return out
}

// collect walks the filesystem tree depth-first. Non-normal nodes are dirty;
// deleted nodes only have their produced files removed.
func (b *Builder) collect(g *asset.Graph, logger *slog.Logger) ([]*asset.Asset, int) {
	var dirty []*asset.Asset
	removed := 0
	_ = g.Walk(g.Root(), asset.Files, func(a *asset.Asset) error {
		switch a.State() {
		case asset.StateNormal:
		case asset.StateDeleted:
			removed += b.deleteOutputs(g, a, logger)
		default:
			dirty = append(dirty, a)
		}
		return nil
	})
	return dirty, removed
}

// deleteOutputs removes the files backing a's final artifacts. Artifacts
// outside the output directory are in-memory intermediates and are left alone.
func (b *Builder) deleteOutputs(g *asset.Graph, a *asset.Asset, logger *slog.Logger) int {
	n := 0
	for _, leaf := range g.FinalTransformedChildren(a) {
		if leaf == a || leaf.IsFolder || !within(b.store.Root(), leaf.Path) {
			continue
		}
		if err := b.store.Delete(leaf.Path); err != nil {
			logger.Warn("build: delete output failed", slog.String("path", leaf.Path), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("build: output deleted", slog.String("path", leaf.Path))
		n++
	}
	return n
}

// DeleteOutputs removes every file previously produced from a.
func (b *Builder) DeleteOutputs(g *asset.Graph, a *asset.Asset) int {
	return b.deleteOutputs(g, a, b.logger)
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

func (b *Builder) process(ctx context.Context, g *asset.Graph, a *asset.Asset, sum *Summary, logger *slog.Logger) {
	defer g.ReleaseBuffers(a)

	start := time.Now()
	err := b.pipeline.Transform(ctx, a)
	stats := &asset.Stats{
		Date:     start,
		Duration: time.Since(start),
		Success:  err == nil,
	}

	b.mu.Lock()
	sum.Processed++
	if err != nil {
		stats.Error = err.Error()
		sum.Failed++
		sum.Errors[a.Path] = err.Error()
	}
	b.mu.Unlock()
	a.SetStats(stats)

	if err != nil {
		logger.Error("build: asset failed", slog.String("path", a.Path), slog.String("error", err.Error()))
		b.notify(EventFailed, map[string]string{"path": a.Path, "error": err.Error()})
		return
	}
	logger.Debug("build: asset transformed", slog.String("path", a.Path), slog.Duration("took", stats.Duration))
}

// Complete persists the graph and releases every content buffer. It runs
// after the watcher's cleanup pass. A failed cache write is logged only; the
// next run then rebuilds from a stale or empty snapshot.
func (b *Builder) Complete(ctx context.Context, g *asset.Graph) error {
	defer g.ReleaseChildrenBuffers(g.Root())

	b.mu.Lock()
	sum := b.current
	b.current = nil
	b.mu.Unlock()
	if sum == nil {
		sum = &Summary{CycleID: uuid.NewString(), Started: time.Now(), Errors: map[string]string{}}
	}

	if b.cache != nil {
		if err := b.cache.Write(ctx, g); err != nil {
			b.logger.Error("build: cache write failed", slog.String("error", err.Error()))
		}
	}

	b.mu.Lock()
	sum.Duration = time.Since(sum.Started)
	final := *sum
	final.Errors = maps.Clone(sum.Errors)
	b.last = &final
	b.mu.Unlock()

	b.logger.Info("build: cycle completed",
		slog.String("cycle", final.CycleID),
		slog.Int("processed", final.Processed),
		slog.Int("failed", final.Failed),
		slog.Int("skipped", final.Skipped),
		slog.Int("deleted_outputs", final.DeletedOutputs),
		slog.Duration("took", final.Duration))
	b.notify(EventCompleted, final)

	if b.strict && final.Failed > 0 {
		return fmt.Errorf("%w: %d asset(s) failed", ErrStrict, final.Failed)
	}
	return nil
}

// LastSummary returns the summary of the last completed cycle, or nil.
func (b *Builder) LastSummary() *Summary {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return nil
	}
	s := *b.last
	s.Errors = maps.Clone(b.last.Errors)
	return &s
}
