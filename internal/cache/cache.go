// Package cache persists asset graph snapshots between process runs.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/starford/assetforge/internal/asset"
)

// CachedAsset is the persisted form of one graph node.
type CachedAsset struct {
	IsFolder          bool           `json:"isFolder"`
	Hash              string         `json:"hash,omitempty"`
	Parent            string         `json:"parent,omitempty"`
	TransformParent   string         `json:"transformParent,omitempty"`
	MetaData          map[string]any `json:"metaData"`
	InheritedMetaData map[string]any `json:"inheritedMetaData"`
	TransformData     map[string]any `json:"transformData"`
	Stats             *asset.Stats   `json:"stats,omitempty"`
}

// Snapshot maps absolute asset paths to their cached form.
type Snapshot map[string]CachedAsset

// Store is a persistence backend for snapshots.
type Store interface {
	// Exists reports whether a snapshot has been persisted.
	Exists(ctx context.Context) (bool, error)
	// Load returns the persisted snapshot.
	Load(ctx context.Context) (Snapshot, error)
	// Save replaces the persisted snapshot.
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}

// GraphCache reads and writes asset graph snapshots through a Store and
// keeps the last known snapshot in memory.
type GraphCache struct {
	store  Store
	logger *slog.Logger

	mu     sync.RWMutex
	loaded bool
	snap   Snapshot
}

// New creates a GraphCache over store.
func New(store Store, logger *slog.Logger) *GraphCache {
	return &GraphCache{store: store, logger: logger}
}

// Exists reports whether a persisted snapshot is present.
func (c *GraphCache) Exists(ctx context.Context) bool {
	c.mu.RLock()
	loaded := c.loaded && len(c.snap) > 0
	c.mu.RUnlock()
	if loaded {
		return true
	}
	ok, err := c.store.Exists(ctx)
	if err != nil {
		c.logger.Warn("cache: exists check failed", slog.String("error", err.Error()))
		return false
	}
	return ok
}

// Read returns the last persisted snapshot. A missing or unreadable snapshot
// yields an empty one; the caller then rebuilds everything.
func (c *GraphCache) Read(ctx context.Context) Snapshot {
	c.mu.RLock()
	if c.loaded {
		out := maps.Clone(c.snap)
		c.mu.RUnlock()
		return out
	}
	c.mu.RUnlock()

	snap, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("cache: read failed, starting from empty cache", slog.String("error", err.Error()))
		snap = Snapshot{}
	}
	if snap == nil {
		snap = Snapshot{}
	}

	c.mu.Lock()
	c.snap = snap
	c.loaded = true
	c.mu.Unlock()
	return maps.Clone(snap)
}

// Write serializes every node reachable from the graph root and persists it.
// The in-memory snapshot is replaced before the store is written.
func (c *GraphCache) Write(ctx context.Context, g *asset.Graph) error {
	snap, err := Serialize(g)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.snap = snap
	c.loaded = true
	c.mu.Unlock()

	if err := c.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("cache: save: %w", err)
	}
	c.logger.Debug("cache: written", slog.Int("assets", len(snap)))
	return nil
}

// Close closes the underlying store.
func (c *GraphCache) Close() error {
	return c.store.Close()
}

// Serialize builds a snapshot of g. Filesystem nodes carry their content
// hash; derived artifacts do not, since they are recomputed whenever their
// source changes.
func Serialize(g *asset.Graph) (Snapshot, error) {
	if g == nil || g.Root() == nil {
		return nil, fmt.Errorf("cache: serialize: %w", asset.ErrNotInGraph)
	}
	snap := Snapshot{}
	root := g.Root()
	err := g.Walk(root, asset.Files, func(a *asset.Asset) error {
		entry := CachedAsset{
			IsFolder:          a.IsFolder,
			MetaData:          nonNil(a.MetaData),
			InheritedMetaData: nonNil(a.InheritedMetaData),
			TransformData:     nonNil(a.TransformData),
			Stats:             a.Stats(),
		}
		if p := g.Parent(a); p != nil {
			entry.Parent = p.Path
		}
		if !a.IsFolder {
			// An unreadable file is stored without a hash so the next run
			// sees it as modified.
			if h, err := a.Hash(); err == nil {
				entry.Hash = h
			}
		}
		snap[a.Path] = entry

		for _, tc := range g.TransformChildren(a) {
			serializeTransforms(g, a, tc, snap)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func serializeTransforms(g *asset.Graph, parent, a *asset.Asset, snap Snapshot) {
	snap[a.Path] = CachedAsset{
		IsFolder:          a.IsFolder,
		TransformParent:   parent.Path,
		MetaData:          nonNil(a.MetaData),
		InheritedMetaData: nonNil(a.InheritedMetaData),
		TransformData:     nonNil(a.TransformData),
		Stats:             a.Stats(),
	}
	for _, tc := range g.TransformChildren(a) {
		serializeTransforms(g, a, tc, snap)
	}
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return maps.Clone(m)
}
