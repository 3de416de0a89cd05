package watcher

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/starford/assetforge/internal/asset"
	"github.com/starford/assetforge/internal/cache"
)

// ErrUnresolvedTransformParent is returned when a cached artifact refers to
// a transform parent that is neither live nor itself restorable.
var ErrUnresolvedTransformParent = errors.New("unresolved transform parent")

// reconcile classifies every node of a freshly scanned graph against the
// cached snapshot and restores previously produced artifacts.
func (w *Watcher) reconcile(g *asset.Graph, snap cache.Snapshot) error {
	w.restoreDeleted(g, snap)

	err := g.Walk(g.Root(), asset.Files, func(a *asset.Asset) error {
		if a.State() == asset.StateDeleted {
			g.MarkParentAsModified(a)
			return nil
		}
		cached, ok := snap[a.Path]
		if !ok || cached.TransformParent != "" {
			a.SetState(asset.StateAdded)
			g.MarkParentAsModified(a)
			return nil
		}
		a.TransformData = cloneMap(cached.TransformData)
		a.SetStats(cached.Stats)
		// An asset that failed last time is retried even when unchanged.
		if cached.Stats != nil && !cached.Stats.Success {
			a.SetState(asset.StateModified)
			g.MarkParentAsModified(a)
			return nil
		}
		if a.IsFolder {
			a.SetState(asset.StateNormal)
			return nil
		}
		h, err := a.Hash()
		if err != nil || h != cached.Hash {
			a.SetState(asset.StateModified)
			g.MarkParentAsModified(a)
			return nil
		}
		a.SetState(asset.StateNormal)
		return nil
	})
	if err != nil {
		return err
	}

	if err := w.restoreTransforms(g, snap); err != nil {
		return err
	}

	// Stale artifacts of files changed while nothing was watching.
	if w.opts.Outputs != nil {
		_ = g.Walk(g.Root(), asset.Files, func(a *asset.Asset) error {
			if a.State() == asset.StateModified && !a.IsFolder {
				w.opts.Outputs.DeleteOutputs(g, a)
			}
			return nil
		})
	}
	return nil
}

// restoreDeleted synthesizes cached filesystem nodes that the scan no longer
// sees. Paths are processed shallowest first so a parent is always attached
// before its children.
func (w *Watcher) restoreDeleted(g *asset.Graph, snap cache.Snapshot) {
	var missing []string
	for path, entry := range snap {
		if entry.TransformParent != "" || entry.Parent == "" {
			continue
		}
		if _, ok := g.Get(path); ok {
			continue
		}
		if !within(w.opts.Root, path) || w.opts.Filter.ShouldIgnore(path) {
			continue
		}
		missing = append(missing, path)
	}
	slices.SortFunc(missing, byDepth)

	for _, path := range missing {
		entry := snap[path]
		parent, ok := g.Get(entry.Parent)
		if !ok {
			w.logger.Warn("watcher: cached parent missing", slog.String("path", path), slog.String("parent", entry.Parent))
			continue
		}
		a := asset.New(path, entry.IsFolder)
		a.MetaData = cloneMap(entry.MetaData)
		if err := g.AddChild(parent, a); err != nil {
			w.logger.Warn("watcher: restore failed", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		a.TransformData = cloneMap(entry.TransformData)
		a.SetStats(entry.Stats)
		a.SetState(asset.StateDeleted)
	}
}

// restoreTransforms re-creates cached artifacts under their transform
// parents, which may themselves be restored artifacts.
func (w *Watcher) restoreTransforms(g *asset.Graph, snap cache.Snapshot) error {
	var paths []string
	for path, entry := range snap {
		if entry.TransformParent != "" {
			paths = append(paths, path)
		}
	}
	slices.Sort(paths)

	restored := make(map[string]*asset.Asset, len(paths))
	visiting := make(map[string]bool)

	var restore func(path string) (*asset.Asset, error)
	restore = func(path string) (*asset.Asset, error) {
		if a, ok := restored[path]; ok {
			return a, nil
		}
		entry, ok := snap[path]
		if !ok {
			return nil, fmt.Errorf("watcher: restore %s: %w", path, ErrUnresolvedTransformParent)
		}
		if entry.TransformParent == "" {
			a, live := g.Get(path)
			if !live {
				// Source excluded by the filter since the snapshot was taken.
				return nil, nil
			}
			return a, nil
		}
		if visiting[path] {
			return nil, fmt.Errorf("watcher: restore %s: cycle: %w", path, ErrUnresolvedTransformParent)
		}
		visiting[path] = true
		defer delete(visiting, path)

		parent, err := restore(entry.TransformParent)
		if err != nil || parent == nil {
			return nil, err
		}
		a := asset.New(path, entry.IsFolder)
		if err := g.AddTransformChild(parent, a); err != nil {
			return nil, fmt.Errorf("watcher: restore %s: %w", path, err)
		}
		a.MetaData = cloneMap(entry.MetaData)
		a.InheritedMetaData = cloneMap(entry.InheritedMetaData)
		a.TransformData = cloneMap(entry.TransformData)
		a.SetStats(entry.Stats)
		a.SetState(asset.StateNormal)
		restored[path] = a
		return a, nil
	}

	for _, path := range paths {
		if _, err := restore(path); err != nil {
			return err
		}
	}
	w.logger.Debug("watcher: artifacts restored", slog.Int("count", len(restored)))
	return nil
}

func byDepth(a, b string) int {
	da := strings.Count(filepath.ToSlash(a), "/")
	db := strings.Count(filepath.ToSlash(b), "/")
	if da != db {
		return da - db
	}
	return strings.Compare(a, b)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return maps.Clone(m)
}
