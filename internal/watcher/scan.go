package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/starford/assetforge/internal/asset"
)

// scan builds a fresh graph from the input tree. Every node starts added.
func (w *Watcher) scan() (*asset.Graph, error) {
	root := asset.New(w.opts.Root, true)
	g := asset.NewGraph(root, asset.WithHash(w.opts.Hash))

	err := filepath.WalkDir(w.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == w.opts.Root {
				return err
			}
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
				w.logger.Warn("watcher: scan skipped", slog.String("path", path), slog.String("error", err.Error()))
				return nil
			}
			return err
		}
		if path == w.opts.Root {
			return nil
		}
		if w.opts.Filter.ShouldIgnore(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		parent, ok := g.Get(filepath.Dir(path))
		if !ok {
			return nil
		}
		return g.AddChild(parent, w.newAsset(path, d.IsDir()))
	})
	if err != nil {
		return nil, fmt.Errorf("watcher: scan %s: %w", w.opts.Root, err)
	}
	return g, nil
}
