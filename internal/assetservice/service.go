// Package assetservice is the read model behind the HTTP API and the MCP
// server. It serves the last persisted graph snapshot and cycle summary and
// never touches the live graph.
package assetservice

import (
	"context"
	"path/filepath"
	"slices"
	"strings"

	"github.com/starford/assetforge/internal/apperr"
	"github.com/starford/assetforge/internal/build"
	"github.com/starford/assetforge/internal/cache"
	"github.com/starford/assetforge/internal/models"
	"github.com/starford/assetforge/internal/storage"
)

// DefaultLimit caps list results when no limit is given.
const DefaultLimit = 100

// StatusSource reports the last completed update cycle.
type StatusSource interface {
	LastSummary() *build.Summary
}

// Status is the build status overview.
type Status struct {
	LastCycle *build.Summary `json:"last_cycle,omitempty"`
	Assets    int            `json:"assets"`
	Folders   int            `json:"folders"`
	Artifacts int            `json:"artifacts"`
	Failed    int            `json:"failed"`
}

// Service answers queries about assets and outputs.
type Service struct {
	cache    *cache.GraphCache
	store    storage.Provider
	status   StatusSource
	inputDir string
}

// NewService creates a new asset service.
func NewService(c *cache.GraphCache, store storage.Provider, status StatusSource, inputDir string) *Service {
	return &Service{cache: c, store: store, status: status, inputDir: inputDir}
}

// ListAssets returns source files (not folders or artifacts) sorted by path.
// failedOnly keeps assets whose last run failed.
func (s *Service) ListAssets(ctx context.Context, limit, offset int, failedOnly bool) ([]models.AssetView, int, error) {
	snap := s.cache.Read(ctx)
	children := transformIndex(snap)

	var views []models.AssetView
	for path, entry := range snap {
		if entry.IsFolder || entry.TransformParent != "" {
			continue
		}
		if failedOnly && (entry.Stats == nil || entry.Stats.Success) {
			continue
		}
		views = append(views, s.view(path, entry, children))
	}
	slices.SortFunc(views, func(a, b models.AssetView) int { return strings.Compare(a.Path, b.Path) })

	total := len(views)
	if limit <= 0 {
		limit = DefaultLimit
	}
	if offset < 0 || offset >= total {
		return []models.AssetView{}, total, nil
	}
	end := min(offset+limit, total)
	return views[offset:end], total, nil
}

// GetAsset returns one source file or folder by path relative to the input
// directory.
func (s *Service) GetAsset(ctx context.Context, rel string) (*models.AssetView, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if rel == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return nil, apperr.ErrBadRequest
	}
	snap := s.cache.Read(ctx)
	path := filepath.Join(s.inputDir, clean)
	entry, ok := snap[path]
	if !ok || entry.TransformParent != "" {
		return nil, apperr.ErrNotFound
	}
	v := s.view(path, entry, transformIndex(snap))
	return &v, nil
}

// Status summarizes the snapshot and the last cycle.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{}
	if s.status != nil {
		st.LastCycle = s.status.LastSummary()
	}
	for _, entry := range s.cache.Read(ctx) {
		switch {
		case entry.TransformParent != "":
			st.Artifacts++
		case entry.IsFolder:
			st.Folders++
		default:
			st.Assets++
			if entry.Stats != nil && !entry.Stats.Success {
				st.Failed++
			}
		}
	}
	return st, nil
}

// ListOutputs lists files in the output directory.
func (s *Service) ListOutputs(_ context.Context) ([]models.OutputFile, error) {
	files, err := s.store.List("")
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []models.OutputFile{}
	}
	slices.SortFunc(files, func(a, b models.OutputFile) int { return strings.Compare(a.Path, b.Path) })
	return files, nil
}

func (s *Service) view(path string, entry cache.CachedAsset, children map[string][]string) models.AssetView {
	v := models.AssetView{
		Path:              s.rel(path),
		IsFolder:          entry.IsFolder,
		Hash:              entry.Hash,
		MetaData:          entry.MetaData,
		InheritedMetaData: entry.InheritedMetaData,
		TransformData:     entry.TransformData,
	}
	if entry.Parent != "" {
		v.Parent = s.rel(entry.Parent)
	}
	if entry.Stats != nil {
		v.LastRun = &models.RunStats{
			Date:       entry.Stats.Date,
			DurationMS: entry.Stats.Duration.Milliseconds(),
			Success:    entry.Stats.Success,
			Error:      entry.Stats.Error,
		}
	}
	root := s.store.Root()
	for _, leaf := range leaves(path, children) {
		if rel, err := filepath.Rel(root, leaf); err == nil && !strings.HasPrefix(rel, "..") {
			v.Outputs = append(v.Outputs, filepath.ToSlash(rel))
		}
	}
	slices.Sort(v.Outputs)
	return v
}

func (s *Service) rel(path string) string {
	rel, err := filepath.Rel(s.inputDir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// transformIndex maps a transform parent path to its children's paths.
func transformIndex(snap cache.Snapshot) map[string][]string {
	idx := map[string][]string{}
	for path, entry := range snap {
		if entry.TransformParent != "" {
			idx[entry.TransformParent] = append(idx[entry.TransformParent], path)
		}
	}
	return idx
}

// leaves returns the final artifacts derived from path.
func leaves(path string, children map[string][]string) []string {
	kids := children[path]
	if len(kids) == 0 {
		return nil
	}
	var out []string
	for _, k := range kids {
		if sub := leaves(k, children); len(sub) > 0 {
			out = append(out, sub...)
			continue
		}
		out = append(out, k)
	}
	return out
}
