package pipeline

import (
	"log/slog"
	"maps"
	"path/filepath"
	"strings"

	"github.com/starford/assetforge/internal/asset"
	"github.com/starford/assetforge/internal/storage"
)

// DefaultCopyTag is the file name tag that sends an asset straight to the
// terminal copy stage.
const DefaultCopyTag = "copy"

// Context is handed to every stage hook.
type Context struct {
	InputDir  string
	OutputDir string
	Store     storage.Provider
	Logger    *slog.Logger
	CopyTag   string

	// Graph is bound by the pipeline at the start of each cycle.
	Graph *asset.Graph

	internal map[string]struct{}
}

// NewContext creates a stage context writing into store.
func NewContext(inputDir string, store storage.Provider, logger *slog.Logger) *Context {
	return &Context{
		InputDir:  inputDir,
		OutputDir: store.Root(),
		Store:     store,
		Logger:    logger,
		CopyTag:   DefaultCopyTag,
		internal:  map[string]struct{}{},
	}
}

// Derive creates an in-memory artifact named filename next to src (for a
// folder, next to the folder). It is written out only when it reaches the
// terminal copy stage.
func (pc *Context) Derive(src *asset.Asset, filename string) *asset.Asset {
	return asset.New(filepath.Join(src.Directory(), filename), false)
}

// OutputPath maps a to its location under the output directory: the source
// it derives from determines the relative directory, a's own file name the
// leaf. Tags are stripped from every segment.
func (pc *Context) OutputPath(a *asset.Asset) string {
	origin := a
	if pc.Graph != nil {
		origin = pc.Graph.Origin(a)
	}
	rel, err := filepath.Rel(pc.InputDir, origin.Directory())
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = "."
	}
	return filepath.Join(pc.OutputDir, asset.StripTags(rel), asset.StripTags(a.Filename()))
}

// RelOutput returns path relative to the output directory with forward slashes.
func (pc *Context) RelOutput(path string) string {
	rel, err := filepath.Rel(pc.OutputDir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// IsInternalTag reports whether tag is internal to some stage.
func (pc *Context) IsInternalTag(tag string) bool {
	_, ok := pc.internal[tag]
	return ok
}

// PublicMetaData returns a's merged metadata without internal tags.
func (pc *Context) PublicMetaData(a *asset.Asset) map[string]any {
	out := a.AllMetaData()
	maps.DeleteFunc(out, func(k string, _ any) bool {
		return pc.IsInternalTag(k)
	})
	return out
}
