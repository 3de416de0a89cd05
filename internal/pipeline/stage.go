// Package pipeline threads assets through an ordered list of transform stages.
//
// A stage is any value implementing Stage. The hooks are optional and
// discovered through the Tester, Transformer, Starter and Finisher
// interfaces, the same way io.WriterTo is discovered by io.Copy.
package pipeline

import (
	"context"

	"github.com/starford/assetforge/internal/asset"
)

// Options is a stage's configuration. Asset-level overrides are deep-merged
// over the stage defaults.
type Options map[string]any

// Tags maps a symbolic tag name to the literal file name tag it stands for.
type Tags map[string]string

// Stage is the minimal transform stage contract.
type Stage interface {
	// Name identifies the stage and keys per-asset option overrides.
	Name() string
	// Defaults returns the base options.
	Defaults() Options
}

// Tester decides whether a stage applies to an asset.
type Tester interface {
	Test(a *asset.Asset, opts Options, tags Tags) bool
}

// Transformer produces derived assets. Returning a itself keeps it flowing
// into the next stage unchanged.
type Transformer interface {
	Transform(ctx context.Context, a *asset.Asset, opts Options, tags Tags, pc *Context) ([]*asset.Asset, error)
}

// Starter runs once per cycle before any asset is transformed.
type Starter interface {
	Start(ctx context.Context, root *asset.Asset, opts Options, pc *Context) error
}

// Finisher runs once per cycle after every dirty asset was transformed.
type Finisher interface {
	Finish(ctx context.Context, root *asset.Asset, opts Options, pc *Context) error
}

// Tagger exposes the tags a stage understands. Internal tags are never
// published (for example in manifests).
type Tagger interface {
	Tags() Tags
	InternalTags() Tags
}

// FolderStage marks stages that expect folder assets.
type FolderStage interface {
	Folder() bool
}
