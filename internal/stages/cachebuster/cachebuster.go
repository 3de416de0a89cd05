// Package cachebuster renames assets with a content hash suffix so they can
// be served with far-future cache headers.
package cachebuster

import (
	"context"
	"path/filepath"
	"slices"
	"strings"

	"github.com/starford/assetforge/internal/asset"
	"github.com/starford/assetforge/internal/checksum"
	"github.com/starford/assetforge/internal/pipeline"
)

// Name is the stage name used for option overrides.
const Name = "cachebuster"

// TagNoHash is the file name tag that keeps an asset's name unchanged.
const TagNoHash = "nh"

type options struct {
	Length     int      `yaml:"length"`
	Extensions []string `yaml:"extensions"`
}

// Stage is the cachebuster stage.
type Stage struct{}

// New creates the stage.
func New() *Stage { return &Stage{} }

func (s *Stage) Name() string { return Name }

func (s *Stage) Defaults() pipeline.Options {
	return pipeline.Options{
		"length":     8,
		"extensions": []any{".css", ".js", ".mjs", ".png", ".jpg", ".jpeg", ".gif", ".webp", ".avif", ".svg", ".woff", ".woff2"},
	}
}

func (s *Stage) Tags() pipeline.Tags { return pipeline.Tags{} }

func (s *Stage) InternalTags() pipeline.Tags {
	return pipeline.Tags{"nohash": TagNoHash}
}

func (s *Stage) Test(a *asset.Asset, opts pipeline.Options, tags pipeline.Tags) bool {
	if a.IsFolder || a.HasTag(tags["nohash"]) {
		return false
	}
	var o options
	if err := pipeline.DecodeOptions(opts, &o); err != nil {
		return false
	}
	return len(o.Extensions) == 0 || slices.Contains(o.Extensions, a.Extension())
}

// Transform replaces a with a copy named <base>.<hash><ext>. The hash and
// the original name are recorded in the copy's transform data.
func (s *Stage) Transform(_ context.Context, a *asset.Asset, opts pipeline.Options, _ pipeline.Tags, pc *pipeline.Context) ([]*asset.Asset, error) {
	var o options
	if err := pipeline.DecodeOptions(opts, &o); err != nil {
		return nil, err
	}
	buf, err := a.Buffer()
	if err != nil {
		return nil, err
	}
	hash := checksum.Short(buf, o.Length)
	out := pc.Derive(a, HashedName(a.Filename(), hash))
	out.SetBuffer(buf)
	out.TransformData = map[string]any{
		"hash":     hash,
		"original": a.Filename(),
	}
	return []*asset.Asset{out}, nil
}

// HashedName inserts hash before the extension of name.
func HashedName(name, hash string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "." + hash + ext
}
