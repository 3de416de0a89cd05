// Package manifest writes a JSON map from source files to the outputs
// produced from them.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/starford/assetforge/internal/asset"
	"github.com/starford/assetforge/internal/pipeline"
)

// Name is the stage name used for option overrides.
const Name = "manifest"

// Entry describes one source file.
type Entry struct {
	Outputs  []string       `json:"outputs"`
	MetaData map[string]any `json:"metadata,omitempty"`
}

type options struct {
	Filename string `yaml:"filename"`
}

// Stage only has a finish hook; assets pass through it untouched.
type Stage struct{}

// New creates the stage.
func New() *Stage { return &Stage{} }

func (s *Stage) Name() string { return Name }

func (s *Stage) Defaults() pipeline.Options {
	return pipeline.Options{"filename": "manifest.json"}
}

// Finish writes the manifest for every live file in the graph.
func (s *Stage) Finish(_ context.Context, root *asset.Asset, opts pipeline.Options, pc *pipeline.Context) error {
	var o options
	if err := pipeline.DecodeOptions(opts, &o); err != nil {
		return err
	}
	entries := Build(pc.Graph, root, pc)
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: encode: %w", err)
	}
	return pc.Store.Write(filepath.Join(pc.OutputDir, o.Filename), append(data, '\n'))
}

// Build collects manifest entries keyed by source path relative to the
// input directory.
func Build(g *asset.Graph, root *asset.Asset, pc *pipeline.Context) map[string]Entry {
	entries := map[string]Entry{}
	_ = g.Walk(root, asset.Files, func(a *asset.Asset) error {
		if a.IsFolder || a.State() == asset.StateDeleted {
			return nil
		}
		var outs []string
		for _, leaf := range g.FinalTransformedChildren(a) {
			if leaf == a || !inside(pc.OutputDir, leaf.Path) {
				continue
			}
			outs = append(outs, pc.RelOutput(leaf.Path))
		}
		if len(outs) == 0 {
			return nil
		}
		slices.Sort(outs)
		rel, err := filepath.Rel(pc.InputDir, a.Path)
		if err != nil {
			return nil
		}
		entries[filepath.ToSlash(rel)] = Entry{Outputs: outs, MetaData: pc.PublicMetaData(a)}
		return nil
	})
	return entries
}

func inside(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}
