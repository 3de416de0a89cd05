package pipeline

import (
	"context"
	"fmt"

	"github.com/starford/assetforge/internal/asset"
)

// CopyStageName names the terminal stage appended to every pipeline.
const CopyStageName = "copy"

// copyStage writes the asset's content to the output directory.
type copyStage struct{}

func (copyStage) Name() string      { return CopyStageName }
func (copyStage) Defaults() Options { return Options{} }

func (copyStage) Test(a *asset.Asset, _ Options, _ Tags) bool {
	return !a.IsFolder
}

func (copyStage) Transform(_ context.Context, a *asset.Asset, _ Options, _ Tags, pc *Context) ([]*asset.Asset, error) {
	buf, err := a.Buffer()
	if err != nil {
		return nil, err
	}
	out := asset.New(pc.OutputPath(a), false)
	out.SetBuffer(buf)
	if err := pc.Store.Write(out.Path, buf); err != nil {
		return nil, fmt.Errorf("write %s: %w", out.Path, err)
	}
	return []*asset.Asset{out}, nil
}
