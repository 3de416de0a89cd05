// Package stages lists the transform stages shipped with the binary.
package stages

import (
	"github.com/starford/assetforge/internal/pipeline"
	"github.com/starford/assetforge/internal/stages/cachebuster"
	"github.com/starford/assetforge/internal/stages/compress"
	"github.com/starford/assetforge/internal/stages/manifest"
)

// Builtin returns the default stage order. The terminal copy stage is
// appended by the pipeline itself.
func Builtin() []pipeline.Stage {
	return []pipeline.Stage{
		cachebuster.New(),
		compress.New(),
		manifest.New(),
	}
}
