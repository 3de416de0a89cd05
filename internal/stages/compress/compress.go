// Package compress emits pre-compressed gzip and zstd variants of text assets.
package compress

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/starford/assetforge/internal/asset"
	"github.com/starford/assetforge/internal/pipeline"
)

// Name is the stage name used for option overrides.
const Name = "compress"

// TagNoCompress is the file name tag that opts an asset out.
const TagNoCompress = "nc"

type options struct {
	Extensions []string `yaml:"extensions"`
	MinSize    int      `yaml:"min_size"`
}

type codec struct {
	Level int `yaml:"level"`
}

// Stage is the compress stage. The original asset is passed on unchanged
// next to its variants.
type Stage struct {
	mu       sync.Mutex
	encoders map[int]*zstd.Encoder
}

// New creates the stage.
func New() *Stage {
	return &Stage{encoders: make(map[int]*zstd.Encoder)}
}

func (s *Stage) Name() string { return Name }

func (s *Stage) Defaults() pipeline.Options {
	return pipeline.Options{
		"extensions": []any{".css", ".js", ".mjs", ".html", ".svg", ".json", ".xml", ".txt", ".map"},
		"min_size":   256,
		"gzip":       map[string]any{"level": gzip.BestCompression},
		"zstd":       map[string]any{"level": 3},
	}
}

func (s *Stage) Tags() pipeline.Tags { return pipeline.Tags{} }

func (s *Stage) InternalTags() pipeline.Tags {
	return pipeline.Tags{"nocompress": TagNoCompress}
}

func (s *Stage) Test(a *asset.Asset, opts pipeline.Options, tags pipeline.Tags) bool {
	if a.IsFolder || a.HasTag(tags["nocompress"]) {
		return false
	}
	var o options
	if err := pipeline.DecodeOptions(opts, &o); err != nil {
		return false
	}
	return slices.Contains(o.Extensions, a.Extension())
}

func (s *Stage) Transform(_ context.Context, a *asset.Asset, opts pipeline.Options, _ pipeline.Tags, pc *pipeline.Context) ([]*asset.Asset, error) {
	var o options
	if err := pipeline.DecodeOptions(opts, &o); err != nil {
		return nil, err
	}
	buf, err := a.Buffer()
	if err != nil {
		return nil, err
	}
	out := []*asset.Asset{a}
	if len(buf) < o.MinSize {
		return out, nil
	}

	if gz, ok := opts.Sub("gzip"); ok {
		var g codec
		if err := pipeline.DecodeOptions(gz, &g); err != nil {
			return nil, err
		}
		data, err := gzipBytes(buf, g.Level)
		if err != nil {
			return nil, err
		}
		out = append(out, variant(pc, a, ".gz", "gzip", data))
	}

	if zs, ok := opts.Sub("zstd"); ok {
		var z codec
		if err := pipeline.DecodeOptions(zs, &z); err != nil {
			return nil, err
		}
		enc, err := s.encoder(z.Level)
		if err != nil {
			return nil, err
		}
		data := enc.EncodeAll(buf, make([]byte, 0, len(buf)/2))
		out = append(out, variant(pc, a, ".zst", "zstd", data))
	}
	return out, nil
}

func variant(pc *pipeline.Context, a *asset.Asset, ext, encoding string, data []byte) *asset.Asset {
	v := pc.Derive(a, a.Filename()+ext)
	v.SetBuffer(data)
	v.TransformData = map[string]any{"encoding": encoding}
	return v
}

func gzipBytes(data []byte, level int) ([]byte, error) {
	if level == 0 {
		level = gzip.DefaultCompression
	}
	var b bytes.Buffer
	w, err := gzip.NewWriterLevel(&b, level)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return b.Bytes(), nil
}

// encoder returns a shared encoder per level. EncodeAll is safe for
// concurrent use.
func (s *Stage) encoder(level int) (*zstd.Encoder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enc, ok := s.encoders[level]; ok {
		return enc, nil
	}
	opts := []zstd.EOption{}
	if level > 0 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	}
	enc, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	s.encoders[level] = enc
	return enc, nil
}
