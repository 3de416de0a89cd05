package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/starford/assetforge/internal/asset"
)

// ErrDuplicateStage is returned when two stages share a name.
var ErrDuplicateStage = errors.New("pipeline: duplicate stage name")

// Pipeline is an ordered list of stages ending in the copy stage.
type Pipeline struct {
	stages []Stage
	base   []Options
	off    []bool
	tags   []Tags
	pc     *Context
}

// New builds a pipeline from stages. overrides holds config-level options
// keyed by stage name; false disables a stage for every asset.
func New(pc *Context, stages []Stage, overrides map[string]any) (*Pipeline, error) {
	all := append(append([]Stage{}, stages...), copyStage{})
	p := &Pipeline{
		stages: all,
		base:   make([]Options, len(all)),
		off:    make([]bool, len(all)),
		tags:   make([]Tags, len(all)),
		pc:     pc,
	}
	if pc.internal == nil {
		pc.internal = map[string]struct{}{}
	}
	pc.internal[pc.CopyTag] = struct{}{}

	seen := make(map[string]struct{}, len(all))
	for i, s := range all {
		name := s.Name()
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStage, name)
		}
		seen[name] = struct{}{}

		ov := overrides[name]
		if disabled(ov) {
			p.off[i] = true
		}
		m, _ := asMap(ov)
		p.base[i] = Merge(s.Defaults(), m)
		p.tags[i] = resolveTags(s, p.base[i])
		registerInternal(pc, s)
	}
	return p, nil
}

func registerInternal(pc *Context, s Stage) {
	if t, ok := s.(Tagger); ok {
		for _, v := range t.InternalTags() {
			pc.internal[v] = struct{}{}
		}
	}
	if g, ok := s.(*Group); ok {
		for _, m := range g.members {
			registerInternal(pc, m)
		}
	}
}

// resolveTags merges a stage's declared tags with any "tags" option override.
func resolveTags(s Stage, opts Options) Tags {
	out := Tags{}
	if t, ok := s.(Tagger); ok {
		for k, v := range t.Tags() {
			out[k] = v
		}
		for k, v := range t.InternalTags() {
			out[k] = v
		}
	}
	if m, ok := asMap(opts["tags"]); ok {
		for k, v := range m {
			if sv, ok := v.(string); ok {
				out[k] = sv
			}
		}
	}
	return out
}

// Context returns the context passed to stage hooks.
func (p *Pipeline) Context() *Context { return p.pc }

// Stages returns the stages in execution order, copy stage last.
func (p *Pipeline) Stages() []Stage { return p.stages }

// Start binds g and runs every stage's start hook in pipeline order.
func (p *Pipeline) Start(ctx context.Context, g *asset.Graph) error {
	p.pc.Graph = g
	root := g.Root()
	for i, s := range p.stages {
		st, ok := s.(Starter)
		if !ok || p.off[i] {
			continue
		}
		if err := st.Start(ctx, root, p.base[i], p.pc); err != nil {
			return fmt.Errorf("stage %s: start: %w", s.Name(), err)
		}
	}
	return nil
}

// Finish runs every stage's finish hook in pipeline order.
func (p *Pipeline) Finish(ctx context.Context, g *asset.Graph) error {
	root := g.Root()
	for i, s := range p.stages {
		f, ok := s.(Finisher)
		if !ok || p.off[i] {
			continue
		}
		if err := f.Finish(ctx, root, p.base[i], p.pc); err != nil {
			return fmt.Errorf("stage %s: finish: %w", s.Name(), err)
		}
	}
	return nil
}

// Transform threads a through every stage, building its transform subtree.
// It returns once every derived branch has finished.
func (p *Pipeline) Transform(ctx context.Context, a *asset.Asset) error {
	if p.pc.Graph == nil {
		return fmt.Errorf("pipeline: transform %s: no graph bound", a.Path)
	}
	r := &run{p: p, cleared: make(map[*asset.Asset]struct{})}
	return r.step(ctx, a, 0)
}

// Options resolves the effective options of stage i for a. The second
// result is false when the stage is disabled for a.
func (p *Pipeline) Options(i int, a *asset.Asset) (Options, bool) {
	if p.off[i] {
		return nil, false
	}
	override, ok := a.Settings[p.stages[i].Name()]
	if !ok {
		return p.base[i], true
	}
	if disabled(override) {
		return nil, false
	}
	m, _ := asMap(override)
	return Merge(p.base[i], m), true
}

// run carries per-Transform state: prior transform children are cleared the
// first time a stage applies to an asset, never again within the same run.
type run struct {
	p       *Pipeline
	mu      sync.Mutex
	cleared map[*asset.Asset]struct{}
}

func (r *run) claim(a *asset.Asset) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, done := r.cleared[a]; done {
		return false
	}
	r.cleared[a] = struct{}{}
	return true
}

func (r *run) step(ctx context.Context, a *asset.Asset, i int) error {
	p := r.p
	if i >= len(p.stages) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	last := len(p.stages) - 1
	if i < last && a.HasTag(p.pc.CopyTag) {
		i = last
	}

	stage := p.stages[i]
	opts, enabled := p.Options(i, a)
	if i == last {
		opts, enabled = p.base[i], true
	}
	tester, hasTest := stage.(Tester)
	transformer, hasTransform := stage.(Transformer)
	if !enabled || !hasTest || !hasTransform || !tester.Test(a, opts, p.tags[i]) {
		return r.step(ctx, a, i+1)
	}

	if r.claim(a) {
		p.pc.Graph.ClearTransformChildren(a)
	}
	outs, err := transformer.Transform(ctx, a, opts, p.tags[i], p.pc)
	if err != nil {
		return fmt.Errorf("stage %s: %w", stage.Name(), err)
	}
	p.pc.Logger.Debug("pipeline: stage applied",
		slog.String("stage", stage.Name()),
		slog.String("path", a.Path),
		slog.Int("outputs", len(outs)))

	for _, out := range outs {
		if out == a {
			continue
		}
		if err := p.pc.Graph.AddTransformChild(a, out); err != nil {
			return fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
	}

	var g errgroup.Group
	for _, out := range outs {
		g.Go(func() error {
			return r.step(ctx, out, i+1)
		})
	}
	return g.Wait()
}
