package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/starford/assetforge/internal/asset"
)

// Group runs several stages as one composite stage. Its options hold one
// entry per member, keyed by member name; false disables a member.
type Group struct {
	name    string
	members []Stage
}

// NewGroup creates a fan-out group.
func NewGroup(name string, members ...Stage) *Group {
	return &Group{name: name, members: members}
}

// Name implements Stage.
func (g *Group) Name() string { return g.name }

// Defaults nests each member's defaults under its name.
func (g *Group) Defaults() Options {
	out := Options{}
	for _, m := range g.members {
		out[m.Name()] = map[string]any(m.Defaults())
	}
	return out
}

// Members returns the grouped stages.
func (g *Group) Members() []Stage { return g.members }

type memberCall struct {
	stage       Stage
	opts        Options
	tags        Tags
	transformer Transformer
}

func (g *Group) matching(a *asset.Asset, opts Options) []memberCall {
	var out []memberCall
	for _, m := range g.members {
		mopts, ok := opts.Sub(m.Name())
		if !ok {
			continue
		}
		tester, hasTest := m.(Tester)
		transformer, hasTransform := m.(Transformer)
		if !hasTest || !hasTransform {
			continue
		}
		tags := resolveTags(m, mopts)
		if tester.Test(a, mopts, tags) {
			out = append(out, memberCall{stage: m, opts: mopts, tags: tags, transformer: transformer})
		}
	}
	return out
}

// Test is true when any member applies.
func (g *Group) Test(a *asset.Asset, opts Options, _ Tags) bool {
	return len(g.matching(a, opts)) > 0
}

// Transform runs every applicable member concurrently and flattens their
// outputs in member order. An asset returned by several members is kept once.
func (g *Group) Transform(ctx context.Context, a *asset.Asset, opts Options, _ Tags, pc *Context) ([]*asset.Asset, error) {
	calls := g.matching(a, opts)
	results := make([][]*asset.Asset, len(calls))

	var eg errgroup.Group
	for i, c := range calls {
		eg.Go(func() error {
			outs, err := c.transformer.Transform(ctx, a, c.opts, c.tags, pc)
			if err != nil {
				return fmt.Errorf("%s: %w", c.stage.Name(), err)
			}
			results[i] = outs
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[*asset.Asset]struct{})
	var flat []*asset.Asset
	for _, outs := range results {
		for _, o := range outs {
			if _, dup := seen[o]; dup {
				continue
			}
			seen[o] = struct{}{}
			flat = append(flat, o)
		}
	}
	return flat, nil
}

// Start runs members' start hooks in order.
func (g *Group) Start(ctx context.Context, root *asset.Asset, opts Options, pc *Context) error {
	for _, m := range g.members {
		st, ok := m.(Starter)
		if !ok {
			continue
		}
		mopts, enabled := opts.Sub(m.Name())
		if !enabled {
			continue
		}
		if err := st.Start(ctx, root, mopts, pc); err != nil {
			return fmt.Errorf("%s: %w", m.Name(), err)
		}
	}
	return nil
}

// Finish runs members' finish hooks in order.
func (g *Group) Finish(ctx context.Context, root *asset.Asset, opts Options, pc *Context) error {
	for _, m := range g.members {
		f, ok := m.(Finisher)
		if !ok {
			continue
		}
		mopts, enabled := opts.Sub(m.Name())
		if !enabled {
			continue
		}
		if err := f.Finish(ctx, root, mopts, pc); err != nil {
			return fmt.Errorf("%s: %w", m.Name(), err)
		}
	}
	return nil
}
