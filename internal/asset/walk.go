package asset

import "errors"

// Edge selects which child lists a traversal follows.
type Edge uint8

const (
	// Files follows filesystem containment.
	Files Edge = 1 << iota
	// Transforms follows derivation.
	Transforms
)

// SkipSubtree may be returned by a WalkFunc to stop descending below the
// current node without aborting the walk.
var SkipSubtree = errors.New("skip subtree") //nolint:revive,staticcheck // sentinel, like fs.SkipDir

// WalkFunc is invoked for every visited node.
type WalkFunc func(a *Asset) error

// Walk visits a and its descendants depth-first, parents before children.
// Child lists are snapshotted per node so fn may mutate the graph.
func (g *Graph) Walk(a *Asset, edges Edge, fn WalkFunc) error {
	if err := fn(a); err != nil {
		if errors.Is(err, SkipSubtree) {
			return nil
		}
		return err
	}
	for _, c := range g.edges(a, edges) {
		if err := g.Walk(c, edges, fn); err != nil {
			return err
		}
	}
	return nil
}

// WalkPost visits descendants before a.
func (g *Graph) WalkPost(a *Asset, edges Edge, fn WalkFunc) error {
	for _, c := range g.edges(a, edges) {
		if err := g.WalkPost(c, edges, fn); err != nil {
			return err
		}
	}
	return fn(a)
}

func (g *Graph) edges(a *Asset, edges Edge) []*Asset {
	var out []*Asset
	if edges&Files != 0 {
		out = append(out, g.Children(a)...)
	}
	if edges&Transforms != 0 {
		out = append(out, g.TransformChildren(a)...)
	}
	return out
}
