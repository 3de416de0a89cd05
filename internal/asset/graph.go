package asset

import (
	"fmt"
	"maps"
	"sync"

	"github.com/starford/assetforge/internal/checksum"
)

// Graph is the arena owning every asset. Filesystem nodes are indexed by path;
// derived artifacts are reachable only through their transform parent.
//
// All link mutations go through the graph and are guarded by its lock, so
// sibling pipeline runs may attach transform children concurrently.
type Graph struct {
	mu    sync.RWMutex
	seq   ID
	nodes map[ID]*Asset
	index map[string]ID
	root  ID
	hash  checksum.Func
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithHash sets the content hash used by every asset in the graph.
func WithHash(fn checksum.Func) GraphOption {
	return func(g *Graph) {
		if fn != nil {
			g.hash = fn
		}
	}
}

// NewGraph creates a graph rooted at root.
func NewGraph(root *Asset, opts ...GraphOption) *Graph {
	g := &Graph{
		nodes: make(map[ID]*Asset),
		index: make(map[string]ID),
		hash:  checksum.Sum,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.mu.Lock()
	g.insert(root)
	g.index[root.Path] = root.id
	g.root = root.id
	g.mu.Unlock()
	return g
}

func (g *Graph) insert(a *Asset) {
	if a.id != 0 {
		return
	}
	g.seq++
	a.id = g.seq
	a.hashFn = g.hash
	g.nodes[a.id] = a
}

// Root returns the scan entry point.
func (g *Graph) Root() *Asset {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[g.root]
}

// Get looks up a filesystem node by absolute path.
func (g *Graph) Get(path string) (*Asset, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.index[path]
	if !ok {
		return nil, false
	}
	return g.nodes[id], true
}

// Len returns the number of nodes in the arena.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Contains reports whether a is owned by this graph.
func (g *Graph) Contains(a *Asset) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return a != nil && g.nodes[a.id] == a
}

// AddChild attaches child under parent in the filesystem tree and snapshots
// the parent's metadata into it.
func (g *Graph) AddChild(parent, child *Asset) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.nodes[parent.id] != parent {
		return fmt.Errorf("add child %s: parent %s: %w", child.Path, parent.Path, ErrNotInGraph)
	}
	if child.parent != 0 && child.parent != parent.id {
		g.unlink(child)
	}
	g.insert(child)
	if child.parent != parent.id {
		child.parent = parent.id
		parent.children = append(parent.children, child.id)
	}
	child.snapshotFrom(parent)
	g.index[child.Path] = child.id
	return nil
}

// RemoveChild detaches child from parent and drops it, its filesystem
// descendants and every transform subtree from the arena.
func (g *Graph) RemoveChild(parent, child *Asset) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if child.parent != parent.id {
		return
	}
	g.unlink(child)
	g.excise(child)
}

// AddTransformChild attaches child as an artifact derived from parent. The
// child inherits metadata, transform data and the settings reference.
func (g *Graph) AddTransformChild(parent, child *Asset) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.nodes[parent.id] != parent {
		return fmt.Errorf("add transform child %s: parent %s: %w", child.Path, parent.Path, ErrNotInGraph)
	}
	g.insert(child)
	if child.transformParent != parent.id {
		child.transformParent = parent.id
		parent.transforms = append(parent.transforms, child.id)
	}
	child.snapshotFrom(parent)
	td := maps.Clone(parent.TransformData)
	if td == nil {
		td = make(map[string]any)
	}
	maps.Copy(td, child.TransformData)
	child.TransformData = td
	child.Settings = parent.Settings
	return nil
}

// ClearTransformChildren drops every artifact previously derived from a.
func (g *Graph) ClearTransformChildren(a *Asset) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range a.transforms {
		if c := g.nodes[id]; c != nil {
			c.transformParent = 0
			g.excise(c)
		}
	}
	a.transforms = nil
}

func (g *Graph) unlink(child *Asset) {
	if p := g.nodes[child.parent]; p != nil {
		p.children = removeID(p.children, child.id)
	}
	child.parent = 0
}

// excise removes a and everything it owns from the arena. Callers unlink a
// from its own parent first.
func (g *Graph) excise(a *Asset) {
	for _, id := range a.children {
		if c := g.nodes[id]; c != nil {
			c.parent = 0
			g.excise(c)
		}
	}
	for _, id := range a.transforms {
		if c := g.nodes[id]; c != nil {
			c.transformParent = 0
			g.excise(c)
		}
	}
	a.children = nil
	a.transforms = nil
	if id, ok := g.index[a.Path]; ok && id == a.id {
		delete(g.index, a.Path)
	}
	delete(g.nodes, a.id)
	a.id = 0
}

func removeID(ids []ID, target ID) []ID {
	for i, id := range ids {
		if id == target {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

// Parent returns the filesystem parent, or nil for the root.
func (g *Graph) Parent(a *Asset) *Asset {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[a.parent]
}

// TransformParent returns the asset a was derived from, or nil.
func (g *Graph) TransformParent(a *Asset) *Asset {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[a.transformParent]
}

// Children returns the filesystem children in insertion order.
func (g *Graph) Children(a *Asset) []*Asset {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolve(a.children)
}

// TransformChildren returns the artifacts directly derived from a.
func (g *Graph) TransformChildren(a *Asset) []*Asset {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolve(a.transforms)
}

func (g *Graph) resolve(ids []ID) []*Asset {
	out := make([]*Asset, 0, len(ids))
	for _, id := range ids {
		if n := g.nodes[id]; n != nil {
			out = append(out, n)
		}
	}
	return out
}

// Origin walks transform parents up to the filesystem node a derives from.
func (g *Graph) Origin(a *Asset) *Asset {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for a.transformParent != 0 {
		p := g.nodes[a.transformParent]
		if p == nil {
			break
		}
		a = p
	}
	return a
}

// MarkParentAsModified flips every normal ancestor of a to modified. The walk
// always reaches the root.
func (g *Graph) MarkParentAsModified(a *Asset) {
	for p := g.Parent(a); p != nil; p = g.Parent(p) {
		if p.State() == StateNormal {
			p.SetState(StateModified)
		}
	}
}

// SkipChildren flags every filesystem descendant of a as skipped.
func (g *Graph) SkipChildren(a *Asset) {
	for _, c := range g.Children(a) {
		c.Skip = true
		g.SkipChildren(c)
	}
}

// FinalTransformedChildren returns the leaves of a's transform tree, or a
// itself when nothing was derived from it.
func (g *Graph) FinalTransformedChildren(a *Asset) []*Asset {
	kids := g.TransformChildren(a)
	if len(kids) == 0 {
		return []*Asset{a}
	}
	var out []*Asset
	for _, c := range kids {
		out = append(out, g.FinalTransformedChildren(c)...)
	}
	return out
}

// ReleaseBuffers drops content held by a and its transform subtree.
func (g *Graph) ReleaseBuffers(a *Asset) {
	_ = g.Walk(a, Transforms, func(n *Asset) error {
		n.ReleaseBuffer()
		return nil
	})
}

// ReleaseChildrenBuffers drops content held anywhere below a, following both
// filesystem and transform edges.
func (g *Graph) ReleaseChildrenBuffers(a *Asset) {
	_ = g.Walk(a, Files|Transforms, func(n *Asset) error {
		n.ReleaseBuffer()
		return nil
	})
}
