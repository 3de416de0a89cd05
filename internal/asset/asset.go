// Package asset models source files, folders and derived artifacts as nodes
// of two overlapping trees: filesystem containment and transform derivation.
//
// Nodes live in a Graph arena and refer to each other by ID, never by pointer.
package asset

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/starford/assetforge/internal/checksum"
)

// ErrNotInGraph is returned when an operation references a node the graph
// does not own.
var ErrNotInGraph = errors.New("asset: not in graph")

// State is the lifecycle state of an asset within an update cycle.
type State int

// Lifecycle states.
const (
	StateNormal State = iota
	StateAdded
	StateModified
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateAdded:
		return "added"
	case StateModified:
		return "modified"
	case StateDeleted:
		return "deleted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ID identifies a node inside its Graph. The zero ID means "none".
type ID uint64

// Stats records the outcome of the last transform run for an asset.
type Stats struct {
	Date     time.Time     `json:"date"`
	Duration time.Duration `json:"duration"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
}

// Settings holds per-asset stage option overrides keyed by stage name.
// A value of false disables the stage for the asset.
type Settings map[string]any

// Asset is a source file, source folder or derived artifact.
//
// MetaData, TransformData and Settings are owned by whichever goroutine is
// transforming the asset's subtree; the graph never touches them concurrently
// with a running cycle.
type Asset struct {
	Path     string
	IsFolder bool

	// MetaData holds tags parsed from the file name plus anything stages add.
	MetaData map[string]any
	// InheritedMetaData is a snapshot of the ancestors' metadata taken when
	// the asset was attached.
	InheritedMetaData map[string]any
	// TransformData is free-form per-stage bookkeeping.
	TransformData map[string]any
	// Settings is shared by reference with transform children.
	Settings Settings

	// Skip excludes the asset from transformation in the current cycle.
	Skip bool

	id              ID
	parent          ID
	transformParent ID
	children        []ID
	transforms      []ID

	mu     sync.Mutex
	buffer []byte
	loaded bool
	hash   string
	hashFn checksum.Func
	state  State
	stats  *Stats
}

// New creates a detached asset in the added state. Tags in the file name
// are parsed into MetaData.
func New(path string, isFolder bool) *Asset {
	return &Asset{
		Path:              path,
		IsFolder:          isFolder,
		MetaData:          ParseTags(filepath.Base(path)),
		InheritedMetaData: map[string]any{},
		TransformData:     map[string]any{},
		hashFn:            checksum.Sum,
		state:             StateAdded,
	}
}

// ID returns the node identifier, zero while the asset is detached.
func (a *Asset) ID() ID { return a.id }

// Filename returns the base name of the asset path.
func (a *Asset) Filename() string { return filepath.Base(a.Path) }

// Directory returns the directory containing the asset.
func (a *Asset) Directory() string { return filepath.Dir(a.Path) }

// Extension returns the lower-cased file extension including the dot.
func (a *Asset) Extension() string { return strings.ToLower(filepath.Ext(a.Path)) }

// State returns the lifecycle state.
func (a *Asset) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SetState changes the lifecycle state and invalidates the cached hash.
func (a *Asset) SetState(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = s
	a.hash = ""
}

// Buffer returns the asset content, reading it from disk on first access.
// Folders have no content.
func (a *Asset) Buffer() ([]byte, error) {
	if a.IsFolder {
		return nil, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loaded {
		return a.buffer, nil
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, fmt.Errorf("asset: read %s: %w", a.Path, err)
	}
	a.buffer = data
	a.loaded = true
	return a.buffer, nil
}

// SetBuffer replaces the content and invalidates the hash. It is a no-op
// for folders.
func (a *Asset) SetBuffer(data []byte) {
	if a.IsFolder {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffer = data
	a.loaded = true
	a.hash = ""
}

// ReleaseBuffer drops the in-memory content. The hash survives so the cache
// can still be written without re-reading.
func (a *Asset) ReleaseBuffer() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffer = nil
	a.loaded = false
}

// Hash returns the content hash, computing it on demand. Folders hash to "".
func (a *Asset) Hash() (string, error) {
	if a.IsFolder {
		return "", nil
	}
	a.mu.Lock()
	if a.hash != "" {
		h := a.hash
		a.mu.Unlock()
		return h, nil
	}
	a.mu.Unlock()

	data, err := a.Buffer()
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.hash = a.hashFn(data)
	return a.hash, nil
}

// Stats returns a copy of the last transform outcome, or nil.
func (a *Asset) Stats() *Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stats == nil {
		return nil
	}
	s := *a.stats
	return &s
}

// SetStats records a transform outcome.
func (a *Asset) SetStats(s *Stats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats = s
}

// AllMetaData merges inherited and own metadata. Own keys win.
func (a *Asset) AllMetaData() map[string]any {
	out := maps.Clone(a.InheritedMetaData)
	if out == nil {
		out = make(map[string]any, len(a.MetaData))
	}
	maps.Copy(out, a.MetaData)
	return out
}

// HasTag reports whether tag is set on the asset or any ancestor snapshot.
func (a *Asset) HasTag(tag string) bool {
	if tag == "" {
		return false
	}
	if _, ok := a.MetaData[tag]; ok {
		return true
	}
	_, ok := a.InheritedMetaData[tag]
	return ok
}

// snapshotFrom copies the parent's metadata into the child at attach time.
func (a *Asset) snapshotFrom(parent *Asset) {
	a.InheritedMetaData = parent.AllMetaData()
}
