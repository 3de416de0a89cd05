// Package filter decides which paths under an input root take part in a build.
package filter

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMemoSize = 8192

// Matcher matches slash-separated relative paths against a set of globs.
type Matcher struct {
	patterns []string
}

// NewMatcher validates patterns and returns a Matcher.
func NewMatcher(patterns []string) (*Matcher, error) {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimPrefix(filepath.ToSlash(strings.TrimSpace(p)), "./")
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("filter: invalid glob %q", p)
		}
		out = append(out, p)
	}
	return &Matcher{patterns: out}, nil
}

// Match reports whether rel matches any pattern.
func (m *Matcher) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, p := range m.patterns {
		if doublestar.MatchUnvalidated(p, rel) {
			return true
		}
	}
	return false
}

// Empty reports whether the matcher has no patterns.
func (m *Matcher) Empty() bool { return len(m.patterns) == 0 }

// PathFilter excludes paths under root that match ignore globs. Decisions are
// memoized per absolute path because scans and watch events ask repeatedly.
type PathFilter struct {
	root    string
	ignore  *Matcher
	decided *lru.Cache[string, bool]
}

// New creates a PathFilter rooted at root.
func New(root string, ignore []string) (*PathFilter, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("filter: resolve root: %w", err)
	}
	m, err := NewMatcher(ignore)
	if err != nil {
		return nil, err
	}
	memo, err := lru.New[string, bool](defaultMemoSize)
	if err != nil {
		return nil, fmt.Errorf("filter: memo: %w", err)
	}
	return &PathFilter{root: abs, ignore: m, decided: memo}, nil
}

// Root returns the absolute root the filter is relative to.
func (f *PathFilter) Root() string { return f.root }

// ShouldIgnore reports whether path (absolute) is excluded. Paths outside the
// root are always ignored; the root itself never is.
func (f *PathFilter) ShouldIgnore(path string) bool {
	if v, ok := f.decided.Get(path); ok {
		return v
	}
	v := f.evaluate(path)
	f.decided.Add(path, v)
	return v
}

// ShouldInclude is the negation of ShouldIgnore.
func (f *PathFilter) ShouldInclude(path string) bool {
	return !f.ShouldIgnore(path)
}

func (f *PathFilter) evaluate(path string) bool {
	rel, err := filepath.Rel(f.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return true
	}
	if rel == "." {
		return false
	}
	if f.ignore.Empty() {
		return false
	}
	if f.ignore.Match(rel) {
		return true
	}
	// A path below an ignored directory is ignored too.
	for dir := filepath.Dir(rel); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		if f.ignore.Match(dir) {
			return true
		}
	}
	return false
}
