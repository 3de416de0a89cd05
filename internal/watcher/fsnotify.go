package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/assetforge/internal/filter"
)

// FSNotifySource turns fsnotify notifications into watcher events.
//
// Directories created at runtime are added to the watch list, and files
// already inside them are reported as adds since their own notifications
// may have fired before the directory was watched.
type FSNotifySource struct {
	w      *fsnotify.Watcher
	filter *filter.PathFilter
	logger *slog.Logger

	mu   sync.Mutex
	dirs map[string]bool
	once sync.Once
}

// NewFSNotifySource watches root and every non-ignored directory below it.
func NewFSNotifySource(f *filter.PathFilter, logger *slog.Logger) (*FSNotifySource, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: fsnotify: %w", err)
	}
	s := &FSNotifySource{w: w, filter: f, logger: logger, dirs: make(map[string]bool)}
	if _, err := s.addDirs(f.Root()); err != nil {
		_ = w.Close()
		return nil, err
	}
	return s, nil
}

// Next implements Source. It blocks for one notification and then collects
// whatever else is already pending.
func (s *FSNotifySource) Next(ctx context.Context) ([]Event, error) {
	var out []Event
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev, ok := <-s.w.Events:
		if !ok {
			return nil, ErrSourceClosed
		}
		out = s.translate(out, ev)
	case err, ok := <-s.w.Errors:
		if !ok {
			return nil, ErrSourceClosed
		}
		return nil, err
	}
	for {
		select {
		case ev, ok := <-s.w.Events:
			if !ok {
				return out, nil
			}
			out = s.translate(out, ev)
		default:
			return out, nil
		}
	}
}

// Close implements Source.
func (s *FSNotifySource) Close() error {
	var err error
	s.once.Do(func() { err = s.w.Close() })
	return err
}

func (s *FSNotifySource) translate(out []Event, ev fsnotify.Event) []Event {
	path := filepath.Clean(ev.Name)
	if s.filter.ShouldIgnore(path) {
		return out
	}
	switch {
	case ev.Op&fsnotify.Create != 0:
		info, err := os.Stat(path)
		if err != nil {
			return out
		}
		if !info.IsDir() {
			return append(out, Event{Kind: EventAdd, Path: path})
		}
		nested, err := s.addDirs(path)
		if err != nil {
			s.logger.Warn("watcher: add new dir failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		return append(out, nested...)

	case ev.Op&fsnotify.Write != 0:
		return append(out, Event{Kind: EventChange, Path: path})

	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		s.mu.Lock()
		isDir := s.dirs[path]
		delete(s.dirs, path)
		s.mu.Unlock()
		if isDir {
			return append(out, Event{Kind: EventUnlinkDir, Path: path})
		}
		return append(out, Event{Kind: EventUnlink, Path: path})
	}
	return out
}

// addDirs watches root and its subdirectories and returns add events for
// everything below root, root included, parents first.
func (s *FSNotifySource) addDirs(root string) ([]Event, error) {
	var events []Event
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != s.filter.Root() && s.filter.ShouldIgnore(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			events = append(events, Event{Kind: EventAdd, Path: path})
			return nil
		}
		if err := s.w.Add(path); err != nil {
			return err
		}
		s.mu.Lock()
		s.dirs[path] = true
		s.mu.Unlock()
		events = append(events, Event{Kind: EventAddDir, Path: path})
		return nil
	})
	return events, err
}
