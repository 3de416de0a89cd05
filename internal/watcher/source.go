package watcher

import (
	"context"
	"errors"
	"sync"
)

// ErrSourceClosed is returned by Source.Next once the source is closed.
var ErrSourceClosed = errors.New("watcher: source closed")

// EventKind classifies a raw filesystem event.
type EventKind int

// Event kinds.
const (
	EventAdd EventKind = iota
	EventAddDir
	EventChange
	EventUnlink
	EventUnlinkDir
)

func (k EventKind) String() string {
	switch k {
	case EventAdd:
		return "add"
	case EventAddDir:
		return "add-dir"
	case EventChange:
		return "change"
	case EventUnlink:
		return "unlink"
	case EventUnlinkDir:
		return "unlink-dir"
	}
	return "unknown"
}

// Event is one raw filesystem change on an absolute path.
type Event struct {
	Kind EventKind
	Path string
}

// Source delivers batches of raw events.
type Source interface {
	// Next blocks until at least one event is available, ctx is done, or the
	// source is closed (ErrSourceClosed).
	Next(ctx context.Context) ([]Event, error)
	Close() error
}

// ChanSource is an in-memory Source fed by Push.
type ChanSource struct {
	ch   chan []Event
	once sync.Once
}

// NewChanSource creates a ChanSource buffering up to size batches.
func NewChanSource(size int) *ChanSource {
	return &ChanSource{ch: make(chan []Event, size)}
}

// Push enqueues one batch.
func (s *ChanSource) Push(events ...Event) {
	s.ch <- events
}

// Next implements Source.
func (s *ChanSource) Next(ctx context.Context) ([]Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case batch, ok := <-s.ch:
		if !ok {
			return nil, ErrSourceClosed
		}
		return batch, nil
	}
}

// Close implements Source.
func (s *ChanSource) Close() error {
	s.once.Do(func() { close(s.ch) })
	return nil
}
