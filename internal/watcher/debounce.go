package watcher

import (
	"sync"
	"time"
)

// Debouncer calls fn once after Trigger stops being called for delay.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a trailing-edge debouncer.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger (re)starts the delay.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fn)
		return
	}
	d.timer.Stop()
	d.timer.Reset(d.delay)
}

// Stop cancels a pending call and disables further triggers. It reports
// whether a pending call was cancelled.
func (d *Debouncer) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer == nil {
		return false
	}
	return d.timer.Stop()
}
