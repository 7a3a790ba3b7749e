package view

import (
	"sync"
	"time"
)

// DefaultDebounceDelay is the quiet period after the last edit before a
// compile fires.
const DefaultDebounceDelay = 300 * time.Millisecond

// Debouncer coalesces a burst of edits into a single trailing callback,
// so typing does not flood the engine with compile requests. Only the most
// recent source survives a burst.
//
// Debouncer is safe for concurrent use.
type Debouncer struct {
	delay time.Duration
	fire  func(source string)

	mu      sync.Mutex
	timer   *time.Timer
	source  string
	stopped bool
}

// NewDebouncer creates a debouncer that calls fire with the latest source
// after delay of quiet. A non-positive delay selects the default.
func NewDebouncer(delay time.Duration, fire func(source string)) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	return &Debouncer{delay: delay, fire: fire}
}

// Edit records a new source revision and restarts the quiet timer.
func (d *Debouncer) Edit(source string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.source = source
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fireLatest)
}

// Flush fires immediately with the latest source, canceling any pending
// timer. A no-op if no edit is pending.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer == nil || d.stopped {
		d.mu.Unlock()
		return
	}
	d.timer.Stop()
	d.mu.Unlock()
	d.fireLatest()
}

// Stop cancels any pending fire. Subsequent edits are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) fireLatest() {
	d.mu.Lock()
	if d.stopped || d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	source := d.source
	d.mu.Unlock()
	d.fire(source)
}
