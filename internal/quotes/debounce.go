package quotes

import (
	"sync"
	"time"
)

const (
	DefaultRequoteSettle  = 250 * time.Millisecond
	DefaultRequoteMaxWait = 1000 * time.Millisecond
)

// Debouncer coalesces bursts of edits into one trailing call. The call runs
// once no trigger arrived for settle, or maxWait after the first trigger of
// the burst, whichever comes first.
type Debouncer struct {
	settle  time.Duration
	maxWait time.Duration
	fn      func()

	mu      sync.Mutex
	timer   *time.Timer
	first   time.Time
	seq     uint64
	stopped bool
}

func NewDebouncer(settle, maxWait time.Duration, fn func()) *Debouncer {
	if settle <= 0 {
		settle = DefaultRequoteSettle
	}
	if maxWait <= 0 {
		maxWait = DefaultRequoteMaxWait
	}
	if maxWait < settle {
		maxWait = settle
	}
	return &Debouncer{settle: settle, maxWait: maxWait, fn: fn}
}

func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	now := time.Now()
	if d.first.IsZero() {
		d.first = now
	}
	delay := d.settle
	if left := d.maxWait - now.Sub(d.first); left < delay {
		delay = left
	}
	if delay < 0 {
		delay = 0
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	seq := d.seq
	d.timer = time.AfterFunc(delay, func() { d.fire(seq) })
}

func (d *Debouncer) fire(seq uint64) {
	d.mu.Lock()
	if d.stopped || seq != d.seq {
		d.mu.Unlock()
		return
	}
	d.first = time.Time{}
	d.timer = nil
	d.mu.Unlock()

	d.fn()
}

// Stop drops any pending call; later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
