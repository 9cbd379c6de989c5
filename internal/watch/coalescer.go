package watch

import (
	"sync"
	"time"
)

const (
	// DefaultSettle is the quiet period after the last observed change
	// before a batch is considered final and published.
	DefaultSettle = 150 * time.Millisecond

	// maxPending force-flushes a batch that keeps growing because changes
	// never stop arriving, bounding memory during pathological churn.
	maxPending = 10000
)

// Coalescer absorbs bursts of rapid changes into discrete settled batches.
// Each incoming change resets a settle timer; when the timer fires with no
// further changes, the pending set is flushed as one ChangeBatch with the
// next sequence number. Changes are deduplicated by path, keeping the latest
// kind, and ordered by first-seen time.
type Coalescer struct {
	settle time.Duration
	out    chan ChangeBatch
	done   chan struct{}

	mu      sync.Mutex
	pending map[string]FileChange
	order   []string
	timer   *time.Timer
	seq     uint64
	stopped bool
}

// NewCoalescer creates a coalescer with the given settle window. A zero or
// negative window falls back to DefaultSettle.
func NewCoalescer(settle time.Duration) *Coalescer {
	if settle <= 0 {
		settle = DefaultSettle
	}

	return &Coalescer{
		settle:  settle,
		out:     make(chan ChangeBatch, 16),
		done:    make(chan struct{}),
		pending: make(map[string]FileChange),
	}
}

// Batches returns the stream of settled batches. The channel stays open for
// the life of the coalescer; consumers should select against Done.
func (c *Coalescer) Batches() <-chan ChangeBatch { return c.out }

// Done is closed when the coalescer stops.
func (c *Coalescer) Done() <-chan struct{} { return c.done }

// Add records a change and resets the settle timer. Safe for concurrent use.
func (c *Coalescer) Add(ch FileChange) {
	c.mu.Lock()

	if c.stopped {
		c.mu.Unlock()
		return
	}

	if _, seen := c.pending[ch.Path]; !seen {
		c.order = append(c.order, ch.Path)
	}

	c.pending[ch.Path] = ch

	if len(c.pending) >= maxPending {
		batch, ok := c.takeLocked()
		c.mu.Unlock()

		if ok {
			c.send(batch)
		}

		return
	}

	if c.timer != nil {
		c.timer.Stop()
	}

	c.timer = time.AfterFunc(c.settle, c.flush)
	c.mu.Unlock()
}

// Sequence returns the sequence number of the most recently flushed batch.
func (c *Coalescer) Sequence() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.seq
}

// Stop cancels the pending timer and discards unsettled changes. No batches
// are emitted after Stop returns.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}

	c.stopped = true

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	close(c.done)
}

// flush is the settle-timer callback.
func (c *Coalescer) flush() {
	c.mu.Lock()
	batch, ok := c.takeLocked()
	c.mu.Unlock()

	if ok {
		c.send(batch)
	}
}

// takeLocked drains the pending set into a batch with the next sequence
// number. Caller holds c.mu.
func (c *Coalescer) takeLocked() (ChangeBatch, bool) {
	if c.stopped || len(c.pending) == 0 {
		return ChangeBatch{}, false
	}

	changes := make([]FileChange, 0, len(c.order))
	for _, p := range c.order {
		changes = append(changes, c.pending[p])
	}

	c.pending = make(map[string]FileChange)
	c.order = nil
	c.seq++

	return ChangeBatch{
		Sequence:  c.seq,
		Changes:   changes,
		SettledAt: time.Now(),
	}, true
}

// send delivers a batch unless the coalescer has been stopped. The publisher
// never drops batches itself; backpressure handling belongs to the hub.
func (c *Coalescer) send(batch ChangeBatch) {
	select {
	case c.out <- batch:
	case <-c.done:
	}
}
