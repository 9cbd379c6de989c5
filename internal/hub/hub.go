// Package hub is the event history and broadcast hub: an in-memory log of
// recent change batches plus the fan-out that pushes each settled batch to
// every connected subscriber. Per-subscriber queues are bounded and
// independently owned, so one slow or frozen client can never block the
// publisher or starve other subscribers.
package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/hotserve/internal/watch"
)

// Defaults for hub sizing.
const (
	// DefaultHistoryLimit bounds the in-memory batch log; the oldest batch
	// is evicted first once the bound is reached.
	DefaultHistoryLimit = 200

	// DefaultBacklog is how many recent batches a new subscriber is
	// pre-seeded with, bridging the gap for a tab that connects slightly
	// after a change.
	DefaultBacklog = 3

	// DefaultQueueLimit bounds each subscriber's outbound queue.
	DefaultQueueLimit = 64
)

// Subscriber represents one open push connection (a browser tab or a
// dashboard view). Its queue is drained exclusively by the owning connection
// handler.
type Subscriber struct {
	ID          string
	ConnectedAt time.Time

	queue chan watch.ChangeBatch

	// lastSeq is read and written only while the hub registry lock is held.
	lastSeq uint64
}

// Batches returns the subscriber's outbound queue. The channel is closed
// when the subscriber is unsubscribed or the hub shuts down.
func (s *Subscriber) Batches() <-chan watch.ChangeBatch { return s.queue }

// Options configures hub sizing. Zero values fall back to the defaults.
type Options struct {
	HistoryLimit int
	Backlog      int
	QueueLimit   int
	Logger       *slog.Logger
}

// Hub owns the event log and the registry of live subscribers. Both are
// mutated only through its public operations.
type Hub struct {
	opts Options

	mu      sync.RWMutex
	subs    map[string]*Subscriber
	history []watch.ChangeBatch
	dropped uint64
	closed  bool
}

// New creates a hub.
func New(opts Options) *Hub {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}

	if opts.Backlog <= 0 {
		opts.Backlog = DefaultBacklog
	}

	if opts.QueueLimit <= 0 {
		opts.QueueLimit = DefaultQueueLimit
	}

	// The backlog is replayed through the queue, so it can never exceed it.
	if opts.Backlog > opts.QueueLimit {
		opts.Backlog = opts.QueueLimit
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Hub{
		opts: opts,
		subs: make(map[string]*Subscriber),
	}
}

// Publish appends batch to the event log, evicting the oldest entry past the
// history limit, and delivers it to every registered subscriber.
//
// Overflow policy: when a subscriber's queue is full, the oldest queued batch
// is dropped for that subscriber only. The subscriber stays connected and
// still receives the newest batches, possibly with gaps; batches are never
// reordered or duplicated. Publish never blocks.
func (h *Hub) Publish(batch watch.ChangeBatch) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.history = append(h.history, batch)
	if len(h.history) > h.opts.HistoryLimit {
		h.history = h.history[len(h.history)-h.opts.HistoryLimit:]
	}

	for _, sub := range h.subs {
		h.deliverLocked(sub, batch)
	}
}

// deliverLocked enqueues batch for one subscriber, dropping that
// subscriber's oldest queued batch on overflow. Caller holds h.mu.
func (h *Hub) deliverLocked(sub *Subscriber, batch watch.ChangeBatch) {
	if batch.Sequence <= sub.lastSeq {
		return
	}

	select {
	case sub.queue <- batch:
		sub.lastSeq = batch.Sequence
		return
	default:
	}

	// Queue full: evict the oldest entry. The receive can lose a race with
	// the connection handler draining the queue, in which case the retry
	// below succeeds anyway.
	select {
	case <-sub.queue:
	default:
	}

	select {
	case sub.queue <- batch:
		sub.lastSeq = batch.Sequence
		h.dropped++
		h.opts.Logger.Debug("dropped oldest batch for slow subscriber",
			slog.String("subscriber", sub.ID),
			slog.Uint64("sequence", batch.Sequence),
		)
	default:
		// Still full (handler raced a drain-and-fill). Skip this batch for
		// this subscriber; ordering is preserved.
		h.dropped++
	}
}

// Subscribe registers a new push connection and returns it pre-seeded with
// the most recent backlog batches.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now(),
		queue:       make(chan watch.ChangeBatch, h.opts.QueueLimit),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(sub.queue)
		return sub
	}

	start := len(h.history) - h.opts.Backlog
	if start < 0 {
		start = 0
	}

	for _, batch := range h.history[start:] {
		sub.queue <- batch
		sub.lastSeq = batch.Sequence
	}

	h.subs[sub.ID] = sub

	h.opts.Logger.Debug("subscriber registered",
		slog.String("subscriber", sub.ID),
		slog.Int("total", len(h.subs)),
	)

	return sub
}

// Unsubscribe removes a subscriber and closes its queue. Unknown ids are
// ignored, so repeated unsubscribes from a flaky client are harmless.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return
	}

	delete(h.subs, id)
	close(sub.queue)

	h.opts.Logger.Debug("subscriber unregistered",
		slog.String("subscriber", id),
		slog.Int("total", len(h.subs)),
	)
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subs)
}

// Dropped returns the total number of batches dropped due to subscriber
// overflow since the hub was created.
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.dropped
}

// History returns a copy of the event log, oldest first.
func (h *Hub) History() []watch.ChangeBatch {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]watch.ChangeBatch, len(h.history))
	copy(out, h.history)

	return out
}

// Close disconnects all subscribers and rejects further publishes and
// subscriptions. Idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.closed = true

	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.queue)
	}
}
