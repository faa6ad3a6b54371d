// Package broadcast fans call-state deltas out to independently-paced
// observers. Each subscriber gets a consistent snapshot on connect, then a
// strictly ordered per-call delta stream. Backpressure is per category:
// lifecycle and transcript deltas queue without bound (losing one is a
// correctness defect), audio metrics are bounded and lossy, with gap repair
// against the registry's retained history.
package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"callwatch/internal/calls"
	"callwatch/internal/seqlog"

	"github.com/google/uuid"
)

// DefaultMetricsQueueLimit bounds the per-subscriber audio-metrics queue
// when the config does not say otherwise.
const DefaultMetricsQueueLimit = 256

// Sources are the read hooks the hub needs from the owning stores. The hub
// never mutates through them.
type Sources struct {
	// Snapshot returns the full observable state plus the per-call log
	// cursors the snapshot covers.
	Snapshot func(ctx context.Context) (Snapshot, map[string]Cursor, error)
	// Call returns one active call with its current cursors, for forced
	// per-call resync.
	Call func(callID string) (calls.Call, Cursor, bool)
	// SamplesSince reads the retained audio-metrics tail after cursor.
	SamplesSince func(callID string, cursor uint64) ([]seqlog.Entry[calls.Sample], error)
}

// Hub is the fan-out engine.
type Hub struct {
	sources Sources
	limit   int
	log     *slog.Logger

	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

// NewHub builds a hub. metricsQueueLimit <= 0 applies the default.
func NewHub(sources Sources, metricsQueueLimit int, log *slog.Logger) *Hub {
	if metricsQueueLimit <= 0 {
		metricsQueueLimit = DefaultMetricsQueueLimit
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		sources: sources,
		limit:   metricsQueueLimit,
		log:     log,
		subs:    make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new observer and primes it with an initial_state
// snapshot. Registration happens before the snapshot read, so every delta
// published after the snapshot is either queued or covered by it; the
// cursor filter in the subscriber removes the overlap. No gaps, no
// duplicates.
func (h *Hub) Subscribe(ctx context.Context) (*Subscriber, error) {
	sub := &Subscriber{
		id:            uuid.NewString(),
		hub:           h,
		limit:         h.limit,
		notify:        make(chan struct{}, 1),
		cursors:       make(map[string]Cursor),
		lastDelivered: make(map[string]uint64),
		stale:         make(map[string]struct{}),
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	snap, cursors, err := h.sources.Snapshot(ctx)
	if err != nil {
		h.Unsubscribe(sub)
		return nil, err
	}
	sub.prime(snap, cursors)

	h.log.Info("observer subscribed", "subscriber_id", sub.id, "total", n)
	return sub, nil
}

// Unsubscribe releases the observer synchronously. Safe to call twice;
// never blocks producers.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	n := len(h.subs)
	h.mu.Unlock()
	if !ok {
		return
	}
	sub.close()
	h.log.Info("observer unsubscribed", "subscriber_id", sub.id, "total", n)
}

// Publish fans one delta out to every subscriber. Enqueueing never blocks:
// the lossless queues grow, the metrics queue drops its oldest entry and
// marks the call for resync.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		sub.enqueue(ev)
	}
}

// Subscribers returns the current observer count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
