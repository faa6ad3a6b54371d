package broadcast

import (
	"context"
	"errors"
	"sync"

	"callwatch/internal/seqlog"
)

// ErrClosed is returned by Next after the subscription has been released.
var ErrClosed = errors.New("broadcast: subscription closed")

// Delivery is one outbound unit: either the initial snapshot or a delta.
type Delivery struct {
	Snapshot *Snapshot
	Event    *Event
}

// Payload returns the value to put on the wire.
func (d Delivery) Payload() any {
	if d.Snapshot != nil {
		return d.Snapshot
	}
	return d.Event
}

// Subscriber is one observer's send state. The hub enqueues; a single
// consumer goroutine drains via Next. Lossless deltas always leave before
// queued metrics.
type Subscriber struct {
	id    string
	hub   *Hub
	limit int

	mu       sync.Mutex
	closed   bool
	primed   bool
	snapshot *Snapshot
	control  []Event // lifecycle + transcript, unbounded
	metrics  []Event // bounded, oldest dropped first

	// cursors are the snapshot's per-call log positions; deltas at or
	// below them are already covered by the snapshot.
	cursors map[string]Cursor
	// lastDelivered tracks the metrics sequence actually handed to the
	// consumer, per call. Gap repair reads from here.
	lastDelivered map[string]uint64
	// stale marks calls whose metrics queue dropped an entry.
	stale map[string]struct{}

	notify chan struct{}
}

// ID identifies the subscription in logs.
func (s *Subscriber) ID() string { return s.id }

// Send queues a control event (e.g. pong) for this observer only.
func (s *Subscriber) Send(ev Event) { s.enqueue(ev) }

// Next blocks until a delivery is ready, the context is done, or the
// subscription is closed.
func (s *Subscriber) Next(ctx context.Context) (Delivery, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Delivery{}, ErrClosed
		}
		if s.snapshot != nil {
			snap := s.snapshot
			s.snapshot = nil
			s.mu.Unlock()
			return Delivery{Snapshot: snap}, nil
		}
		if len(s.control) > 0 {
			ev := s.control[0]
			s.control = s.control[1:]
			s.mu.Unlock()
			return Delivery{Event: &ev}, nil
		}
		if ev, ok := s.repairLocked(); ok {
			s.mu.Unlock()
			return Delivery{Event: &ev}, nil
		}
		if len(s.metrics) > 0 {
			ev := s.metrics[0]
			s.metrics = s.metrics[1:]
			s.lastDelivered[ev.CallID] = ev.Seq
			s.mu.Unlock()
			return Delivery{Event: &ev}, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// repairLocked resolves one stale call, if any. Caller holds s.mu. When the
// retained log still covers the subscriber's cursor the missed samples are
// requeued; when eviction outran it (seqlog.ErrGap) a fresh full-call
// snapshot replaces partial repair.
func (s *Subscriber) repairLocked() (Event, bool) {
	for callID := range s.stale {
		delete(s.stale, callID)
		s.dropMetricsLocked(callID)

		entries, err := s.hub.sources.SamplesSince(callID, s.lastDelivered[callID])
		switch {
		case err == nil:
			// Bounded staleness: keep only the newest deltas, oldest
			// dropped first.
			if len(entries) > s.limit {
				entries = entries[len(entries)-s.limit:]
			}
			for _, e := range entries {
				s.metrics = append(s.metrics, AudioMetrics(callID, e.Seq, e.Item))
			}
			continue
		case errors.Is(err, seqlog.ErrGap):
			// Eviction outran the cursor: re-send the full call
			// instead of attempting partial repair.
			call, cursor, ok := s.hub.sources.Call(callID)
			if !ok {
				// Finalized meanwhile; the terminal lifecycle delta
				// is lossless and tells the observer everything.
				delete(s.lastDelivered, callID)
				continue
			}
			s.lastDelivered[callID] = cursor.Metrics
			return StatusUpdate(call), true
		default:
			// Unknown call: nothing left to repair.
			delete(s.lastDelivered, callID)
			continue
		}
	}
	return Event{}, false
}

func (s *Subscriber) dropMetricsLocked(callID string) {
	kept := s.metrics[:0]
	for _, ev := range s.metrics {
		if ev.CallID != callID {
			kept = append(kept, ev)
		}
	}
	s.metrics = kept
}

// enqueue adds a delta without ever blocking the producer.
func (s *Subscriber) enqueue(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.coveredLocked(ev) {
		return
	}
	if ev.lossy() {
		// Gap repair reads the registry log directly, so a racing
		// publish can carry a sequence the repair already delivered or
		// requeued. Per-call order admits each sequence at most once.
		if ev.Seq > 0 && ev.Seq <= s.lastDelivered[ev.CallID] {
			return
		}
		for _, q := range s.metrics {
			if q.CallID == ev.CallID && q.Seq >= ev.Seq {
				return
			}
		}
		s.metrics = append(s.metrics, ev)
		if len(s.metrics) > s.limit {
			dropped := s.metrics[0]
			s.metrics = s.metrics[1:]
			s.stale[dropped.CallID] = struct{}{}
		}
	} else {
		s.control = append(s.control, ev)
	}
	s.wake()
}

// coveredLocked reports whether the snapshot already contains this delta.
func (s *Subscriber) coveredLocked(ev Event) bool {
	if !s.primed || ev.Seq == 0 {
		return false
	}
	cur, ok := s.cursors[ev.CallID]
	if !ok {
		return false
	}
	switch ev.Type {
	case TypeTranscriptUpdate:
		return ev.Seq <= cur.Transcript
	case TypeAudioMetrics:
		return ev.Seq <= cur.Metrics
	default:
		return false
	}
}

// prime installs the initial snapshot and discards queued deltas the
// snapshot already covers (published between registration and the snapshot
// read).
func (s *Subscriber) prime(snap Snapshot, cursors map[string]Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	snap.Type = TypeInitialState
	s.snapshot = &snap
	s.cursors = cursors
	s.primed = true
	for id, cur := range cursors {
		s.lastDelivered[id] = cur.Metrics
	}

	kept := s.control[:0]
	for _, ev := range s.control {
		if s.coveredLocked(ev) {
			continue
		}
		// A call_started for a call the snapshot already holds is
		// covered: creation is unique, so the snapshot saw it. Status
		// updates carry no sequence and stay queued; the snapshot may
		// predate the transition they announce.
		if ev.Type == TypeCallStarted {
			if _, ok := s.cursors[ev.CallID]; ok {
				continue
			}
		}
		kept = append(kept, ev)
	}
	s.control = kept

	keptM := s.metrics[:0]
	for _, ev := range s.metrics {
		if !s.coveredLocked(ev) {
			keptM = append(keptM, ev)
		}
	}
	s.metrics = keptM
	s.wake()
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.control = nil
	s.metrics = nil
	s.wake()
}

func (s *Subscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
