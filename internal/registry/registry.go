// Package registry owns the canonical mutable state of every active call.
//
// All mutation goes through one Store guarded by a single RWMutex: two
// concurrent status transitions on the same call can never race, and
// snapshot reads are consistent because no update lands mid-read. Reads
// copy; raw records never leave the lock.
package registry

import (
	"fmt"
	"sync"
	"time"

	"callwatch/internal/calls"
	"callwatch/internal/seqlog"

	"github.com/google/uuid"
)

// record is the owned state of one active call. Transcript and audio
// metrics live in the sequence logs; the materialized slices on calls.Call
// are built from them on read.
type record struct {
	call       calls.Call
	transcript *seqlog.Log[calls.Message]
	metrics    *seqlog.Log[calls.Sample]
}

// Store is the single authoritative map from call_id to active call.
type Store struct {
	mu    sync.RWMutex
	byID  map[string]*record
	clock func() time.Time
}

// New returns an empty store. clock is injectable for deterministic tests;
// nil means time.Now.
func New(clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{byID: make(map[string]*record), clock: clock}
}

// Create registers a new call in status dialing.
func (s *Store) Create(callID, customerName, phoneNumber, transferTo string) (calls.Call, error) {
	if callID == "" {
		callID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[callID]; ok {
		return calls.Call{}, fmt.Errorf("create %s: %w", callID, calls.ErrDuplicateCall)
	}
	r := &record{
		call: calls.Call{
			CallID:       callID,
			CustomerName: customerName,
			PhoneNumber:  phoneNumber,
			TransferTo:   transferTo,
			RoomName:     "outbound-call-" + callID,
			Status:       calls.StatusDialing,
			StartTime:    s.clock().UTC(),
			SentimentScores: map[string]int{
				"positive": 0, "neutral": 0, "negative": 0,
			},
			Objections: []string{},
		},
		transcript: seqlog.New[calls.Message](0),
		metrics:    seqlog.New[calls.Sample](calls.MaxAudioSamples),
	}
	s.byID[callID] = r
	return r.snapshot(s.clock()), nil
}

// Get returns a copy of the call, false when absent. A lookup miss is not
// an error.
func (s *Store) Get(callID string) (calls.Call, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[callID]
	if !ok {
		return calls.Call{}, false
	}
	return r.snapshot(s.clock()), true
}

// ApplyStatus validates and applies a status transition, returning the
// updated call. A rejected transition leaves the record untouched.
func (s *Store) ApplyStatus(callID string, status calls.CallStatus) (calls.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[callID]
	if !ok {
		return calls.Call{}, fmt.Errorf("status %s: %w", callID, calls.ErrNotFound)
	}
	if !calls.ValidStatus(status) || !calls.CanTransition(r.call.Status, status) {
		return calls.Call{}, fmt.Errorf("status %s: %s -> %s: %w", callID, r.call.Status, status, calls.ErrInvalidTransition)
	}
	r.call.Status = status
	return r.snapshot(s.clock()), nil
}

// SetTransferTo updates the transfer target of an active call.
func (s *Store) SetTransferTo(callID, transferTo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[callID]
	if !ok {
		return fmt.Errorf("transfer target %s: %w", callID, calls.ErrNotFound)
	}
	r.call.TransferTo = transferTo
	return nil
}

// AppendMessage appends one transcript turn and updates the derived
// counters (sentiment scores, objections, questions). It returns the
// updated call and the message's transcript sequence number.
func (s *Store) AppendMessage(callID string, msg calls.Message) (calls.Call, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[callID]
	if !ok {
		return calls.Call{}, 0, fmt.Errorf("message %s: %w", callID, calls.ErrNotFound)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.clock().UTC()
	}
	if msg.Sentiment == "" {
		msg.Sentiment = "neutral"
	}
	seq := r.transcript.Append(msg)

	r.call.SentimentScores[msg.Sentiment]++
	if msg.Tagged(calls.TagObjection) {
		r.call.Objections = append(r.call.Objections, msg.Text)
		r.call.ObjectionsCount++
	}
	if msg.Tagged(calls.TagQuestion) {
		r.call.QuestionsAsked++
	}
	return r.snapshot(s.clock()), seq, nil
}

// AppendSample appends one audio-metrics tick to the capped ring and
// returns its sequence number.
func (s *Store) AppendSample(callID string, sample calls.Sample) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[callID]
	if !ok {
		return 0, fmt.Errorf("sample %s: %w", callID, calls.ErrNotFound)
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.clock().UTC()
	}
	return r.metrics.Append(sample), nil
}

// Finalize moves the call to its terminal status, freezes duration, removes
// it from the store and returns the finalized snapshot for hand-off to the
// history store. A second Finalize on the same id fails with ErrNotFound:
// finalizing exactly once is the caller's job.
func (s *Store) Finalize(callID string, outcome calls.Outcome) (calls.Call, error) {
	if !calls.ValidOutcome(outcome) {
		return calls.Call{}, fmt.Errorf("finalize %s: outcome %q: %w", callID, outcome, calls.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[callID]
	if !ok {
		return calls.Call{}, fmt.Errorf("finalize %s: %w", callID, calls.ErrNotFound)
	}

	terminal := calls.StatusEnded
	if outcome == calls.OutcomeFailed {
		terminal = calls.StatusFailed
	}
	if !calls.CanTransition(r.call.Status, terminal) {
		return calls.Call{}, fmt.Errorf("finalize %s: %s -> %s: %w", callID, r.call.Status, terminal, calls.ErrInvalidTransition)
	}

	now := s.clock().UTC()
	r.call.Status = terminal
	r.call.Outcome = outcome
	r.call.EndTime = &now
	delete(s.byID, callID)

	return r.snapshot(now), nil
}

// Cursor marks a position in a call's transcript and metrics logs.
type Cursor struct {
	Transcript uint64
	Metrics    uint64
}

// Snapshot deep-copies every active call under one read lock, so a newly
// connecting observer sees a mutually consistent view. O(active calls).
func (s *Store) Snapshot() map[string]calls.Call {
	snap, _ := s.SnapshotWithCursors()
	return snap
}

// SnapshotWithCursors additionally reports, per call, the log positions the
// snapshot covers. The broadcaster uses the cursors to discard deltas a new
// subscriber already holds via the snapshot.
func (s *Store) SnapshotWithCursors() (map[string]calls.Call, map[string]Cursor) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(map[string]calls.Call, len(s.byID))
	cursors := make(map[string]Cursor, len(s.byID))
	now := s.clock()
	for id, r := range s.byID {
		snap[id] = r.snapshot(now)
		cursors[id] = Cursor{Transcript: r.transcript.LastSeq(), Metrics: r.metrics.LastSeq()}
	}
	return snap, cursors
}

// GetWithCursor returns a copy of one call plus its current log positions.
func (s *Store) GetWithCursor(callID string) (calls.Call, Cursor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[callID]
	if !ok {
		return calls.Call{}, Cursor{}, false
	}
	return r.snapshot(s.clock()), Cursor{Transcript: r.transcript.LastSeq(), Metrics: r.metrics.LastSeq()}, true
}

// MessagesSince returns transcript entries with sequence > cursor.
func (s *Store) MessagesSince(callID string, cursor uint64) ([]seqlog.Entry[calls.Message], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[callID]
	if !ok {
		return nil, fmt.Errorf("messages since %s: %w", callID, calls.ErrNotFound)
	}
	return r.transcript.Since(cursor)
}

// SamplesSince returns audio-metric entries with sequence > cursor. Because
// the ring evicts, this is where a slow consumer learns it has a gap.
func (s *Store) SamplesSince(callID string, cursor uint64) ([]seqlog.Entry[calls.Sample], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[callID]
	if !ok {
		return nil, fmt.Errorf("samples since %s: %w", callID, calls.ErrNotFound)
	}
	return r.metrics.Since(cursor)
}

// Len returns the number of active calls.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (r *record) snapshot(now time.Time) calls.Call {
	out := r.call.Clone()
	out.Transcript = r.transcript.Items()
	out.AudioMetrics = r.metrics.Items()
	if out.EndTime == nil {
		out.DurationSeconds = now.UTC().Sub(out.StartTime).Seconds()
	} else {
		out.DurationSeconds = out.EndTime.Sub(out.StartTime).Seconds()
	}
	return out
}
