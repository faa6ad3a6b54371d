// Package seqlog provides a sequence-numbered append log with pluggable
// retention: unbounded for transcripts, fixed-capacity ring for audio
// metrics. Sequence numbers are strictly increasing per log and survive
// eviction, which is what lets a consumer detect that it has fallen behind.
package seqlog

import "errors"

// ErrGap signals that the requested cursor precedes the oldest retained
// entry: the caller missed evicted items and must resynchronize from a
// snapshot instead of reading deltas.
var ErrGap = errors.New("seqlog: cursor behind retained history")

// Entry pairs an item with its assigned sequence number.
type Entry[T any] struct {
	Seq  uint64
	Item T
}

// Log is a single-writer append log. It is not safe for concurrent use;
// the owning store serializes access.
type Log[T any] struct {
	capacity int // 0 = unbounded
	entries  []Entry[T]
	lastSeq  uint64
}

// New returns a log with the given capacity; capacity 0 means unbounded.
func New[T any](capacity int) *Log[T] {
	return &Log[T]{capacity: capacity}
}

// Append stores item and returns its sequence number (first is 1).
// When the log is at capacity the oldest entry is evicted.
func (l *Log[T]) Append(item T) uint64 {
	l.lastSeq++
	l.entries = append(l.entries, Entry[T]{Seq: l.lastSeq, Item: item})
	if l.capacity > 0 && len(l.entries) > l.capacity {
		// Shift rather than reslice so the backing array does not pin
		// evicted items.
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:l.capacity]
	}
	return l.lastSeq
}

// Since returns all entries with sequence > cursor, in order. It returns
// ErrGap when entries between cursor and the oldest retained sequence have
// been evicted.
func (l *Log[T]) Since(cursor uint64) ([]Entry[T], error) {
	if len(l.entries) == 0 {
		if cursor < l.lastSeq {
			return nil, ErrGap
		}
		return nil, nil
	}
	oldest := l.entries[0].Seq
	if cursor+1 < oldest {
		return nil, ErrGap
	}
	if cursor >= l.lastSeq {
		return nil, nil
	}
	start := int(cursor + 1 - oldest)
	out := make([]Entry[T], len(l.entries)-start)
	copy(out, l.entries[start:])
	return out, nil
}

// Items returns the retained items in order.
func (l *Log[T]) Items() []T {
	out := make([]T, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Item
	}
	return out
}

// Len returns the number of retained entries.
func (l *Log[T]) Len() int { return len(l.entries) }

// LastSeq returns the most recently assigned sequence number, 0 if none.
func (l *Log[T]) LastSeq() uint64 { return l.lastSeq }
