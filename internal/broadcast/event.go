package broadcast

import (
	"callwatch/internal/calls"
	"callwatch/internal/stats"
)

// Server-to-client event kinds. The wire shapes mirror the dashboard
// protocol: every delta carries call_id plus one payload field.
const (
	TypeInitialState     = "initial_state"
	TypeCallStarted      = "call_started"
	TypeCallStatusUpdate = "call_status_update"
	TypeTranscriptUpdate = "transcript_update"
	TypeAudioMetrics     = "audio_metrics"
	TypePong             = "pong"
)

// Event is one delta delivered after the snapshot. Exactly one of Data,
// Message, Metrics is set depending on Type.
type Event struct {
	Type   string           `json:"type"`
	CallID string           `json:"call_id,omitempty"`
	Status calls.CallStatus `json:"status,omitempty"`

	Data    *calls.Call    `json:"data,omitempty"`
	Message *calls.Message `json:"message,omitempty"`
	Metrics *calls.Sample  `json:"metrics,omitempty"`

	// Seq is the per-call log sequence for transcript and metrics deltas.
	// Snapshot deduplication and gap repair key off it; it stays off the
	// wire.
	Seq uint64 `json:"-"`
}

func (e Event) lossy() bool { return e.Type == TypeAudioMetrics }

// Snapshot is the initial_state payload: a point-in-time consistent copy of
// all active calls, recent history and current statistics.
type Snapshot struct {
	Type        string                `json:"type"`
	ActiveCalls map[string]calls.Call `json:"active_calls"`
	CallHistory []calls.Call          `json:"call_history"`
	Stats       stats.Statistics      `json:"stats"`
}

// Cursor marks the per-call log positions a snapshot covers.
type Cursor struct {
	Transcript uint64
	Metrics    uint64
}

// CallStarted builds the delta announcing a new call.
func CallStarted(c calls.Call) Event {
	return Event{Type: TypeCallStarted, CallID: c.CallID, Data: &c}
}

// StatusUpdate builds the delta carrying a full refreshed call after a
// status change. Also used as the per-call resync payload after a gap.
func StatusUpdate(c calls.Call) Event {
	return Event{Type: TypeCallStatusUpdate, CallID: c.CallID, Status: c.Status, Data: &c}
}

// TranscriptUpdate builds the delta for one appended transcript turn.
func TranscriptUpdate(callID string, seq uint64, m calls.Message) Event {
	return Event{Type: TypeTranscriptUpdate, CallID: callID, Seq: seq, Message: &m}
}

// AudioMetrics builds the delta for one appended audio sample.
func AudioMetrics(callID string, seq uint64, s calls.Sample) Event {
	return Event{Type: TypeAudioMetrics, CallID: callID, Seq: seq, Metrics: &s}
}
