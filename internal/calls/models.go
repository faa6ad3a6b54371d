package calls

import "time"

// Call is one tracked outbound conversation, active or archived.
//
// Ownership invariant: an active Call is owned exclusively by the registry.
// On terminal transition it moves to the history store exactly once and is
// removed from the registry; the two stores never hold it at the same time.
//
// Status terminal <=> Outcome set <=> the call has been archived.

type Call struct {
	CallID       string `json:"call_id"`
	CustomerName string `json:"customer_name"`
	PhoneNumber  string `json:"phone_number"`

	// TransferTo is the human agent number used when the customer asks
	// for a transfer. Mutable while the call is active.
	TransferTo string `json:"transfer_to,omitempty"`

	// RoomName identifies the media room on the agent runner side.
	RoomName string `json:"room_name,omitempty"`

	Status CallStatus `json:"status"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	// DurationSeconds is derived (now - StartTime) while the call is
	// active and frozen by Finalize.
	DurationSeconds float64 `json:"duration"`

	// Transcript is append-only; insertion order is conversational order.
	Transcript []Message `json:"transcript"`

	// AudioMetrics holds at most MaxAudioSamples entries; the oldest is
	// evicted on overflow.
	AudioMetrics []Sample `json:"audio_metrics"`

	// SentimentScores counts transcript messages per sentiment label.
	// Counts never decrease while the call is active.
	SentimentScores map[string]int `json:"sentiment_scores"`

	Objections      []string `json:"objections"`
	ObjectionsCount int      `json:"objections_count"`
	QuestionsAsked  int      `json:"questions_asked"`

	// Outcome is set once, at terminal status only.
	Outcome Outcome `json:"outcome,omitempty"`

	RecordingURL string `json:"recording_url,omitempty"`
}

// MaxAudioSamples caps the per-call audio metrics ring.
const MaxAudioSamples = 100

// Speaker identifies one side of the conversation.
type Speaker string

const (
	SpeakerAgent    Speaker = "agent"
	SpeakerCustomer Speaker = "customer"
)

// Message tags understood by the derived-counter logic in the registry.
const (
	TagObjection = "objection"
	TagQuestion  = "question"
)

// Message is one transcript turn. Immutable after creation.
type Message struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`

	// Sentiment is one of positive, neutral, negative.
	Sentiment string `json:"sentiment"`
	// Emotion is optional (happy, frustrated, confused, ...).
	Emotion string `json:"emotion,omitempty"`
	// Confidence is the ASR confidence in [0,1], 0 when unknown.
	Confidence float64 `json:"confidence,omitempty"`

	// Tags carry inference-side annotations such as TagObjection or
	// TagQuestion.
	Tags []string `json:"tags,omitempty"`
}

// Tagged reports whether the message carries the given tag.
func (m Message) Tagged(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Sample is one audio-metrics tick. Immutable; only ring membership changes.
type Sample struct {
	Timestamp            time.Time `json:"timestamp"`
	AgentVolume          float64   `json:"agent_volume"`
	CustomerVolume       float64   `json:"customer_volume"`
	AgentSpeaking        bool      `json:"agent_speaking"`
	CustomerSpeaking     bool      `json:"customer_speaking"`
	BackgroundNoiseLevel float64   `json:"background_noise_level"`
}

// Outcome records how a finished call concluded.
type Outcome string

const (
	OutcomeTransferred Outcome = "transferred"
	OutcomeScheduled   Outcome = "scheduled"
	OutcomeRejected    Outcome = "rejected"
	OutcomeHungUp      Outcome = "hung_up"
	OutcomeFailed      Outcome = "failed"
)

// ValidOutcome reports whether o is a known terminal outcome.
func ValidOutcome(o Outcome) bool {
	switch o {
	case OutcomeTransferred, OutcomeScheduled, OutcomeRejected, OutcomeHungUp, OutcomeFailed:
		return true
	default:
		return false
	}
}

// Clone returns a deep copy safe to hand outside the owning store.
func (c Call) Clone() Call {
	out := c
	if c.Transcript != nil {
		out.Transcript = make([]Message, len(c.Transcript))
		copy(out.Transcript, c.Transcript)
		for i := range out.Transcript {
			if tags := out.Transcript[i].Tags; tags != nil {
				cp := make([]string, len(tags))
				copy(cp, tags)
				out.Transcript[i].Tags = cp
			}
		}
	}
	if c.AudioMetrics != nil {
		out.AudioMetrics = make([]Sample, len(c.AudioMetrics))
		copy(out.AudioMetrics, c.AudioMetrics)
	}
	if c.SentimentScores != nil {
		out.SentimentScores = make(map[string]int, len(c.SentimentScores))
		for k, v := range c.SentimentScores {
			out.SentimentScores[k] = v
		}
	}
	if c.Objections != nil {
		out.Objections = make([]string, len(c.Objections))
		copy(out.Objections, c.Objections)
	}
	if c.EndTime != nil {
		t := *c.EndTime
		out.EndTime = &t
	}
	return out
}
