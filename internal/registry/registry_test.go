package registry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"callwatch/internal/calls"
	"callwatch/internal/seqlog"
)

func fixedClock(start time.Time, step time.Duration) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func TestCreate_DuplicateIDRejected(t *testing.T) {
	s := New(nil)
	if _, err := s.Create("c1", "Max", "+15550001111", "+15559998888"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	_, err := s.Create("c1", "Other", "+15550002222", "")
	if !errors.Is(err, calls.ErrDuplicateCall) {
		t.Fatalf("expected ErrDuplicateCall, got %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected store to retain only the first call")
	}
	got, ok := s.Get("c1")
	if !ok || got.CustomerName != "Max" {
		t.Fatalf("expected first call retained, got %+v", got)
	}
}

func TestCreate_InitialState(t *testing.T) {
	s := New(nil)
	c, err := s.Create("c1", "Max", "+15550001111", "+15559998888")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.Status != calls.StatusDialing {
		t.Fatalf("expected dialing, got %s", c.Status)
	}
	if c.RoomName != "outbound-call-c1" {
		t.Fatalf("unexpected room name %q", c.RoomName)
	}
	if c.SentimentScores["neutral"] != 0 || len(c.SentimentScores) != 3 {
		t.Fatalf("unexpected initial sentiment scores %v", c.SentimentScores)
	}
}

func TestApplyStatus_RejectsIllegalAndKeepsState(t *testing.T) {
	s := New(nil)
	s.Create("c1", "Max", "+15550001111", "")

	if _, err := s.ApplyStatus("c1", calls.StatusRinging); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	_, err := s.ApplyStatus("c1", calls.StatusOnHold)
	if !errors.Is(err, calls.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	got, _ := s.Get("c1")
	if got.Status != calls.StatusRinging {
		t.Fatalf("status changed by rejected transition: %s", got.Status)
	}

	_, err = s.ApplyStatus("nope", calls.StatusTalking)
	if !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendMessage_UpdatesDerivedCounters(t *testing.T) {
	s := New(nil)
	s.Create("c1", "Max", "+15550001111", "")

	s.AppendMessage("c1", calls.Message{Speaker: calls.SpeakerAgent, Text: "hi", Sentiment: "positive"})
	s.AppendMessage("c1", calls.Message{Speaker: calls.SpeakerCustomer, Text: "too expensive", Sentiment: "negative", Tags: []string{calls.TagObjection}})
	c, seq, err := s.AppendMessage("c1", calls.Message{Speaker: calls.SpeakerCustomer, Text: "how much?", Tags: []string{calls.TagQuestion}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if seq != 3 {
		t.Fatalf("expected seq 3, got %d", seq)
	}
	if len(c.Transcript) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(c.Transcript))
	}
	if c.SentimentScores["positive"] != 1 || c.SentimentScores["negative"] != 1 || c.SentimentScores["neutral"] != 1 {
		t.Fatalf("unexpected sentiment scores %v", c.SentimentScores)
	}
	if c.ObjectionsCount != 1 || len(c.Objections) != 1 || c.Objections[0] != "too expensive" {
		t.Fatalf("unexpected objections %v (%d)", c.Objections, c.ObjectionsCount)
	}
	if c.QuestionsAsked != 1 {
		t.Fatalf("expected 1 question, got %d", c.QuestionsAsked)
	}
	if c.Transcript[2].ID == "" {
		t.Fatalf("expected message id assigned")
	}
}

func TestAppendSample_RingNeverExceedsCap(t *testing.T) {
	s := New(nil)
	s.Create("c1", "Max", "+15550001111", "")

	for i := 0; i < calls.MaxAudioSamples+1; i++ {
		if _, err := s.AppendSample("c1", calls.Sample{AgentVolume: float64(i)}); err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
	}
	c, _ := s.Get("c1")
	if len(c.AudioMetrics) != calls.MaxAudioSamples {
		t.Fatalf("expected %d samples, got %d", calls.MaxAudioSamples, len(c.AudioMetrics))
	}
	// After the 101st append the earliest original sample is gone.
	if c.AudioMetrics[0].AgentVolume != 1 {
		t.Fatalf("expected oldest sample evicted, head is %v", c.AudioMetrics[0].AgentVolume)
	}
}

func TestSamplesSince_GapAfterEviction(t *testing.T) {
	s := New(nil)
	s.Create("c1", "Max", "+15550001111", "")
	for i := 0; i < calls.MaxAudioSamples+10; i++ {
		s.AppendSample("c1", calls.Sample{})
	}
	if _, err := s.SamplesSince("c1", 2); !errors.Is(err, seqlog.ErrGap) {
		t.Fatalf("expected ErrGap, got %v", err)
	}
	got, err := s.SamplesSince("c1", calls.MaxAudioSamples+5)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(got))
	}
}

func TestMessagesSince_TailAfterCursor(t *testing.T) {
	s := New(nil)
	s.Create("c1", "Max", "+15550001111", "")
	for i := 0; i < 5; i++ {
		if _, _, err := s.AppendMessage("c1", calls.Message{Text: fmt.Sprintf("m%d", i), Speaker: calls.SpeakerAgent}); err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
	}

	got, err := s.MessagesSince("c1", 3)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries after cursor, got %d", len(got))
	}
	if got[0].Seq != 4 || got[0].Item.Text != "m3" {
		t.Fatalf("expected seq 4 first, got %+v", got[0])
	}

	// The transcript log is unbounded, so a zero cursor replays everything.
	all, err := s.MessagesSince("c1", 0)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected full transcript, got %d entries", len(all))
	}

	if _, err := s.MessagesSince("nope", 0); !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFinalize_ExactlyOnce(t *testing.T) {
	start := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	s := New(fixedClock(start, time.Second))
	s.Create("c1", "Max", "+15550001111", "+15559998888")
	s.ApplyStatus("c1", calls.StatusRinging)
	s.ApplyStatus("c1", calls.StatusTalking)

	done, err := s.Finalize("c1", calls.OutcomeTransferred)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if done.Status != calls.StatusEnded || done.Outcome != calls.OutcomeTransferred {
		t.Fatalf("unexpected finalized call %+v", done)
	}
	if done.EndTime == nil || done.DurationSeconds <= 0 {
		t.Fatalf("expected frozen duration, got %v / %v", done.EndTime, done.DurationSeconds)
	}
	if s.Len() != 0 {
		t.Fatalf("expected record removed from active store")
	}

	_, err = s.Finalize("c1", calls.OutcomeTransferred)
	if !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second finalize, got %v", err)
	}
}

func TestFinalize_FailedOutcomeUsesFailedStatus(t *testing.T) {
	s := New(nil)
	s.Create("c1", "Max", "+15550001111", "")
	done, err := s.Finalize("c1", calls.OutcomeFailed)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if done.Status != calls.StatusFailed {
		t.Fatalf("expected failed status, got %s", done.Status)
	}
}

func TestFinalize_UnknownOutcomeRejected(t *testing.T) {
	s := New(nil)
	s.Create("c1", "Max", "+15550001111", "")
	if _, err := s.Finalize("c1", "voicemail"); !errors.Is(err, calls.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("rejected finalize must be a no-op")
	}
}

func TestSnapshot_IsDeepAndComplete(t *testing.T) {
	s := New(nil)
	for i := 0; i < 3; i++ {
		s.Create(fmt.Sprintf("c%d", i), "Max", "+15550001111", "")
	}
	s.AppendMessage("c0", calls.Message{Text: "hello"})

	snap := s.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(snap))
	}
	c0 := snap["c0"]
	c0.Transcript[0].Text = "mutated"
	fresh, _ := s.Get("c0")
	if fresh.Transcript[0].Text != "hello" {
		t.Fatalf("snapshot aliased store state")
	}
}
