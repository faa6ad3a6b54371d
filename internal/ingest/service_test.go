package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"callwatch/internal/broadcast"
	"callwatch/internal/calls"
	"callwatch/internal/history"
	"callwatch/internal/registry"
	"callwatch/internal/stats"
)

type capturedPublish struct {
	mu    sync.Mutex
	calls []calls.Call
	err   error
}

func (p *capturedPublish) PublishFinalized(ctx context.Context, c calls.Call) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
	return p.err
}

type env struct {
	store   *registry.Store
	archive *history.Service
	hub     *broadcast.Hub
	pub     *capturedPublish
	svc     *Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := registry.New(nil)
	archive := history.NewService(history.NewMemoryRepo())
	statsSvc := stats.NewService(store, archive)
	hub := broadcast.NewHub(broadcast.StoreSources(store, archive, statsSvc, 0), 0, nil)
	pub := &capturedPublish{}
	return &env{
		store:   store,
		archive: archive,
		hub:     hub,
		pub:     pub,
		svc:     NewService(store, archive, hub, pub, nil),
	}
}

func TestApply_RequiresCallID(t *testing.T) {
	e := newEnv(t)
	err := e.svc.Apply(context.Background(), Envelope{Type: TypeCallStatus, Status: calls.StatusRinging})
	if !errors.Is(err, calls.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestApply_UnknownTypeRejected(t *testing.T) {
	e := newEnv(t)
	err := e.svc.Apply(context.Background(), Envelope{Type: "mystery", CallID: "c1"})
	if !errors.Is(err, calls.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestCallStarted_ValidatesInput(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.CallStarted(context.Background(), "", "", "+15550001111", "")
	if !errors.Is(err, calls.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if e.store.Len() != 0 {
		t.Fatalf("rejected start must not create a record")
	}
}

func TestLifecycle_FullScenario(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c, err := e.svc.CallStarted(ctx, "c1", "Max", "+15550001111", "+15559998888")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.Status != calls.StatusDialing {
		t.Fatalf("expected dialing, got %s", c.Status)
	}

	for _, st := range []calls.CallStatus{calls.StatusRinging, calls.StatusTalking} {
		if err := e.svc.StatusChanged(ctx, "c1", st); err != nil {
			t.Fatalf("status %s: %v", st, err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := e.svc.Transcript(ctx, "c1", calls.Message{Speaker: calls.SpeakerAgent, Text: "hello"}); err != nil {
			t.Fatalf("transcript: %v", err)
		}
	}

	if err := e.svc.CallEnded(ctx, "c1", calls.OutcomeTransferred, ""); err != nil {
		t.Fatalf("end: %v", err)
	}

	if e.store.Len() != 0 {
		t.Fatalf("active store must no longer contain c1")
	}
	got, ok, err := e.archive.Get(ctx, "c1")
	if err != nil || !ok {
		t.Fatalf("expected archived call, ok=%v err=%v", ok, err)
	}
	if len(got.Transcript) != 3 {
		t.Fatalf("expected 3 transcript turns, got %d", len(got.Transcript))
	}
	if got.Outcome != calls.OutcomeTransferred || got.EndTime == nil {
		t.Fatalf("expected frozen transferred call, got %+v", got)
	}

	st, err := stats.NewService(e.store, e.archive).Compute(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalCalls != 1 || st.SuccessfulTransfers != 1 {
		t.Fatalf("unexpected statistics %+v", st)
	}

	if len(e.pub.calls) != 1 || e.pub.calls[0].CallID != "c1" {
		t.Fatalf("expected one finalized-call publish, got %+v", e.pub.calls)
	}
}

func TestCallEnded_SecondCallFails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.svc.CallStarted(ctx, "c1", "Max", "+15550001111", "")
	if err := e.svc.CallEnded(ctx, "c1", calls.OutcomeHungUp, ""); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	err := e.svc.CallEnded(ctx, "c1", calls.OutcomeHungUp, "")
	if !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	n, _ := e.archive.Count(ctx)
	if n != 1 {
		t.Fatalf("expected exactly one archived copy, got %d", n)
	}
}

func TestRejectedMutationIsNoOp(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.svc.CallStarted(ctx, "c1", "Max", "+15550001111", "")

	err := e.svc.StatusChanged(ctx, "c1", calls.StatusOnHold)
	if !errors.Is(err, calls.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	got, _ := e.store.Get("c1")
	if got.Status != calls.StatusDialing {
		t.Fatalf("rejected mutation changed state to %s", got.Status)
	}
}

func TestDeltasReachSubscribers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sub, err := e.hub.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer e.hub.Unsubscribe(sub)

	if d, err := sub.Next(ctx); err != nil || d.Snapshot == nil {
		t.Fatalf("expected snapshot, got %+v err %v", d, err)
	}

	e.svc.CallStarted(ctx, "c1", "Max", "+15550001111", "")
	d, err := sub.Next(ctx)
	if err != nil || d.Event == nil || d.Event.Type != broadcast.TypeCallStarted {
		t.Fatalf("expected call_started, got %+v err %v", d, err)
	}

	e.svc.Transcript(ctx, "c1", calls.Message{Text: "hi", Speaker: calls.SpeakerAgent})
	d, err = sub.Next(ctx)
	if err != nil || d.Event == nil || d.Event.Type != broadcast.TypeTranscriptUpdate {
		t.Fatalf("expected transcript_update, got %+v err %v", d, err)
	}
	if d.Event.Message.ID == "" {
		t.Fatalf("broadcast message must carry the stored id")
	}
}
