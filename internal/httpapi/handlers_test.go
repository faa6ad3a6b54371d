package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"callwatch/internal/audit"
	"callwatch/internal/broadcast"
	"callwatch/internal/calls"
	"callwatch/internal/dispatch"
	"callwatch/internal/history"
	"callwatch/internal/ingest"
	"callwatch/internal/registry"
	"callwatch/internal/stats"

	"github.com/gin-gonic/gin"
)

type fakeCap struct {
	full     bool
	acquired atomic.Int64
	released atomic.Int64
}

func (f *fakeCap) Acquire(ctx context.Context) (bool, error) {
	if f.full {
		return false, nil
	}
	f.acquired.Add(1)
	return true, nil
}

func (f *fakeCap) Release(ctx context.Context) error {
	f.released.Add(1)
	return nil
}

type fixture struct {
	store      *registry.Store
	archive    *history.Service
	ingest     *ingest.Service
	dispatcher *dispatch.MemoryDispatcher
	cap        *fakeCap
	auditRepo  *audit.MemoryRepo
	router     *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := registry.New(nil)
	archive := history.NewService(history.NewMemoryRepo())
	statsSvc := stats.NewService(store, archive)
	hub := broadcast.NewHub(broadcast.StoreSources(store, archive, statsSvc, 0), 0, nil)
	ingestSvc := ingest.NewService(store, archive, hub, nil, nil)
	dispatcher := dispatch.NewMemoryDispatcher()
	capCtl := &fakeCap{}
	auditRepo := audit.NewMemoryRepo()

	h := Handlers{
		Store:      store,
		History:    archive,
		Stats:      statsSvc,
		Ingest:     ingestSvc,
		Hub:        hub,
		Dispatcher: dispatcher,
		Cap:        capCtl,
		AgentName:  "outbound-caller",
		Audit:      audit.NewService(auditRepo),
	}

	r := gin.New()
	r.POST("/api/calls/start", h.StartCall)
	r.POST("/api/calls/:call_id/transfer", h.TransferCall)
	r.POST("/api/calls/:call_id/end", h.EndCall)
	r.GET("/api/calls", h.ListCalls)
	r.GET("/api/calls/:call_id", h.GetCall)
	r.GET("/api/stats", h.GetStats)
	r.POST("/api/events", h.IngestEvent)

	return &fixture{
		store:      store,
		archive:    archive,
		ingest:     ingestSvc,
		dispatcher: dispatcher,
		cap:        capCtl,
		auditRepo:  auditRepo,
		router:     r,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// waitFor polls until cond holds; dispatch runs off the request path.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestStartCall(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/calls/start", gin.H{
		"phone_number":  "+15550100",
		"customer_name": "Ada",
		"transfer_to":   "+15550199",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Success bool   `json:"success"`
		CallID  string `json:"call_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.CallID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	call, ok := f.store.Get(resp.CallID)
	if !ok {
		t.Fatal("call not registered")
	}
	if call.Status != calls.StatusDialing {
		t.Fatalf("status = %q", call.Status)
	}

	waitFor(t, func() bool {
		starts, _, _ := f.dispatcher.Recorded()
		return len(starts) == 1
	})
	starts, _, _ := f.dispatcher.Recorded()
	if starts[0].RoomName != "outbound-call-"+resp.CallID {
		t.Fatalf("room = %q", starts[0].RoomName)
	}
	if starts[0].AgentName != "outbound-caller" {
		t.Fatalf("agent = %q", starts[0].AgentName)
	}

	if evs := f.auditRepo.Events(); len(evs) != 1 || evs[0].Action != audit.ActionStartCall {
		t.Fatalf("audit events = %+v", evs)
	}
	if got := f.cap.acquired.Load(); got != 1 {
		t.Fatalf("cap acquired = %d", got)
	}
}

func TestStartCallRejectsIncompleteRequest(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/calls/start", gin.H{
		"phone_number": "+15550100",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if f.store.Len() != 0 {
		t.Fatal("no call should be registered")
	}
	if f.cap.acquired.Load() != 0 {
		t.Fatal("cap should not be touched on validation failure")
	}
}

func TestStartCallAtCapacity(t *testing.T) {
	f := newFixture(t)
	f.cap.full = true

	w := f.do(t, http.MethodPost, "/api/calls/start", gin.H{
		"phone_number":  "+15550100",
		"customer_name": "Ada",
		"transfer_to":   "+15550199",
	})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", w.Code)
	}
	if f.store.Len() != 0 {
		t.Fatal("no call should be registered")
	}
}

func TestStartCallDispatchFailure(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.Err = errors.New("runner down")

	w := f.do(t, http.MethodPost, "/api/calls/start", gin.H{
		"phone_number":  "+15550100",
		"customer_name": "Ada",
		"transfer_to":   "+15550199",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	// The failed dial-out finalizes the call and frees the slot.
	waitFor(t, func() bool { return f.store.Len() == 0 })
	waitFor(t, func() bool { return f.cap.released.Load() == 1 })

	n, err := f.archive.Count(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("archive count = %d, err %v", n, err)
	}
	rows, err := f.archive.List(context.Background(), 1)
	if err != nil || len(rows) != 1 {
		t.Fatalf("archive list failed: %v", err)
	}
	if rows[0].Outcome != calls.OutcomeFailed || rows[0].Status != calls.StatusFailed {
		t.Fatalf("outcome = %q status = %q", rows[0].Outcome, rows[0].Status)
	}
}

func TestTransferCall(t *testing.T) {
	f := newFixture(t)

	if w := f.do(t, http.MethodPost, "/api/calls/nope/transfer", gin.H{"transfer_to": "+15550199"}); w.Code != http.StatusNotFound {
		t.Fatalf("unknown call status = %d", w.Code)
	}

	call, err := f.ingest.CallStarted(context.Background(), "", "Ada", "+15550100", "+15550199")
	if err != nil {
		t.Fatalf("CallStarted: %v", err)
	}

	w := f.do(t, http.MethodPost, "/api/calls/"+call.CallID+"/transfer", gin.H{"transfer_to": "+15550777"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	got, _ := f.store.Get(call.CallID)
	if got.TransferTo != "+15550777" {
		t.Fatalf("transfer_to = %q", got.TransferTo)
	}
	waitFor(t, func() bool {
		_, transfers, _ := f.dispatcher.Recorded()
		return len(transfers) == 1 && transfers[0].TransferTo == "+15550777"
	})
}

func TestEndCallThenConfirmation(t *testing.T) {
	f := newFixture(t)

	call, err := f.ingest.CallStarted(context.Background(), "", "Ada", "+15550100", "+15550199")
	if err != nil {
		t.Fatalf("CallStarted: %v", err)
	}

	if w := f.do(t, http.MethodPost, "/api/calls/"+call.CallID+"/end", nil); w.Code != http.StatusOK {
		t.Fatalf("end status = %d", w.Code)
	}
	waitFor(t, func() bool {
		_, _, ends := f.dispatcher.Recorded()
		return len(ends) == 1
	})

	// The record only leaves the active store once the runner confirms.
	if f.store.Len() != 1 {
		t.Fatal("call should still be active before confirmation")
	}

	w := f.do(t, http.MethodPost, "/api/events", ingest.Envelope{
		Type:    ingest.TypeCallEnded,
		CallID:  call.CallID,
		Outcome: calls.OutcomeHungUp,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("ingest status = %d, body %s", w.Code, w.Body.String())
	}
	if f.store.Len() != 0 {
		t.Fatal("call should be finalized")
	}
	if f.cap.released.Load() != 1 {
		t.Fatalf("cap released = %d", f.cap.released.Load())
	}
}

func TestGetCallFallsBackToHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	call, err := f.ingest.CallStarted(ctx, "", "Ada", "+15550100", "+15550199")
	if err != nil {
		t.Fatalf("CallStarted: %v", err)
	}
	if w := f.do(t, http.MethodGet, "/api/calls/"+call.CallID, nil); w.Code != http.StatusOK {
		t.Fatalf("active lookup status = %d", w.Code)
	}

	if err := f.ingest.CallEnded(ctx, call.CallID, calls.OutcomeTransferred, ""); err != nil {
		t.Fatalf("CallEnded: %v", err)
	}

	w := f.do(t, http.MethodGet, "/api/calls/"+call.CallID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history lookup status = %d", w.Code)
	}
	var got calls.Call
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Outcome != calls.OutcomeTransferred {
		t.Fatalf("outcome = %q", got.Outcome)
	}

	if w := f.do(t, http.MethodGet, "/api/calls/nope", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing call status = %d", w.Code)
	}
}

func TestListCallsFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, tc := range []struct {
		name    string
		outcome calls.Outcome
	}{
		{"Ada", calls.OutcomeTransferred},
		{"Grace", calls.OutcomeHungUp},
		{"Edsger", calls.OutcomeTransferred},
	} {
		call, err := f.ingest.CallStarted(ctx, "", tc.name, "+15550100", "+15550199")
		if err != nil {
			t.Fatalf("CallStarted: %v", err)
		}
		if err := f.ingest.CallEnded(ctx, call.CallID, tc.outcome, ""); err != nil {
			t.Fatalf("CallEnded: %v", err)
		}
	}

	w := f.do(t, http.MethodGet, "/api/calls?outcome=transferred", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Calls []calls.Call `json:"calls"`
		Total int          `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Calls) != 2 {
		t.Fatalf("filtered calls = %d", len(resp.Calls))
	}
	if resp.Total != 3 {
		t.Fatalf("total = %d", resp.Total)
	}

	if w := f.do(t, http.MethodGet, "/api/calls?limit=nope", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", w.Code)
	}
}

func TestGetStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	call, err := f.ingest.CallStarted(ctx, "", "Ada", "+15550100", "+15550199")
	if err != nil {
		t.Fatalf("CallStarted: %v", err)
	}
	if err := f.ingest.CallEnded(ctx, call.CallID, calls.OutcomeTransferred, ""); err != nil {
		t.Fatalf("CallEnded: %v", err)
	}

	w := f.do(t, http.MethodGet, "/api/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"total_calls":1`) || !strings.Contains(body, `"successful_transfers":1`) {
		t.Fatalf("unexpected stats body: %s", body)
	}
}
