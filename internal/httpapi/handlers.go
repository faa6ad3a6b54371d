package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

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

// CallCap limits concurrently active calls fleet-wide. Optional; nil means
// unlimited.
type CallCap interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Store      *registry.Store
	History    *history.Service
	Stats      *stats.Service
	Ingest     *ingest.Service
	Hub        *broadcast.Hub
	Dispatcher dispatch.Dispatcher
	Cap        CallCap
	AgentName  string
	Audit      *audit.Service

	// HistoryLimit is the default page size for call-history reads;
	// <= 0 falls back to history.DefaultListLimit.
	HistoryLimit int

	Log *slog.Logger
}

func (h Handlers) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

// auditAction records the control command; the trail is best-effort and
// never fails the request.
func (h Handlers) auditAction(c *gin.Context, action audit.Action, callID, message string) {
	if h.Audit == nil {
		return
	}
	if err := h.Audit.LogControlAction(c.Request.Context(), action, callID, c.ClientIP(), message); err != nil {
		h.logger().Error("audit append failed", "action", action, "call_id", callID, "err", err)
	}
}

// --- Control API ---

type startCallRequest struct {
	PhoneNumber  string `json:"phone_number"`
	CustomerName string `json:"customer_name"`
	TransferTo   string `json:"transfer_to"`
}

// StartCall creates the call record and dispatches the dial-out to the
// agent runner. Validation happens before any state is touched.
func (h Handlers) StartCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.PhoneNumber == "" || req.CustomerName == "" || req.TransferTo == "" {
		abortWithError(c, calls.ErrValidation)
		return
	}

	ctx := c.Request.Context()
	if h.Cap != nil {
		ok, err := h.Cap.Acquire(ctx)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "capacity check failed"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "concurrent call limit reached"})
			return
		}
	}

	call, err := h.Ingest.CallStarted(ctx, "", req.CustomerName, req.PhoneNumber, req.TransferTo)
	if err != nil {
		if h.Cap != nil {
			_ = h.Cap.Release(ctx)
		}
		abortWithError(c, err)
		return
	}

	h.auditAction(c, audit.ActionStartCall, call.CallID, "dial "+req.PhoneNumber)

	// The dial-out happens off the request path; a failure comes back as
	// a call_ended event with outcome failed.
	go h.dispatchStart(call)

	c.JSON(http.StatusOK, gin.H{"success": true, "call_id": call.CallID})
}

func (h Handlers) dispatchStart(call calls.Call) {
	log := h.logger()
	id, err := h.Dispatcher.StartCall(context.Background(), dispatch.StartRequest{
		CallID:      call.CallID,
		RoomName:    call.RoomName,
		AgentName:   h.AgentName,
		PhoneNumber: call.PhoneNumber,
		TransferTo:  call.TransferTo,
	})
	if err != nil {
		log.Error("start dispatch failed", "call_id", call.CallID, "err", err)
		if endErr := h.Ingest.CallEnded(context.Background(), call.CallID, calls.OutcomeFailed, ""); endErr != nil {
			log.Error("failed-call cleanup failed", "call_id", call.CallID, "err", endErr)
		}
		if h.Cap != nil {
			_ = h.Cap.Release(context.Background())
		}
		return
	}
	log.Info("call dispatched", "call_id", call.CallID, "dispatch_id", id)
}

type transferRequest struct {
	TransferTo string `json:"transfer_to"`
}

// TransferCall asks the runner to transfer an active call. State changes
// only when the runner confirms via ingestion.
func (h Handlers) TransferCall(c *gin.Context) {
	callID := c.Param("call_id")
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TransferTo == "" {
		abortWithError(c, calls.ErrValidation)
		return
	}
	call, ok := h.Store.Get(callID)
	if !ok {
		abortWithError(c, calls.ErrNotFound)
		return
	}
	if err := h.Store.SetTransferTo(callID, req.TransferTo); err != nil {
		abortWithError(c, err)
		return
	}

	h.auditAction(c, audit.ActionTransferCall, callID, "transfer to "+req.TransferTo)

	go func() {
		log := h.logger()
		err := h.Dispatcher.TransferCall(context.Background(), dispatch.TransferRequest{
			CallID:     callID,
			RoomName:   call.RoomName,
			TransferTo: req.TransferTo,
		})
		if err != nil {
			log.Error("transfer dispatch failed", "call_id", callID, "err", err)
		}
	}()

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// EndCall asks the runner to end an active call. The record is finalized
// when the confirming call_ended event arrives.
func (h Handlers) EndCall(c *gin.Context) {
	callID := c.Param("call_id")
	call, ok := h.Store.Get(callID)
	if !ok {
		abortWithError(c, calls.ErrNotFound)
		return
	}

	h.auditAction(c, audit.ActionEndCall, callID, "operator hangup")

	go func() {
		log := h.logger()
		err := h.Dispatcher.EndCall(context.Background(), dispatch.EndRequest{
			CallID:   callID,
			RoomName: call.RoomName,
		})
		if err != nil {
			log.Error("end dispatch failed", "call_id", callID, "err", err)
		}
	}()

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// --- Query API ---

func (h Handlers) GetStats(c *gin.Context) {
	st, err := h.Stats.Compute(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ListCalls returns recent history, optionally filtered by outcome and a
// customer-name/phone substring.
func (h Handlers) ListCalls(c *gin.Context) {
	ctx := c.Request.Context()

	outcome := calls.Outcome(c.Query("outcome"))
	search := c.Query("search")

	var (
		rows []calls.Call
		err  error
	)
	if outcome != "" || search != "" {
		rows, err = h.History.Filter(ctx, outcome, search)
	} else {
		limit := h.HistoryLimit
		if limit <= 0 {
			limit = history.DefaultListLimit
		}
		if v := c.Query("limit"); v != "" {
			limit, err = strconv.Atoi(v)
			if err != nil || limit <= 0 {
				abortWithError(c, calls.ErrValidation)
				return
			}
		}
		rows, err = h.History.List(ctx, limit)
	}
	if err != nil {
		abortWithError(c, err)
		return
	}

	total, err := h.History.Count(ctx)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": rows, "total": total})
}

// GetCall looks the call up in the active store first, then in history.
func (h Handlers) GetCall(c *gin.Context) {
	callID := c.Param("call_id")
	if call, ok := h.Store.Get(callID); ok {
		c.JSON(http.StatusOK, call)
		return
	}
	call, ok, err := h.History.Get(c.Request.Context(), callID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if !ok {
		abortWithError(c, calls.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, call)
}

// --- Event ingestion ---

// IngestEvent accepts one envelope from the agent runner over plain HTTP.
// The long-lived stream variant lives in AgentWS.
func (h Handlers) IngestEvent(c *gin.Context) {
	var env ingest.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		abortWithError(c, calls.ErrValidation)
		return
	}
	if err := h.applyEnvelope(c.Request.Context(), env); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h Handlers) applyEnvelope(ctx context.Context, env ingest.Envelope) error {
	if err := h.Ingest.Apply(ctx, env); err != nil {
		return err
	}
	if env.Type == ingest.TypeCallEnded && h.Cap != nil {
		_ = h.Cap.Release(ctx)
	}
	return nil
}

// abortWithError maps the error taxonomy onto HTTP statuses. Errors are
// surfaced to the caller with their specific kind, never swallowed.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, calls.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, calls.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, calls.ErrDuplicateCall), errors.Is(err, calls.ErrInvalidTransition):
		status = http.StatusConflict
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
