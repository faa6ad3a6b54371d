package audit

import "time"

// Event is an immutable, append-only audit record of a control action
// taken against a call through the HTTP API.
//
// Invariants:
// - Events are never updated or deleted.
// - ip capture is best-effort; do not block control flows on audit failures.
//
// Storage recommendation (Postgres):
// - Table audit_events with an INSERT-only policy.
// - Optional: partition by time for retention.

type Event struct {
	ID string `json:"id" db:"id"`

	// Action indicates the control command that was issued.
	Action Action `json:"action" db:"action"`

	CallID string `json:"call_id" db:"call_id"`

	// IPAddress should capture the original client IP when available.
	// Prefer X-Forwarded-For processing at the edge; store the resolved client IP here.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Action string

const (
	ActionStartCall    Action = "start_call"
	ActionTransferCall Action = "transfer_call"
	ActionEndCall      Action = "end_call"
)
