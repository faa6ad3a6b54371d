package calls

// CallStatus is the lifecycle state of a call.
type CallStatus string

const (
	StatusIdle         CallStatus = "idle"
	StatusDialing      CallStatus = "dialing"
	StatusRinging      CallStatus = "ringing"
	StatusConnected    CallStatus = "connected"
	StatusTalking      CallStatus = "talking"
	StatusOnHold       CallStatus = "on_hold"
	StatusTransferring CallStatus = "transferring"
	StatusEnded        CallStatus = "ended"
	StatusFailed       CallStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s CallStatus) Terminal() bool {
	return s == StatusEnded || s == StatusFailed
}

// allowedEdges is the forward transition set. Any non-terminal status may
// additionally move straight to ended or failed; CanTransition handles that
// case so the table only lists the ordinary progression.
var allowedEdges = map[CallStatus][]CallStatus{
	StatusIdle:      {StatusDialing},
	StatusDialing:   {StatusRinging},
	StatusRinging:   {StatusConnected, StatusTalking},
	StatusConnected: {StatusTalking, StatusTransferring},
	StatusOnHold:    {StatusTalking},
	// transferring -> talking covers a failed transfer resuming the
	// conversation.
	StatusTalking:      {StatusOnHold, StatusTransferring},
	StatusTransferring: {StatusTalking},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to CallStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusEnded || to == StatusFailed {
		return true
	}
	for _, next := range allowedEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is a known status value.
func ValidStatus(s CallStatus) bool {
	switch s {
	case StatusIdle, StatusDialing, StatusRinging, StatusConnected,
		StatusTalking, StatusOnHold, StatusTransferring, StatusEnded, StatusFailed:
		return true
	default:
		return false
	}
}
