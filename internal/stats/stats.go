// Package stats derives dashboard statistics on demand. Compute is a pure
// function of the two stores so there are no incremental counters that can
// drift from the truth.
package stats

import (
	"context"

	"callwatch/internal/calls"
	"callwatch/internal/history"
	"callwatch/internal/registry"
)

// Statistics are the aggregate figures shown on the dashboard. Derived,
// never stored.
type Statistics struct {
	TotalCalls          int     `json:"total_calls"`
	ActiveCalls         int     `json:"active_calls"`
	SuccessfulTransfers int     `json:"successful_transfers"`
	TotalDuration       float64 `json:"total_duration"`
	AverageDuration     float64 `json:"average_duration"`
	// SuccessRate is successful transfers over total finished calls,
	// 0 when nothing has finished yet.
	SuccessRate float64 `json:"success_rate"`
}

// Compute aggregates over the finished-call population plus the live active
// count. Zero totals never fault.
func Compute(activeCalls int, finished []calls.Call) Statistics {
	out := Statistics{ActiveCalls: activeCalls, TotalCalls: len(finished)}
	for _, c := range finished {
		out.TotalDuration += c.DurationSeconds
		if c.Outcome == calls.OutcomeTransferred {
			out.SuccessfulTransfers++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDuration = out.TotalDuration / float64(out.TotalCalls)
		out.SuccessRate = float64(out.SuccessfulTransfers) / float64(out.TotalCalls)
	}
	return out
}

// Service pulls current state from the registry and the history store.
type Service struct {
	active  *registry.Store
	archive *history.Service
}

func NewService(active *registry.Store, archive *history.Service) *Service {
	return &Service{active: active, archive: archive}
}

// Compute recomputes statistics from current state.
func (s *Service) Compute(ctx context.Context) (Statistics, error) {
	finished, err := s.archive.All(ctx)
	if err != nil {
		return Statistics{}, err
	}
	return Compute(s.active.Len(), finished), nil
}
