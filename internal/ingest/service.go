// Package ingest is the boundary the external call-handling process writes
// to. Every event is validated, applied to the registry (a rejected
// mutation is a no-op, never a partial apply) and then fanned out to
// observers. Finalizing events additionally hand the call over to history.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"callwatch/internal/broadcast"
	"callwatch/internal/calls"
	"callwatch/internal/history"
	"callwatch/internal/registry"
)

// Event kinds accepted from the agent runner.
const (
	TypeCallStarted  = "call_started"
	TypeCallStatus   = "call_status"
	TypeTranscript   = "transcript"
	TypeAudioMetrics = "audio_metrics"
	TypeCallEnded    = "call_ended"
)

// Envelope is one ingestion event. CallID is always required; the payload
// fields used depend on Type.
type Envelope struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`

	// call_started
	CustomerName string `json:"customer_name,omitempty"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	TransferTo   string `json:"transfer_to,omitempty"`

	// call_status
	Status calls.CallStatus `json:"status,omitempty"`

	// transcript
	Message *calls.Message `json:"message,omitempty"`

	// audio_metrics
	Metrics *calls.Sample `json:"metrics,omitempty"`

	// call_ended
	Outcome      calls.Outcome `json:"outcome,omitempty"`
	RecordingURL string        `json:"recording_url,omitempty"`
}

// ArchivePublisher pushes finalized calls to downstream consumers (Kafka).
// Publishing is best-effort; a nil publisher disables it.
type ArchivePublisher interface {
	PublishFinalized(ctx context.Context, c calls.Call) error
}

// Service applies ingestion events.
type Service struct {
	store     *registry.Store
	archive   *history.Service
	hub       *broadcast.Hub
	publisher ArchivePublisher
	log       *slog.Logger
}

func NewService(store *registry.Store, archive *history.Service, hub *broadcast.Hub, publisher ArchivePublisher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, archive: archive, hub: hub, publisher: publisher, log: log}
}

// Apply dispatches one envelope to the matching operation.
func (s *Service) Apply(ctx context.Context, env Envelope) error {
	if env.CallID == "" {
		return fmt.Errorf("ingest: missing call_id: %w", calls.ErrValidation)
	}
	switch env.Type {
	case TypeCallStarted:
		_, err := s.CallStarted(ctx, env.CallID, env.CustomerName, env.PhoneNumber, env.TransferTo)
		return err
	case TypeCallStatus:
		return s.StatusChanged(ctx, env.CallID, env.Status)
	case TypeTranscript:
		if env.Message == nil {
			return fmt.Errorf("ingest: transcript event without message: %w", calls.ErrValidation)
		}
		return s.Transcript(ctx, env.CallID, *env.Message)
	case TypeAudioMetrics:
		if env.Metrics == nil {
			return fmt.Errorf("ingest: audio_metrics event without metrics: %w", calls.ErrValidation)
		}
		return s.AudioMetrics(ctx, env.CallID, *env.Metrics)
	case TypeCallEnded:
		return s.CallEnded(ctx, env.CallID, env.Outcome, env.RecordingURL)
	default:
		return fmt.Errorf("ingest: unknown event type %q: %w", env.Type, calls.ErrValidation)
	}
}

// CallStarted registers a call the agent runner originated itself. The
// control API uses the same path for operator-started calls.
func (s *Service) CallStarted(ctx context.Context, callID, customerName, phoneNumber, transferTo string) (calls.Call, error) {
	if phoneNumber == "" || customerName == "" {
		return calls.Call{}, fmt.Errorf("ingest: phone_number and customer_name required: %w", calls.ErrValidation)
	}
	c, err := s.store.Create(callID, customerName, phoneNumber, transferTo)
	if err != nil {
		return calls.Call{}, err
	}
	s.hub.Publish(broadcast.CallStarted(c))
	s.log.Info("call started", "call_id", c.CallID, "phone_number", c.PhoneNumber)
	return c, nil
}

// StatusChanged applies a lifecycle transition and broadcasts the refreshed
// call.
func (s *Service) StatusChanged(ctx context.Context, callID string, status calls.CallStatus) error {
	c, err := s.store.ApplyStatus(callID, status)
	if err != nil {
		return err
	}
	s.hub.Publish(broadcast.StatusUpdate(c))
	s.log.Debug("call status", "call_id", callID, "status", status)
	return nil
}

// Transcript appends one transcript turn and broadcasts it.
func (s *Service) Transcript(ctx context.Context, callID string, msg calls.Message) error {
	c, seq, err := s.store.AppendMessage(callID, msg)
	if err != nil {
		return err
	}
	// The stored copy carries the assigned id and timestamp.
	stored := c.Transcript[len(c.Transcript)-1]
	s.hub.Publish(broadcast.TranscriptUpdate(callID, seq, stored))
	return nil
}

// AudioMetrics appends one audio sample and broadcasts it.
func (s *Service) AudioMetrics(ctx context.Context, callID string, sample calls.Sample) error {
	seq, err := s.store.AppendSample(callID, sample)
	if err != nil {
		return err
	}
	s.hub.Publish(broadcast.AudioMetrics(callID, seq, sample))
	return nil
}

// CallEnded finalizes the call, hands it to the history store exactly once
// and broadcasts the terminal state.
func (s *Service) CallEnded(ctx context.Context, callID string, outcome calls.Outcome, recordingURL string) error {
	done, err := s.store.Finalize(callID, outcome)
	if err != nil {
		return err
	}
	if recordingURL != "" {
		done.RecordingURL = recordingURL
	}
	if err := s.archive.Append(ctx, done); err != nil {
		// The active record is already gone; losing the archive row is
		// worse than a duplicate, so surface loudly.
		s.log.Error("history append failed", "call_id", callID, "err", err)
	}
	if s.publisher != nil {
		if err := s.publisher.PublishFinalized(ctx, done); err != nil {
			s.log.Error("finalized-call publish failed", "call_id", callID, "err", err)
		}
	}
	s.hub.Publish(broadcast.StatusUpdate(done))
	s.log.Info("call ended", "call_id", callID, "outcome", outcome, "duration_s", done.DurationSeconds)
	return nil
}
