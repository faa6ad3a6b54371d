package history

import (
	"context"
	"errors"
	"fmt"

	"callwatch/internal/calls"
)

// Repository is the persistence contract for finished calls.
//
// It MUST be append-only: a call that reached the archive is immutable.
// No Update/Delete methods are provided.

type Repository interface {
	Append(ctx context.Context, c calls.Call) error
	// List returns up to limit calls, most recent first.
	List(ctx context.Context, limit int) ([]calls.Call, error)
	Get(ctx context.Context, callID string) (calls.Call, bool, error)
	// Filter narrows by exact outcome and/or case-insensitive substring
	// match against customer name or phone number (AND semantics).
	Filter(ctx context.Context, outcome calls.Outcome, searchTerm string) ([]calls.Call, error)
	Count(ctx context.Context) (int, error)
}

// DefaultListLimit bounds history reads when the caller does not say.
const DefaultListLimit = 50

// Service archives finalized calls.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// Append archives a finalized call. Only terminal calls with an outcome are
// accepted; anything else indicates a caller bug upstream of the hand-off.
func (s *Service) Append(ctx context.Context, c calls.Call) error {
	if s.repo == nil {
		return errors.New("history: repository not configured")
	}
	if c.CallID == "" {
		return fmt.Errorf("history: missing call id: %w", calls.ErrValidation)
	}
	if !c.Status.Terminal() || !calls.ValidOutcome(c.Outcome) {
		return fmt.Errorf("history: call %s not finalized: %w", c.CallID, calls.ErrValidation)
	}
	return s.repo.Append(ctx, c)
}

// List returns the most recent calls, newest first. limit <= 0 applies
// DefaultListLimit.
func (s *Service) List(ctx context.Context, limit int) ([]calls.Call, error) {
	if s.repo == nil {
		return nil, errors.New("history: repository not configured")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.repo.List(ctx, limit)
}

// Get returns one archived call by id.
func (s *Service) Get(ctx context.Context, callID string) (calls.Call, bool, error) {
	if s.repo == nil {
		return calls.Call{}, false, errors.New("history: repository not configured")
	}
	return s.repo.Get(ctx, callID)
}

// Filter combines an exact outcome match with a substring search.
func (s *Service) Filter(ctx context.Context, outcome calls.Outcome, searchTerm string) ([]calls.Call, error) {
	if s.repo == nil {
		return nil, errors.New("history: repository not configured")
	}
	if outcome != "" && !calls.ValidOutcome(outcome) {
		return nil, fmt.Errorf("history: outcome %q: %w", outcome, calls.ErrValidation)
	}
	return s.repo.Filter(ctx, outcome, searchTerm)
}

// Count returns the total number of archived calls.
func (s *Service) Count(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, errors.New("history: repository not configured")
	}
	return s.repo.Count(ctx)
}

// All returns every archived call, oldest first. Used by the statistics
// aggregator, which needs the full population rather than a page.
func (s *Service) All(ctx context.Context) ([]calls.Call, error) {
	if s.repo == nil {
		return nil, errors.New("history: repository not configured")
	}
	n, err := s.repo.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	recent, err := s.repo.List(ctx, n)
	if err != nil {
		return nil, err
	}
	// List is newest-first; reverse for chronological order.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent, nil
}
