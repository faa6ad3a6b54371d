package history

import (
	"context"
	"strings"
	"sync"

	"callwatch/internal/calls"
)

// MemoryRepo is the default in-process archive. Append order is retention
// order; reads copy so archived calls stay immutable.
type MemoryRepo struct {
	mu    sync.Mutex
	items []calls.Call
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, c calls.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, c.Clone())
	return nil
}

func (r *MemoryRepo) List(ctx context.Context, limit int) ([]calls.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.items)
	if limit > n {
		limit = n
	}
	out := make([]calls.Call, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, r.items[i].Clone())
	}
	return out, nil
}

func (r *MemoryRepo) Get(ctx context.Context, callID string) (calls.Call, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.items) - 1; i >= 0; i-- {
		if r.items[i].CallID == callID {
			return r.items[i].Clone(), true, nil
		}
	}
	return calls.Call{}, false, nil
}

func (r *MemoryRepo) Filter(ctx context.Context, outcome calls.Outcome, searchTerm string) ([]calls.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	term := strings.ToLower(strings.TrimSpace(searchTerm))
	out := make([]calls.Call, 0)
	for i := len(r.items) - 1; i >= 0; i-- {
		c := r.items[i]
		if outcome != "" && c.Outcome != outcome {
			continue
		}
		if term != "" &&
			!strings.Contains(strings.ToLower(c.CustomerName), term) &&
			!strings.Contains(strings.ToLower(c.PhoneNumber), term) {
			continue
		}
		out = append(out, c.Clone())
	}
	return out, nil
}

func (r *MemoryRepo) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items), nil
}
