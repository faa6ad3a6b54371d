package dispatch

import (
	"context"
	"fmt"
	"sync"
)

// MemoryDispatcher records commands instead of sending them. Useful for
// tests and for running the dashboard without a live agent runner.
type MemoryDispatcher struct {
	mu sync.Mutex

	Starts    []StartRequest
	Transfers []TransferRequest
	Ends      []EndRequest

	// Err, when set, is returned by every command.
	Err error
}

func NewMemoryDispatcher() *MemoryDispatcher { return &MemoryDispatcher{} }

func (d *MemoryDispatcher) StartCall(ctx context.Context, req StartRequest) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return "", d.Err
	}
	d.Starts = append(d.Starts, req)
	return fmt.Sprintf("dispatch-%d", len(d.Starts)), nil
}

func (d *MemoryDispatcher) TransferCall(ctx context.Context, req TransferRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	d.Transfers = append(d.Transfers, req)
	return nil
}

func (d *MemoryDispatcher) EndCall(ctx context.Context, req EndRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	d.Ends = append(d.Ends, req)
	return nil
}

// Recorded returns copies of everything dispatched so far. Safe to call
// while commands are still arriving.
func (d *MemoryDispatcher) Recorded() (starts []StartRequest, transfers []TransferRequest, ends []EndRequest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	starts = append(starts, d.Starts...)
	transfers = append(transfers, d.Transfers...)
	ends = append(ends, d.Ends...)
	return starts, transfers, ends
}
