// Package dispatch talks to the external call-handling process (the agent
// runner that conducts the actual conversation). Commands here never mutate
// local state: the confirming event re-enters through ingest.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Dispatcher is the runner-agnostic command interface used by the control
// API. No runner SDK calls outside dispatch adapters.
type Dispatcher interface {
	// StartCall asks the runner to dial out. It returns the runner's
	// dispatch id.
	StartCall(ctx context.Context, req StartRequest) (string, error)
	// TransferCall asks the runner to hand the customer to a human agent.
	TransferCall(ctx context.Context, req TransferRequest) error
	// EndCall asks the runner to tear the media room down.
	EndCall(ctx context.Context, req EndRequest) error
}

type StartRequest struct {
	CallID      string `json:"call_id"`
	RoomName    string `json:"room_name"`
	AgentName   string `json:"agent_name"`
	PhoneNumber string `json:"phone_number"`
	TransferTo  string `json:"transfer_to,omitempty"`
}

type TransferRequest struct {
	CallID     string `json:"call_id"`
	RoomName   string `json:"room_name"`
	TransferTo string `json:"transfer_to"`
}

type EndRequest struct {
	CallID   string `json:"call_id"`
	RoomName string `json:"room_name"`
}

// HTTPDispatcher drives the agent runner over its HTTP control surface.
type HTTPDispatcher struct {
	baseURL   string
	agentName string
	client    *http.Client
}

func NewHTTPDispatcher(baseURL, agentName string) *HTTPDispatcher {
	return &HTTPDispatcher{
		baseURL:   baseURL,
		agentName: agentName,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *HTTPDispatcher) StartCall(ctx context.Context, req StartRequest) (string, error) {
	if req.AgentName == "" {
		req.AgentName = d.agentName
	}
	var out struct {
		DispatchID string `json:"dispatch_id"`
	}
	if err := d.post(ctx, "/dispatch", req, &out); err != nil {
		return "", fmt.Errorf("dispatch: start call %s: %w", req.CallID, err)
	}
	return out.DispatchID, nil
}

func (d *HTTPDispatcher) TransferCall(ctx context.Context, req TransferRequest) error {
	if err := d.post(ctx, "/transfer", req, nil); err != nil {
		return fmt.Errorf("dispatch: transfer call %s: %w", req.CallID, err)
	}
	return nil
}

func (d *HTTPDispatcher) EndCall(ctx context.Context, req EndRequest) error {
	if err := d.post(ctx, "/end", req, nil); err != nil {
		return fmt.Errorf("dispatch: end call %s: %w", req.CallID, err)
	}
	return nil
}

func (d *HTTPDispatcher) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("runner returned %d: %s", res.StatusCode, snippet)
	}
	if out != nil {
		return json.NewDecoder(res.Body).Decode(out)
	}
	return nil
}
