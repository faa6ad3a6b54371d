package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"callwatch/internal/broadcast"
	"callwatch/internal/calls"
	"callwatch/internal/ingest"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Observers connect from the dashboard on a different origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ObserverWS upgrades the connection and streams the live call state:
// one initial_state snapshot, then deltas until the client goes away.
func (h Handlers) ObserverWS(c *gin.Context) {
	log := h.logger()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	sub, err := h.Hub.Subscribe(c.Request.Context())
	if err != nil {
		log.Error("subscribe failed", "err", err)
		return
	}
	defer h.Hub.Unsubscribe(sub)

	log.Info("observer connected", "subscriber", sub.ID())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Writer: drains the subscriber queue onto the wire. The reader loop
	// below owns the connection lifetime; a write failure cancels it.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		defer cancel()
		for {
			d, err := sub.Next(ctx)
			if err != nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(d.Payload()); err != nil {
				log.Info("observer write failed", "subscriber", sub.ID(), "err", err)
				return
			}
		}
	}()

	// Reader: the only inbound message observers send is a ping.
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			sub.Send(broadcast.Event{Type: broadcast.TypePong})
		}
	}

	cancel()
	<-writeDone
	log.Info("observer disconnected", "subscriber", sub.ID())
}

// AgentWS accepts the long-lived event stream from the agent runner.
// Each JSON message is one envelope; a bad envelope is reported back on
// the socket but does not tear the stream down.
func (h Handlers) AgentWS(c *gin.Context) {
	log := h.logger()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	log.Info("agent stream connected", "remote", conn.RemoteAddr().String())

	for {
		var env ingest.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Error("agent stream read failed", "err", err)
			}
			break
		}
		if err := h.applyEnvelope(context.Background(), env); err != nil {
			log.Error("event rejected", "type", env.Type, "call_id", env.CallID, "err", err)
			if errors.Is(err, calls.ErrValidation) || errors.Is(err, calls.ErrNotFound) {
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				_ = conn.WriteJSON(gin.H{"error": err.Error(), "call_id": env.CallID})
			}
			continue
		}
	}

	log.Info("agent stream disconnected", "remote", conn.RemoteAddr().String())
}
