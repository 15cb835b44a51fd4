package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/harborview/lp-portal-sync/internal/logger"
)

// ssePingInterval keeps intermediary proxies and load balancers from timing
// out an idle stream.
const ssePingInterval = 25 * time.Second

// wsWriteTimeout bounds one frame write to a slow socket.
const wsWriteTimeout = 10 * time.Second

// handleSSE serves the unidirectional push stream: an initial ready event,
// periodic comment pings, and one airtable.update event per broadcast.
// Delivery is best effort; a disconnected client re-syncs via GET /api/data.
// GET /sse
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub, cancel := s.svc.Hub().Subscribe()
	defer cancel()
	logger.Ctx(r.Context()).Info("sse client connected", "subscriber_id", sub.ID)

	fmt.Fprint(w, "event: ready\ndata: {}\n\n")
	flusher.Flush()

	ping := time.NewTicker(ssePingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Ctx(r.Context()).Info("sse client disconnected", "subscriber_id", sub.ID)
			return
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, open := <-sub.Events:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: airtable.update\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// wsMessage is the frame envelope on the socket channel.
type wsMessage struct {
	Type    string            `json:"type"`
	Records []json.RawMessage `json:"records,omitempty"`
}

// handleWS serves the full-duplex socket channel: a welcome frame on
// connect, then a record_update frame per broadcast. Inbound frames are
// discarded; the socket exists only to push.
// GET /ws
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Ctx(r.Context()).Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "shutting down")

	// CloseRead drains inbound frames and cancels the context when the
	// client goes away.
	ctx := conn.CloseRead(r.Context())

	sub, cancel := s.svc.Hub().Subscribe()
	defer cancel()
	logger.Ctx(r.Context()).Info("ws client connected", "subscriber_id", sub.ID)

	if err := writeWS(ctx, conn, wsMessage{Type: "welcome"}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			logger.Ctx(r.Context()).Info("ws client disconnected", "subscriber_id", sub.ID)
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, open := <-sub.Events:
			if !open {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			msg := wsMessage{Type: "record_update", Records: []json.RawMessage{ev.Record}}
			if err := writeWS(ctx, conn, msg); err != nil {
				logger.Ctx(r.Context()).Warn("ws write failed", "subscriber_id", sub.ID, "error", err)
				return
			}
		}
	}
}

func writeWS(ctx context.Context, conn *websocket.Conn, msg wsMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}
