package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// pushPingInterval keeps idle push connections alive through proxies and
// lets dead peers surface as write errors.
const pushPingInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The project and status surfaces live on different ephemeral ports, so
	// every push connect is cross-origin by construction.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEventStream is the SSE push endpoint. On connect it subscribes to
// the hub, streams the backlog already queued for the new subscriber, then
// streams each subsequently published batch until the client disconnects.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := s.session.hub.Subscribe()
	defer s.session.hub.Unsubscribe(sub.ID)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")

	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", sub.ID)
	flusher.Flush()

	ping := time.NewTicker(pushPingInterval)
	defer ping.Stop()

	for {
		select {
		case batch, open := <-sub.Batches():
			if !open {
				return
			}

			data, err := json.Marshal(batch)
			if err != nil {
				s.logger.Error("encoding batch", slog.String("error", err.Error()))
				continue
			}

			if _, err := fmt.Fprintf(w, "event: change\ndata: %s\n\n", data); err != nil {
				return
			}

			flusher.Flush()

		case <-ping.C:
			if _, err := fmt.Fprintf(w, "event: ping\ndata: %d\n\n", time.Now().Unix()); err != nil {
				return
			}

			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleEventWS is the WebSocket push endpoint, carrying the same JSON batch
// documents as the SSE stream for clients where EventSource is unavailable.
func (s *Server) handleEventWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	defer conn.Close()

	sub := s.session.hub.Subscribe()
	defer s.session.hub.Unsubscribe(sub.ID)

	// Reader goroutine: we never expect client messages, but reading is what
	// surfaces the close handshake.
	done := make(chan struct{})

	go func() {
		defer close(done)

		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pushPingInterval)
	defer ping.Stop()

	for {
		select {
		case batch, open := <-sub.Batches():
			if !open {
				return
			}

			if err := conn.WriteJSON(batch); err != nil {
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}

		case <-done:
			return

		case <-r.Context().Done():
			return
		}
	}
}
