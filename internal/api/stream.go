package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yash/vesselwatch/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser dashboards are served from other origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleSSE streams every event as a server-sent event. The client is
// unsubscribed when it disconnects or a write fails; a client too slow to
// keep up is dropped by the broadcaster and its stream ends.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	rc.SetWriteDeadline(time.Time{})

	sub := s.events.Subscribe(s.streamBuffer)
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Warn("sse: streaming unsupported", "err", err)
		return
	}
	s.logger.Debug("sse client connected", "id", sub.ID, "remote", r.RemoteAddr)

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("sse client gone", "id", sub.ID)
			return
		case e, open := <-sub.C:
			if !open {
				s.logger.Info("sse client closed", "id", sub.ID, "reason", sub.Err())
				return
			}
			b, err := json.Marshal(e)
			if err != nil {
				s.logger.Error("sse: encoding event", "kind", e.Kind, "err", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, b); err != nil {
				s.logger.Debug("sse write failed", "id", sub.ID, "err", err)
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// handleWebSocket streams every event as a JSON text frame.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the handshake completes so the client sees every
	// event published after its dial returns.
	sub := s.events.Subscribe(s.streamBuffer)
	defer sub.Unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		s.logger.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	s.logger.Debug("websocket client connected", "id", sub.ID, "remote", r.RemoteAddr)

	// The read side only watches for the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case e, open := <-sub.C:
			if !open {
				reason := "closing"
				if errors.Is(sub.Err(), events.ErrObserverDropped) {
					reason = "too slow"
				}
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, reason),
					time.Now().Add(wsWriteWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug("websocket write failed", "id", sub.ID, "err", err)
				return
			}
		}
	}
}
