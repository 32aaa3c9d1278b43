package api

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clipforge/orchestrator/internal/domain"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wireEvent is the JSON frame for every non-error event
type wireEvent struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// wireError is the JSON frame for error events
type wireError struct {
	Type  string                 `json:"type"`
	Error map[string]interface{} `json:"error"`
}

// clientMessage is what observers send back; only pong is meaningful
type clientMessage struct {
	Event string `json:"event"`
}

// progressHandler streams a project's progress events over WebSocket.
// The hub pings periodically; clients must answer {"event":"pong"} or
// they are dropped after two missed heartbeat windows.
func (s *Server) progressHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := strings.TrimPrefix(r.URL.Path, "/ws/projects/")
		if projectID == "" {
			writeError(w, http.StatusBadRequest, "project ID required")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("websocket upgrade for %s: %v", projectID, err)
			return
		}

		sub := s.hub.Subscribe(projectID)
		defer func() {
			s.hub.Unsubscribe(sub)
			conn.Close()
		}()

		// reader: pong acknowledgements keep the subscription alive.
		// A read error means the client is gone, which ends the writer
		// loop through Unsubscribe closing the event channel.
		go func() {
			for {
				var msg clientMessage
				if err := conn.ReadJSON(&msg); err != nil {
					s.hub.Unsubscribe(sub)
					return
				}
				if msg.Event == "pong" {
					sub.Pong()
				}
			}
		}()

		for ev := range sub.Events() {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(frameFor(ev)); err != nil {
				return
			}
		}
	}
}

// frameFor maps a hub event onto the wire contract
func frameFor(ev domain.ProgressEvent) interface{} {
	if ev.Kind == domain.EventError {
		return wireError{Type: "error", Error: ev.Payload}
	}
	data := ev.Payload
	if data == nil {
		data = map[string]interface{}{}
	}
	if _, ok := data["timestamp"]; !ok {
		data["timestamp"] = ev.Timestamp.UTC().Format(time.RFC3339)
	}
	return wireEvent{Event: string(ev.Kind), Data: data}
}
