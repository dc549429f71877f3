package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meetscribe/meetscribe/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// registerWSRoutes wires the two socket surfaces: the owner socket, which
// streams audio in and events out, and the read-only viewer socket for
// shared sessions.
func registerWSRoutes(mux *http.ServeMux, manager *session.Manager, hub *Hub) {
	mux.HandleFunc("GET /ws/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		ownerID := ownerFrom(r)
		if !manager.IsOwner(sessionID, ownerID) {
			http.Error(w, "not the session owner", http.StatusForbidden)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade error: %v", err)
			return
		}

		manager.SetOwnerConnected(sessionID, ownerID, true)
		serveSocket(conn, hub, sessionID, func(chunk []byte) {
			manager.AddAudio(sessionID, chunk)
		})
		manager.SetOwnerConnected(sessionID, ownerID, false)
	})

	mux.HandleFunc("GET /ws/shared/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !manager.IsShared(sessionID) {
			http.Error(w, "session not shared", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade error: %v", err)
			return
		}

		// Viewers only listen; inbound binary frames are discarded.
		serveSocket(conn, hub, sessionID, nil)
	})
}

// serveSocket pumps hub events out and audio frames in until either side
// closes. onAudio nil means inbound binary frames are dropped.
func serveSocket(conn *websocket.Conn, hub *Hub, sessionID string, onAudio func([]byte)) {
	defer func() { _ = conn.Close() }()

	hello := ConnectionEvent{
		Event:     newEvent("connection", time.Now().UTC()),
		SessionID: sessionID,
		Connected: true,
	}
	if payload, err := json.Marshal(hello); err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}

	ch := hub.Subscribe(sessionID)
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for msg := range ch {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				// Keep draining so Unsubscribe's close is reached.
				continue
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType == websocket.BinaryMessage && onAudio != nil {
			onAudio(data)
		}
	}

	// Unsubscribe closes ch, which ends the writer.
	hub.Unsubscribe(sessionID, ch)
	<-writeDone
}
