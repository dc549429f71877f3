package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/meetscribe/meetscribe/internal/session"
)

// Hub fans events out to per-session subscriber rooms. Owner sockets and
// shared viewers of the same session share one room; subscribers in other
// rooms never see its traffic.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[chan []byte]struct{})}
}

func (h *Hub) Subscribe(sessionID string) chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[chan []byte]struct{})
		h.rooms[sessionID] = room
	}
	room[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(sessionID string, ch chan []byte) {
	h.mu.Lock()
	if room, ok := h.rooms[sessionID]; ok {
		delete(room, ch)
		if len(room) == 0 {
			delete(h.rooms, sessionID)
		}
	}
	h.mu.Unlock()
	close(ch)
}

// Broadcast delivers a raw payload to every subscriber in the session's
// room. A full subscriber channel is skipped, never waited on.
func (h *Hub) Broadcast(sessionID string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.rooms[sessionID] {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Subscribers returns the current size of a session's room.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

func (h *Hub) BroadcastTranscript(sessionID string, updates []session.Update) {
	h.broadcastEvent(sessionID, TranscriptUpdateEvent{
		Event:     newEvent("transcript_update", time.Now().UTC()),
		SessionID: sessionID,
		Updates:   updates,
	})
}

func (h *Hub) BroadcastSessionStatus(sessionID, status string, isActive, isShared bool) {
	h.broadcastEvent(sessionID, SessionStatusEvent{
		Event:     newEvent("session_status_update", time.Now().UTC()),
		SessionID: sessionID,
		Status:    status,
		IsActive:  isActive,
		IsShared:  isShared,
	})
}

func (h *Hub) broadcastEvent(sessionID string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	h.Broadcast(sessionID, payload)
}
