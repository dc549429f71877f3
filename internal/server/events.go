package server

import (
	"time"

	"github.com/meetscribe/meetscribe/internal/session"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

// TranscriptUpdateEvent carries a batch of transcript deltas accumulated
// since the previous broadcast tick.
type TranscriptUpdateEvent struct {
	Event
	SessionID string           `json:"session_id"`
	Updates   []session.Update `json:"updates"`
}

type SessionStatusEvent struct {
	Event
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	IsActive  bool   `json:"is_active"`
	IsShared  bool   `json:"is_shared"`
}

type ConnectionEvent struct {
	Event
	SessionID string `json:"session_id"`
	Connected bool   `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
