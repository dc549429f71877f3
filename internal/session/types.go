package session

import (
	"time"

	"github.com/meetscribe/meetscribe/internal/transcribe"
)

// State is a session's lifecycle state.
type State string

const (
	StateCreated State = "created"
	StateActive  State = "active"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
	StateEnded   State = "ended"
)

// Chapter is one titled section of an analyzed meeting transcript.
type Chapter struct {
	Title     string `json:"title"`
	TimeRange string `json:"time_range"`
	Content   string `json:"content"`
}

// MeetingAnalysis holds the derived artifacts of a batch analysis. Set once
// and replaced wholesale, never merged.
type MeetingAnalysis struct {
	Takeaways string    `json:"takeaways"`
	Summary   string    `json:"summary"`
	Notes     string    `json:"notes"`
	Chapters  []Chapter `json:"chapters"`
}

// ShareInfo is the owner-controlled sharing surface of a session.
type ShareInfo struct {
	IsShared  bool      `json:"is_shared"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	IsActive  bool      `json:"is_active"`
}

// Update is one pending transcript delta waiting for the broadcast loop.
type Update struct {
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"` // HH:MM:SS
	Text      string `json:"text"`
}

// Snapshot is a read-only projection of a session, safe to hand to any
// caller after authorization.
type Snapshot struct {
	ID                string                `json:"id"`
	OwnerID           string                `json:"owner_id"`
	State             State                 `json:"state"`
	Title             string                `json:"title"`
	IsShared          bool                  `json:"is_shared"`
	Summary           string                `json:"summary"`
	Analysis          *MeetingAnalysis      `json:"analysis,omitempty"`
	OwnerConnected    bool                  `json:"owner_connected"`
	CreatedAt         time.Time             `json:"created_at"`
	PausedAt          *time.Time            `json:"paused_at,omitempty"`
	LastActivity      time.Time             `json:"last_activity"`
	LastOwnerActivity time.Time             `json:"last_owner_activity"`
	ResumeCount       int                   `json:"resume_count"`
	Fragments         []transcribe.Fragment `json:"fragments"`
	AudioPath         string                `json:"audio_path,omitempty"`
	AudioBytes        int                   `json:"audio_bytes"`
	AudioTruncated    bool                  `json:"audio_truncated"`
}

// Store is the persistence layer for sessions that must survive a restart.
type Store interface {
	SaveSession(snap Snapshot) error
	LoadSessions() ([]Snapshot, error)
	DeleteSession(id string) error
}

// Broadcaster delivers transcript deltas and status changes to a session's
// subscriber group. Implementations must never block.
type Broadcaster interface {
	BroadcastTranscript(sessionID string, updates []Update)
	BroadcastSessionStatus(sessionID, status string, isActive, isShared bool)
}
