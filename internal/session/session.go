package session

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/meetscribe/meetscribe/internal/audio"
	"github.com/meetscribe/meetscribe/internal/transcribe"
)

// Session is the single source of truth for one meeting capture: its
// lifecycle, ownership, transcript, audio, and derived artifacts. All other
// components mutate it through its methods, never directly.
//
// Two actors touch the audio and transcript: the ingest path (AddAudio) and
// the session's worker goroutine. One mutex guards all fields; the window
// buffer carries its own lock so ingestion never waits on a transcription
// call in flight.
type Session struct {
	id      string
	ownerID string

	backend       transcribe.Backend
	audioDir      string
	windowBytes   int
	poll          time.Duration
	resumeHorizon time.Duration

	buffer *audio.WindowBuffer

	mu                sync.Mutex
	state             State
	processing        bool
	title             string
	isShared          bool
	summary           string
	analysis          *MeetingAnalysis
	ownerConnected    bool
	createdAt         time.Time
	pausedAt          *time.Time
	lastActivity      time.Time
	lastOwnerActivity time.Time
	resumeCount       int
	fragments         []transcribe.Fragment
	pending           []Update
	audioPath         string

	stopCh chan struct{}
	doneCh chan struct{}

	now func() time.Time
}

type sessionConfig struct {
	backend       transcribe.Backend
	audioDir      string
	windowBytes   int
	poll          time.Duration
	resumeHorizon time.Duration
	maxAudioBytes int
	now           func() time.Time
}

func newSession(id, ownerID string, cfg sessionConfig) *Session {
	now := cfg.now()
	return &Session{
		id:                id,
		ownerID:           ownerID,
		backend:           cfg.backend,
		audioDir:          cfg.audioDir,
		windowBytes:       cfg.windowBytes,
		poll:              cfg.poll,
		resumeHorizon:     cfg.resumeHorizon,
		buffer:            audio.NewWindowBuffer(cfg.maxAudioBytes),
		state:             StateCreated,
		title:             fmt.Sprintf("Session %.8s...", id),
		createdAt:         now,
		lastActivity:      now,
		lastOwnerActivity: now,
		now:               cfg.now,
	}
}

// ID returns the session's immutable identifier.
func (s *Session) ID() string { return s.id }

// OwnerID returns the controlling client's identifier.
func (s *Session) OwnerID() string { return s.ownerID }

// StartProcessing marks the session active and launches the transcription
// worker. Idempotent: starting an already-active session is a no-op. A
// restart after a stop keeps all previously accumulated audio and transcript.
func (s *Session) StartProcessing() {
	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		return
	}
	s.processing = true
	s.state = StateActive
	if !s.ownerConnected && s.pausedAt != nil {
		s.state = StatePaused
	}
	s.lastActivity = s.now()
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	go s.runWorker(stopCh, doneCh)
}

// StopProcessing marks the session stopped, waits for the worker to drain
// (bounded), and writes the audio snapshot to disk. The WAV write is a
// best-effort side effect: its failure is logged, never returned.
func (s *Session) StopProcessing() {
	s.mu.Lock()
	if !s.processing {
		s.mu.Unlock()
		return
	}
	s.processing = false
	s.state = StateStopped
	s.lastActivity = s.now()
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
		log.Printf("session %s: worker did not drain within 5s", s.id)
	}

	s.persistAudioSnapshot()
}

// AddAudio appends a raw PCM chunk. Returns false when the session is not
// processing; callers drop the chunk rather than retry.
func (s *Session) AddAudio(chunk []byte) bool {
	s.mu.Lock()
	if !s.processing {
		s.mu.Unlock()
		return false
	}
	s.lastActivity = s.now()
	s.mu.Unlock()

	s.buffer.Append(chunk)
	return true
}

// SetOwnerConnected records an owner connect or disconnect. Reconnecting
// after a pause clears pausedAt and counts a resume; disconnecting snapshots
// the audio to disk so a later resume survives a process restart.
func (s *Session) SetOwnerConnected(connected bool) {
	s.mu.Lock()
	now := s.now()
	s.lastOwnerActivity = now

	if connected {
		wasPaused := s.pausedAt != nil
		s.ownerConnected = true
		s.pausedAt = nil
		if wasPaused {
			s.resumeCount++
		}
		if s.processing {
			s.state = StateActive
		}
		s.mu.Unlock()
		return
	}

	wasConnected := s.ownerConnected
	s.ownerConnected = false
	if wasConnected {
		paused := now
		s.pausedAt = &paused
		if s.processing {
			s.state = StatePaused
		}
	}
	s.mu.Unlock()

	if wasConnected {
		s.persistAudioSnapshot()
	}
}

// CanBeResumed reports whether the owner has been active within the resume
// horizon.
func (s *Session) CanBeResumed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.lastOwnerActivity) < s.resumeHorizon
}

// IsProcessing reports whether the transcription worker is running.
func (s *Session) IsProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// SetTitle replaces the sharing title.
func (s *Session) SetTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = title
	s.lastActivity = s.now()
}

// SetSummary replaces the session summary wholesale.
func (s *Session) SetSummary(summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = summary
	s.lastActivity = s.now()
}

// SetAnalysis replaces the meeting analysis wholesale.
func (s *Session) SetAnalysis(analysis *MeetingAnalysis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analysis = analysis
	s.lastActivity = s.now()
}

// SetShared toggles sharing.
func (s *Session) SetShared(shared bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isShared = shared
	s.lastActivity = s.now()
}

// IsShared reports whether unauthenticated viewers may read this session.
func (s *Session) IsShared() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isShared
}

// HasSummary reports whether a summary or analysis is attached; such
// sessions are preserved rather than hard-deleted.
func (s *Session) HasSummary() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary != "" || s.analysis != nil
}

// ShareInfo returns the sharing surface of the session.
func (s *Session) ShareInfo() ShareInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ShareInfo{
		IsShared:  s.isShared,
		Title:     s.title,
		CreatedAt: s.createdAt,
		IsActive:  s.processing,
	}
}

// Transcript returns the full transcript as timestamped lines.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	for _, f := range s.fragments {
		b.WriteString(f.FormatLine())
		b.WriteString("\n")
	}
	return b.String()
}

// Snapshot returns a read-only projection of all fields.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	fragments := make([]transcribe.Fragment, len(s.fragments))
	copy(fragments, s.fragments)

	var pausedAt *time.Time
	if s.pausedAt != nil {
		t := *s.pausedAt
		pausedAt = &t
	}

	var analysis *MeetingAnalysis
	if s.analysis != nil {
		a := *s.analysis
		analysis = &a
	}

	return Snapshot{
		ID:                s.id,
		OwnerID:           s.ownerID,
		State:             s.state,
		Title:             s.title,
		IsShared:          s.isShared,
		Summary:           s.summary,
		Analysis:          analysis,
		OwnerConnected:    s.ownerConnected,
		CreatedAt:         s.createdAt,
		PausedAt:          pausedAt,
		LastActivity:      s.lastActivity,
		LastOwnerActivity: s.lastOwnerActivity,
		ResumeCount:       s.resumeCount,
		Fragments:         fragments,
		AudioPath:         s.audioPath,
		AudioBytes:        s.buffer.RecordingSize(),
		AudioTruncated:    s.buffer.Truncated(),
	}
}

// drainPending returns and clears the pending-updates queue.
func (s *Session) drainPending() []Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}
	out := s.pending
	s.pending = nil
	return out
}

// restore rehydrates a loaded session. No live owner connection exists yet,
// so the session comes back disconnected and paused.
func (s *Session) restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateStopped
	s.title = snap.Title
	s.isShared = snap.IsShared
	s.summary = snap.Summary
	s.analysis = snap.Analysis
	s.ownerConnected = false
	s.createdAt = snap.CreatedAt
	s.lastActivity = snap.LastActivity
	s.lastOwnerActivity = snap.LastOwnerActivity
	s.resumeCount = snap.ResumeCount
	s.fragments = append([]transcribe.Fragment(nil), snap.Fragments...)
	s.audioPath = snap.AudioPath

	paused := snap.LastOwnerActivity
	if snap.PausedAt != nil {
		paused = *snap.PausedAt
	}
	s.pausedAt = &paused
}

// runWorker is the per-session transcription loop: bounded wait for a full
// window, idle flush of the sub-threshold remainder, graceful drain on stop.
func (s *Session) runWorker(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			if remainder := s.buffer.FlushRemainder(); remainder != nil {
				s.transcribeWindow(remainder)
			}
			return
		case <-ticker.C:
			window := s.buffer.TakeWindow(s.windowBytes)
			if window == nil && s.buffer.Pending() > 0 && s.buffer.IdleSince(s.poll) {
				window = s.buffer.FlushRemainder()
			}
			if window != nil {
				s.transcribeWindow(window)
			}
		}
	}
}

// transcribeWindow sends one window to the backend and appends the validated
// result. Any error drops the window and the loop continues; one bad window
// never kills the session.
func (s *Session) transcribeWindow(pcm []byte) {
	wav := audio.EncodeWAV(pcm)

	text, err := s.backend.Transcribe(context.Background(), wav)
	if err != nil {
		log.Printf("session %s: transcription error, dropping %d-byte window: %v", s.id, len(pcm), err)
		return
	}
	if !transcribe.IsValidSpeech(text) {
		return
	}

	fragment := transcribe.Fragment{Timestamp: s.now(), Text: strings.TrimSpace(text)}

	s.mu.Lock()
	s.fragments = append(s.fragments, fragment)
	s.pending = append(s.pending, Update{
		SessionID: s.id,
		Timestamp: fragment.Timestamp.Format("15:04:05"),
		Text:      fragment.Text,
	})
	s.lastActivity = s.now()
	s.mu.Unlock()
}

// persistAudioSnapshot writes everything recorded so far as a WAV file and
// records its path. Whole-file replace; the latest write is authoritative.
func (s *Session) persistAudioSnapshot() {
	pcm := s.buffer.Recording()
	if len(pcm) == 0 {
		return
	}

	path := filepath.Join(s.audioDir, s.id+".wav")
	if err := audio.WriteWAV(path, pcm); err != nil {
		log.Printf("warning: session %s: audio snapshot failed: %v", s.id, err)
		return
	}

	s.mu.Lock()
	s.audioPath = path
	s.mu.Unlock()
	log.Printf("session %s: saved audio snapshot %s (%d bytes, %.1fs)", s.id, path, len(pcm), audio.Duration(len(pcm)))
}
