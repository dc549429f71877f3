package session

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/meetscribe/meetscribe/internal/transcribe"
)

// Cleanup policy: a session without a summary is hard-deleted once it has
// been idle past the hard horizon, or once it has been idle for a while with
// an owner who is long gone and can no longer resume.
const (
	cleanupHardIdle  = 24 * time.Hour
	cleanupSoftIdle  = time.Hour
	cleanupOwnerIdle = 6 * time.Hour
)

// Options configures a Manager.
type Options struct {
	Store   Store
	Backend transcribe.Backend
	Hub     Broadcaster

	AudioDir          string
	WindowBytes       int
	WorkerPoll        time.Duration
	ResumeHorizon     time.Duration
	CleanupInterval   time.Duration
	BroadcastInterval time.Duration
	MaxAudioBytes     int

	// Now overrides the clock; nil means time.Now. Tests only.
	Now func() time.Time
}

// Manager is the aggregate root for live transcription: it owns the session
// registry and owner index, routes audio and control operations, reloads
// persisted sessions at startup, and runs the cleanup and broadcast loops.
type Manager struct {
	store Store
	hub   Broadcaster
	cfg   sessionConfig

	cleanupInterval   time.Duration
	broadcastInterval time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
	owners   map[string]map[string]struct{}

	loopStop chan struct{}
	loopWG   sync.WaitGroup

	now func() time.Time
}

// NewManager builds a manager and reloads every persisted session into
// memory, marked disconnected and paused. Corrupt records have already been
// skipped by the store.
func NewManager(opts Options) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.WorkerPoll <= 0 {
		opts.WorkerPoll = time.Second
	}
	if opts.ResumeHorizon <= 0 {
		opts.ResumeHorizon = 24 * time.Hour
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 30 * time.Minute
	}
	if opts.BroadcastInterval <= 0 {
		opts.BroadcastInterval = time.Second
	}

	m := &Manager{
		store: opts.Store,
		hub:   opts.Hub,
		cfg: sessionConfig{
			backend:       opts.Backend,
			audioDir:      opts.AudioDir,
			windowBytes:   opts.WindowBytes,
			poll:          opts.WorkerPoll,
			resumeHorizon: opts.ResumeHorizon,
			maxAudioBytes: opts.MaxAudioBytes,
			now:           now,
		},
		cleanupInterval:   opts.CleanupInterval,
		broadcastInterval: opts.BroadcastInterval,
		sessions:          make(map[string]*Session),
		owners:            make(map[string]map[string]struct{}),
		loopStop:          make(chan struct{}),
		now:               now,
	}

	m.loadPersisted()
	return m
}

func (m *Manager) loadPersisted() {
	if m.store == nil {
		return
	}

	snaps, err := m.store.LoadSessions()
	if err != nil {
		log.Printf("warning: loading persisted sessions failed: %v", err)
		return
	}

	for _, snap := range snaps {
		sess := newSession(snap.ID, snap.OwnerID, m.cfg)
		sess.restore(snap)
		m.mu.Lock()
		m.sessions[snap.ID] = sess
		m.indexOwnerLocked(snap.OwnerID, snap.ID)
		m.mu.Unlock()
	}

	if len(snaps) > 0 {
		log.Printf("restored %d persisted session(s)", len(snaps))
	}
}

// Start launches the cleanup and broadcast loops.
func (m *Manager) Start() {
	m.loopWG.Add(2)

	go func() {
		defer m.loopWG.Done()
		ticker := time.NewTicker(m.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.loopStop:
				return
			case <-ticker.C:
				m.cleanupPass()
			}
		}
	}()

	go func() {
		defer m.loopWG.Done()
		ticker := time.NewTicker(m.broadcastInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.loopStop:
				return
			case <-ticker.C:
				m.broadcastPass()
			}
		}
	}()
}

// Close stops the loops, stops every processing session, and persists the
// ones worth keeping.
func (m *Manager) Close() {
	close(m.loopStop)
	m.loopWG.Wait()

	for _, sess := range m.listSessions() {
		if sess.IsProcessing() {
			sess.StopProcessing()
		}
		m.persistIfPreserved(sess)
	}
}

// Create constructs a session. When ownerID is empty a fresh one is
// generated; the caller must present it on every later mutation.
func (m *Manager) Create(ownerID string) (sessionID, owner string) {
	if ownerID == "" {
		ownerID = ulid.Make().String()
	}
	sessionID = ulid.Make().String()

	sess := newSession(sessionID, ownerID, m.cfg)

	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.indexOwnerLocked(ownerID, sessionID)
	m.mu.Unlock()

	return sessionID, ownerID
}

// StartSession starts the session's transcription worker. Owner-gated when
// callerID is supplied.
func (m *Manager) StartSession(sessionID, callerID string) bool {
	sess := m.authorized(sessionID, callerID)
	if sess == nil {
		return false
	}
	sess.StartProcessing()
	m.notifyStatus(sess, "started")
	return true
}

// StopSession stops the worker and snapshots audio. Owner-gated.
func (m *Manager) StopSession(sessionID, callerID string) bool {
	sess := m.authorized(sessionID, callerID)
	if sess == nil {
		return false
	}
	sess.StopProcessing()
	m.persistIfPreserved(sess)
	m.notifyStatus(sess, "stopped")
	return true
}

// AddAudio routes a raw PCM chunk to the session. False means the chunk was
// dropped (unknown session or not processing), not an error.
func (m *Manager) AddAudio(sessionID string, chunk []byte) bool {
	sess := m.get(sessionID)
	if sess == nil {
		return false
	}
	return sess.AddAudio(chunk)
}

// Delete removes a session. Sessions carrying a summary or analysis are
// soft-ended instead: stopped, disconnected, and retained.
func (m *Manager) Delete(sessionID, callerID string) bool {
	sess := m.authorized(sessionID, callerID)
	if sess == nil {
		return false
	}

	if sess.HasSummary() {
		sess.StopProcessing()
		sess.SetOwnerConnected(false)
		m.persistIfPreserved(sess)
		m.notifyStatus(sess, "ended")
		return true
	}

	m.remove(sess)
	m.notifyStatus(sess, "ended")
	return true
}

func (m *Manager) remove(sess *Session) {
	sess.StopProcessing()

	m.mu.Lock()
	delete(m.sessions, sess.ID())
	if ids, ok := m.owners[sess.OwnerID()]; ok {
		delete(ids, sess.ID())
		if len(ids) == 0 {
			delete(m.owners, sess.OwnerID())
		}
	}
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.DeleteSession(sess.ID()); err != nil {
			log.Printf("warning: delete persisted session %s: %v", sess.ID(), err)
		}
	}
	if path := sess.Snapshot().AudioPath; path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("warning: remove audio file %s: %v", path, err)
		}
	}
}

// Resume reattaches an owner to an existing session. It succeeds only when
// the session exists, the owner matches, and the resume horizon has not
// passed.
func (m *Manager) Resume(sessionID, ownerID string) (Snapshot, error) {
	sess := m.get(sessionID)
	if sess == nil {
		return Snapshot{}, ErrNotFound
	}
	if ownerID == "" || sess.OwnerID() != ownerID {
		return Snapshot{}, ErrNotOwner
	}
	if !sess.CanBeResumed() {
		return Snapshot{}, ErrNotResumable
	}

	sess.SetOwnerConnected(true)
	return sess.Snapshot(), nil
}

// FindResumable returns the owner's most recently touched resumable session.
func (m *Manager) FindResumable(ownerID string) (string, bool) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.owners[ownerID]))
	for id := range m.owners[ownerID] {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var bestID string
	var bestTime time.Time
	for _, id := range ids {
		sess := m.get(id)
		if sess == nil || !sess.CanBeResumed() {
			continue
		}
		snap := sess.Snapshot()
		if bestID == "" || snap.LastOwnerActivity.After(bestTime) {
			bestID = id
			bestTime = snap.LastOwnerActivity
		}
	}
	return bestID, bestID != ""
}

// SetOwnerConnected records a connect/disconnect event from the owning
// client. Owner-gated.
func (m *Manager) SetOwnerConnected(sessionID, callerID string, connected bool) bool {
	sess := m.authorized(sessionID, callerID)
	if sess == nil {
		return false
	}
	sess.SetOwnerConnected(connected)
	return true
}

// EnableSharing opens the session to unauthenticated viewers. Owner-gated.
func (m *Manager) EnableSharing(sessionID, callerID string) bool {
	return m.setShared(sessionID, callerID, true, "sharing_enabled")
}

// DisableSharing closes the session to viewers. Owner-gated.
func (m *Manager) DisableSharing(sessionID, callerID string) bool {
	return m.setShared(sessionID, callerID, false, "sharing_disabled")
}

func (m *Manager) setShared(sessionID, callerID string, shared bool, status string) bool {
	sess := m.authorized(sessionID, callerID)
	if sess == nil {
		return false
	}
	sess.SetShared(shared)
	m.persistIfPreserved(sess)
	m.notifyStatus(sess, status)
	return true
}

// SetTitle replaces the sharing title. Owner-gated.
func (m *Manager) SetTitle(sessionID, callerID, title string) bool {
	sess := m.authorized(sessionID, callerID)
	if sess == nil {
		return false
	}
	sess.SetTitle(title)
	m.persistIfPreserved(sess)
	return true
}

// SetSummary attaches a summary, which also makes the session durable.
// Owner-gated.
func (m *Manager) SetSummary(sessionID, callerID, summary string) bool {
	sess := m.authorized(sessionID, callerID)
	if sess == nil {
		return false
	}
	sess.SetSummary(summary)
	m.persistIfPreserved(sess)
	return true
}

// SetAnalysis attaches a meeting analysis, which also makes the session
// durable. Owner-gated.
func (m *Manager) SetAnalysis(sessionID, callerID string, analysis *MeetingAnalysis) bool {
	sess := m.authorized(sessionID, callerID)
	if sess == nil {
		return false
	}
	sess.SetAnalysis(analysis)
	m.persistIfPreserved(sess)
	return true
}

// Transcript returns the session's transcript for its owner.
func (m *Manager) Transcript(sessionID, callerID string) (string, error) {
	sess := m.get(sessionID)
	if sess == nil {
		return "", ErrNotFound
	}
	if callerID != "" && sess.OwnerID() != callerID {
		return "", ErrNotOwner
	}
	return sess.Transcript(), nil
}

// SharedTranscript returns the transcript of a shared session, for viewers.
func (m *Manager) SharedTranscript(sessionID string) (string, bool) {
	sess := m.get(sessionID)
	if sess == nil || !sess.IsShared() {
		return "", false
	}
	return sess.Transcript(), true
}

// ShareInfo returns the sharing surface for the owner.
func (m *Manager) ShareInfo(sessionID string) (ShareInfo, bool) {
	sess := m.get(sessionID)
	if sess == nil {
		return ShareInfo{}, false
	}
	return sess.ShareInfo(), true
}

// SharedInfo returns the public surface of a shared session, for viewers.
func (m *Manager) SharedInfo(sessionID string) (ShareInfo, bool) {
	sess := m.get(sessionID)
	if sess == nil || !sess.IsShared() {
		return ShareInfo{}, false
	}
	return sess.ShareInfo(), true
}

// SessionState returns a full snapshot for an authorized caller.
func (m *Manager) SessionState(sessionID, callerID string) (Snapshot, error) {
	sess := m.get(sessionID)
	if sess == nil {
		return Snapshot{}, ErrNotFound
	}
	if callerID != "" && sess.OwnerID() != callerID {
		return Snapshot{}, ErrNotOwner
	}
	return sess.Snapshot(), nil
}

// IsOwner is the ownership gate predicate for the transport layer.
func (m *Manager) IsOwner(sessionID, callerID string) bool {
	sess := m.get(sessionID)
	return sess != nil && callerID != "" && sess.OwnerID() == callerID
}

// IsShared is the sharing gate predicate for the transport layer.
func (m *Manager) IsShared(sessionID string) bool {
	sess := m.get(sessionID)
	return sess != nil && sess.IsShared()
}

// CanBeResumed is the resume gate predicate for the transport layer.
func (m *Manager) CanBeResumed(sessionID string) bool {
	sess := m.get(sessionID)
	return sess != nil && sess.CanBeResumed()
}

// cleanupPass hard-deletes stale sessions. Sessions carrying a summary are
// never removed here, no matter how stale.
func (m *Manager) cleanupPass() {
	now := m.now()

	for _, sess := range m.listSessions() {
		snap := sess.Snapshot()
		if sess.HasSummary() {
			continue
		}

		idle := now.Sub(snap.LastActivity)
		ownerIdle := now.Sub(snap.LastOwnerActivity)

		stale := idle > cleanupHardIdle ||
			(idle > cleanupSoftIdle && ownerIdle > cleanupOwnerIdle && !sess.CanBeResumed())
		if !stale {
			continue
		}

		m.remove(sess)
		log.Printf("cleaned up inactive session %s (idle %s)", sess.ID(), idle.Round(time.Minute))
	}
}

// broadcastPass drains every session's pending updates into its subscriber
// group. Fire-and-forget: a slow subscriber never stalls the loop.
func (m *Manager) broadcastPass() {
	if m.hub == nil {
		return
	}

	for _, sess := range m.listSessions() {
		if updates := sess.drainPending(); len(updates) > 0 {
			m.hub.BroadcastTranscript(sess.ID(), updates)
		}
	}
}

func (m *Manager) persistIfPreserved(sess *Session) {
	if m.store == nil || !sess.HasSummary() {
		return
	}
	if err := m.store.SaveSession(sess.Snapshot()); err != nil {
		log.Printf("warning: persist session %s: %v", sess.ID(), err)
	}
}

func (m *Manager) notifyStatus(sess *Session, status string) {
	if m.hub == nil {
		return
	}
	m.hub.BroadcastSessionStatus(sess.ID(), status, sess.IsProcessing(), sess.IsShared())
}

func (m *Manager) get(sessionID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// authorized returns the session when the caller may mutate it: the owner,
// or an unauthenticated caller (the transport layer decides when to allow
// those through, e.g. after an admin-secret check).
func (m *Manager) authorized(sessionID, callerID string) *Session {
	sess := m.get(sessionID)
	if sess == nil {
		return nil
	}
	if callerID != "" && sess.OwnerID() != callerID {
		return nil
	}
	return sess
}

func (m *Manager) listSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess)
	}
	return out
}

func (m *Manager) indexOwnerLocked(ownerID, sessionID string) {
	ids, ok := m.owners[ownerID]
	if !ok {
		ids = make(map[string]struct{})
		m.owners[ownerID] = ids
	}
	ids[sessionID] = struct{}{}
}
