package session

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meetscribe/meetscribe/internal/audio"
)

type backendMock struct {
	mu        sync.Mutex
	responses []string
	calls     int
	wavSizes  []int
	called    chan struct{}
}

func newBackendMock(responses ...string) *backendMock {
	return &backendMock{responses: responses, called: make(chan struct{}, 64)}
}

func (b *backendMock) Transcribe(_ context.Context, wav []byte) (string, error) {
	b.mu.Lock()
	text := ""
	if b.calls < len(b.responses) {
		text = b.responses[b.calls]
	}
	b.calls++
	b.wavSizes = append(b.wavSizes, len(wav))
	b.mu.Unlock()

	select {
	case b.called <- struct{}{}:
	default:
	}
	return text, nil
}

func (b *backendMock) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type storeMock struct {
	mu      sync.Mutex
	saved   map[string]Snapshot
	deleted []string
	loaded  []Snapshot
}

func newStoreMock() *storeMock {
	return &storeMock{saved: map[string]Snapshot{}}
}

func (s *storeMock) SaveSession(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[snap.ID] = snap
	return nil
}

func (s *storeMock) LoadSessions() ([]Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Snapshot(nil), s.loaded...), nil
}

func (s *storeMock) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	return nil
}

type hubMock struct {
	mu       sync.Mutex
	batches  map[string][][]Update
	statuses []string
}

func newHubMock() *hubMock {
	return &hubMock{batches: map[string][][]Update{}}
}

func (h *hubMock) BroadcastTranscript(sessionID string, updates []Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches[sessionID] = append(h.batches[sessionID], updates)
}

func (h *hubMock) BroadcastSessionStatus(sessionID, status string, _, _ bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, sessionID+":"+status)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestManager(t *testing.T, backend *backendMock, store Store, hub Broadcaster, clock *fakeClock) *Manager {
	t.Helper()

	opts := Options{
		Store:         store,
		Backend:       backend,
		Hub:           hub,
		AudioDir:      t.TempDir(),
		WindowBytes:   64,
		WorkerPoll:    5 * time.Millisecond,
		ResumeHorizon: 24 * time.Hour,
	}
	if clock != nil {
		opts.Now = clock.Now
	}

	m := NewManager(opts)
	t.Cleanup(m.Close)
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCreateRegistersOwnerIndex(t *testing.T) {
	m := newTestManager(t, newBackendMock(), nil, nil, nil)

	sessionID, ownerID := m.Create("")
	if sessionID == "" || ownerID == "" {
		t.Fatalf("expected generated ids, got %q/%q", sessionID, ownerID)
	}

	found, ok := m.FindResumable(ownerID)
	if !ok || found != sessionID {
		t.Fatalf("owner index lookup failed: %q %v", found, ok)
	}
}

func TestAddAudioRejectedWhenNotProcessing(t *testing.T) {
	m := newTestManager(t, newBackendMock(), nil, nil, nil)
	sessionID, _ := m.Create("owner-1")

	if m.AddAudio(sessionID, make([]byte, 16)) {
		t.Fatal("expected chunk to be dropped before start")
	}
	if m.AddAudio("missing", make([]byte, 16)) {
		t.Fatal("expected chunk to be dropped for unknown session")
	}
}

func TestTranscriptIsAppendOnly(t *testing.T) {
	backend := newBackendMock("First part.", "Second part.", "Third part.")
	m := newTestManager(t, backend, nil, nil, nil)
	sessionID, ownerID := m.Create("")
	m.StartSession(sessionID, ownerID)

	var transcripts []string
	for i := 1; i <= 3; i++ {
		m.AddAudio(sessionID, make([]byte, 64))
		want := i
		waitFor(t, "fragment", func() bool {
			snap, _ := m.SessionState(sessionID, ownerID)
			return len(snap.Fragments) == want
		})
		text, err := m.Transcript(sessionID, ownerID)
		if err != nil {
			t.Fatalf("Transcript failed: %v", err)
		}
		transcripts = append(transcripts, text)
	}

	for i := 1; i < len(transcripts); i++ {
		if !strings.HasPrefix(transcripts[i], transcripts[i-1]) {
			t.Fatalf("transcript %d is not a prefix-extension:\nbefore: %q\nafter: %q", i, transcripts[i-1], transcripts[i])
		}
	}
}

func TestResumeRejectsWrongOwner(t *testing.T) {
	m := newTestManager(t, newBackendMock(), nil, nil, nil)
	sessionID, ownerID := m.Create("")

	if _, err := m.Resume(sessionID, "impostor"); err != ErrNotOwner {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if _, err := m.Resume(sessionID, ownerID); err != nil {
		t.Fatalf("real owner resume failed: %v", err)
	}
	if _, err := m.Resume("missing", ownerID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResumeExpiresPastHorizon(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, newBackendMock(), nil, nil, clock)
	sessionID, ownerID := m.Create("")

	clock.Advance(25 * time.Hour)
	if _, err := m.Resume(sessionID, ownerID); err != ErrNotResumable {
		t.Fatalf("expected ErrNotResumable, got %v", err)
	}
}

func TestResumeContinuity(t *testing.T) {
	backend := newBackendMock("Alpha segment.", "Beta segment.")
	m := newTestManager(t, backend, nil, nil, nil)
	sessionID, ownerID := m.Create("")

	m.SetOwnerConnected(sessionID, ownerID, true)
	m.StartSession(sessionID, ownerID)
	m.AddAudio(sessionID, make([]byte, 64))
	waitFor(t, "first fragment", func() bool {
		snap, _ := m.SessionState(sessionID, ownerID)
		return len(snap.Fragments) == 1
	})

	m.SetOwnerConnected(sessionID, ownerID, false)

	snap, err := m.Resume(sessionID, ownerID)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if snap.ResumeCount != 1 {
		t.Fatalf("expected resumeCount 1, got %d", snap.ResumeCount)
	}
	if snap.PausedAt != nil {
		t.Fatal("expected pausedAt cleared after resume")
	}

	m.AddAudio(sessionID, make([]byte, 64))
	waitFor(t, "second fragment", func() bool {
		s, _ := m.SessionState(sessionID, ownerID)
		return len(s.Fragments) == 2
	})

	text, _ := m.Transcript(sessionID, ownerID)
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 transcript lines, got %d: %q", len(lines), text)
	}
	if !strings.HasSuffix(lines[0], "Alpha segment.") || !strings.HasSuffix(lines[1], "Beta segment.") {
		t.Fatalf("expected pre-resume line before post-resume line, got %q", text)
	}
}

func TestCleanupProtectsSummarizedSessions(t *testing.T) {
	clock := newFakeClock()
	store := newStoreMock()
	m := newTestManager(t, newBackendMock(), store, nil, clock)

	keptID, keptOwner := m.Create("")
	m.SetSummary(keptID, keptOwner, "## Summary\n- decisions made")
	staleID, _ := m.Create("")

	clock.Advance(25 * time.Hour)
	m.cleanupPass()

	if _, err := m.SessionState(keptID, keptOwner); err != nil {
		t.Fatalf("summarized session was cleaned up: %v", err)
	}
	if _, err := m.SessionState(staleID, ""); err != ErrNotFound {
		t.Fatalf("expected stale session removed, got %v", err)
	}
}

func TestCleanupSoftHorizon(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, newBackendMock(), nil, nil, clock)
	sessionID, _ := m.Create("")

	// Idle 2h with a recently active owner: kept.
	clock.Advance(2 * time.Hour)
	m.cleanupPass()
	if _, err := m.SessionState(sessionID, ""); err != nil {
		t.Fatalf("session removed too early: %v", err)
	}

	// Past the resume horizon with a long-gone owner: removed.
	clock.Advance(23 * time.Hour)
	m.cleanupPass()
	if _, err := m.SessionState(sessionID, ""); err != ErrNotFound {
		t.Fatalf("expected removal, got %v", err)
	}
}

func TestDeleteSoftEndsSummarizedSession(t *testing.T) {
	store := newStoreMock()
	m := newTestManager(t, newBackendMock(), store, nil, nil)
	sessionID, ownerID := m.Create("")
	m.SetSummary(sessionID, ownerID, "summary")

	if !m.Delete(sessionID, ownerID) {
		t.Fatal("Delete failed")
	}

	snap, err := m.SessionState(sessionID, ownerID)
	if err != nil {
		t.Fatalf("expected summarized session retained, got %v", err)
	}
	if snap.OwnerConnected {
		t.Fatal("expected session disconnected after soft end")
	}
	if len(store.deleted) != 0 {
		t.Fatalf("soft end must not delete the persisted record: %v", store.deleted)
	}
}

func TestDeleteRemovesUnsummarizedSession(t *testing.T) {
	store := newStoreMock()
	m := newTestManager(t, newBackendMock(), store, nil, nil)
	sessionID, ownerID := m.Create("")

	if !m.Delete(sessionID, ownerID) {
		t.Fatal("Delete failed")
	}
	if _, err := m.SessionState(sessionID, ownerID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != sessionID {
		t.Fatalf("expected persisted record deleted, got %v", store.deleted)
	}
	if _, ok := m.FindResumable(ownerID); ok {
		t.Fatal("owner index still references deleted session")
	}
}

func TestDeleteRejectsWrongOwner(t *testing.T) {
	m := newTestManager(t, newBackendMock(), nil, nil, nil)
	sessionID, _ := m.Create("")

	if m.Delete(sessionID, "impostor") {
		t.Fatal("expected delete rejected for wrong owner")
	}
}

func TestSharedTranscriptRequiresSharing(t *testing.T) {
	backend := newBackendMock("Visible line.")
	m := newTestManager(t, backend, nil, nil, nil)
	sessionID, ownerID := m.Create("")
	m.StartSession(sessionID, ownerID)
	m.AddAudio(sessionID, make([]byte, 64))
	waitFor(t, "fragment", func() bool {
		snap, _ := m.SessionState(sessionID, ownerID)
		return len(snap.Fragments) == 1
	})

	if _, ok := m.SharedTranscript(sessionID); ok {
		t.Fatal("transcript visible to viewers before sharing")
	}

	m.EnableSharing(sessionID, ownerID)
	text, ok := m.SharedTranscript(sessionID)
	if !ok || !strings.Contains(text, "Visible line.") {
		t.Fatalf("expected shared transcript, got %q %v", text, ok)
	}

	m.DisableSharing(sessionID, ownerID)
	if _, ok := m.SharedTranscript(sessionID); ok {
		t.Fatal("transcript still visible after sharing disabled")
	}
}

func TestFindResumablePicksMostRecent(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, newBackendMock(), nil, nil, clock)

	first, ownerID := m.Create("")
	clock.Advance(time.Hour)
	second, _ := m.Create(ownerID)
	m.SetOwnerConnected(second, ownerID, true)

	found, ok := m.FindResumable(ownerID)
	if !ok || found != second {
		t.Fatalf("expected most recent session %q, got %q", second, found)
	}
	_ = first
}

func TestBroadcastPassDrainsPendingUpdates(t *testing.T) {
	backend := newBackendMock("Batch me.")
	hub := newHubMock()
	m := newTestManager(t, backend, nil, hub, nil)
	sessionID, ownerID := m.Create("")
	m.StartSession(sessionID, ownerID)
	m.AddAudio(sessionID, make([]byte, 64))
	waitFor(t, "fragment", func() bool {
		snap, _ := m.SessionState(sessionID, ownerID)
		return len(snap.Fragments) == 1
	})

	m.broadcastPass()

	hub.mu.Lock()
	batches := hub.batches[sessionID]
	hub.mu.Unlock()
	if len(batches) != 1 || len(batches[0]) != 1 || batches[0][0].Text != "Batch me." {
		t.Fatalf("unexpected broadcast batches %+v", batches)
	}

	// Queue is drained; a second pass broadcasts nothing.
	m.broadcastPass()
	hub.mu.Lock()
	batches = hub.batches[sessionID]
	hub.mu.Unlock()
	if len(batches) != 1 {
		t.Fatalf("expected no second batch, got %d", len(batches))
	}
}

func TestLoadPersistedSessionsComeBackPaused(t *testing.T) {
	store := newStoreMock()
	store.loaded = []Snapshot{{
		ID:                "restored-1",
		OwnerID:           "owner-9",
		Title:             "Quarterly review",
		IsShared:          true,
		Summary:           "kept",
		ResumeCount:       2,
		CreatedAt:         time.Now().Add(-2 * time.Hour),
		LastActivity:      time.Now().Add(-time.Hour),
		LastOwnerActivity: time.Now().Add(-time.Hour),
	}}

	m := newTestManager(t, newBackendMock(), store, nil, nil)

	snap, err := m.SessionState("restored-1", "owner-9")
	if err != nil {
		t.Fatalf("restored session missing: %v", err)
	}
	if snap.OwnerConnected || snap.PausedAt == nil {
		t.Fatal("restored session should be disconnected and paused")
	}
	if !snap.IsShared || snap.Summary != "kept" || snap.ResumeCount != 2 {
		t.Fatalf("restored fields wrong: %+v", snap)
	}
	if !m.CanBeResumed("restored-1") {
		t.Fatal("recently active restored session should be resumable")
	}
}

func TestEndToEndSilenceThenSpeech(t *testing.T) {
	// Window 1 transcribes to nothing (silence), window 2 to real speech.
	backend := newBackendMock("", "Discuss Q3 budget.")
	m := newTestManager(t, backend, nil, nil, nil)
	sessionID, ownerID := m.Create("")

	if !m.StartSession(sessionID, ownerID) {
		t.Fatal("StartSession failed")
	}
	m.StartSession(sessionID, ownerID) // idempotent

	m.AddAudio(sessionID, make([]byte, 64))
	waitFor(t, "silence window call", func() bool { return backend.callCount() >= 1 })

	snap, _ := m.SessionState(sessionID, ownerID)
	if len(snap.Fragments) != 0 {
		t.Fatalf("silence produced %d fragments", len(snap.Fragments))
	}

	m.AddAudio(sessionID, make([]byte, 64))
	waitFor(t, "speech fragment", func() bool {
		s, _ := m.SessionState(sessionID, ownerID)
		return len(s.Fragments) == 1
	})

	snap, _ = m.SessionState(sessionID, ownerID)
	if snap.Fragments[0].Text != "Discuss Q3 budget." {
		t.Fatalf("unexpected fragment %q", snap.Fragments[0].Text)
	}
	if snap.Fragments[0].Timestamp.IsZero() {
		t.Fatal("fragment missing timestamp")
	}

	if !m.StopSession(sessionID, ownerID) {
		t.Fatal("StopSession failed")
	}

	snap, _ = m.SessionState(sessionID, ownerID)
	if snap.State != StateStopped {
		t.Fatalf("expected stopped state, got %s", snap.State)
	}
	if snap.AudioPath == "" {
		t.Fatal("expected persisted audio path after stop")
	}

	info, err := os.Stat(snap.AudioPath)
	if err != nil {
		t.Fatalf("stat audio snapshot: %v", err)
	}
	wantSeconds := audio.Duration(128)
	gotSeconds := audio.Duration(int(info.Size()) - 44)
	if gotSeconds != wantSeconds {
		t.Fatalf("expected %.4fs of audio, got %.4fs", wantSeconds, gotSeconds)
	}
}
