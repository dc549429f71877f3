package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/meetscribe/meetscribe/internal/session"
	"github.com/meetscribe/meetscribe/internal/transcribe"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleSnapshot() session.Snapshot {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	paused := created.Add(45 * time.Minute)
	return session.Snapshot{
		ID:          "sess-1",
		OwnerID:     "owner-1",
		Title:       "Q3 planning",
		IsShared:    true,
		Summary:     "## Summary\n- budget approved",
		ResumeCount: 2,
		Analysis: &session.MeetingAnalysis{
			Takeaways: "- ship in Q3",
			Summary:   "Budget approved.",
			Notes:     "# Notes",
			Chapters: []session.Chapter{
				{Title: "Budget", TimeRange: "09:00:00 - 09:30:00", Content: "numbers"},
			},
		},
		CreatedAt:         created,
		PausedAt:          &paused,
		LastActivity:      created.Add(time.Hour),
		LastOwnerActivity: created.Add(50 * time.Minute),
		Fragments: []transcribe.Fragment{
			{Timestamp: created.Add(3 * time.Second), Text: "Good morning everyone."},
			{Timestamp: created.Add(6 * time.Second), Text: "Let's review the budget."},
		},
		AudioPath:  "data/audio/sess-1.wav",
		AudioBytes: 96000,
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	want := sampleSnapshot()

	if err := store.SaveSession(want); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	loaded, err := store.LoadSessions()
	if err != nil {
		t.Fatalf("LoadSessions failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 session, got %d", len(loaded))
	}

	got := loaded[0]
	if got.ID != want.ID || got.OwnerID != want.OwnerID || got.Title != want.Title {
		t.Fatalf("identity fields mismatch: %+v", got)
	}
	if !got.IsShared || got.Summary != want.Summary || got.ResumeCount != 2 {
		t.Fatalf("state fields mismatch: %+v", got)
	}
	if got.Analysis == nil || got.Analysis.Takeaways != want.Analysis.Takeaways {
		t.Fatalf("analysis lost: %+v", got.Analysis)
	}
	if len(got.Analysis.Chapters) != 1 || got.Analysis.Chapters[0].Title != "Budget" {
		t.Fatalf("chapters lost: %+v", got.Analysis.Chapters)
	}
	if got.PausedAt == nil || !got.PausedAt.Equal(*want.PausedAt) {
		t.Fatalf("pausedAt mismatch: %v", got.PausedAt)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || !got.LastOwnerActivity.Equal(want.LastOwnerActivity) {
		t.Fatalf("timestamps mismatch: %+v", got)
	}
	if got.AudioPath != want.AudioPath || got.AudioBytes != want.AudioBytes {
		t.Fatalf("audio fields mismatch: %+v", got)
	}
	if len(got.Fragments) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(got.Fragments))
	}
	if got.Fragments[0].Text != "Good morning everyone." || got.Fragments[1].Text != "Let's review the budget." {
		t.Fatalf("fragment order or text wrong: %+v", got.Fragments)
	}
	if !got.Fragments[0].Timestamp.Equal(want.Fragments[0].Timestamp) {
		t.Fatalf("fragment timestamp mismatch: %v", got.Fragments[0].Timestamp)
	}
}

func TestSaveReplacesWholeRecord(t *testing.T) {
	store := newTestStore(t)
	snap := sampleSnapshot()

	if err := store.SaveSession(snap); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	snap.Title = "Renamed"
	snap.Fragments = snap.Fragments[:1]
	snap.Analysis = nil
	if err := store.SaveSession(snap); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	loaded, err := store.LoadSessions()
	if err != nil {
		t.Fatalf("LoadSessions failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 session after replace, got %d", len(loaded))
	}
	if loaded[0].Title != "Renamed" {
		t.Fatalf("title not replaced: %q", loaded[0].Title)
	}
	if len(loaded[0].Fragments) != 1 {
		t.Fatalf("old fragments survived the replace: %d", len(loaded[0].Fragments))
	}
	if loaded[0].Analysis != nil {
		t.Fatalf("old analysis survived the replace: %+v", loaded[0].Analysis)
	}
}

func TestSaveRejectsEmptyID(t *testing.T) {
	store := newTestStore(t)
	if err := store.SaveSession(session.Snapshot{}); err == nil {
		t.Fatal("expected error for empty session id")
	}
}

func TestDeleteHidesSessionAndIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	if err := store.SaveSession(sampleSnapshot()); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	if err := store.DeleteSession("sess-1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if err := store.DeleteSession("sess-1"); err != nil {
		t.Fatalf("repeat delete failed: %v", err)
	}
	if err := store.DeleteSession("never-existed"); err != nil {
		t.Fatalf("delete of missing session failed: %v", err)
	}

	loaded, err := store.LoadSessions()
	if err != nil {
		t.Fatalf("LoadSessions failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("deleted session still loads: %+v", loaded)
	}
}

func TestLoadSkipsCorruptRecords(t *testing.T) {
	store := newTestStore(t)
	if err := store.SaveSession(sampleSnapshot()); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	// A hand-damaged row: unparseable created_at.
	if _, err := store.DB().Exec(
		`INSERT INTO sessions(id, owner_id, created_at, last_activity, last_owner_activity)
		 VALUES('broken', 'owner-x', 'not-a-time', 'not-a-time', 'not-a-time')`,
	); err != nil {
		t.Fatalf("inserting corrupt row failed: %v", err)
	}

	loaded, err := store.LoadSessions()
	if err != nil {
		t.Fatalf("LoadSessions failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "sess-1" {
		t.Fatalf("expected only the healthy session, got %+v", loaded)
	}
}

func TestSaveAfterDeleteResurrects(t *testing.T) {
	store := newTestStore(t)
	snap := sampleSnapshot()

	if err := store.SaveSession(snap); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if err := store.DeleteSession(snap.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if err := store.SaveSession(snap); err != nil {
		t.Fatalf("re-save failed: %v", err)
	}

	loaded, err := store.LoadSessions()
	if err != nil {
		t.Fatalf("LoadSessions failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected re-saved session to load, got %d", len(loaded))
	}
}
