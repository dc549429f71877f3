package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/meetscribe/meetscribe/internal/session"
	"github.com/meetscribe/meetscribe/internal/transcribe"
)

// SQLiteStore persists summarized sessions across restarts. Each save replaces
// the session's record wholesale, inside one transaction, so the table always
// holds a consistent snapshot and never a partial merge.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "meetscribe.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			is_shared INTEGER NOT NULL DEFAULT 0,
			summary TEXT NOT NULL DEFAULT '',
			analysis TEXT,
			resume_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			paused_at TEXT,
			last_activity TEXT NOT NULL,
			last_owner_activity TEXT NOT NULL,
			audio_path TEXT NOT NULL DEFAULT '',
			audio_bytes INTEGER NOT NULL DEFAULT 0,
			audio_truncated INTEGER NOT NULL DEFAULT 0,
			deleted_at TEXT
		);
	`); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS fragments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			text TEXT NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create fragments table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_id)"); err != nil {
		return fmt.Errorf("create sessions index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_fragments_session ON fragments(session_id, id)"); err != nil {
		return fmt.Errorf("create fragments index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// SaveSession writes the full snapshot, replacing any previous record and all
// of its fragments.
func (s *SQLiteStore) SaveSession(snap session.Snapshot) error {
	if strings.TrimSpace(snap.ID) == "" {
		return errors.New("session id is required")
	}

	var analysisJSON sql.NullString
	if snap.Analysis != nil {
		raw, err := json.Marshal(snap.Analysis)
		if err != nil {
			return fmt.Errorf("encode analysis for session %s: %w", snap.ID, err)
		}
		analysisJSON = sql.NullString{String: string(raw), Valid: true}
	}

	var pausedAt sql.NullString
	if snap.PausedAt != nil {
		pausedAt = sql.NullString{String: snap.PausedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save for session %s: %w", snap.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO sessions(
			id, owner_id, title, is_shared, summary, analysis, resume_count,
			created_at, paused_at, last_activity, last_owner_activity,
			audio_path, audio_bytes, audio_truncated, deleted_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		snap.ID,
		snap.OwnerID,
		snap.Title,
		boolInt(snap.IsShared),
		snap.Summary,
		analysisJSON,
		snap.ResumeCount,
		snap.CreatedAt.UTC().Format(time.RFC3339Nano),
		pausedAt,
		snap.LastActivity.UTC().Format(time.RFC3339Nano),
		snap.LastOwnerActivity.UTC().Format(time.RFC3339Nano),
		snap.AudioPath,
		snap.AudioBytes,
		boolInt(snap.AudioTruncated),
	); err != nil {
		return fmt.Errorf("save session %s: %w", snap.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM fragments WHERE session_id = ?`, snap.ID); err != nil {
		return fmt.Errorf("clear fragments for session %s: %w", snap.ID, err)
	}

	for _, f := range snap.Fragments {
		if _, err := tx.Exec(
			`INSERT INTO fragments(session_id, timestamp, text) VALUES(?, ?, ?)`,
			snap.ID,
			f.Timestamp.UTC().Format(time.RFC3339Nano),
			f.Text,
		); err != nil {
			return fmt.Errorf("save fragment for session %s: %w", snap.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save for session %s: %w", snap.ID, err)
	}
	return nil
}

// LoadSessions returns every non-deleted session. A record that fails to
// decode is skipped with a warning rather than aborting the load: one corrupt
// row must not take down the rest.
func (s *SQLiteStore) LoadSessions() ([]session.Snapshot, error) {
	rows, err := s.db.Query(
		`SELECT id, owner_id, title, is_shared, summary, analysis, resume_count,
		        created_at, paused_at, last_activity, last_owner_activity,
		        audio_path, audio_bytes, audio_truncated
		 FROM sessions
		 WHERE deleted_at IS NULL
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshots := make([]session.Snapshot, 0, 16)
	for rows.Next() {
		snap, err := scanSession(rows)
		if err != nil {
			log.Printf("warning: skipping corrupt session record: %v", err)
			continue
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}

	for i := range snapshots {
		fragments, err := s.loadFragments(snapshots[i].ID)
		if err != nil {
			log.Printf("warning: session %s: %v", snapshots[i].ID, err)
			continue
		}
		snapshots[i].Fragments = fragments
	}

	return snapshots, nil
}

// DeleteSession soft-deletes the record. Deleting a missing session is a
// no-op.
func (s *SQLiteStore) DeleteSession(id string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) loadFragments(sessionID string) ([]transcribe.Fragment, error) {
	rows, err := s.db.Query(
		`SELECT timestamp, text FROM fragments WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query fragments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	fragments := make([]transcribe.Fragment, 0, 32)
	for rows.Next() {
		var f transcribe.Fragment
		var ts string
		if err := rows.Scan(&ts, &f.Text); err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}

		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse fragment timestamp: %w", err)
		}
		f.Timestamp = parsed

		fragments = append(fragments, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fragment rows: %w", err)
	}

	return fragments, nil
}

func scanSession(rows *sql.Rows) (session.Snapshot, error) {
	var snap session.Snapshot
	var isShared, audioTruncated int
	var analysisJSON, pausedAt sql.NullString
	var createdAt, lastActivity, lastOwnerActivity string

	if err := rows.Scan(
		&snap.ID, &snap.OwnerID, &snap.Title, &isShared, &snap.Summary,
		&analysisJSON, &snap.ResumeCount, &createdAt, &pausedAt,
		&lastActivity, &lastOwnerActivity,
		&snap.AudioPath, &snap.AudioBytes, &audioTruncated,
	); err != nil {
		return session.Snapshot{}, fmt.Errorf("scan session: %w", err)
	}

	snap.IsShared = isShared != 0
	snap.AudioTruncated = audioTruncated != 0
	snap.State = session.StateStopped

	var err error
	if snap.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return session.Snapshot{}, fmt.Errorf("parse session %s created_at: %w", snap.ID, err)
	}
	if snap.LastActivity, err = time.Parse(time.RFC3339Nano, lastActivity); err != nil {
		return session.Snapshot{}, fmt.Errorf("parse session %s last_activity: %w", snap.ID, err)
	}
	if snap.LastOwnerActivity, err = time.Parse(time.RFC3339Nano, lastOwnerActivity); err != nil {
		return session.Snapshot{}, fmt.Errorf("parse session %s last_owner_activity: %w", snap.ID, err)
	}

	if pausedAt.Valid {
		parsed, err := time.Parse(time.RFC3339Nano, pausedAt.String)
		if err != nil {
			return session.Snapshot{}, fmt.Errorf("parse session %s paused_at: %w", snap.ID, err)
		}
		snap.PausedAt = &parsed
	}

	if analysisJSON.Valid && analysisJSON.String != "" {
		var analysis session.MeetingAnalysis
		if err := json.Unmarshal([]byte(analysisJSON.String), &analysis); err != nil {
			return session.Snapshot{}, fmt.Errorf("decode session %s analysis: %w", snap.ID, err)
		}
		snap.Analysis = &analysis
	}

	return snap, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
