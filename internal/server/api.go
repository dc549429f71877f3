package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/meetscribe/meetscribe/internal/analyze"
	"github.com/meetscribe/meetscribe/internal/session"
)

const maxUploadBytes = 256 << 20

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// MeetingAnalyzer is the batch-analysis surface the API depends on.
type MeetingAnalyzer interface {
	TranscribeRecording(ctx context.Context, data []byte, mimeType string) (string, error)
	Analyze(ctx context.Context, transcript string) (*session.MeetingAnalysis, error)
	Register(sessionID, transcript string)
	Chat(ctx context.Context, sessionID, question string) (string, error)
	History(sessionID string) ([]analyze.ChatEntry, bool)
	Search(sessionID, term string) ([]session.Chapter, bool)
}

func registerAPIRoutes(mux *http.ServeMux, manager *session.Manager, analyzer MeetingAnalyzer, adminSecret string) {
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "healthy",
			"services": []string{"live-transcription", "meeting-analyzer"},
		})
	})

	mux.HandleFunc("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		sessionID, ownerID := manager.Create(ownerFrom(r))
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"session_id": sessionID,
			"owner_id":   ownerID,
		})
	})

	mux.HandleFunc("POST /api/sessions/{id}/start", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !validSessionID(sessionID) {
			writeJSONError(w, http.StatusForbidden, "invalid session id")
			return
		}
		if !manager.StartSession(sessionID, ownerFrom(r)) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})

	mux.HandleFunc("POST /api/sessions/{id}/stop", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !validSessionID(sessionID) {
			writeJSONError(w, http.StatusForbidden, "invalid session id")
			return
		}
		if !manager.StopSession(sessionID, ownerFrom(r)) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})

	mux.HandleFunc("DELETE /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !validSessionID(sessionID) {
			writeJSONError(w, http.StatusForbidden, "invalid session id")
			return
		}

		caller := ownerFrom(r)
		if adminSecret != "" && r.Header.Get("X-Admin-Secret") == adminSecret {
			caller = "" // admin override bypasses the owner gate
		}
		if !manager.Delete(sessionID, caller) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})

	mux.HandleFunc("GET /api/sessions/{id}/transcript", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		transcript, err := manager.Transcript(sessionID, ownerFrom(r))
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"session_id": sessionID,
			"transcript": transcript,
		})
	})

	mux.HandleFunc("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		snap, err := manager.SessionState(sessionID, ownerFrom(r))
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	mux.HandleFunc("PUT /api/sessions/{id}/title", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Title) == "" {
			writeJSONError(w, http.StatusBadRequest, "title is required")
			return
		}
		if !manager.SetTitle(sessionID, ownerFrom(r), req.Title) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})

	mux.HandleFunc("POST /api/sessions/{id}/share", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !manager.EnableSharing(sessionID, ownerFrom(r)) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"session_id": sessionID,
			"share_url":  "/shared/" + sessionID,
		})
	})

	mux.HandleFunc("DELETE /api/sessions/{id}/share", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !manager.DisableSharing(sessionID, ownerFrom(r)) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})

	mux.HandleFunc("GET /api/sessions/{id}/share", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		info, ok := manager.ShareInfo(sessionID)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}

		var shareURL any
		if info.IsShared {
			shareURL = "/shared/" + sessionID
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"session_id": sessionID,
			"is_shared":  info.IsShared,
			"share_url":  shareURL,
			"created_at": info.CreatedAt,
			"is_active":  info.IsActive,
		})
	})

	mux.HandleFunc("GET /api/shared/{id}/info", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		info, ok := manager.SharedInfo(sessionID)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "session not found or not shared")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"session_id": sessionID,
			"is_shared":  info.IsShared,
			"created_at": info.CreatedAt,
			"is_active":  info.IsActive,
			"title":      info.Title,
		})
	})

	mux.HandleFunc("GET /api/shared/{id}/transcript", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		transcript, ok := manager.SharedTranscript(sessionID)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "session not found or not shared")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"session_id": sessionID,
			"transcript": transcript,
		})
	})

	mux.HandleFunc("GET /api/sessions/resumable", func(w http.ResponseWriter, r *http.Request) {
		ownerID := ownerFrom(r)
		if ownerID == "" {
			writeJSONError(w, http.StatusBadRequest, "owner id is required")
			return
		}
		sessionID, ok := manager.FindResumable(ownerID)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "no resumable session")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"session_id": sessionID,
		})
	})

	mux.HandleFunc("POST /api/sessions/{id}/resume", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		snap, err := manager.Resume(sessionID, ownerFrom(r))
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"session": snap,
		})
	})

	registerAnalysisRoutes(mux, manager, analyzer)
}

func registerAnalysisRoutes(mux *http.ServeMux, manager *session.Manager, analyzer MeetingAnalyzer) {
	mux.HandleFunc("POST /api/transcribe", func(w http.ResponseWriter, r *http.Request) {
		if analyzer == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "analysis is not configured")
			return
		}

		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeJSONError(w, http.StatusBadRequest, "no audio file provided")
			return
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "no audio file provided")
			return
		}
		defer func() { _ = file.Close() }()

		data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("read upload: %v", err))
			return
		}

		mimeType := mimeForUpload(header.Filename, header.Header.Get("Content-Type"))
		transcript, err := analyzer.TranscribeRecording(r.Context(), data, mimeType)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("transcription failed: %v", err))
			return
		}

		analysis, err := analyzer.Analyze(r.Context(), transcript)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("analysis failed: %v", err))
			return
		}

		// A standalone upload gets its own conversation id. When the caller
		// names one of their live sessions, the analysis is attached to it
		// and makes that session durable.
		sessionID := r.FormValue("session_id")
		if sessionID != "" {
			if !manager.SetAnalysis(sessionID, ownerFrom(r), analysis) {
				writeJSONError(w, http.StatusNotFound, "session not found")
				return
			}
		} else {
			sessionID = ulid.Make().String()
		}
		analyzer.Register(sessionID, transcript)

		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"session_id": sessionID,
			"transcript": transcript,
			"chapters":   analysis.Chapters,
			"takeaways":  analysis.Takeaways,
			"summary":    analysis.Summary,
			"notes":      analysis.Notes,
			"filename":   header.Filename,
		})
	})

	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		if analyzer == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "analysis is not configured")
			return
		}

		var req struct {
			SessionID string `json:"session_id"`
			Question  string `json:"question"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
			writeJSONError(w, http.StatusBadRequest, "invalid session id")
			return
		}
		if req.Question == "" {
			writeJSONError(w, http.StatusBadRequest, "no question provided")
			return
		}

		answer, err := analyzer.Chat(r.Context(), req.SessionID, req.Question)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("chat failed: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"response": answer,
		})
	})

	mux.HandleFunc("GET /api/chat/history/{id}", func(w http.ResponseWriter, r *http.Request) {
		if analyzer == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "analysis is not configured")
			return
		}

		history, ok := analyzer.History(r.PathValue("id"))
		if !ok {
			writeJSONError(w, http.StatusBadRequest, "invalid session id")
			return
		}
		if history == nil {
			history = []analyze.ChatEntry{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"history": history,
		})
	})

	mux.HandleFunc("POST /api/search", func(w http.ResponseWriter, r *http.Request) {
		if analyzer == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "analysis is not configured")
			return
		}

		var req struct {
			SessionID  string `json:"session_id"`
			SearchTerm string `json:"search_term"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
			writeJSONError(w, http.StatusBadRequest, "invalid session id")
			return
		}

		chapters, ok := analyzer.Search(req.SessionID, req.SearchTerm)
		if !ok {
			writeJSONError(w, http.StatusBadRequest, "invalid session id")
			return
		}
		if chapters == nil {
			chapters = []session.Chapter{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":     true,
			"chapters":    chapters,
			"total_found": len(chapters),
		})
	})
}

func ownerFrom(r *http.Request) string {
	if owner := r.Header.Get("X-Owner-ID"); owner != "" {
		return owner
	}
	return r.URL.Query().Get("owner_id")
}

func validSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrNotOwner):
		writeJSONError(w, http.StatusForbidden, "not the session owner")
	case errors.Is(err, session.ErrNotResumable):
		writeJSONError(w, http.StatusGone, "session can no longer be resumed")
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func mimeForUpload(filename, contentType string) string {
	supported := map[string]struct{}{
		"audio/mpeg": {}, "audio/wav": {}, "audio/mp4": {}, "audio/x-m4a": {},
		"audio/flac": {}, "audio/aac": {}, "audio/ogg": {}, "audio/opus": {},
		"audio/webm": {},
	}
	if _, ok := supported[contentType]; ok {
		return contentType
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	case ".flac":
		return "audio/flac"
	case ".aac":
		return "audio/aac"
	case ".ogg":
		return "audio/ogg"
	case ".opus":
		return "audio/opus"
	case ".webm":
		return "audio/webm"
	default:
		return "audio/mpeg"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
