package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestOwnerSocketStreamsAudioIn(t *testing.T) {
	h, manager := newTestHandler(t, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	sessionID, ownerID := manager.Create("")
	manager.StartSession(sessionID, ownerID)

	conn, _, err := websocket.DefaultDialer.Dial(
		wsURL(srv, "/ws/sessions/"+sessionID+"?owner_id="+ownerID), nil)
	if err != nil {
		t.Fatalf("dial owner socket: %v", err)
	}
	defer func() { _ = conn.Close() }()

	// First frame is the connection event.
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read hello: %v", err)
	}
	var hello ConnectionEvent
	if err := json.Unmarshal(msg, &hello); err != nil || hello.Type != "connection" || !hello.Connected {
		t.Fatalf("unexpected hello %s (%v)", msg, err)
	}

	snap, _ := manager.SessionState(sessionID, ownerID)
	if !snap.OwnerConnected {
		t.Fatal("owner not marked connected after dial")
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 64)); err != nil {
		t.Fatalf("write audio frame: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, _ = manager.SessionState(sessionID, ownerID)
		if len(snap.Fragments) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(snap.Fragments) != 1 {
		t.Fatalf("audio frame never became a fragment: %+v", snap.Fragments)
	}

	_ = conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, _ = manager.SessionState(sessionID, ownerID)
		if !snap.OwnerConnected {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if snap.OwnerConnected || snap.PausedAt == nil {
		t.Fatalf("expected paused session after socket close: %+v", snap)
	}
}

func TestOwnerSocketRejectsWrongOwner(t *testing.T) {
	h, manager := newTestHandler(t, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	sessionID, _ := manager.Create("")

	_, resp, err := websocket.DefaultDialer.Dial(
		wsURL(srv, "/ws/sessions/"+sessionID+"?owner_id=impostor"), nil)
	if err == nil {
		t.Fatal("expected dial to fail for wrong owner")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}

func TestSharedSocketRequiresSharing(t *testing.T) {
	h, manager := newTestHandler(t, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	sessionID, ownerID := manager.Create("")

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/shared/"+sessionID), nil); err == nil {
		t.Fatal("expected dial to fail before sharing")
	} else if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %+v", resp)
	}

	manager.EnableSharing(sessionID, ownerID)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/shared/"+sessionID), nil)
	if err != nil {
		t.Fatalf("dial shared socket: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if _, msg, err := conn.ReadMessage(); err != nil || !strings.Contains(string(msg), `"connection"`) {
		t.Fatalf("expected connection event, got %s (%v)", msg, err)
	}
}
