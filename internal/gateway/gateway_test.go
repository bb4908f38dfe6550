package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/blitztime/server/internal/auth"
	"github.com/blitztime/server/internal/events"
	"github.com/blitztime/server/internal/session"
	"github.com/blitztime/server/internal/stageclock"
	"github.com/blitztime/server/internal/store"
	"github.com/blitztime/server/internal/timer"
)

type frame struct {
	Type   string          `json:"type"`
	Detail string          `json:"detail"`
	State  *timer.Snapshot `json:"state"`
}

func newTestGateway(t *testing.T) (*httptest.Server, *session.Registry) {
	t.Helper()
	registry := session.NewRegistry(auth.NewResolver(), store.NopStore{}, events.NopPublisher{}, session.Config{})
	watchdog := registry.NewWatchdogFor()
	registry.SetWatchdog(watchdog)
	t.Cleanup(watchdog.Stop)

	mux := http.NewServeMux()
	New(registry, DefaultConfig()).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, registry
}

func dial(t *testing.T, srv *httptest.Server, timerID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?timer=" + timerID
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil decodes frames until one satisfies the predicate.
func readUntil(t *testing.T, conn *websocket.Conn, what string, pred func(frame) bool) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("reading for %s: %v", what, err)
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("decode frame %q: %v", data, err)
		}
		if pred(f) {
			return f
		}
	}
}

func sendAction(t *testing.T, conn *websocket.Conn, action string, seconds *float64) {
	t.Helper()
	msg := map[string]any{"action": action}
	if seconds != nil {
		msg["seconds"] = *seconds
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("send %s: %v", action, err)
	}
}

func connectBothSides(t *testing.T, srv *httptest.Server, registry *session.Registry) (homeConn, awayConn *websocket.Conn) {
	t.Helper()
	stages := []stageclock.Stage{{StartTurn: 0, InitialSeconds: 300, IncrementSecondsPerTurn: 5}}
	snap, homeToken, err := registry.CreateTimer(stages, false)
	if err != nil {
		t.Fatalf("CreateTimer() error: %v", err)
	}
	id := mustUUID(t, snap.ID)
	_, awayToken, err := registry.Join(id, timer.RoleAway)
	if err != nil {
		t.Fatalf("Join() error: %v", err)
	}

	homeConn = dial(t, srv, snap.ID, homeToken)
	awayConn = dial(t, srv, snap.ID, awayToken)

	// Both sides show connected once the away attach has been broadcast.
	readUntil(t, homeConn, "both sides connected", func(f frame) bool {
		return f.Type == "state" && f.State.Home.Connected && f.State.Away.Connected
	})
	return homeConn, awayConn
}

func TestConnectReceivesInitialState(t *testing.T) {
	srv, registry := newTestGateway(t)
	stages := []stageclock.Stage{{StartTurn: 0, InitialSeconds: 60}}
	snap, _, err := registry.CreateTimer(stages, false)
	if err != nil {
		t.Fatalf("CreateTimer() error: %v", err)
	}

	observer := dial(t, srv, snap.ID, "")
	f := readUntil(t, observer, "initial state", func(f frame) bool {
		return f.Type == "state"
	})
	if f.State.ID != snap.ID {
		t.Errorf("initial state for timer %s, want %s", f.State.ID, snap.ID)
	}
	if f.State.Observers != 1 {
		t.Errorf("observers = %d, want 1", f.State.Observers)
	}
}

func TestStartAndEndTurnOverSocket(t *testing.T) {
	srv, registry := newTestGateway(t)
	homeConn, awayConn := connectBothSides(t, srv, registry)

	sendAction(t, homeConn, "start_timer", nil)
	started := readUntil(t, awayConn, "started state", func(f frame) bool {
		return f.Type == "state" && f.State.StartedAt != nil
	})
	if !started.State.Home.IsTurn {
		t.Error("home does not hold the turn after start")
	}
	if started.State.Home.TotalTime != 300 {
		t.Errorf("home total = %v, want 300", started.State.Home.TotalTime)
	}

	sendAction(t, homeConn, "end_turn", nil)
	flipped := readUntil(t, awayConn, "turn flip", func(f frame) bool {
		return f.Type == "state" && f.State.TurnNumber == 1
	})
	if !flipped.State.Away.IsTurn {
		t.Error("away does not hold the turn after home's end_turn")
	}
}

func TestUnauthorizedActionErrorsOnlyToCaller(t *testing.T) {
	srv, registry := newTestGateway(t)
	homeConn, awayConn := connectBothSides(t, srv, registry)

	// Away may not start an unmanaged game; only away hears about it.
	sendAction(t, awayConn, "start_timer", nil)
	errF := readUntil(t, awayConn, "error frame", func(f frame) bool {
		return f.Type == "error"
	})
	if errF.Detail == "" {
		t.Error("error frame without detail")
	}

	// Home's stream stays silent: the next frame it sees is the state from
	// its own successful start, not an error.
	sendAction(t, homeConn, "start_timer", nil)
	f := readUntil(t, homeConn, "next frame", func(f frame) bool {
		return f.Type == "error" || (f.Type == "state" && f.State.StartedAt != nil)
	})
	if f.Type == "error" {
		t.Errorf("failed action leaked to another connection: %q", f.Detail)
	}
}

func TestAddTimeRequiresSeconds(t *testing.T) {
	srv, registry := newTestGateway(t)
	homeConn, _ := connectBothSides(t, srv, registry)

	sendAction(t, homeConn, "add_time", nil)
	errF := readUntil(t, homeConn, "error frame", func(f frame) bool {
		return f.Type == "error"
	})
	if !strings.Contains(errF.Detail, "seconds") {
		t.Errorf("detail = %q, want a seconds complaint", errF.Detail)
	}
}

func TestUnknownActionRejected(t *testing.T) {
	srv, registry := newTestGateway(t)
	homeConn, _ := connectBothSides(t, srv, registry)

	sendAction(t, homeConn, "castle", nil)
	readUntil(t, homeConn, "error frame", func(f frame) bool {
		return f.Type == "error" && strings.Contains(f.Detail, "unknown action")
	})
}

func TestDialUnknownTimerRejected(t *testing.T) {
	srv, _ := newTestGateway(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?timer=5f1c9f6e-0000-0000-0000-000000000000"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial to unknown timer succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("dial response = %+v, want 403", resp)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
}

func TestDisconnectBroadcastsConnectivity(t *testing.T) {
	srv, registry := newTestGateway(t)
	homeConn, awayConn := connectBothSides(t, srv, registry)

	awayConn.Close()
	readUntil(t, homeConn, "away disconnect", func(f frame) bool {
		return f.Type == "state" && !f.State.Away.Connected
	})
}

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	if err != nil {
		t.Fatalf("parse uuid %q: %v", s, err)
	}
	return id
}
