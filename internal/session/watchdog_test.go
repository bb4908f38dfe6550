package session

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/blitztime/server/internal/timer"
)

// waitFor polls until the condition holds or the (real) deadline passes.
// Watchdog firings cross a goroutine, so tests can't observe them
// synchronously even with a fake clock.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWatchdogEndsExpiredGameWithoutClients(t *testing.T) {
	fc := clockwork.NewFakeClock()
	r := newTestRegistry(fc)
	sess := startedSession(t, r)
	id := uuid.MustParse(sess.Latest().ID)

	if !r.watchdog.Armed(id) {
		t.Fatal("watchdog not armed after start")
	}

	// Just before expiry nothing happens.
	fc.Advance(299 * time.Second)
	if sess.Latest().HasEnded {
		t.Fatal("game ended before expiry")
	}

	fc.Advance(2 * time.Second)
	waitFor(t, "watchdog to end the game", func() bool {
		return sess.Latest().HasEnded
	})

	snap := sess.Latest()
	if snap.EndReporter != nil {
		t.Errorf("end reporter = %v, want unset for watchdog timeout", *snap.EndReporter)
	}
	waitFor(t, "watchdog to disarm", func() bool {
		return !r.watchdog.Armed(id)
	})
}

func TestWatchdogRearmsOnEndTurn(t *testing.T) {
	fc := clockwork.NewFakeClock()
	r := newTestRegistry(fc)
	sess := startedSession(t, r)

	fc.Advance(100 * time.Second)
	if _, err := sess.EndTurn(timer.RoleHome); err != nil {
		t.Fatalf("EndTurn() error: %v", err)
	}

	// Away now has 300s from this moment; the old home deadline is gone.
	fc.Advance(250 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if sess.Latest().HasEnded {
		t.Fatal("game ended before away's deadline")
	}

	fc.Advance(51 * time.Second)
	waitFor(t, "away to time out", func() bool {
		return sess.Latest().HasEnded
	})
}

func TestWatchdogMovesWithAddedTime(t *testing.T) {
	fc := clockwork.NewFakeClock()
	r := newTestRegistry(fc)

	snap, _, err := r.CreateTimer(testStages, true)
	if err != nil {
		t.Fatalf("CreateTimer() error: %v", err)
	}
	id := uuid.MustParse(snap.ID)
	r.Join(id, timer.RoleHome)
	r.Join(id, timer.RoleAway)
	sess, _ := r.Get(id)
	if _, err := sess.Start(timer.RoleManager); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if _, err := sess.AddTime(timer.RoleManager, 60); err != nil {
		t.Fatalf("AddTime() error: %v", err)
	}

	// The original 300s deadline has moved to 360s.
	fc.Advance(301 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if sess.Latest().HasEnded {
		t.Fatal("game ended at the stale deadline")
	}

	fc.Advance(60 * time.Second)
	waitFor(t, "game to end at the extended deadline", func() bool {
		return sess.Latest().HasEnded
	})
}

func TestWatchdogDisarmsOnManualEnd(t *testing.T) {
	fc := clockwork.NewFakeClock()
	r := newTestRegistry(fc)
	sess := startedSession(t, r)
	id := uuid.MustParse(sess.Latest().ID)

	if _, err := sess.EndGame(timer.RoleAway); err != nil {
		t.Fatalf("EndGame() error: %v", err)
	}
	if r.watchdog.Armed(id) {
		t.Error("watchdog still armed after manual end")
	}

	// Advancing past the old deadline must not disturb the ended game.
	reporter := sess.Latest().EndReporter
	fc.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	if got := sess.Latest().EndReporter; got == nil || *got != *reporter {
		t.Error("watchdog fired on an ended game")
	}
}

func TestWatchdogStop(t *testing.T) {
	fc := clockwork.NewFakeClock()
	r := newTestRegistry(fc)
	sess := startedSession(t, r)
	id := uuid.MustParse(sess.Latest().ID)

	r.watchdog.Stop()
	if r.watchdog.Armed(id) {
		t.Error("watchdog armed after stop")
	}

	fc.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	if sess.Latest().HasEnded {
		t.Error("stopped watchdog ended a game")
	}
}
