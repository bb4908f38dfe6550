package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/blitztime/server/internal/timer"
)

// Watchdog bounds end-of-game latency: for every running timer it keeps one
// armed clock timer at the turn holder's expected expiry and fires a timeout
// check when it elapses, so no client has to be connected for an expired
// game to end.
type Watchdog struct {
	clock  clockwork.Clock
	expire func(id uuid.UUID)

	mu      sync.Mutex
	armed   map[uuid.UUID]*arming
	stopped bool
	wg      sync.WaitGroup
}

type arming struct {
	timer  clockwork.Timer
	cancel chan struct{}
}

func NewWatchdog(clock clockwork.Clock, expire func(id uuid.UUID)) *Watchdog {
	return &Watchdog{
		clock:  clock,
		expire: expire,
		armed:  make(map[uuid.UUID]*arming),
	}
}

// Observe re-arms the watchdog from a freshly published snapshot. A running
// snapshot arms a timer at its deadline, replacing any previous arming; an
// ended or not-yet-started snapshot disarms.
func (w *Watchdog) Observe(snap timer.Snapshot) {
	id, err := uuid.Parse(snap.ID)
	if err != nil {
		return
	}
	deadline := snap.Deadline()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if cur, ok := w.armed[id]; ok {
		cur.timer.Stop()
		close(cur.cancel)
		delete(w.armed, id)
	}
	if deadline.IsZero() {
		return
	}

	wait := deadline.Sub(w.clock.Now())
	if wait < 0 {
		wait = 0
	}
	a := &arming{
		timer:  w.clock.NewTimer(wait),
		cancel: make(chan struct{}),
	}
	w.armed[id] = a

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case <-a.timer.Chan():
			w.disarm(id, a)
			w.expire(id)
		case <-a.cancel:
		}
	}()

	log.Debug().
		Str("timer_id", id.String()).
		Time("deadline", deadline).
		Dur("wait", wait).
		Msg("watchdog armed")
}

// disarm clears an arming if it is still the current one for the timer.
func (w *Watchdog) disarm(id uuid.UUID, a *arming) {
	w.mu.Lock()
	if cur, ok := w.armed[id]; ok && cur == a {
		delete(w.armed, id)
	}
	w.mu.Unlock()
}

// Stop disarms everything and waits for in-flight firings to finish.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	w.stopped = true
	for id, a := range w.armed {
		a.timer.Stop()
		close(a.cancel)
		delete(w.armed, id)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// Armed reports whether a timer currently has a pending expiry check.
func (w *Watchdog) Armed(id uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.armed[id]
	return ok
}
