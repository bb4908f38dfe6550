// Package session serializes concurrent operations against shared timers and
// fans the resulting state out to subscribed connections. Each timer is an
// independently locked unit; unrelated timers never contend.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/blitztime/server/internal/events"
	"github.com/blitztime/server/internal/timer"
)

// Subscriber is a real-time connection attached to one timer. Deliver must
// never block: implementations enqueue onto a bounded per-connection buffer
// and drop the connection when it is full.
type Subscriber interface {
	SubscriberID() string
	Role() timer.Role
	Deliver(snap timer.Snapshot)
}

// changeFunc is invoked after every successful mutation, outside the timer's
// lock, with the resulting snapshot. The registry uses it for persistence,
// event publication, and watchdog scheduling.
type changeFunc func(evType events.Type, snap timer.Snapshot)

// Session owns one timer, its subscriber set, and the per-side connection
// counts. All mutations run under its lock; snapshot fanout uses the
// subscribers' non-blocking Deliver so a slow connection cannot stall the
// timer or its peers.
type Session struct {
	mu        sync.Mutex
	t         *timer.Timer
	subs      map[string]Subscriber
	sideConns map[timer.Role]int
	latest    atomic.Pointer[timer.Snapshot]
	onChange  changeFunc
}

func newSession(t *timer.Timer, onChange changeFunc) *Session {
	s := &Session{
		t:         t,
		subs:      make(map[string]Subscriber),
		sideConns: make(map[timer.Role]int),
		onChange:  onChange,
	}
	snap := t.Snapshot()
	s.latest.Store(&snap)
	return s
}

// Latest returns the most recently published snapshot without acquiring the
// timer's lock. It may trail in-flight mutations by a beat.
func (s *Session) Latest() timer.Snapshot {
	return *s.latest.Load()
}

// apply runs a mutation under the lock. On success it snapshots the timer,
// delivers the snapshot to every subscriber, and reports the change; on
// error nothing is broadcast and the caller alone sees the failure.
func (s *Session) apply(evType events.Type, mutate func(t *timer.Timer) error) (timer.Snapshot, error) {
	s.mu.Lock()
	if err := mutate(s.t); err != nil {
		s.mu.Unlock()
		return timer.Snapshot{}, err
	}
	snap := s.publishLocked()
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(evType, snap)
	}
	return snap, nil
}

// publishLocked snapshots current state and hands it to every subscriber.
// Deliver is non-blocking, so holding the lock keeps broadcasts ordered
// without ever stalling on a subscriber.
func (s *Session) publishLocked() timer.Snapshot {
	snap := s.t.Snapshot()
	s.latest.Store(&snap)
	for _, sub := range s.subs {
		sub.Deliver(snap)
	}
	return snap
}

// Join occupies a side. onJoined runs under the lock once the join has been
// accepted, before the state is broadcast; the registry uses it to install
// the side's credential atomically with the occupancy change.
func (s *Session) Join(pos timer.Role, onJoined func()) (timer.Snapshot, error) {
	return s.apply(events.TypeSideJoined, func(t *timer.Timer) error {
		if err := t.Join(pos); err != nil {
			return err
		}
		if onJoined != nil {
			onJoined()
		}
		return nil
	})
}

// Start starts the timer.
func (s *Session) Start(role timer.Role) (timer.Snapshot, error) {
	return s.apply(events.TypeTimerStarted, func(t *timer.Timer) error {
		return t.Start(role)
	})
}

// EndTurn ends the current turn.
func (s *Session) EndTurn(role timer.Role) (timer.Snapshot, error) {
	return s.apply(events.TypeTurnEnded, func(t *timer.Timer) error {
		return t.EndTurn(role)
	})
}

// AddTime adjusts both sides' clocks.
func (s *Session) AddTime(role timer.Role, seconds float64) (timer.Snapshot, error) {
	return s.apply(events.TypeTimeAdded, func(t *timer.Timer) error {
		return t.AddTime(role, seconds)
	})
}

// EndGame ends the game prematurely.
func (s *Session) EndGame(role timer.Role) (timer.Snapshot, error) {
	return s.apply(events.TypeTimerEnded, func(t *timer.Timer) error {
		return t.EndGame(role)
	})
}

// CheckTimeout runs a timeout check. A check that finds time remaining is not
// a mutation: it broadcasts nothing and leaves state untouched. It reports
// whether the check ended the game.
func (s *Session) CheckTimeout(role timer.Role) (timer.Snapshot, bool, error) {
	s.mu.Lock()
	ended, err := s.t.CheckTimeout(role)
	if err != nil {
		s.mu.Unlock()
		return timer.Snapshot{}, false, err
	}
	if !ended {
		snap := s.t.Snapshot()
		s.mu.Unlock()
		return snap, false, nil
	}
	snap := s.publishLocked()
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(events.TypeTimerEnded, snap)
	}
	return snap, true, nil
}

// Attach subscribes a connection to this timer for its lifetime. A side
// connection marks that side connected; any other role counts as an
// observer. Connectivity is observable state, so attaching always triggers a
// broadcast, which also serves as the new subscriber's initial state.
func (s *Session) Attach(sub Subscriber) timer.Snapshot {
	s.mu.Lock()
	s.subs[sub.SubscriberID()] = sub
	if role := sub.Role(); role.IsSide() {
		s.sideConns[role]++
		s.t.SetConnected(role, true)
	} else {
		s.t.AddObservers(1)
	}
	snap := s.publishLocked()
	s.mu.Unlock()
	return snap
}

// Detach removes a subscriber. The resulting connectivity change is
// broadcast unless the timer has already ended.
func (s *Session) Detach(sub Subscriber) {
	s.mu.Lock()
	if _, ok := s.subs[sub.SubscriberID()]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.subs, sub.SubscriberID())
	if role := sub.Role(); role.IsSide() {
		s.sideConns[role]--
		if s.sideConns[role] <= 0 {
			delete(s.sideConns, role)
			s.t.SetConnected(role, false)
		}
	} else {
		s.t.AddObservers(-1)
	}
	if !s.t.HasEnded {
		s.publishLocked()
	}
	s.mu.Unlock()
}

// ConnectionCount returns the number of live subscribers.
func (s *Session) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
