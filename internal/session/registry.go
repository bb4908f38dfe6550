package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/blitztime/server/internal/auth"
	"github.com/blitztime/server/internal/events"
	"github.com/blitztime/server/internal/stageclock"
	"github.com/blitztime/server/internal/store"
	"github.com/blitztime/server/internal/timer"
)

// persistTimeout bounds the background save and publish of one change.
const persistTimeout = 5 * time.Second

// AppStats is process-wide usage, computed on demand from the registry.
type AppStats struct {
	AllTimers     int `json:"all_timers"`
	OngoingTimers int `json:"ongoing_timers"`
	Connected     int `json:"connected"`
}

// Config carries registry-wide behavior knobs.
type Config struct {
	// RecordTimeoutReporter propagates to every timer: record the role that
	// triggered a timeout-detected ending instead of leaving it unset.
	RecordTimeoutReporter bool
	// Clock supplies wall-clock time for all timers. Defaults to real.
	Clock clockwork.Clock
}

// Registry maps timer IDs to their sessions. Timers are never removed for
// the lifetime of the process; ended timers stay readable.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	resolver *auth.Resolver
	store    store.Store
	pub      events.Publisher
	watchdog *Watchdog
	clock    clockwork.Clock
	cfg      Config
}

func NewRegistry(resolver *auth.Resolver, st store.Store, pub events.Publisher, cfg Config) *Registry {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		sessions: make(map[uuid.UUID]*Session),
		resolver: resolver,
		store:    st,
		pub:      pub,
		clock:    clock,
		cfg:      cfg,
	}
}

// SetWatchdog installs the timeout watchdog. Must be called before timers
// are created or rehydrated.
func (r *Registry) SetWatchdog(w *Watchdog) {
	r.watchdog = w
}

// CreateTimer validates the stage schedule, constructs a timer, issues the
// creator's credential, and installs the session. When asManager is false
// the creator is auto-joined as home and receives home's token; otherwise a
// manager token is issued and both sides are left open.
func (r *Registry) CreateTimer(stages []stageclock.Stage, asManager bool) (timer.Snapshot, string, error) {
	id := uuid.New()
	t, err := timer.New(id, stages, timer.Config{
		Managed:               asManager,
		RecordTimeoutReporter: r.cfg.RecordTimeoutReporter,
		Clock:                 r.clock,
	})
	if err != nil {
		return timer.Snapshot{}, "", err
	}

	token := auth.NewToken()
	creds := auth.Credentials{Managed: asManager}
	if asManager {
		creds.Manager = token
	} else {
		if err := t.Join(timer.RoleHome); err != nil {
			return timer.Snapshot{}, "", err
		}
		creds.Home = token
	}
	r.resolver.Register(id, creds)

	sess := newSession(t, r.afterChange)
	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	snap := sess.Latest()
	r.afterChange(events.TypeTimerCreated, snap)
	log.Info().
		Str("timer_id", id.String()).
		Bool("managed", asManager).
		Int("stages", len(stages)).
		Msg("timer created")
	return snap, token, nil
}

// Join occupies a side of an existing timer and issues its credential.
func (r *Registry) Join(id uuid.UUID, pos timer.Role) (timer.Snapshot, string, error) {
	sess, err := r.Get(id)
	if err != nil {
		return timer.Snapshot{}, "", err
	}
	token := auth.NewToken()
	snap, err := sess.Join(pos, func() {
		r.resolver.SetSideToken(id, pos, token)
	})
	if err != nil {
		return timer.Snapshot{}, "", err
	}
	log.Info().Str("timer_id", id.String()).Str("side", string(pos)).Msg("side joined")
	return snap, token, nil
}

// Get returns the session for a timer ID.
func (r *Registry) Get(id uuid.UUID) (*Session, error) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", timer.ErrNotFound, id)
	}
	return sess, nil
}

// Snapshot returns the latest published snapshot for a timer.
func (r *Registry) Snapshot(id uuid.UUID) (timer.Snapshot, error) {
	sess, err := r.Get(id)
	if err != nil {
		return timer.Snapshot{}, err
	}
	return sess.Latest(), nil
}

// Resolve translates a presented token into a role for a timer.
func (r *Registry) Resolve(id uuid.UUID, token string) (timer.Role, error) {
	if _, err := r.Get(id); err != nil {
		return "", err
	}
	return r.resolver.Resolve(id, token)
}

// Stats computes process-wide usage from the live sessions.
func (r *Registry) Stats() AppStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := AppStats{AllTimers: len(r.sessions)}
	for _, sess := range r.sessions {
		if !sess.Latest().HasEnded {
			stats.OngoingTimers++
		}
		stats.Connected += sess.ConnectionCount()
	}
	return stats
}

// Rehydrate rebuilds sessions from the durable store. Connection state is
// transient and comes back empty; running timers are re-armed on the
// watchdog so a restart cannot strand an expired game.
func (r *Registry) Rehydrate(ctx context.Context) error {
	records, err := r.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load stored timers: %w", err)
	}
	for _, rec := range records {
		t, err := timer.FromSnapshot(rec.Snapshot, timer.Config{
			RecordTimeoutReporter: r.cfg.RecordTimeoutReporter,
			Clock:                 r.clock,
		})
		if err != nil {
			log.Error().Err(err).Str("timer_id", rec.Snapshot.ID).Msg("skipping unreadable stored timer")
			continue
		}
		r.resolver.Register(t.ID, rec.Credentials)
		sess := newSession(t, r.afterChange)
		r.mu.Lock()
		r.sessions[t.ID] = sess
		r.mu.Unlock()
		if r.watchdog != nil {
			r.watchdog.Observe(sess.Latest())
		}
	}
	if len(records) > 0 {
		log.Info().Int("timers", len(records)).Msg("registry rehydrated")
	}
	return nil
}

// afterChange runs after every successful mutation, outside the timer's
// lock: it re-arms the watchdog and hands the snapshot to the store and the
// event bus on a background goroutine so slow I/O never backs up the engine.
func (r *Registry) afterChange(evType events.Type, snap timer.Snapshot) {
	if r.watchdog != nil {
		r.watchdog.Observe(snap)
	}

	id, err := uuid.Parse(snap.ID)
	if err != nil {
		log.Error().Str("timer_id", snap.ID).Msg("snapshot with unparseable id")
		return
	}
	creds, _ := r.resolver.Credentials(id)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if err := r.store.Save(ctx, store.Record{Snapshot: snap, Credentials: creds}); err != nil {
			log.Error().Err(err).Str("timer_id", snap.ID).Msg("persist timer snapshot")
		}

		ev, err := events.New(evType, snap, r.clock.Now())
		if err != nil {
			log.Error().Err(err).Str("timer_id", snap.ID).Msg("build timer event")
			return
		}
		if err := r.pub.Publish(ctx, ev); err != nil {
			log.Error().Err(err).Str("timer_id", snap.ID).Str("event_type", string(evType)).Msg("publish timer event")
		}
	}()
}

// expire runs a watchdog-triggered timeout check. If the deadline moved
// (time was added) the check is a no-op and the watchdog is re-armed at the
// recomputed deadline.
func (r *Registry) expire(id uuid.UUID) {
	sess, err := r.Get(id)
	if err != nil {
		return
	}
	snap, ended, err := sess.CheckTimeout(timer.RoleObserver)
	if err != nil {
		// Raced with another ending; nothing to do.
		log.Debug().Err(err).Str("timer_id", id.String()).Msg("watchdog timeout check skipped")
		return
	}
	if ended {
		log.Info().Str("timer_id", id.String()).Msg("timer ended by timeout")
		return
	}
	if r.watchdog != nil {
		r.watchdog.Observe(snap)
	}
}

// NewWatchdogFor builds a watchdog wired back to this registry's timeout
// checks, using the registry's clock.
func (r *Registry) NewWatchdogFor() *Watchdog {
	return NewWatchdog(r.clock, r.expire)
}
