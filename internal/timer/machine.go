// Package timer holds the state machine for a single game timer: side
// occupancy, turn accounting, and the legality and authorization rules for
// every transition. It owns no locking; the session coordinator serializes
// access to each timer.
package timer

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/blitztime/server/internal/stageclock"
)

type operation string

const (
	opStart   operation = "start_timer"
	opEndTurn operation = "end_turn"
	opTimeout operation = "timeout"
	opAddTime operation = "add_time"
	opEndGame operation = "end_game"
)

var anyRole = []Role{RoleHome, RoleAway, RoleManager, RoleObserver}

// allowedRoles maps (operation, managed?) to the roles permitted to perform
// it. EndTurn additionally requires the acting side to hold the turn.
var allowedRoles = map[operation]map[bool][]Role{
	opStart:   {true: {RoleManager}, false: {RoleHome}},
	opEndTurn: {true: {RoleManager}, false: {RoleHome, RoleAway}},
	opTimeout: {true: anyRole, false: anyRole},
	opAddTime: {true: {RoleManager}, false: {}},
	opEndGame: {true: {RoleManager}, false: {RoleHome, RoleAway}},
}

// Config carries per-timer construction options.
type Config struct {
	// Managed routes start/end-turn/end-game control to a single manager
	// role instead of the players.
	Managed bool
	// RecordTimeoutReporter records the calling role as the end reporter
	// when a timeout check ends the game. When false, timeout endings leave
	// the reporter unset.
	RecordTimeoutReporter bool
	// Clock supplies wall-clock time. Defaults to the real clock.
	Clock clockwork.Clock
}

// Timer is the mutable state of one game's clock. All methods assume the
// caller holds the timer's exclusive access.
type Timer struct {
	ID            uuid.UUID
	TurnNumber    int
	TurnStartedAt time.Time
	StartedAt     time.Time
	HasEnded      bool
	EndReporter   Role
	Home          *Side
	Away          *Side
	Stages        []stageclock.Stage
	Observers     int
	Managed       bool

	recordTimeoutReporter bool
	clock                 clockwork.Clock
}

// New constructs a timer in the created state. The stage schedule is
// validated here and fixed for the timer's lifetime.
func New(id uuid.UUID, stages []stageclock.Stage, cfg Config) (*Timer, error) {
	if err := stageclock.Validate(stages); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Timer{
		ID:                    id,
		Stages:                stages,
		Managed:               cfg.Managed,
		recordTimeoutReporter: cfg.RecordTimeoutReporter,
		clock:                 clock,
	}, nil
}

// FromSnapshot rebuilds a timer from a persisted snapshot. Connection state
// and observer counts are transient and reset to empty.
func FromSnapshot(snap Snapshot, cfg Config) (*Timer, error) {
	id, err := uuid.Parse(snap.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timer id %q", ErrInvalidInput, snap.ID)
	}
	cfg.Managed = snap.Managed
	t, err := New(id, snap.Stages, cfg)
	if err != nil {
		return nil, err
	}
	t.TurnNumber = snap.TurnNumber
	t.HasEnded = snap.HasEnded
	if snap.TurnStartedAt != nil {
		t.TurnStartedAt = unixToTime(*snap.TurnStartedAt)
	}
	if snap.StartedAt != nil {
		t.StartedAt = unixToTime(*snap.StartedAt)
	}
	if snap.EndReporter != nil {
		t.EndReporter = Role(*snap.EndReporter)
	}
	t.Home = sideFromSnapshot(snap.Home)
	t.Away = sideFromSnapshot(snap.Away)
	return t, nil
}

func sideFromSnapshot(s *SideSnapshot) *Side {
	if s == nil {
		return nil
	}
	return &Side{
		IsTurn:    s.IsTurn,
		TotalTime: time.Duration(s.TotalTime * float64(time.Second)),
	}
}

// State derives the lifecycle state from the timer's fields.
func (t *Timer) State() State {
	switch {
	case t.HasEnded:
		return StateEnded
	case !t.StartedAt.IsZero():
		return StateRunning
	case t.Home != nil && t.Away != nil:
		return StateReadyToStart
	case t.Home != nil || t.Away != nil:
		return StateAwaitingOpponent
	default:
		return StateCreated
	}
}

func (t *Timer) authorize(op operation, role Role) error {
	for _, allowed := range allowedRoles[op][t.Managed] {
		if role == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s may not %s", ErrUnauthorized, role, op)
}

func (t *Timer) side(role Role) *Side {
	switch role {
	case RoleHome:
		return t.Home
	case RoleAway:
		return t.Away
	default:
		return nil
	}
}

// turnHolder returns the side whose turn it is, or "" and nil when no turn is
// in progress.
func (t *Timer) turnHolder() (Role, *Side) {
	if t.Home != nil && t.Home.IsTurn {
		return RoleHome, t.Home
	}
	if t.Away != nil && t.Away.IsTurn {
		return RoleAway, t.Away
	}
	return "", nil
}

// Join occupies the given side. Valid only before the game has started, and
// only when the side is still unset.
func (t *Timer) Join(pos Role) error {
	if !pos.IsSide() {
		return fmt.Errorf("%w: cannot join as %s", ErrInvalidInput, pos)
	}
	switch t.State() {
	case StateCreated, StateAwaitingOpponent, StateReadyToStart:
	default:
		return fmt.Errorf("%w: game already started", ErrInvalidState)
	}
	if t.side(pos) != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyOccupied, pos)
	}
	side := &Side{}
	if pos == RoleHome {
		t.Home = side
	} else {
		t.Away = side
	}
	return nil
}

// Start begins the game: grants the first stage's initial time to both sides
// and hands the turn to home. Requires both sides present; authorized for the
// manager on managed timers, otherwise home only.
func (t *Timer) Start(role Role) error {
	if t.State() != StateReadyToStart {
		return fmt.Errorf("%w: timer is not ready to start", ErrInvalidState)
	}
	if err := t.authorize(opStart, role); err != nil {
		return err
	}
	now := t.clock.Now()
	grant := stageclock.InitialGrant(t.Stages)
	t.Home.TotalTime = grant
	t.Away.TotalTime = grant
	t.Home.IsTurn = true
	t.StartedAt = now
	t.TurnStartedAt = now
	return nil
}

// EndTurn ends the current turn: recomputes the ending side's total via the
// stage clock, increments the turn number, and flips the turn to the
// opponent. Expiry of either side is not checked here; that is the timeout
// check's job.
func (t *Timer) EndTurn(role Role) error {
	if t.State() != StateRunning {
		return fmt.Errorf("%w: game is not running", ErrInvalidState)
	}
	if err := t.authorize(opEndTurn, role); err != nil {
		return err
	}
	holderRole, holder := t.turnHolder()
	if holder == nil {
		return fmt.Errorf("running timer %s has no turn holder", t.ID)
	}
	if role != RoleManager && role != holderRole {
		return fmt.Errorf("%w: not currently your turn", ErrUnauthorized)
	}
	now := t.clock.Now()
	remaining := stageclock.Remaining(holder.TotalTime, t.TurnStartedAt, now)
	entering := t.TurnNumber + 1
	holder.TotalTime = stageclock.NextTotal(remaining, stageclock.For(t.Stages, entering))
	t.TurnNumber = entering
	holder.IsTurn = false
	t.side(holderRole.Opponent()).IsTurn = true
	t.TurnStartedAt = now
	return nil
}

// CheckTimeout recomputes the turn holder's remaining time and ends the game
// when it has reached zero or below. Any role may perform the check. It
// reports whether the check ended the game.
func (t *Timer) CheckTimeout(role Role) (bool, error) {
	if t.State() != StateRunning {
		return false, fmt.Errorf("%w: game is not running", ErrInvalidState)
	}
	if err := t.authorize(opTimeout, role); err != nil {
		return false, err
	}
	_, holder := t.turnHolder()
	if holder == nil {
		return false, fmt.Errorf("running timer %s has no turn holder", t.ID)
	}
	remaining := stageclock.Remaining(holder.TotalTime, t.TurnStartedAt, t.clock.Now())
	if remaining > 0 {
		return false, nil
	}
	reporter := Role("")
	if t.recordTimeoutReporter {
		reporter = role
	}
	t.end(reporter)
	return true, nil
}

// AddTime credits (or, with a negative value, debits) both sides' clocks
// without touching turn state. Manager only, and only on managed timers.
func (t *Timer) AddTime(role Role, seconds float64) error {
	if t.State() != StateRunning {
		return fmt.Errorf("%w: game is not running", ErrInvalidState)
	}
	if err := t.authorize(opAddTime, role); err != nil {
		return err
	}
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return fmt.Errorf("%w: seconds must be finite", ErrInvalidInput)
	}
	delta := time.Duration(seconds * float64(time.Second))
	t.Home.TotalTime += delta
	t.Away.TotalTime += delta
	return nil
}

// EndGame ends the game prematurely, recording the caller as the reporter.
// Authorized for the manager on managed timers, otherwise either player.
func (t *Timer) EndGame(role Role) error {
	if t.State() != StateRunning {
		return fmt.Errorf("%w: game is not running", ErrInvalidState)
	}
	if err := t.authorize(opEndGame, role); err != nil {
		return err
	}
	t.end(role)
	return nil
}

func (t *Timer) end(reporter Role) {
	t.HasEnded = true
	t.EndReporter = reporter
	t.Home.IsTurn = false
	t.Away.IsTurn = false
	t.TurnStartedAt = time.Time{}
}

// SetConnected marks whether a side currently has at least one live
// connection. Connectivity is observable state but not a state-machine
// transition, so it stays legal after the game ends.
func (t *Timer) SetConnected(pos Role, connected bool) {
	if side := t.side(pos); side != nil {
		side.Connected = connected
	}
}

// AddObservers adjusts the observer count by delta, never below zero.
func (t *Timer) AddObservers(delta int) {
	t.Observers += delta
	if t.Observers < 0 {
		t.Observers = 0
	}
}

// Snapshot copies the timer's observable state into an immutable snapshot.
func (t *Timer) Snapshot() Snapshot {
	snap := Snapshot{
		ID:            t.ID.String(),
		TurnNumber:    t.TurnNumber,
		TurnStartedAt: timeToUnix(t.TurnStartedAt),
		StartedAt:     timeToUnix(t.StartedAt),
		HasEnded:      t.HasEnded,
		Home:          snapshotSide(t.Home),
		Away:          snapshotSide(t.Away),
		Stages:        append([]stageclock.Stage(nil), t.Stages...),
		Observers:     t.Observers,
		Managed:       t.Managed,
	}
	if t.EndReporter != "" {
		reporter := string(t.EndReporter)
		snap.EndReporter = &reporter
	}
	return snap
}

func snapshotSide(s *Side) *SideSnapshot {
	if s == nil {
		return nil
	}
	return &SideSnapshot{
		IsTurn:    s.IsTurn,
		TotalTime: s.TotalTime.Seconds(),
		Connected: s.Connected,
	}
}
