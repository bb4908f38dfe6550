package timer

import (
	"fmt"
	"time"

	"github.com/blitztime/server/internal/stageclock"
)

// Role identifies what a caller is allowed to do with a timer.
type Role string

const (
	RoleHome     Role = "home"
	RoleAway     Role = "away"
	RoleManager  Role = "manager"
	RoleObserver Role = "observer"
)

// ParseRole converts a wire-level role name into a Role. "host" is accepted
// as an alias for home.
func ParseRole(s string) (Role, error) {
	switch s {
	case "home", "host":
		return RoleHome, nil
	case "away":
		return RoleAway, nil
	case "manager":
		return RoleManager, nil
	case "observer":
		return RoleObserver, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
}

// IsSide reports whether the role is one of the two competing positions.
func (r Role) IsSide() bool {
	return r == RoleHome || r == RoleAway
}

// Opponent returns the other side. Only meaningful for side roles.
func (r Role) Opponent() Role {
	if r == RoleHome {
		return RoleAway
	}
	return RoleHome
}

// State is the lifecycle state of a timer, derived from its fields.
type State string

const (
	StateCreated          State = "created"
	StateAwaitingOpponent State = "awaiting_opponent"
	StateReadyToStart     State = "ready_to_start"
	StateRunning          State = "running"
	StateEnded            State = "ended"
)

// Side is one of the two competing positions and its clock.
type Side struct {
	// IsTurn is true for exactly one side while the game runs, and for
	// neither side before start or after end.
	IsTurn bool
	// TotalTime is the side's accumulated remaining time as of the start of
	// its last turn. It may go negative once expired.
	TotalTime time.Duration
	// Connected is true while at least one live real-time connection holds
	// this side's role.
	Connected bool
}

// SideSnapshot is the observable state of one side.
type SideSnapshot struct {
	IsTurn    bool    `json:"is_turn"`
	TotalTime float64 `json:"total_time"`
	Connected bool    `json:"connected"`
}

// Snapshot is an immutable point-in-time copy of a timer's observable state,
// safe to read and serialize without holding the timer's lock.
type Snapshot struct {
	ID            string             `json:"id"`
	TurnNumber    int                `json:"turn_number"`
	TurnStartedAt *float64           `json:"turn_started_at"`
	StartedAt     *float64           `json:"started_at"`
	HasEnded      bool               `json:"has_ended"`
	EndReporter   *string            `json:"end_reporter"`
	Home          *SideSnapshot      `json:"home"`
	Away          *SideSnapshot      `json:"away"`
	Stages        []stageclock.Stage `json:"stages"`
	Observers     int                `json:"observers"`
	Managed       bool               `json:"managed"`
}

// TurnHolder returns the side snapshot whose turn it is, together with its
// role, or nil when no turn is in progress.
func (s Snapshot) TurnHolder() (Role, *SideSnapshot) {
	if s.Home != nil && s.Home.IsTurn {
		return RoleHome, s.Home
	}
	if s.Away != nil && s.Away.IsTurn {
		return RoleAway, s.Away
	}
	return "", nil
}

// Deadline returns the instant at which the current turn holder runs out of
// time, or the zero time when the timer is not running.
func (s Snapshot) Deadline() time.Time {
	if s.HasEnded || s.TurnStartedAt == nil {
		return time.Time{}
	}
	_, holder := s.TurnHolder()
	if holder == nil {
		return time.Time{}
	}
	started := unixToTime(*s.TurnStartedAt)
	return started.Add(time.Duration(holder.TotalTime * float64(time.Second)))
}

func timeToUnix(t time.Time) *float64 {
	if t.IsZero() {
		return nil
	}
	v := float64(t.UnixNano()) / float64(time.Second)
	return &v
}

func unixToTime(v float64) time.Time {
	return time.Unix(0, int64(v*float64(time.Second))).UTC()
}
