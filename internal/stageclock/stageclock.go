// Package stageclock implements the time accounting for multi-stage time
// controls. Everything here is pure computation over stage settings and
// wall-clock instants; callers own the clock and any shared state.
package stageclock

import (
	"fmt"
	"time"
)

// Stage is one segment of a time-control schedule. It applies from StartTurn
// until the next stage's StartTurn, or indefinitely if it is the last stage.
type Stage struct {
	// StartTurn is the turn number at which this stage begins applying.
	StartTurn int `json:"start_turn"`
	// FixedSecondsPerTurn is credited flat on every turn while this stage
	// applies, independent of the increment.
	FixedSecondsPerTurn int `json:"seconds_fixed_per_turn"`
	// IncrementSecondsPerTurn is the cumulative per-turn increment
	// (Fischer style).
	IncrementSecondsPerTurn int `json:"seconds_increment_per_turn"`
	// InitialSeconds is granted once to both sides when the timer starts.
	// Only the first applicable stage's value is used.
	InitialSeconds int `json:"initial_seconds"`
}

// FixedTime returns the flat per-turn credit as a duration.
func (s Stage) FixedTime() time.Duration {
	return time.Duration(s.FixedSecondsPerTurn) * time.Second
}

// IncrementTime returns the per-turn increment as a duration.
func (s Stage) IncrementTime() time.Duration {
	return time.Duration(s.IncrementSecondsPerTurn) * time.Second
}

// InitialTime returns the one-off starting grant as a duration.
func (s Stage) InitialTime() time.Duration {
	return time.Duration(s.InitialSeconds) * time.Second
}

// Validate checks that a stage schedule is usable: non-empty, first stage
// starting at turn 0, and strictly ascending start turns so every turn number
// maps to exactly one stage.
func Validate(stages []Stage) error {
	if len(stages) == 0 {
		return fmt.Errorf("at least one stage is required")
	}
	if stages[0].StartTurn != 0 {
		return fmt.Errorf("first stage must start on turn 0, got %d", stages[0].StartTurn)
	}
	for i, stage := range stages {
		if stage.FixedSecondsPerTurn < 0 || stage.IncrementSecondsPerTurn < 0 || stage.InitialSeconds < 0 {
			return fmt.Errorf("stage %d has negative time settings", i)
		}
		if i == 0 {
			continue
		}
		if stage.StartTurn <= stages[i-1].StartTurn {
			return fmt.Errorf("stage start turns must be strictly ascending, got %d after %d",
				stage.StartTurn, stages[i-1].StartTurn)
		}
	}
	return nil
}

// For returns the stage applicable to the given turn number: the stage with
// the greatest StartTurn that is <= turn. The last stage applies indefinitely
// once exceeded. Stages must have passed Validate.
func For(stages []Stage, turn int) Stage {
	applicable := stages[0]
	for _, stage := range stages[1:] {
		if stage.StartTurn > turn {
			break
		}
		applicable = stage
	}
	return applicable
}

// Remaining computes a side's remaining time at now, given its total as of
// the start of its last turn. The result is permitted to go negative; a
// negative remaining is the timeout signal and is never clamped here. If now
// is before turnStartedAt (clock skew) the elapsed time is clamped to zero so
// skew can never manufacture extra time.
func Remaining(total time.Duration, turnStartedAt, now time.Time) time.Duration {
	elapsed := now.Sub(turnStartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	return total - elapsed
}

// NextTotal computes a side's total for its next turn from its remaining time
// at the moment its turn ends. The stage is the one applicable to the turn
// number the side is entering.
func NextTotal(remaining time.Duration, entering Stage) time.Duration {
	return remaining + entering.FixedTime() + entering.IncrementTime()
}

// InitialGrant returns the starting time for both sides: the InitialSeconds
// of the first applicable stage, granted exactly once when the timer starts.
func InitialGrant(stages []Stage) time.Duration {
	return For(stages, 0).InitialTime()
}
