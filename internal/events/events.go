// Package events defines the timer lifecycle events published to the message
// bus after each successful mutation.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/blitztime/server/internal/timer"
)

// Type identifies a timer lifecycle event.
type Type string

const (
	TypeTimerCreated Type = "TimerCreated"
	TypeSideJoined   Type = "SideJoined"
	TypeTimerStarted Type = "TimerStarted"
	TypeTurnEnded    Type = "TurnEnded"
	TypeTimeAdded    Type = "TimeAdded"
	TypeTimerEnded   Type = "TimerEnded"
)

// Event is the envelope published for every state change. The payload is the
// resulting timer snapshot, so consumers never need a read-back.
type Event struct {
	ID        uuid.UUID       `json:"event_id"`
	TimerID   uuid.UUID       `json:"timer_id"`
	Type      Type            `json:"event_type"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// New builds an event carrying the given snapshot.
func New(evType Type, snap timer.Snapshot, at time.Time) (Event, error) {
	timerID, err := uuid.Parse(snap.ID)
	if err != nil {
		return Event{}, err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.New(),
		TimerID:   timerID,
		Type:      evType,
		CreatedAt: at,
		Payload:   payload,
	}, nil
}
