package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/blitztime/server/internal/session"
	"github.com/blitztime/server/internal/timer"
)

// Client actions, matching the real-time API.
const (
	actionStartTimer = "start_timer"
	actionEndTurn    = "end_turn"
	actionTimeout    = "timeout"
	actionAddTime    = "add_time"
	actionEndGame    = "end_game"
)

// actionFrame is an inbound client message.
type actionFrame struct {
	Action  string   `json:"action"`
	Seconds *float64 `json:"seconds,omitempty"`
}

// stateFrame carries a snapshot to subscribers.
type stateFrame struct {
	Type  string         `json:"type"`
	State timer.Snapshot `json:"state"`
}

// errorFrame carries an error to the one connection that caused it.
type errorFrame struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

// Connection is one WebSocket subscriber of a timer.
type Connection struct {
	id      string
	timerID uuid.UUID
	role    timer.Role
	sess    *session.Session
	conn    *websocket.Conn
	send    chan []byte
	config  Config

	closeOnce sync.Once
}

var _ session.Subscriber = (*Connection)(nil)

func (c *Connection) SubscriberID() string { return c.id }

func (c *Connection) Role() timer.Role { return c.role }

// Deliver enqueues a state snapshot without blocking. A connection whose
// buffer is full is torn down rather than allowed to stall the timer.
func (c *Connection) Deliver(snap timer.Snapshot) {
	data, err := json.Marshal(stateFrame{Type: "state", State: snap})
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.id).Msg("marshal state frame")
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().
			Str("connection_id", c.id).
			Str("timer_id", c.timerID.String()).
			Msg("send buffer full, closing connection")
		go c.conn.Close()
	}
}

// deliverError reports a failed action to this connection only.
func (c *Connection) deliverError(detail string) {
	data, err := json.Marshal(errorFrame{Type: "error", Detail: detail})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// close detaches from the session exactly once and wakes the write pump.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.sess.Detach(c)
		close(c.send)
		log.Info().
			Str("connection_id", c.id).
			Str("timer_id", c.timerID.String()).
			Str("role", string(c.role)).
			Msg("websocket connection closed")
	})
}

// writePump drains the outbound queue and keeps the connection alive with
// pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.id).Msg("write message")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client actions until the connection drops.
func (c *Connection) readPump() {
	defer func() {
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		c.handleAction(message)
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
}

// handleAction applies one client action to the session. Errors go back to
// this connection only; successful mutations reach it through the broadcast
// like every other subscriber.
func (c *Connection) handleAction(message []byte) {
	var frame actionFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.deliverError("malformed action frame")
		return
	}

	var err error
	switch frame.Action {
	case actionStartTimer:
		_, err = c.sess.Start(c.role)
	case actionEndTurn:
		_, err = c.sess.EndTurn(c.role)
	case actionTimeout:
		var ended bool
		_, ended, err = c.sess.CheckTimeout(c.role)
		if err == nil && !ended {
			c.deliverError("no side has timed out")
			return
		}
	case actionAddTime:
		if frame.Seconds == nil {
			c.deliverError("add_time requires seconds")
			return
		}
		_, err = c.sess.AddTime(c.role, *frame.Seconds)
	case actionEndGame:
		_, err = c.sess.EndGame(c.role)
	default:
		c.deliverError("unknown action")
		return
	}

	if err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.id).
			Str("action", frame.Action).
			Str("role", string(c.role)).
			Msg("action rejected")
		c.deliverError(err.Error())
	}
}
