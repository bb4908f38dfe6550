// Package gateway is the real-time transport: it upgrades client
// connections, resolves their identity to a role, attaches them to a timer's
// session, and relays actions in and state snapshots out.
package gateway

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/blitztime/server/internal/session"
)

// Config holds WebSocket connection tuning.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns the default WebSocket configuration.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Gateway upgrades and manages WebSocket connections against the registry.
type Gateway struct {
	registry *session.Registry
	upgrader websocket.Upgrader
	config   Config
}

func New(registry *session.Registry, config Config) *Gateway {
	return &Gateway{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// HandleTimerSocket subscribes a connection to one timer for its lifetime.
// The timer ID comes from the "timer" query parameter; the credential, if
// any, from the Authorization header. Identity is resolved before the
// upgrade so an unknown timer or bad token never holds a socket open.
func (g *Gateway) HandleTimerSocket(w http.ResponseWriter, r *http.Request) {
	timerID, err := uuid.Parse(r.URL.Query().Get("timer"))
	if err != nil {
		http.Error(w, "timer query parameter must be a timer id", http.StatusBadRequest)
		return
	}

	role, err := g.registry.Resolve(timerID, r.Header.Get("Authorization"))
	if err != nil {
		http.Error(w, "unknown timer or credential", http.StatusForbidden)
		return
	}
	sess, err := g.registry.Get(timerID)
	if err != nil {
		http.Error(w, "timer not found", http.StatusNotFound)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("timer_id", timerID.String()).Msg("websocket upgrade failed")
		return
	}

	c := &Connection{
		id:      uuid.New().String(),
		timerID: timerID,
		role:    role,
		sess:    sess,
		conn:    conn,
		send:    make(chan []byte, 256),
		config:  g.config,
	}
	sess.Attach(c)

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("connection_id", c.id).
		Str("timer_id", timerID.String()).
		Str("role", string(role)).
		Msg("websocket connection established")
}

// RegisterRoutes registers the gateway's routes on an HTTP mux.
func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", g.HandleTimerSocket)
}
