package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/wolfman30/proposal-wizard/internal/events"
	"github.com/wolfman30/proposal-wizard/internal/session"
	"github.com/wolfman30/proposal-wizard/pkg/logging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

// EventStream pushes a session's presentation events over a WebSocket.
type EventStream struct {
	bus      *events.Bus
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

// NewEventStream creates the stream. checkOrigin may be nil to accept any origin.
func NewEventStream(bus *events.Bus, checkOrigin func(*http.Request) bool, logger *logging.Logger) *EventStream {
	if bus == nil {
		panic("handlers: event bus cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &EventStream{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

// HandleWebSocket streams events as JSON envelopes until the client disconnects.
// GET /api/v1/sessions/{sessionID}/events
func (s *EventStream) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !session.ValidID(sessionID) {
		jsonError(w, CodeNotFound, session.ErrInvalidID.Error(), http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	sub := s.bus.Subscribe(sessionID)
	s.logger.Debug("event stream opened", "session_id", sessionID)

	done := make(chan struct{})
	go s.readPump(conn, done)
	s.writePump(conn, sub, done)

	sub.Close()
	_ = conn.Close()
	s.logger.Debug("event stream closed", "session_id", sessionID)
}

// readPump discards client frames and signals done when the peer goes away.
func (s *EventStream) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

func (s *EventStream) writePump(conn *websocket.Conn, sub *events.Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case evt, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			env, err := events.NewEnvelope(evt)
			if err != nil {
				s.logger.Warn("failed to encode event", "kind", evt.Kind, "error", err)
				continue
			}
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
