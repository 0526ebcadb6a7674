package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	fiberws "github.com/gofiber/websocket/v2"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	authorizeTimeout = 5 * time.Second
)

// RoomAuthorizer decides whether a user may subscribe to a submission room.
type RoomAuthorizer interface {
	AuthorizeRoom(ctx context.Context, userID, submissionID uint) error
}

// wsConn is the part of a websocket connection the pumps use. Both the
// gorilla and the Fiber (fasthttp) connections satisfy it.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Hub accepts websocket connections, registers them and handles the client
// side of the protocol (joining the user channel and submission rooms).
type Hub struct {
	registry   *Registry
	authorizer RoomAuthorizer
	bufferSize int
}

// clientFrame is an inbound message from a client.
type clientFrame struct {
	Type string `json:"type"`
	Data struct {
		UserID       uint `json:"user_id"`
		SubmissionID uint `json:"submission_id"`
	} `json:"data"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewHub creates a hub. bufferSize bounds each connection's outbound queue.
func NewHub(registry *Registry, authorizer RoomAuthorizer, bufferSize int) *Hub {
	return &Hub{registry: registry, authorizer: authorizer, bufferSize: bufferSize}
}

// Registry returns the hub's registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// ServeWS upgrades a net/http request for an already authenticated user.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID uint) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}
	h.serve(conn, userID)
}

// ServeFiberWS handles Fiber websocket connections. It blocks until the peer goes away.
func (h *Hub) ServeFiberWS(c *fiberws.Conn, userID uint) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Errorf("ServeFiberWS panic for user %d", userID)
		}
	}()
	h.serve(c, userID)
}

func (h *Hub) serve(ws wsConn, userID uint) {
	conn := NewConnection(userID, h.bufferSize)
	if err := h.registry.Register(conn); err != nil {
		logrus.WithError(err).Error("cannot register websocket connection")
		ws.Close()
		return
	}

	go h.writePump(conn, ws)
	// Run read pump inline so the Fiber connection stays on its handler goroutine.
	h.readPump(conn, ws)
}

func (h *Hub) writePump(conn *Connection, ws wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case frame := <-conn.Outbound():
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				logrus.WithError(err).WithField("connection_id", conn.ID).Warn("websocket write failed")
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				logrus.WithError(err).WithField("connection_id", conn.ID).Debug("websocket ping failed")
				return
			}

		case <-conn.Done():
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (h *Hub) readPump(conn *Connection, ws wsConn) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Errorf("readPump panic for user %d", conn.UserID)
		}
		h.registry.Unregister(conn.ID)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).WithField("user_id", conn.UserID).Warn("websocket unexpected close")
			}
			return
		}
		h.HandleClientFrame(conn, raw)
	}
}

// HandleClientFrame applies one inbound client message and answers with an
// ack or error frame on the same connection.
func (h *Hub) HandleClientFrame(conn *Connection, raw []byte) {
	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.reply(conn, EventError, map[string]interface{}{"error": "malformed frame"})
		return
	}

	switch frame.Type {
	case EventJoinUserChannel:
		// Connections are bound to the authenticated user on connect; a client
		// may only confirm its own channel.
		if frame.Data.UserID != 0 && frame.Data.UserID != conn.UserID {
			h.reply(conn, EventError, map[string]interface{}{"for": frame.Type, "error": "cannot join another user's channel"})
			return
		}
		h.reply(conn, EventAck, map[string]interface{}{"for": frame.Type, "user_id": conn.UserID})

	case EventJoinRoom:
		if frame.Data.SubmissionID == 0 {
			h.reply(conn, EventError, map[string]interface{}{"for": frame.Type, "error": "submission_id is required"})
			return
		}
		if h.authorizer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), authorizeTimeout)
			err := h.authorizer.AuthorizeRoom(ctx, conn.UserID, frame.Data.SubmissionID)
			cancel()
			if err != nil {
				h.reply(conn, EventError, map[string]interface{}{"for": frame.Type, "submission_id": frame.Data.SubmissionID, "error": err.Error()})
				return
			}
		}
		if err := h.registry.JoinRoom(conn.ID, frame.Data.SubmissionID); err != nil {
			h.reply(conn, EventError, map[string]interface{}{"for": frame.Type, "error": err.Error()})
			return
		}
		h.reply(conn, EventAck, map[string]interface{}{"for": frame.Type, "submission_id": frame.Data.SubmissionID})

	case EventLeaveRoom:
		if err := h.registry.LeaveRoom(conn.ID, frame.Data.SubmissionID); err != nil {
			h.reply(conn, EventError, map[string]interface{}{"for": frame.Type, "error": err.Error()})
			return
		}
		h.reply(conn, EventAck, map[string]interface{}{"for": frame.Type, "submission_id": frame.Data.SubmissionID})

	default:
		h.reply(conn, EventError, map[string]interface{}{"error": "unknown event type", "type": frame.Type})
	}
}

func (h *Hub) reply(conn *Connection, typ string, data interface{}) {
	frame, err := json.Marshal(Event{Type: typ, Data: data})
	if err != nil {
		return
	}
	if err := conn.Deliver(frame); err != nil {
		logrus.WithError(err).WithField("connection_id", conn.ID).Debug("cannot deliver reply")
	}
}
