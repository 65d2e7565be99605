package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/stagelink/x32mgr/internal/events"
	"github.com/stagelink/x32mgr/internal/logger"
	"github.com/stagelink/x32mgr/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 90 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The manager runs on a trusted network segment next to the console.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEnvelope is the frame shape shared by bus events and direct replies.
type wsEnvelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// wsRequest is an inbound client frame.
type wsRequest struct {
	Type string `json:"type"`
}

// wsStatus is the payload answering a get_status frame.
type wsStatus struct {
	State   string        `json:"state"`
	Mode    string        `json:"mode,omitempty"`
	Console *session.Info `json:"console,omitempty"`
}

// WSHandler upgrades /ws connections and streams bus events to each client.
type WSHandler struct {
	rt *Runtime
}

// NewWSHandler creates the WebSocket handler.
func NewWSHandler(rt *Runtime) *WSHandler {
	return &WSHandler{rt: rt}
}

// Serve answers GET /ws. Every client gets its own bus subscription; a slow
// client drops events rather than stalling the bus.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", logger.KeyError, err.Error())
		return
	}

	clientID := uuid.NewString()
	sub := h.rt.Bus().Subscribe()

	logger.Debug("websocket client connected",
		"client_id", clientID,
		"remote_addr", r.RemoteAddr,
	)

	c := &wsClient{
		id:   clientID,
		rt:   h.rt,
		conn: conn,
		sub:  sub,
		send: make(chan wsEnvelope, 32),
		done: make(chan struct{}),
	}

	go c.writePump()
	go c.forwardEvents()
	c.readPump()

	h.rt.Bus().Unsubscribe(sub)
	close(c.done)
	_ = conn.Close()

	logger.Debug("websocket client disconnected", "client_id", clientID)
}

type wsClient struct {
	id   string
	rt   *Runtime
	conn *websocket.Conn
	sub  *events.Subscriber
	send chan wsEnvelope
	done chan struct{}
}

// forwardEvents copies bus events into the client's send queue.
func (c *wsClient) forwardEvents() {
	for ev := range c.sub.Events() {
		env := wsEnvelope{
			ID:        ev.ID,
			Type:      string(ev.Kind),
			Payload:   ev.Payload,
			Timestamp: ev.Timestamp,
		}
		select {
		case c.send <- env:
		case <-c.done:
			return
		default:
			// Queue full; the bus already marks the subscriber lagged.
		}
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump handles inbound frames until the client goes away.
func (c *wsClient) readPump() {
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read error",
					"client_id", c.id,
					logger.KeyError, err.Error(),
				)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		switch req.Type {
		case "ping":
			c.reply("pong", nil)
		case "get_status":
			c.reply("status", c.status())
		}
	}
}

func (c *wsClient) reply(kind string, payload any) {
	env := wsEnvelope{
		ID:        uuid.NewString(),
		Type:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	select {
	case c.send <- env:
	case <-c.done:
	}
}

func (c *wsClient) status() wsStatus {
	st := wsStatus{State: string(session.StateDisconnected)}
	if sess := c.rt.Session(); sess != nil {
		st.State = string(sess.State())
		st.Mode = string(sess.Mode())
		if info, ok := sess.Identity(); ok {
			st.Console = &info
		}
	}
	return st
}
