package progress

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Lllllllleong/pagetranslationflow/internal/metrics"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	// maxHistory bounds the replay buffer kept per connection.
	maxHistory = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the envelope written to and read from progress sockets.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message types.
const (
	MessageProgress = "progress"
	MessageCancel   = "cancel"
	MessageCancelOK = "cancel_ack"
)

// Hooks let the hub report connection lifecycle to the cancellation layer.
type Hooks struct {
	OnConnect    func(connectionID string)
	OnDisconnect func(connectionID string)
	OnCancel     func(connectionID string) bool
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(v)
}

// writeLocked writes v; the caller holds c.mu.
func (c *client) writeLocked(v any) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// Hub is a Sink that delivers events over websockets keyed by connection ID.
// It keeps a replay buffer so a reconnecting observer sees earlier events.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*client
	history map[string][]Event
	hooks   Hooks
}

// NewHub creates an empty hub.
func NewHub(hooks Hooks) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		history: make(map[string][]Event),
		hooks:   hooks,
	}
}

// Emit records ev and writes it to the connected client, if any.
func (h *Hub) Emit(connectionID string, ev Event) error {
	h.mu.Lock()
	hist := append(h.history[connectionID], ev)
	if len(hist) > maxHistory {
		hist = hist[len(hist)-maxHistory:]
	}
	h.history[connectionID] = hist
	c := h.clients[connectionID]
	h.mu.Unlock()

	if c == nil {
		return ErrNoObserver
	}
	return c.writeJSON(progressMessage(ev))
}

// Forget drops the replay buffer for a finished run.
func (h *Hub) Forget(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.history, connectionID)
}

// Connected reports whether an observer is attached to connectionID.
func (h *Hub) Connected(connectionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.clients[connectionID]
	return ok
}

// ServeWS upgrades the request and serves progress for connectionID until
// the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, connectionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket.", "connectionId", connectionID, "error", err)
		return
	}
	c := &client{conn: conn}

	// c.mu is held until the replay is written so live events queue behind it.
	c.mu.Lock()
	h.mu.Lock()
	if old := h.clients[connectionID]; old != nil {
		_ = old.conn.Close()
	}
	h.clients[connectionID] = c
	replay := append([]Event(nil), h.history[connectionID]...)
	h.mu.Unlock()

	for _, ev := range replay {
		if err := c.writeLocked(progressMessage(ev)); err != nil {
			break
		}
	}
	c.mu.Unlock()

	metrics.WebsocketConnections.Inc()
	slog.Info("Progress observer connected.", "connectionId", connectionID, "replay", len(replay))
	if h.hooks.OnConnect != nil {
		h.hooks.OnConnect(connectionID)
	}

	done := make(chan struct{})
	go h.pingLoop(c, done)
	h.readLoop(c, connectionID)
	close(done)

	h.mu.Lock()
	current := h.clients[connectionID] == c
	if current {
		delete(h.clients, connectionID)
	}
	h.mu.Unlock()
	_ = conn.Close()
	metrics.WebsocketConnections.Dec()

	if !current {
		slog.Info("Progress observer replaced by a newer socket.", "connectionId", connectionID)
		return
	}
	slog.Info("Progress observer disconnected.", "connectionId", connectionID)
	if h.hooks.OnDisconnect != nil {
		h.hooks.OnDisconnect(connectionID)
	}
}

func (h *Hub) pingLoop(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(c *client, connectionID string) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Progress socket closed unexpectedly.", "connectionId", connectionID, "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("Ignoring malformed socket message.", "connectionId", connectionID, "error", err)
			continue
		}
		if msg.Type == MessageCancel && h.hooks.OnCancel != nil {
			found := h.hooks.OnCancel(connectionID)
			payload, _ := json.Marshal(map[string]bool{"cancelled": found})
			_ = c.writeJSON(Message{Type: MessageCancelOK, Payload: payload})
		}
	}
}

func progressMessage(ev Event) Message {
	payload, _ := json.Marshal(ev.Model())
	return Message{Type: MessageProgress, Payload: payload}
}
