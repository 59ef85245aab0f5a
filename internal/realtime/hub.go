package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/telegraphhq/telegraph/internal/models"
	"github.com/telegraphhq/telegraph/pkg/logger"
	"github.com/telegraphhq/telegraph/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB

	defaultBufferSize = 64
)

// Push topics delivered to clients.
const (
	TopicInitialData  = "initial_data"
	TopicNotification = "notification"
	TopicNotifUpdated = "notif_updated"
	TopicPreference   = "preference"
	TopicError        = "error"
)

// Message is a JSON payload pushed to a connected client.
type Message struct {
	Topic          string `json:"topic"`
	Notifications  any    `json:"notifications,omitempty"`
	Preference     any    `json:"preference,omitempty"`
	Status         string `json:"status,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// ClientMessage is the envelope clients send over the socket.
type ClientMessage struct {
	Action string          `json:"action"`
	Body   json.RawMessage `json:"body"`
}

// EventHandler reacts to gateway events. The hub owns the socket and the
// connection registry; the handler owns what connect and client actions mean.
type EventHandler interface {
	// HandleConnect runs after the connection is registered. Implementations
	// push the initial sync through the hub.
	HandleConnect(ctx context.Context, userID string)
	// HandleAction processes one inbound client message.
	HandleAction(ctx context.Context, userID string, msg ClientMessage)
}

// Hub upgrades push connections, maintains the connection registry (live
// sockets plus durable rows), and delivers messages to users.
type Hub struct {
	mu       sync.RWMutex
	db       *gorm.DB
	byID     map[string]*connection
	byUser   map[string][]*connection
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHub constructs a hub persisting connection records through db.
func NewHub(db *gorm.DB) *Hub {
	return &Hub{
		db:     db,
		byID:   make(map[string]*connection),
		byUser: make(map[string][]*connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Same-origin plus localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
		log: logger.WithModule("realtime"),
	}
}

// Serve upgrades the HTTP connection, registers it for the user, performs
// the handler's initial sync, and pumps messages until the socket closes.
// Disconnect removes the registry entry; this is the only cleanup path.
func (h *Hub) Serve(userID string, events EventHandler, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	client := &connection{
		hub:    h,
		socket: socket,
		id:     uuid.NewString(),
		userID: userID,
		events: events,
		send:   make(chan Message, defaultBufferSize),
	}

	if err := h.register(r.Context(), client); err != nil {
		h.log.Error("register connection failed", zap.String("user_id", userID), zap.Error(err))
		_ = socket.Close()
		return
	}
	defer h.unregister(client)

	go client.writeLoop()
	if events != nil {
		events.HandleConnect(r.Context(), userID)
	}
	client.readLoop()
}

// PushToUser delivers a message over the user's most recent live connection.
// It reports false when the user has no live connection; the caller decides
// what "not connected" means (typically: leave the notification undelivered
// for replay).
func (h *Hub) PushToUser(userID string, msg Message) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := h.byUser[userID]
	if len(conns) == 0 {
		return false
	}

	client := conns[len(conns)-1]
	select {
	case client.send <- msg:
		return true
	default:
		h.log.Warn("dropping backpressured connection", zap.String("user_id", userID))
		client.closeSocket()
		return false
	}
}

// IsConnected reports whether the user has at least one live connection.
func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

func (h *Hub) register(ctx context.Context, client *connection) error {
	if h.db != nil {
		record := models.Connection{
			ConnectionID: client.id,
			UserID:       client.userID,
		}
		if err := h.db.WithContext(ctx).Create(&record).Error; err != nil {
			return err
		}
	}

	h.mu.Lock()
	h.byID[client.id] = client
	h.byUser[client.userID] = append(h.byUser[client.userID], client)
	h.mu.Unlock()

	metrics.LiveConnections.Inc()
	h.log.Info("connected",
		zap.String("user_id", client.userID),
		zap.String("connection_id", client.id),
	)
	return nil
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	if _, ok := h.byID[client.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.byID, client.id)

	conns := h.byUser[client.userID]
	for i, c := range conns {
		if c == client {
			h.byUser[client.userID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.byUser[client.userID]) == 0 {
		delete(h.byUser, client.userID)
	}
	h.mu.Unlock()

	client.close()

	if h.db != nil {
		// Removing an already-removed row is not an error.
		if err := h.db.Delete(&models.Connection{}, "connection_id = ?", client.id).Error; err != nil {
			h.log.Warn("delete connection record failed",
				zap.String("connection_id", client.id),
				zap.Error(err),
			)
		}
	}

	metrics.LiveConnections.Dec()
	h.log.Info("disconnected",
		zap.String("user_id", client.userID),
		zap.String("connection_id", client.id),
	)
}

type connection struct {
	hub        *Hub
	socket     *websocket.Conn
	id         string
	userID     string
	events     EventHandler
	send       chan Message
	closeOnce  sync.Once
	socketOnce sync.Once
}

// close tears down the send channel and the socket. Only unregister may call
// it: pushers can still hold a reference to the connection until it leaves
// the registry, and sending on a closed channel panics.
func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
	c.closeSocket()
}

// closeSocket drops the transport without touching the send channel. The
// read loop notices and runs the full unregister path.
func (c *connection) closeSocket() {
	c.socketOnce.Do(func() {
		_ = c.socket.Close()
	})
}

func (c *connection) readLoop() {
	defer c.hub.unregister(c)

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("unexpected close",
					zap.String("user_id", c.userID),
					zap.Error(err),
				)
			}
			break
		}

		if len(payload) == 0 {
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.hub.log.Warn("invalid client payload",
				zap.String("user_id", c.userID),
				zap.Error(err),
			)
			continue
		}

		if c.events != nil {
			c.events.HandleAction(context.Background(), c.userID, msg)
		}
	}
}

func (c *connection) writeLoop() {
	defer c.closeSocket()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func hostWithoutPort(value string) string {
	value = strings.TrimPrefix(value, "http://")
	value = strings.TrimPrefix(value, "https://")
	value = strings.TrimPrefix(value, "ws://")
	value = strings.TrimPrefix(value, "wss://")
	if slash := strings.Index(value, "/"); slash != -1 {
		value = value[:slash]
	}
	if colon := strings.Index(value, ":"); colon != -1 {
		value = value[:colon]
	}
	return strings.ToLower(value)
}

func isLoopback(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
