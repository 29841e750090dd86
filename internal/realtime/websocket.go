package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Subscribers only send control frames
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from the app origin; tokens carry the authorization.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Authorizer validates a bearer token and returns the user it belongs to.
type Authorizer func(token string) (userID string, err error)

// Handler serves the change feed over websocket at
//
//	GET /realtime?topic=<group id>&collection=<name>&kinds=insert,update
//
// The token comes from the Authorization header or the access_token query
// parameter, since browsers cannot set headers on websocket requests.
type Handler struct {
	hub       *Hub
	authorize Authorizer
	logger    *slog.Logger
}

// NewHandler creates a websocket Handler over hub.
func NewHandler(hub *Hub, authorize Authorizer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{hub: hub, authorize: authorize, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		http.Error(w, "authorization token required", http.StatusUnauthorized)
		return
	}
	userID, err := h.authorize(token)
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	topic := q.Get("topic")
	if topic == "" {
		http.Error(w, "topic required", http.StatusBadRequest)
		return
	}
	filter := EventFilter{
		Collection: q.Get("collection"),
		Kinds:      ParseKinds(q.Get("kinds")),
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	send := make(chan []byte, DefaultBuffer)

	sub, err := h.hub.Subscribe(ctx, topic, filter, func(_ context.Context, e Event) {
		data, err := json.Marshal(e)
		if err != nil {
			h.logger.Error("Failed to marshal event", "event_id", e.ID, "error", err)
			return
		}
		select {
		case send <- data:
		default:
			// The peer is not reading; drop the connection rather than block the hub.
			h.logger.Warn("Websocket peer too slow", "user_id", userID, "topic", topic)
			cancel()
		}
	})
	if err != nil {
		cancel()
		conn.Close()
		return
	}

	h.logger.Info("Realtime client connected",
		"user_id", userID,
		"topic", topic,
		"collection", filter.Collection,
		"addr", conn.RemoteAddr().String(),
	)

	go h.writePump(ctx, conn, send)
	h.readPump(conn)

	cancel()
	sub.Close()
	h.logger.Info("Realtime client disconnected", "user_id", userID, "topic", topic)
}

// readPump discards inbound frames and returns when the peer goes away.
func (h *Handler) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("Unexpected websocket close", "error", err)
			}
			return
		}
	}
}

// writePump forwards events and keeps the connection alive with pings.
func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
