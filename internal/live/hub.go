package live

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/AdamBeresnev/dartsturnier/internal/events"
	"github.com/AdamBeresnev/dartsturnier/internal/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

func TournamentRoom(id uuid.UUID) string { return "tournament_" + id.String() }
func BoardRoom(id uuid.UUID) string      { return "board_" + id.String() }

// Hub fans committed events out to websocket clients grouped in rooms. A client joins a
// tournament room to follow the bracket, and board terminals also join their board room.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}

	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewHub(allowedOrigins []string, logger *slog.Logger, m *metrics.Metrics) *Hub {
	h := &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		logger:     logger,
		metrics:    m,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(allowedOrigins) == 0 || origin == "" || slices.Contains(allowedOrigins, origin)
		},
	}
	return h
}

// Run owns registration until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.remove(c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			for _, room := range c.rooms {
				if _, ok := h.rooms[room]; !ok {
					h.rooms[room] = make(map[*Client]struct{})
				}
				h.rooms[room][c] = struct{}{}
			}
			h.setGauge(1)
			h.mu.Unlock()
			h.logger.Debug("live client registered", "rooms", c.rooms)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.remove(c)
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with h.mu held and only for registered clients.
func (h *Hub) remove(c *Client) {
	delete(h.clients, c)
	for _, room := range c.rooms {
		delete(h.rooms[room], c)
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
	}
	close(c.send)
	h.setGauge(-1)
	h.logger.Debug("live client unregistered", "rooms", c.rooms)
}

func (h *Hub) setGauge(delta float64) {
	if h.metrics != nil {
		h.metrics.LiveConnections.Add(delta)
	}
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Broadcast queues msg once for every client in any of rooms. Clients with a full buffer miss the message.
func (h *Hub) Broadcast(msg []byte, rooms ...string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Client]struct{})
	for _, room := range rooms {
		for c := range h.rooms[room] {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}

			select {
			case c.send <- msg:
			default:
				h.logger.Warn("live client too slow, dropping message", "room", room)
			}
		}
	}
}

// Consume forwards bus messages to the tournament room and, for board bound events, the board room.
func (h *Hub) Consume(ctx context.Context, msgs <-chan *message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			h.route(msg)
			msg.Ack()
		}
	}
}

func (h *Hub) route(msg *message.Message) {
	tournamentID, err := uuid.Parse(msg.Metadata.Get(events.MetadataTournamentID))
	if err != nil {
		h.logger.Error("event without tournament id", "message_uuid", msg.UUID, "error", err)
		return
	}
	rooms := []string{TournamentRoom(tournamentID)}
	if raw := msg.Metadata.Get(events.MetadataBoardID); raw != "" {
		if boardID, err := uuid.Parse(raw); err == nil {
			rooms = append(rooms, BoardRoom(boardID))
		}
	}
	h.Broadcast(msg.Payload, rooms...)
}

// ServeWS upgrades the request and joins the connection to rooms.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, rooms []string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), rooms: rooms}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	rooms []string
}

// readPump only handles control frames. Clients never send data.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket closed unexpectedly", "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One event per frame so clients can parse each message on its own
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
