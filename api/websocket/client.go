package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openalpha/bondbook/types"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Size of the send buffer
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking for production
		return true
	},
}

// Client represents one WebSocket subscriber connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	id     string
	userID string // empty for anonymous clients

	connectedAt time.Time
}

// inboundFrame is the shape of all client-to-server messages.
type inboundFrame struct {
	Type      string `json:"type"` // "join_room", "leave_room", "ping"
	Room      string `json:"room,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, id, userID string) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		id:          id,
		userID:      userID,
		connectedAt: time.Now(),
	}
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var frame inboundFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.sendError("failed to parse message")
			continue
		}
		c.handleFrame(&frame)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			// Add queued messages to the current WebSocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write([]byte{'\n'})
				_, _ = w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(frame *inboundFrame) {
	switch frame.Type {
	case "join_room":
		if frame.Room == "" {
			c.sendError("room cannot be empty")
			return
		}
		c.hub.join <- &roomRequest{client: c, room: frame.Room}
	case "leave_room":
		c.hub.leave <- &roomRequest{client: c, room: frame.Room}
	case "ping":
		c.handlePing(frame.Timestamp)
	default:
		c.sendError("unknown message type: " + frame.Type)
	}
}

// handlePing answers with a pong echoing the client's timestamp.
func (c *Client) handlePing(timestamp int64) {
	c.hub.direct <- &directMsg{
		client: c,
		typ:    types.EventPong,
		data: map[string]int64{
			"timestamp":   timestamp,
			"server_time": time.Now().UnixMilli(),
		},
	}
}

// canJoinRoom reports whether this client may join the room.
// Instrument rooms are public; user rooms require a matching
// authenticated identity.
func (c *Client) canJoinRoom(room string) bool {
	if strings.HasPrefix(room, "instrument:") {
		return true
	}
	if strings.HasPrefix(room, "user:") {
		return c.userID != "" && room == "user:"+c.userID
	}
	return false
}

// sendError sends an error frame to the client
func (c *Client) sendError(message string) {
	c.hub.direct <- &directMsg{
		client: c,
		typ:    types.EventError,
		data:   map[string]string{"message": message},
	}
}

// ID returns the connection identifier
func (c *Client) ID() string {
	return c.id
}

// IsAuthenticated returns whether the client carries a user identity
func (c *Client) IsAuthenticated() bool {
	return c.userID != ""
}
