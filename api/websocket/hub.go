// Package websocket fans out engine event batches to subscribed
// clients over gorilla/websocket connections. Rooms follow the
// instrument:<id> / user:<id> naming; delivery is best effort and a
// client that cannot keep up is evicted.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"cosmossdk.io/log"
	"github.com/google/uuid"

	"github.com/openalpha/bondbook/metrics"
	"github.com/openalpha/bondbook/types"
)

// Envelope is the outbound frame shape. ServerSeq is strictly
// monotonic per hub instance.
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	ServerSeq uint64 `json:"server_seq"`
}

// roomRequest asks the hub to add or drop a room membership.
type roomRequest struct {
	client *Client
	room   string
}

// directMsg is a single-client frame that still needs a hub-assigned
// server sequence.
type directMsg struct {
	client *Client
	typ    string
	data   any
}

// Hub owns the client set and room memberships. All membership
// mutation and event sequencing happens on the Run goroutine, so no
// two events ever observe the same server sequence.
type Hub struct {
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool

	events     chan []types.Event
	register   chan *Client
	unregister chan *Client
	join       chan *roomRequest
	leave      chan *roomRequest
	direct     chan *directMsg

	seq     uint64
	logger  log.Logger
	metrics *metrics.Collector

	// guards clients and rooms for reads outside the Run goroutine
	mu sync.RWMutex
}

// NewHub creates a hub; call Run before publishing.
func NewHub(logger log.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		events:     make(chan []types.Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan *roomRequest, 256),
		leave:      make(chan *roomRequest, 256),
		direct:     make(chan *directMsg, 256),
		logger:     logger.With("module", "websocket"),
		metrics:    metrics.GetCollector(),
	}
}

// Publish hands an event batch to the hub. It never blocks matching
// longer than the hub queue; the fan-out happens on the Run goroutine
// and per-client write pumps.
func (h *Hub) Publish(events []types.Event) {
	if len(events) == 0 {
		return
	}
	h.events <- events
}

// Run is the hub main loop. It exits when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case req := <-h.join:
			h.handleJoin(req)

		case req := <-h.leave:
			h.handleLeave(req)

		case msg := <-h.direct:
			h.sendEnvelope(msg.client, &Envelope{
				Type:      msg.typ,
				Data:      msg.data,
				ServerSeq: h.nextSeq(),
			})

		case batch := <-h.events:
			for _, ev := range batch {
				h.deliver(ev)
			}
		}
	}
}

func (h *Hub) nextSeq() uint64 {
	h.seq++
	return h.seq
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	h.metrics.RecordWSConnection(1)

	h.sendEnvelope(client, &Envelope{
		Type: types.EventConnected,
		Data: map[string]any{
			"connection_id": client.id,
			"authenticated": client.IsAuthenticated(),
		},
		ServerSeq: h.nextSeq(),
	})

	// Authenticated clients land in their own user room immediately.
	if client.IsAuthenticated() {
		h.addToRoom(client, types.UserRoom(client.userID))
	}
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for room, members := range h.rooms {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	close(client.send)
	h.metrics.RecordWSConnection(-1)
}

func (h *Hub) addToRoom(client *Client, room string) {
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[room] = members
	}
	members[client] = true
	h.mu.Unlock()
}

func (h *Hub) handleJoin(req *roomRequest) {
	if !req.client.canJoinRoom(req.room) {
		h.sendEnvelope(req.client, &Envelope{
			Type:      types.EventError,
			Data:      map[string]string{"message": "not authorized for room " + req.room},
			ServerSeq: h.nextSeq(),
		})
		return
	}
	h.addToRoom(req.client, req.room)
	h.sendEnvelope(req.client, &Envelope{
		Type:      types.EventRoomJoined,
		Data:      map[string]string{"room": req.room},
		ServerSeq: h.nextSeq(),
	})
}

func (h *Hub) handleLeave(req *roomRequest) {
	h.mu.Lock()
	if members, ok := h.rooms[req.room]; ok {
		delete(members, req.client)
		if len(members) == 0 {
			delete(h.rooms, req.room)
		}
	}
	h.mu.Unlock()
	h.sendEnvelope(req.client, &Envelope{
		Type:      types.EventRoomLeft,
		Data:      map[string]string{"room": req.room},
		ServerSeq: h.nextSeq(),
	})
}

// deliver sends one event to every member of its room. A full send
// buffer evicts the member so one slow reader cannot stall the rest.
func (h *Hub) deliver(ev types.Event) {
	h.mu.RLock()
	members, ok := h.rooms[ev.Room]
	if !ok || len(members) == 0 {
		h.mu.RUnlock()
		// Sequence still advances for unobserved events.
		h.nextSeq()
		return
	}
	targets := make([]*Client, 0, len(members))
	for c := range members {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	env := &Envelope{Type: ev.Type, Data: ev.Data, ServerSeq: h.nextSeq()}
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("event marshal failed", "type", ev.Type, "err", err)
		return
	}
	for _, c := range targets {
		select {
		case c.send <- data:
			h.metrics.RecordWSMessage(ev.Type)
		default:
			h.logger.Info("evicting slow client", "connection_id", c.id)
			h.metrics.RecordWSEviction()
			h.unregisterClient(c)
		}
	}
}

func (h *Hub) sendEnvelope(client *Client, env *Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case client.send <- data:
		h.metrics.RecordWSMessage(env.Type)
	default:
		h.metrics.RecordWSEviction()
		h.unregisterClient(client)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.rooms = make(map[string]map[*Client]bool)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomClientCount returns the number of members in a room.
func (h *Hub) RoomClientCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ServeWS upgrades an HTTP request to a WebSocket client. The
// authenticated user_id, if any, is supplied by the auth collaborator
// via query parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := NewClient(h, conn, uuid.NewString(), r.URL.Query().Get("user_id"))
	h.register <- client

	go client.writePump()
	go client.readPump()
}
