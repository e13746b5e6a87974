package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cosmossdk.io/log"

	"github.com/openalpha/bondbook/types"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(log.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

// connect registers a client without a real network connection; the
// hub only ever touches the send channel.
func connect(t *testing.T, h *Hub, userID string) *Client {
	t.Helper()
	c := NewClient(h, nil, "conn-"+userID, userID)
	h.register <- c
	env := recvEnvelope(t, c)
	if env.Type != types.EventConnected {
		t.Fatalf("first frame = %s, want connected", env.Type)
	}
	return c
}

func recvEnvelope(t *testing.T, c *Client) *Envelope {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		return &env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func join(t *testing.T, c *Client, room string) {
	t.Helper()
	c.hub.join <- &roomRequest{client: c, room: room}
	env := recvEnvelope(t, c)
	if env.Type != types.EventRoomJoined {
		t.Fatalf("join response = %s", env.Type)
	}
}

func TestRoomFanOut(t *testing.T) {
	h := startHub(t)
	a := connect(t, h, "")
	b := connect(t, h, "")
	other := connect(t, h, "")

	join(t, a, "instrument:BOND-1")
	join(t, b, "instrument:BOND-1")
	join(t, other, "instrument:BOND-2")

	h.Publish([]types.Event{
		{Room: "instrument:BOND-1", Type: types.EventTrade, Data: map[string]string{"id": "t1"}},
	})

	for _, c := range []*Client{a, b} {
		env := recvEnvelope(t, c)
		if env.Type != types.EventTrade {
			t.Fatalf("got %s, want trade", env.Type)
		}
	}
	select {
	case data := <-other.send:
		t.Fatalf("wrong room received event: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestServerSequenceMonotonic(t *testing.T) {
	h := startHub(t)
	c := connect(t, h, "")
	join(t, c, "instrument:BOND-1")

	h.Publish([]types.Event{
		{Room: "instrument:BOND-1", Type: types.EventTrade},
		{Room: "instrument:BOND-1", Type: types.EventTrade},
		{Room: "instrument:BOND-1", Type: types.EventOrderbookUpdate},
	})

	var last uint64
	wantTypes := []string{types.EventTrade, types.EventTrade, types.EventOrderbookUpdate}
	for _, want := range wantTypes {
		env := recvEnvelope(t, c)
		if env.Type != want {
			t.Fatalf("got %s, want %s", env.Type, want)
		}
		if env.ServerSeq <= last {
			t.Fatalf("server_seq not increasing: %d after %d", env.ServerSeq, last)
		}
		last = env.ServerSeq
	}
}

func TestUserRoomAuthorization(t *testing.T) {
	h := startHub(t)
	anon := connect(t, h, "")
	anon.hub.join <- &roomRequest{client: anon, room: "user:alice"}
	if env := recvEnvelope(t, anon); env.Type != types.EventError {
		t.Fatalf("anonymous join of user room: %s", env.Type)
	}

	alice := connect(t, h, "alice")
	// Authenticated clients are auto-joined to their own room.
	waitFor(t, func() bool { return h.RoomClientCount("user:alice") == 1 })

	alice.hub.join <- &roomRequest{client: alice, room: "user:bob"}
	if env := recvEnvelope(t, alice); env.Type != types.EventError {
		t.Fatalf("cross-user join allowed: %s", env.Type)
	}
}

func TestAutoJoinedUserRoomReceivesEvents(t *testing.T) {
	h := startHub(t)
	alice := connect(t, h, "alice")
	waitFor(t, func() bool { return h.RoomClientCount("user:alice") == 1 })

	h.Publish([]types.Event{
		{Room: "user:alice", Type: types.EventPortfolioUpdate},
	})
	if env := recvEnvelope(t, alice); env.Type != types.EventPortfolioUpdate {
		t.Fatalf("got %s", env.Type)
	}
}

func TestLeaveRoom(t *testing.T) {
	h := startHub(t)
	c := connect(t, h, "")
	join(t, c, "instrument:BOND-1")

	c.hub.leave <- &roomRequest{client: c, room: "instrument:BOND-1"}
	if env := recvEnvelope(t, c); env.Type != types.EventRoomLeft {
		t.Fatalf("leave response = %s", env.Type)
	}

	h.Publish([]types.Event{{Room: "instrument:BOND-1", Type: types.EventTrade}})
	select {
	case data := <-c.send:
		t.Fatalf("received after leaving: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPingEchoesTimestamp(t *testing.T) {
	h := startHub(t)
	c := connect(t, h, "")

	c.handleFrame(&inboundFrame{Type: "ping", Timestamp: 1724500000123})

	env := recvEnvelope(t, c)
	if env.Type != types.EventPong {
		t.Fatalf("got %s, want pong", env.Type)
	}
	if env.ServerSeq == 0 {
		t.Error("pong carries no server sequence")
	}
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("pong payload: %T", env.Data)
	}
	if data["timestamp"] != float64(1724500000123) {
		t.Errorf("timestamp not echoed: %v", data["timestamp"])
	}
	if _, ok := data["server_time"]; !ok {
		t.Error("pong missing server_time")
	}
}

func TestSlowClientEvicted(t *testing.T) {
	h := startHub(t)
	c := connect(t, h, "")
	join(t, c, "instrument:BOND-1")

	// Saturate the send buffer so the next delivery cannot enqueue.
	for i := 0; i < sendBufferSize; i++ {
		c.send <- []byte("{}")
	}
	h.Publish([]types.Event{{Room: "instrument:BOND-1", Type: types.EventTrade}})

	waitFor(t, func() bool { return h.ClientCount() == 0 })
	if h.RoomClientCount("instrument:BOND-1") != 0 {
		t.Fatal("evicted client still in room")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}
