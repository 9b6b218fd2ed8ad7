package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsFixture serves the manager over a real WebSocket endpoint.
func wsFixture(t *testing.T, cm *ConnectionManager) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		connID := uuid.New().String()
		cm.RegisterConnection(connID, conn)
		defer cm.UnregisterConnection(connID)
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			cm.HandleClientMessage(r.Context(), connID, data)
		}
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func read(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	return data
}

func TestSubscribeAndBroadcast(t *testing.T) {
	cm := NewConnectionManager()
	conn := wsFixture(t, cm)

	send(t, conn, ClientMessage{Action: "subscribe", Channel: "session:abc"})
	require.Eventually(t, func() bool {
		return cm.subscriberCount("session:abc") == 1
	}, time.Second, 5*time.Millisecond)

	cm.Broadcast("session:abc", []byte(`{"type":"message.received","session_id":"abc"}`))

	data := read(t, conn)
	assert.Contains(t, string(data), "message.received")
}

func TestBroadcastSkipsOtherChannels(t *testing.T) {
	cm := NewConnectionManager()
	conn := wsFixture(t, cm)

	send(t, conn, ClientMessage{Action: "subscribe", Channel: "session:abc"})
	require.Eventually(t, func() bool {
		return cm.subscriberCount("session:abc") == 1
	}, time.Second, 5*time.Millisecond)

	cm.Broadcast("session:other", []byte(`{"type":"wrong"}`))
	cm.Broadcast("session:abc", []byte(`{"type":"right"}`))

	data := read(t, conn)
	assert.Contains(t, string(data), "right")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	cm := NewConnectionManager()
	conn := wsFixture(t, cm)

	send(t, conn, ClientMessage{Action: "subscribe", Channel: "sessions"})
	require.Eventually(t, func() bool {
		return cm.subscriberCount("sessions") == 1
	}, time.Second, 5*time.Millisecond)

	send(t, conn, ClientMessage{Action: "unsubscribe", Channel: "sessions"})
	require.Eventually(t, func() bool {
		return cm.subscriberCount("sessions") == 0
	}, time.Second, 5*time.Millisecond)
}

func TestPingPong(t *testing.T) {
	cm := NewConnectionManager()
	conn := wsFixture(t, cm)

	send(t, conn, ClientMessage{Action: "ping"})
	data := read(t, conn)
	assert.Contains(t, string(data), "pong")
}

type stubCatchup struct {
	events []StoredEvent
}

func (s *stubCatchup) EventsAfter(_ context.Context, channel string, afterID int64, _ int) ([]StoredEvent, error) {
	var out []StoredEvent
	for _, ev := range s.events {
		if ev.Channel == channel && ev.ID > afterID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func TestCatchupReplaysMissedEvents(t *testing.T) {
	cm := NewConnectionManager()
	cm.SetCatchupQuerier(&stubCatchup{events: []StoredEvent{
		{ID: 1, Channel: "session:abc", Payload: []byte(`{"type":"message.received","session_id":"abc","n":1}`)},
		{ID: 2, Channel: "session:abc", Payload: []byte(`{"type":"message.received","session_id":"abc","n":2}`)},
	}})
	conn := wsFixture(t, cm)

	last := int64(1)
	send(t, conn, ClientMessage{Action: "catchup", Channel: "session:abc", LastEventID: &last})

	first := read(t, conn)
	assert.Contains(t, string(first), `"db_event_id":2`)

	done := read(t, conn)
	assert.Contains(t, string(done), "catchup.complete")
}

func TestUnregisterDropsSubscriptions(t *testing.T) {
	cm := NewConnectionManager()
	conn := wsFixture(t, cm)

	send(t, conn, ClientMessage{Action: "subscribe", Channel: "session:abc"})
	require.Eventually(t, func() bool {
		return cm.subscriberCount("session:abc") == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool {
		return cm.subscriberCount("session:abc") == 0
	}, time.Second, 5*time.Millisecond)
}
