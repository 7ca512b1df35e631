package broadcast

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func dialHub(t *testing.T, hub *Hub) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(NewServer(hub, nil))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c, ctx
}

func roundTrip(t *testing.T, ctx context.Context, c *websocket.Conn, msg ClientMessage) Event {
	t.Helper()
	require.NoError(t, wsjson.Write(ctx, c, msg))
	var ev Event
	require.NoError(t, wsjson.Read(ctx, c, &ev))
	return ev
}

func TestWebsocketJoinAndReceive(t *testing.T) {
	hub := NewHub()
	c, ctx := dialHub(t, hub)

	ack := roundTrip(t, ctx, c, ClientMessage{Action: ActionJoinTicket, TicketID: 5})
	assert.Equal(t, AckTicketJoined, ack.Name)
	assert.Equal(t, "ticket:5", ack.Room)
	require.Len(t, hub.Members(TicketRoom(5)), 1)

	hub.Publish(TicketRoom(5), EventTicketComment, map[string]string{"body": "hi"})

	var ev Event
	require.NoError(t, wsjson.Read(ctx, c, &ev))
	assert.Equal(t, EventTicketComment, ev.Name)
	assert.Equal(t, map[string]interface{}{"body": "hi"}, ev.Payload)

	ack = roundTrip(t, ctx, c, ClientMessage{Action: ActionLeaveTicket, TicketID: 5})
	assert.Equal(t, AckTicketLeft, ack.Name)
	assert.Empty(t, hub.Members(TicketRoom(5)))
}

func TestWebsocketActions(t *testing.T) {
	hub := NewHub()
	c, ctx := dialHub(t, hub)

	assert.Equal(t, AckPong, roundTrip(t, ctx, c, ClientMessage{Action: ActionPing}).Name)
	assert.Equal(t, AckAgentsJoined, roundTrip(t, ctx, c, ClientMessage{Action: ActionJoinAgents}).Name)
	assert.Equal(t, AckUserJoined, roundTrip(t, ctx, c, ClientMessage{Action: ActionJoinUser, UserID: 9}).Name)
	assert.Len(t, hub.Members(UserRoom(9)), 1)

	assert.Equal(t, EventError, roundTrip(t, ctx, c, ClientMessage{Action: ActionJoinTicket}).Name)
	assert.Equal(t, EventError, roundTrip(t, ctx, c, ClientMessage{Action: "dance"}).Name)
}

func TestWebsocketDisconnectUnregisters(t *testing.T) {
	hub := NewHub()
	c, ctx := dialHub(t, hub)

	roundTrip(t, ctx, c, ClientMessage{Action: ActionPing})
	require.Len(t, hub.Members(RoomAll), 1)

	require.NoError(t, c.Close(websocket.StatusNormalClosure, "bye"))
	assert.Eventually(t, func() bool {
		return len(hub.Members(RoomAll)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
