package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk-ingest-go/internal/model"
)

func drain(c *Conn) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func names(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Room+" "+ev.Name)
	}
	return out
}

func TestRegisterJoinsAllRoom(t *testing.T) {
	h := NewHub()
	c := h.Register()

	assert.Equal(t, []string{c.ID()}, h.Members(RoomAll))

	h.Leave(c.ID(), RoomAll)
	assert.Equal(t, []string{c.ID()}, h.Members(RoomAll), "the all room cannot be left")
}

func TestJoinLeaveAndMembers(t *testing.T) {
	h := NewHub()
	a := h.Register()
	b := h.Register()

	require.NoError(t, h.Join(a.ID(), TicketRoom(7)))
	require.NoError(t, h.Join(b.ID(), TicketRoom(7)))
	assert.Len(t, h.Members(TicketRoom(7)), 2)

	h.Leave(a.ID(), TicketRoom(7))
	assert.Equal(t, []string{b.ID()}, h.Members(TicketRoom(7)))

	h.Unregister(b.ID())
	assert.Empty(t, h.Members(TicketRoom(7)))
	assert.Equal(t, []string{a.ID()}, h.Members(RoomAll))

	_, open := <-b.Events()
	assert.False(t, open)

	assert.ErrorIs(t, h.Join("missing", RoomAgents), ErrUnknownConnection)
}

func TestPublishOnlyReachesRoomMembers(t *testing.T) {
	h := NewHub()
	a := h.Register()
	b := h.Register()
	require.NoError(t, h.Join(a.ID(), TicketRoom(1)))

	h.Publish(TicketRoom(1), EventTicketComment, "hello")
	h.Publish(TicketRoom(2), EventTicketComment, "elsewhere")

	got := drain(a)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Payload)
	assert.Empty(t, drain(b))
}

func TestPublishWithoutSubscribers(t *testing.T) {
	h := NewHub()
	assert.NotPanics(t, func() {
		h.Publish(TicketRoom(99), EventTicketNew, nil)
	})
}

func TestPublishPreservesOrderWithinRoom(t *testing.T) {
	h := NewHub()
	c := h.Register()

	for i := 0; i < 10; i++ {
		h.Publish(RoomAll, EventTicketUpdate, i)
	}

	got := drain(c)
	require.Len(t, got, 10)
	for i, ev := range got {
		assert.Equal(t, i, ev.Payload)
	}
}

func TestSlowConnectionDropsEvents(t *testing.T) {
	drops := 0
	h := NewHub(WithBuffer(2), WithDropHook(func() { drops++ }))
	slow := h.Register()

	for i := 0; i < 5; i++ {
		h.Publish(RoomAll, EventTicketUpdate, i)
	}

	assert.Len(t, drain(slow), 2)
	assert.Equal(t, uint64(3), h.Dropped())
	assert.Equal(t, 3, drops)
}

func TestCloseShutsEveryConnection(t *testing.T) {
	h := NewHub()
	c := h.Register()
	h.Close()

	_, open := <-c.Events()
	assert.False(t, open)
	assert.Empty(t, h.Members(RoomAll))

	h.Publish(RoomAll, EventTicketNew, nil)
	late := h.Register()
	_, open = <-late.Events()
	assert.False(t, open)
	h.Close()
}

func TestNotifierRooms(t *testing.T) {
	h := NewHub()
	viewer := h.Register()
	agent := h.Register()
	assignee := h.Register()
	require.NoError(t, h.Join(viewer.ID(), TicketRoom(3)))
	require.NoError(t, h.Join(agent.ID(), RoomAgents))
	require.NoError(t, h.Join(assignee.ID(), UserRoom(42)))

	n := NewNotifier(h)
	userID := uint(42)
	c := &model.Case{ID: 3, Number: "TKT-000003"}

	n.CaseCreated(c)
	assert.ElementsMatch(t, []string{"all ticket:new", "ticket:3 ticket:new"}, names(drain(viewer)))
	assert.ElementsMatch(t, []string{"all ticket:new", "agents ticket:new"}, names(drain(agent)))
	drain(assignee)

	c.AssigneeID = &userID
	n.ExchangeAdded(c, &model.Exchange{ID: 1, CaseID: 3, Body: "hi"})
	assert.Equal(t, []string{"ticket:3 ticket:comment"}, names(drain(viewer)))
	assert.Equal(t, []string{"user:42 ticket:comment"}, names(drain(assignee)))
	assert.Empty(t, drain(agent))

	n.AssignmentChanged(c, nil)
	assert.Equal(t, []string{"user:42 ticket:assigned", "all ticket:update"}, names(drain(assignee)))

	c.AssigneeID = nil
	n.AssignmentChanged(c, &userID)
	assert.Equal(t, []string{"user:42 ticket:unassigned", "all ticket:update"}, names(drain(assignee)))

	assert.Len(t, drain(viewer), 4)

	n.StatusChanged(c)
	assert.Equal(t, []string{"all ticket:status", "ticket:3 ticket:status"}, names(drain(viewer)))
}

func TestNilNotifierPublisher(t *testing.T) {
	n := NewNotifier(nil)
	assert.NotPanics(t, func() {
		n.CaseCreated(&model.Case{ID: 1})
		n.StatusChanged(&model.Case{ID: 1})
	})
}
