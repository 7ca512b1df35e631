package broadcast

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Client actions
const (
	ActionJoinTicket  = "join-ticket"
	ActionLeaveTicket = "leave-ticket"
	ActionJoinUser    = "join-user"
	ActionJoinAgents  = "join-agents"
	ActionPing        = "ping"
)

// Acknowledgement events
const (
	AckTicketJoined = "ticket:joined"
	AckTicketLeft   = "ticket:left"
	AckUserJoined   = "user:joined"
	AckAgentsJoined = "agents:joined"
	AckPong         = "pong"
	EventError      = "error"
)

const writeTimeout = 10 * time.Second

// ClientMessage is a request sent by a UI session
type ClientMessage struct {
	Action   string `json:"action"`
	TicketID uint   `json:"ticket_id,omitempty"`
	UserID   uint   `json:"user_id,omitempty"`
}

// Server upgrades HTTP requests to websocket sessions attached to a Hub
type Server struct {
	hub            *Hub
	originPatterns []string
}

// NewServer creates a websocket endpoint for hub. originPatterns lists the
// cross-origin hosts allowed to connect.
func NewServer(hub *Hub, originPatterns []string) *Server {
	return &Server{hub: hub, originPatterns: originPatterns}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		logrus.Warnf("Websocket upgrade failed: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "")

	conn := s.hub.Register()
	defer s.hub.Unregister(conn.ID())

	log := logrus.WithField("conn", conn.ID())
	log.Debug("Websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		s.readLoop(ctx, c, conn.ID())
	}()

	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.StatusNormalClosure, "")
			log.Debug("Websocket disconnected")
			return
		case ev, ok := <-conn.Events():
			if !ok {
				c.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := write(ctx, c, ev); err != nil {
				log.Debugf("Websocket write failed: %v", err)
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, c *websocket.Conn, connID string) {
	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, c, &msg); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				logrus.WithField("conn", connID).Debugf("Websocket read failed: %v", err)
			}
			return
		}

		ack, err := s.handle(connID, msg)
		if err != nil {
			ack = Event{Name: EventError, Payload: map[string]string{"message": err.Error()}}
		}
		ack.SentAt = time.Now().UTC()
		if err := write(ctx, c, ack); err != nil {
			return
		}
	}
}

func (s *Server) handle(connID string, msg ClientMessage) (Event, error) {
	switch msg.Action {
	case ActionJoinTicket, ActionLeaveTicket:
		if msg.TicketID == 0 {
			return Event{}, fmt.Errorf("%s requires ticket_id", msg.Action)
		}
		room := TicketRoom(msg.TicketID)
		if msg.Action == ActionLeaveTicket {
			s.hub.Leave(connID, room)
			return Event{Name: AckTicketLeft, Room: room}, nil
		}
		if err := s.hub.Join(connID, room); err != nil {
			return Event{}, err
		}
		return Event{Name: AckTicketJoined, Room: room}, nil
	case ActionJoinUser:
		if msg.UserID == 0 {
			return Event{}, fmt.Errorf("%s requires user_id", msg.Action)
		}
		room := UserRoom(msg.UserID)
		if err := s.hub.Join(connID, room); err != nil {
			return Event{}, err
		}
		return Event{Name: AckUserJoined, Room: room}, nil
	case ActionJoinAgents:
		if err := s.hub.Join(connID, RoomAgents); err != nil {
			return Event{}, err
		}
		return Event{Name: AckAgentsJoined, Room: RoomAgents}, nil
	case ActionPing:
		return Event{Name: AckPong}, nil
	default:
		return Event{}, fmt.Errorf("unknown action %q", msg.Action)
	}
}

func write(ctx context.Context, c *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, ev)
}
