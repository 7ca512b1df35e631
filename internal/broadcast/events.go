package broadcast

import (
	"helpdesk-ingest-go/internal/model"
)

// Ticket event names
const (
	EventTicketNew        = "ticket:new"
	EventTicketComment    = "ticket:comment"
	EventTicketStatus     = "ticket:status"
	EventTicketAssigned   = "ticket:assigned"
	EventTicketUnassigned = "ticket:unassigned"
	EventTicketUpdate     = "ticket:update"
)

// CommentPayload is sent with ticket:comment
type CommentPayload struct {
	CaseID     uint            `json:"case_id"`
	CaseNumber string          `json:"case_number"`
	Exchange   *model.Exchange `json:"exchange"`
}

// StatusPayload is sent with ticket:status
type StatusPayload struct {
	CaseID     uint   `json:"case_id"`
	CaseNumber string `json:"case_number"`
	IsComplete bool   `json:"is_complete"`
}

// Notifier maps case mutations onto rooms. It must only be called after the
// mutation has committed.
type Notifier struct {
	pub Publisher
}

// NewNotifier wraps pub. A nil publisher turns every call into a no-op.
func NewNotifier(pub Publisher) *Notifier {
	return &Notifier{pub: pub}
}

// CaseCreated announces a new case to everyone, agents and the case room
func (n *Notifier) CaseCreated(c *model.Case) {
	if n.pub == nil || c == nil {
		return
	}
	n.pub.Publish(RoomAll, EventTicketNew, c)
	n.pub.Publish(RoomAgents, EventTicketNew, c)
	n.pub.Publish(TicketRoom(c.ID), EventTicketNew, c)
}

// ExchangeAdded announces a new comment to the case room and its assignee
func (n *Notifier) ExchangeAdded(c *model.Case, e *model.Exchange) {
	if n.pub == nil || c == nil || e == nil {
		return
	}
	payload := CommentPayload{CaseID: c.ID, CaseNumber: c.Number, Exchange: e}
	n.pub.Publish(TicketRoom(c.ID), EventTicketComment, payload)
	if c.AssigneeID != nil {
		n.pub.Publish(UserRoom(*c.AssigneeID), EventTicketComment, payload)
	}
}

// StatusChanged announces a completion flip
func (n *Notifier) StatusChanged(c *model.Case) {
	if n.pub == nil || c == nil {
		return
	}
	payload := StatusPayload{CaseID: c.ID, CaseNumber: c.Number, IsComplete: c.IsComplete}
	n.pub.Publish(RoomAll, EventTicketStatus, payload)
	n.pub.Publish(TicketRoom(c.ID), EventTicketStatus, payload)
}

// AssignmentChanged notifies the new and previous assignee and refreshes
// every view of the case.
func (n *Notifier) AssignmentChanged(c *model.Case, previous *uint) {
	if n.pub == nil || c == nil {
		return
	}
	sameAssignee := previous != nil && c.AssigneeID != nil && *previous == *c.AssigneeID
	if previous != nil && !sameAssignee {
		n.pub.Publish(UserRoom(*previous), EventTicketUnassigned, c)
	}
	if c.AssigneeID != nil && !sameAssignee {
		n.pub.Publish(UserRoom(*c.AssigneeID), EventTicketAssigned, c)
	}
	n.pub.Publish(RoomAll, EventTicketUpdate, c)
	n.pub.Publish(TicketRoom(c.ID), EventTicketUpdate, c)
}
