// Package mailbox talks to external mailboxes over IMAP. A Session hides the
// asynchronous IMAP client behind blocking calls that each run under a timeout.
package mailbox

import (
	"context"
	"errors"
	"time"

	"helpdesk-ingest-go/internal/model"
)

var (
	// ErrTransport covers connect, auth, timeout and protocol failures
	ErrTransport = errors.New("mailbox transport error")
	// ErrDecode is returned for messages whose headers cannot be decoded
	ErrDecode = errors.New("message decode error")
	// ErrExpunged is returned when a listed UID is gone by the time it is fetched
	ErrExpunged = errors.New("message expunged")
)

// InboundMessage is one message read from a mailbox
type InboundMessage struct {
	UID        uint32
	MessageID  string
	Sender     string
	SenderName string
	Subject    string
	Text       string
	HTML       string
	InReplyTo  *string
	References []string
	Date       time.Time
}

// Candidate is a fetched message. Err is set, wrapping ErrDecode, when the
// message could not be decoded; Message then only carries the UID.
type Candidate struct {
	UID     uint32
	Message InboundMessage
	Err     error
}

// Session is one authenticated connection to one mailbox. ListUIDs selects
// the folder and returns candidate UIDs in ascending order; bodies are only
// downloaded by Fetch, one message at a time.
type Session interface {
	ListUIDs(ctx context.Context, folder, mode string) ([]uint32, error)
	// MessageID reads only the Message-ID header of uid
	MessageID(ctx context.Context, uid uint32) (string, error)
	Fetch(ctx context.Context, uid uint32) (Candidate, error)
	Acknowledge(ctx context.Context, uid uint32) error
	Archive(ctx context.Context, uid uint32, target string) error
	Close() error
}

// Opener opens sessions
type Opener interface {
	Open(ctx context.Context, mb model.Mailbox) (Session, error)
}
