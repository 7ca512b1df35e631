package mailbox

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/sirupsen/logrus"

	"helpdesk-ingest-go/internal/model"
)

// maxPartBytes caps how much of a single body part is read
const maxPartBytes = 4 << 20

// ParseMessage decodes an RFC 5322 message. Body parts that fail to decode
// are skipped; only an unreadable header block or a missing sender is an error.
func ParseMessage(uid uint32, r io.Reader) (InboundMessage, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return InboundMessage{UID: uid}, fmt.Errorf("%w: uid %d: %v", ErrDecode, uid, err)
	}
	if mr == nil {
		return InboundMessage{UID: uid}, fmt.Errorf("%w: uid %d: no header", ErrDecode, uid)
	}
	defer mr.Close()

	msg := InboundMessage{UID: uid}
	h := mr.Header

	from, err := h.AddressList("From")
	if err != nil || len(from) == 0 || from[0].Address == "" {
		return msg, fmt.Errorf("%w: uid %d: missing sender", ErrDecode, uid)
	}
	sender := strings.ToLower(strings.TrimSpace(from[0].Address))
	if len(sender) > model.MaxAddressBytes || !utf8.ValidString(sender) {
		return msg, fmt.Errorf("%w: uid %d: malformed sender address", ErrDecode, uid)
	}
	msg.Sender = sender
	msg.SenderName = model.ValidText(from[0].Name)

	if subject, err := h.Subject(); err == nil {
		msg.Subject = model.ValidText(subject)
	} else {
		msg.Subject = model.ValidText(h.Get("Subject"))
	}
	if id, err := h.MessageID(); err == nil {
		msg.MessageID = model.ClipToken(id)
	}
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 && ids[0] != "" {
		parent := model.ClipToken(ids[0])
		msg.InReplyTo = &parent
	}
	if refs, err := h.MsgIDList("References"); err == nil {
		for _, ref := range refs {
			msg.References = append(msg.References, model.ClipToken(ref))
		}
	}
	if date, err := h.Date(); err == nil {
		msg.Date = date
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				logrus.Debugf("Skipping undecodable part of message %d: %v", uid, err)
				continue
			}
			logrus.Debugf("Stopped reading parts of message %d: %v", uid, err)
			break
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := inline.ContentType()
		if err != nil {
			contentType = "text/plain"
		}

		body, err := io.ReadAll(io.LimitReader(part.Body, maxPartBytes))
		if err != nil {
			logrus.Debugf("Failed to read part of message %d: %v", uid, err)
			continue
		}

		switch contentType {
		case "text/plain":
			if msg.Text == "" {
				msg.Text = model.ValidText(string(body))
			}
		case "text/html":
			if msg.HTML == "" {
				msg.HTML = model.ValidText(string(body))
			}
		}
	}

	return msg, nil
}

// parseMessageID reads a bare header block and returns its Message-ID the
// same way ParseMessage does.
func parseMessageID(r io.Reader) (string, error) {
	th, err := textproto.ReadHeader(bufio.NewReader(r))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	h := mail.Header{Header: message.Header{Header: th}}
	id, err := h.MessageID()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return model.ClipToken(id), nil
}
