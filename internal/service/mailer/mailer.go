// Package mailer sends agent replies back to requesters as real email,
// threaded onto the message that opened the case.
package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"helpdesk-ingest-go/internal/config"
	"helpdesk-ingest-go/internal/logging"
	"helpdesk-ingest-go/internal/model"
)

// Sender delivers an agent exchange to the case requester
type Sender interface {
	SendReply(ctx context.Context, c *model.Case, e *model.Exchange) error
}

// NopSender drops replies. It is used when the mailer is disabled.
type NopSender struct{}

// SendReply implements Sender
func (NopSender) SendReply(ctx context.Context, c *model.Case, e *model.Exchange) error {
	logrus.WithField("case", c.Number).Debug("Mailer disabled, not sending reply")
	return nil
}

// sendFunc submits one base64url-encoded RFC 5322 message
type sendFunc func(ctx context.Context, raw string) error

// GmailSender sends replies through the Gmail API
type GmailSender struct {
	send       sendFunc
	from       mail.Address
	maxRetries int
	sleep      func(time.Duration)
	now        func() time.Time
}

// NewGmailSender creates a sender authorized with the mailer refresh token
func NewGmailSender(ctx context.Context, cfg config.MailerConfig, oauthConfig *oauth2.Config) (*GmailSender, error) {
	if oauthConfig == nil {
		return nil, fmt.Errorf("OAuth client is required for the Gmail sender")
	}
	tokenSource := oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	user := cfg.UserEmail
	return newGmailSender(func(ctx context.Context, raw string) error {
		_, err := service.Users.Messages.Send(user, &gmail.Message{Raw: raw}).Context(ctx).Do()
		return err
	}, mail.Address{Name: cfg.FromName, Address: cfg.UserEmail}, cfg.MaxRetries), nil
}

func newGmailSender(send sendFunc, from mail.Address, maxRetries int) *GmailSender {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &GmailSender{
		send:       send,
		from:       from,
		maxRetries: maxRetries,
		sleep:      time.Sleep,
		now:        time.Now,
	}
}

// SendReply composes and sends e to the requester of c. Rate-limit errors are
// retried with quadratic backoff; other errors are returned at once.
func (s *GmailSender) SendReply(ctx context.Context, c *model.Case, e *model.Exchange) error {
	raw, err := Compose(s.from, c, e, s.now())
	if err != nil {
		return fmt.Errorf("failed to compose reply: %w", err)
	}
	encoded := base64.URLEncoding.EncodeToString(raw)

	log := logrus.WithFields(logrus.Fields{"case": c.Number, "to": logging.MaskEmail(c.RequesterEmail)})

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.send(ctx, encoded)
		if err == nil {
			log.Info("Sent agent reply")
			return nil
		}

		lastErr = err
		log.Warnf("Failed to send reply (attempt %d/%d): %v", attempt, s.maxRetries, err)

		if !isRateLimited(err) || attempt == s.maxRetries {
			break
		}
		waitTime := time.Duration(attempt*attempt) * time.Second
		log.Infof("Rate limited, waiting %v before retry", waitTime)
		s.sleep(waitTime)
	}

	return fmt.Errorf("failed to send reply for %s: %w", c.Number, lastErr)
}

func isRateLimited(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") || strings.Contains(msg, "rate")
}

// Subject returns the subject line used for replies on c
func Subject(c *model.Case) string {
	return fmt.Sprintf("Re: [%s] %s", c.Number, c.Title)
}

// Compose renders a plain-text reply. When the case was opened by email the
// reply carries In-Reply-To and References pointing at the opening message.
func Compose(from mail.Address, c *model.Case, e *model.Exchange, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{&from})
	h.SetAddressList("To", []*mail.Address{{Address: c.RequesterEmail}})
	h.SetSubject(Subject(c))
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}
	if c.OriginToken != nil && *c.OriginToken != "" {
		h.SetMsgIDList("In-Reply-To", []string{*c.OriginToken})
		h.SetMsgIDList("References", []string{*c.OriginToken})
	}
	h.Set("X-Helpdesk-Case", c.Number)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, e.Body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
