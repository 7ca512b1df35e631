package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"helpdesk-ingest-go/internal/model"
)

func testCase() *model.Case {
	origin := "101@x.com"
	return &model.Case{
		ID:             1,
		Number:         "TKT-000001",
		RequesterEmail: "alice@x.com",
		Title:          "Help",
		OriginToken:    &origin,
	}
}

func TestComposeThreadsOntoOrigin(t *testing.T) {
	raw, err := Compose(mail.Address{Name: "Support", Address: "support@example.com"}, testCase(),
		&model.Exchange{Body: "We are on it."}, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	r, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)

	subject, err := r.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Re: [TKT-000001] Help", subject)

	inReplyTo, err := r.Header.MsgIDList("In-Reply-To")
	require.NoError(t, err)
	assert.Equal(t, []string{"101@x.com"}, inReplyTo)

	refs, err := r.Header.MsgIDList("References")
	require.NoError(t, err)
	assert.Equal(t, []string{"101@x.com"}, refs)

	to, err := r.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "alice@x.com", to[0].Address)

	id, err := r.Header.MessageID()
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, "TKT-000001", r.Header.Get("X-Helpdesk-Case"))

	part, err := r.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	assert.Equal(t, "We are on it.", string(body))
}

func TestComposeWithoutOrigin(t *testing.T) {
	c := testCase()
	c.OriginToken = nil

	raw, err := Compose(mail.Address{Address: "support@example.com"}, c, &model.Exchange{Body: "hi"}, time.Now())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "In-Reply-To")
}

func TestSendReplyRetriesRateLimits(t *testing.T) {
	calls := 0
	var raw string
	s := newGmailSender(func(ctx context.Context, encoded string) error {
		calls++
		raw = encoded
		if calls < 3 {
			return &googleapi.Error{Code: http.StatusTooManyRequests, Message: "slow down"}
		}
		return nil
	}, mail.Address{Address: "support@example.com"}, 3)
	var waits []time.Duration
	s.sleep = func(d time.Duration) { waits = append(waits, d) }

	require.NoError(t, s.SendReply(context.Background(), testCase(), &model.Exchange{Body: "hi"}))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 4 * time.Second}, waits)

	decoded, err := base64.URLEncoding.DecodeString(raw)
	require.NoError(t, err)
	assert.Contains(t, string(decoded), "Re: [TKT-000001] Help")
}

func TestSendReplyStopsOnOtherErrors(t *testing.T) {
	calls := 0
	s := newGmailSender(func(ctx context.Context, encoded string) error {
		calls++
		return errors.New("invalid grant")
	}, mail.Address{Address: "support@example.com"}, 3)
	s.sleep = func(time.Duration) { t.Fatal("no backoff expected") }

	err := s.SendReply(context.Background(), testCase(), &model.Exchange{Body: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid grant")
	assert.Equal(t, 1, calls)
}

func TestNopSender(t *testing.T) {
	assert.NoError(t, NopSender{}.SendReply(context.Background(), testCase(), &model.Exchange{}))
}
