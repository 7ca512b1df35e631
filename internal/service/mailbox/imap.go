package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"helpdesk-ingest-go/internal/model"
)

const (
	defaultIMAPPort = 993
	logoutTimeout   = 2 * time.Second
)

// imapClient is the subset of *client.Client a session uses
type imapClient interface {
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	UidMove(seqset *imap.SeqSet, dest string) error
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Create(name string) error
	Logout() error
	Terminate() error
}

var _ imapClient = (*client.Client)(nil)

// IMAPOpener dials IMAP over implicit TLS
type IMAPOpener struct {
	credentials    CredentialProvider
	connectTimeout time.Duration
	commandTimeout time.Duration
}

// NewIMAPOpener creates an opener. Zero timeouts fall back to 45s for
// connect and 30s per command.
func NewIMAPOpener(credentials CredentialProvider, connectTimeout, commandTimeout time.Duration) *IMAPOpener {
	if connectTimeout <= 0 {
		connectTimeout = 45 * time.Second
	}
	if commandTimeout <= 0 {
		commandTimeout = 30 * time.Second
	}
	return &IMAPOpener{
		credentials:    credentials,
		connectTimeout: connectTimeout,
		commandTimeout: commandTimeout,
	}
}

// Open dials and authenticates a session for mb
func (o *IMAPOpener) Open(ctx context.Context, mb model.Mailbox) (Session, error) {
	port := mb.Port
	if port == 0 {
		port = defaultIMAPPort
	}
	addr := net.JoinHostPort(mb.Host, fmt.Sprint(port))

	tlsConfig := &tls.Config{ServerName: mb.Host}
	if mb.InsecureSkipVerify {
		logrus.WithField("mailbox", mb.Address).Warn("TLS certificate verification disabled for mailbox")
		tlsConfig.InsecureSkipVerify = true
	}

	creds, err := o.credentials.Credentials(ctx, mb)
	if err != nil {
		return nil, fmt.Errorf("%w: credentials: %w", ErrTransport, err)
	}

	c, err := o.dial(ctx, addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	c.Timeout = o.commandTimeout

	s := newSession(c, mb.Address, o.commandTimeout)
	err = s.run(ctx, "authenticate", func() error {
		if creds.AccessToken != "" {
			return c.Authenticate(newXOAuth2Client(creds.Username, creds.AccessToken))
		}
		return c.Login(creds.Username, creds.Password)
	})
	if err != nil {
		c.Terminate()
		return nil, err
	}

	logrus.WithField("mailbox", mb.Address).Debug("IMAP session opened")
	return s, nil
}

func (o *IMAPOpener) dial(ctx context.Context, addr string, tlsConfig *tls.Config) (*client.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, o.connectTimeout)
	defer cancel()

	type result struct {
		c   *client.Client
		err error
	}
	done := make(chan result, 1)
	go func() {
		dialer := &net.Dialer{Timeout: o.connectTimeout}
		c, err := client.DialWithDialerTLS(dialer, addr, tlsConfig)
		done <- result{c, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: connect %s: %w", ErrTransport, addr, r.err)
		}
		return r.c, nil
	case <-ctx.Done():
		go func() {
			// a late connection is closed rather than leaked
			if r := <-done; r.c != nil {
				r.c.Terminate()
			}
		}()
		return nil, fmt.Errorf("%w: connect %s: %w", ErrTransport, addr, ctx.Err())
	}
}

type imapSession struct {
	client  imapClient
	address string
	timeout time.Duration
	folders map[string]bool
}

func newSession(c imapClient, address string, timeout time.Duration) *imapSession {
	return &imapSession{
		client:  c,
		address: address,
		timeout: timeout,
		folders: make(map[string]bool),
	}
}

// run executes one blocking IMAP call under the command timeout. On timeout
// the connection is torn down so the call unblocks.
func (s *imapSession) run(ctx context.Context, op string, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
		}
		return nil
	case <-ctx.Done():
		s.client.Terminate()
		return fmt.Errorf("%w: %s: %w", ErrTransport, op, ctx.Err())
	}
}

func (s *imapSession) ListUIDs(ctx context.Context, folder, mode string) ([]uint32, error) {
	if folder == "" {
		folder = "INBOX"
	}

	var status *imap.MailboxStatus
	err := s.run(ctx, "select", func() error {
		var err error
		status, err = s.client.Select(folder, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	if status.Messages == 0 {
		return nil, nil
	}

	criteria := imap.NewSearchCriteria()
	if mode == model.SearchUnseen {
		criteria.WithoutFlags = []string{imap.SeenFlag}
	}

	var uids []uint32
	err = s.run(ctx, "search", func() error {
		var err error
		uids, err = s.client.UidSearch(criteria)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	logrus.WithFields(logrus.Fields{"mailbox": s.address, "folder": folder}).Debugf("Listed %d candidate messages", len(uids))
	return uids, nil
}

// Fetch downloads and decodes the whole message without setting \Seen
func (s *imapSession) Fetch(ctx context.Context, uid uint32) (Candidate, error) {
	section := &imap.BodySectionName{Peek: true}
	msg, err := s.fetchOne(ctx, uid, section)
	if err != nil {
		return Candidate{UID: uid, Message: InboundMessage{UID: uid}}, err
	}
	return decodeCandidate(uid, literal(msg, section)), nil
}

func (s *imapSession) MessageID(ctx context.Context, uid uint32) (string, error) {
	section := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{
			Specifier: imap.HeaderSpecifier,
			Fields:    []string{"Message-Id"},
		},
		Peek: true,
	}
	msg, err := s.fetchOne(ctx, uid, section)
	if err != nil {
		return "", err
	}
	body := literal(msg, section)
	if body == nil {
		return "", nil
	}
	return parseMessageID(body)
}

func (s *imapSession) fetchOne(ctx context.Context, uid uint32, section *imap.BodySectionName) (*imap.Message, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	var fetched *imap.Message
	err := s.run(ctx, "fetch", func() error {
		messages := make(chan *imap.Message, 1)
		done := make(chan error, 1)
		go func() {
			done <- s.client.UidFetch(seqset, items, messages)
		}()
		for msg := range messages {
			if msg.Uid == uid {
				fetched = msg
			}
		}
		return <-done
	})
	if err != nil {
		return nil, err
	}
	if fetched == nil {
		return nil, fmt.Errorf("uid %d: %w", uid, ErrExpunged)
	}
	return fetched, nil
}

// literal returns the requested section. Servers do not always echo the
// section name back verbatim, so a lone body of another name is accepted.
func literal(msg *imap.Message, section *imap.BodySectionName) imap.Literal {
	if body := msg.GetBody(section); body != nil {
		return body
	}
	if len(msg.Body) == 1 {
		for _, body := range msg.Body {
			return body
		}
	}
	return nil
}

func decodeCandidate(uid uint32, body io.Reader) Candidate {
	if body == nil {
		return Candidate{UID: uid, Message: InboundMessage{UID: uid}, Err: fmt.Errorf("%w: uid %d: empty body", ErrDecode, uid)}
	}
	msg, err := ParseMessage(uid, body)
	return Candidate{UID: uid, Message: msg, Err: err}
}

func (s *imapSession) Acknowledge(ctx context.Context, uid uint32) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	return s.run(ctx, "store", func() error {
		return s.client.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil)
	})
}

func (s *imapSession) Archive(ctx context.Context, uid uint32, target string) error {
	if err := s.ensureFolder(ctx, target); err != nil {
		return err
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	return s.run(ctx, "move", func() error {
		return s.client.UidMove(seqset, target)
	})
}

// ensureFolder creates target unless it already exists
func (s *imapSession) ensureFolder(ctx context.Context, target string) error {
	if s.folders[target] {
		return nil
	}

	exists := false
	err := s.run(ctx, "list", func() error {
		ch := make(chan *imap.MailboxInfo, 10)
		done := make(chan error, 1)
		go func() {
			done <- s.client.List("", target, ch)
		}()
		for info := range ch {
			if strings.EqualFold(info.Name, target) {
				exists = true
			}
		}
		return <-done
	})
	if err != nil {
		return err
	}

	if !exists {
		if err := s.run(ctx, "create", func() error { return s.client.Create(target) }); err != nil {
			return err
		}
		logrus.WithField("mailbox", s.address).Infof("Created folder %s", target)
	}

	s.folders[target] = true
	return nil
}

func (s *imapSession) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.client.Logout() }()

	select {
	case err := <-done:
		if err != nil {
			s.client.Terminate()
			return fmt.Errorf("%w: logout: %w", ErrTransport, err)
		}
		return nil
	case <-ctx.Done():
		s.client.Terminate()
		return nil
	}
}
