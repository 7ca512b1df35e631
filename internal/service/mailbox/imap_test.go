package mailbox

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk-ingest-go/internal/model"
)

type fakeClient struct {
	mu         sync.Mutex
	messages   map[uint32]string
	fetches    []string
	folders    []string
	searched   *imap.SearchCriteria
	stored     []uint32
	moved      map[uint32]string
	created    []string
	block      chan struct{}
	terminated bool
	loggedOut  bool
}

func newFakeClient(messages map[uint32]string) *fakeClient {
	return &fakeClient{
		messages: messages,
		folders:  []string{"INBOX"},
		moved:    make(map[uint32]string),
	}
}

func (f *fakeClient) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	if f.block != nil {
		<-f.block
		return nil, errors.New("connection closed")
	}
	return &imap.MailboxStatus{Name: name, Messages: uint32(len(f.messages))}, nil
}

func (f *fakeClient) UidSearch(criteria *imap.SearchCriteria) ([]uint32, error) {
	f.searched = criteria
	// deliberately unordered
	uids := make([]uint32, 0, len(f.messages))
	for uid := range f.messages {
		uids = append(uids, uid)
	}
	return uids, nil
}

// UidFetch answers a header-fields request with the header block only and
// any other request with the whole message.
func (f *fakeClient) UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)
	headerOnly := false
	for _, item := range items {
		f.fetches = append(f.fetches, string(item))
		if strings.Contains(string(item), "HEADER.FIELDS") {
			headerOnly = true
		}
	}
	for uid, raw := range f.messages {
		if !seqset.Contains(uid) {
			continue
		}
		msg := &imap.Message{Uid: uid, Body: map[*imap.BodySectionName]imap.Literal{}}
		if headerOnly {
			if i := strings.Index(raw, "\r\n\r\n"); i >= 0 {
				raw = raw[:i+4]
			}
		}
		if raw != "" {
			msg.Body[&imap.BodySectionName{}] = bytes.NewBufferString(raw)
		}
		ch <- msg
	}
	return nil
}

func (f *fakeClient) UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error {
	for _, s := range seqset.Set {
		f.stored = append(f.stored, s.Start)
	}
	return nil
}

func (f *fakeClient) UidMove(seqset *imap.SeqSet, dest string) error {
	for _, s := range seqset.Set {
		f.moved[s.Start] = dest
	}
	return nil
}

func (f *fakeClient) List(ref, name string, ch chan *imap.MailboxInfo) error {
	defer close(ch)
	for _, folder := range f.folders {
		if folder == name {
			ch <- &imap.MailboxInfo{Name: folder}
		}
	}
	return nil
}

func (f *fakeClient) Create(name string) error {
	f.created = append(f.created, name)
	f.folders = append(f.folders, name)
	return nil
}

func (f *fakeClient) Logout() error {
	f.loggedOut = true
	return nil
}

func (f *fakeClient) Terminate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.terminated && f.block != nil {
		close(f.block)
	}
	f.terminated = true
	return nil
}

func (f *fakeClient) wasTerminated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}

const rawAlice = "From: alice@x.com\r\nSubject: Help\r\nMessage-ID: <101@x.com>\r\n\r\nbroken\r\n"
const rawBob = "From: bob@x.com\r\nSubject: Hi\r\nMessage-ID: <102@x.com>\r\n\r\nhello\r\n"

func TestListUIDsOrdersByUID(t *testing.T) {
	fc := newFakeClient(map[uint32]string{
		12: rawBob,
		3:  rawAlice,
		7:  "To: nobody\r\n\r\nno sender\r\n",
	})
	s := newSession(fc, "support@example.com", time.Second)

	uids, err := s.ListUIDs(context.Background(), "INBOX", model.SearchAll)
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 7, 12}, uids)
	assert.Empty(t, fc.searched.WithoutFlags)
	assert.Empty(t, fc.fetches, "listing downloads no message data")
}

func TestListUIDsUnseenMode(t *testing.T) {
	fc := newFakeClient(map[uint32]string{1: rawAlice})
	s := newSession(fc, "support@example.com", time.Second)

	_, err := s.ListUIDs(context.Background(), "", model.SearchUnseen)
	require.NoError(t, err)
	assert.Equal(t, []string{imap.SeenFlag}, fc.searched.WithoutFlags)
}

func TestListUIDsEmptyMailbox(t *testing.T) {
	fc := newFakeClient(map[uint32]string{})
	s := newSession(fc, "support@example.com", time.Second)

	uids, err := s.ListUIDs(context.Background(), "INBOX", model.SearchAll)
	require.NoError(t, err)
	assert.Empty(t, uids)
	assert.Nil(t, fc.searched, "search is skipped for an empty folder")
}

func TestFetchDecodesOneMessage(t *testing.T) {
	fc := newFakeClient(map[uint32]string{
		3: rawAlice,
		7: "To: nobody\r\n\r\nno sender\r\n",
	})
	s := newSession(fc, "support@example.com", time.Second)
	ctx := context.Background()

	cand, err := s.Fetch(ctx, 3)
	require.NoError(t, err)
	require.NoError(t, cand.Err)
	assert.Equal(t, uint32(3), cand.UID)
	assert.Equal(t, "alice@x.com", cand.Message.Sender)
	assert.Contains(t, cand.Message.Text, "broken")

	cand, err = s.Fetch(ctx, 7)
	require.NoError(t, err)
	assert.ErrorIs(t, cand.Err, ErrDecode)

	require.Len(t, fc.fetches, 4)
	assert.Contains(t, fc.fetches[1], "BODY.PEEK[]")
}

func TestFetchExpungedMessage(t *testing.T) {
	fc := newFakeClient(map[uint32]string{3: rawAlice})
	s := newSession(fc, "support@example.com", time.Second)

	_, err := s.Fetch(context.Background(), 4)
	assert.ErrorIs(t, err, ErrExpunged)
	assert.NotErrorIs(t, err, ErrTransport)
}

func TestMessageIDReadsHeaderOnly(t *testing.T) {
	fc := newFakeClient(map[uint32]string{3: rawAlice, 5: "From: carol@x.com\r\n\r\nno id\r\n"})
	s := newSession(fc, "support@example.com", time.Second)
	ctx := context.Background()

	id, err := s.MessageID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "101@x.com", id)
	require.Len(t, fc.fetches, 2)
	assert.Contains(t, fc.fetches[1], "HEADER.FIELDS")
	assert.Contains(t, fc.fetches[1], "PEEK")

	id, err = s.MessageID(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = s.MessageID(ctx, 8)
	assert.ErrorIs(t, err, ErrExpunged)
}

func TestMissingBodyIsDecodeError(t *testing.T) {
	fc := newFakeClient(map[uint32]string{9: ""})
	s := newSession(fc, "support@example.com", time.Second)

	cand, err := s.Fetch(context.Background(), 9)
	require.NoError(t, err)
	assert.ErrorIs(t, cand.Err, ErrDecode)
}

func TestAcknowledgeAndArchive(t *testing.T) {
	fc := newFakeClient(map[uint32]string{1: rawAlice, 2: rawBob})
	s := newSession(fc, "support@example.com", time.Second)
	ctx := context.Background()

	require.NoError(t, s.Acknowledge(ctx, 1))
	require.NoError(t, s.Archive(ctx, 1, "Processed"))
	require.NoError(t, s.Archive(ctx, 2, "Processed"))

	assert.Equal(t, []uint32{1}, fc.stored)
	assert.Equal(t, "Processed", fc.moved[1])
	assert.Equal(t, "Processed", fc.moved[2])
	assert.Equal(t, []string{"Processed"}, fc.created, "folder is created once")

	require.NoError(t, s.Close())
	assert.True(t, fc.loggedOut)
}

func TestArchiveUsesExistingFolder(t *testing.T) {
	fc := newFakeClient(map[uint32]string{1: rawAlice})
	fc.folders = append(fc.folders, "Processed")
	s := newSession(fc, "support@example.com", time.Second)

	require.NoError(t, s.Archive(context.Background(), 1, "Processed"))
	assert.Empty(t, fc.created)
}

func TestCommandTimeoutTerminatesConnection(t *testing.T) {
	fc := newFakeClient(map[uint32]string{1: rawAlice})
	fc.block = make(chan struct{})
	s := newSession(fc, "support@example.com", 50*time.Millisecond)

	_, err := s.ListUIDs(context.Background(), "INBOX", model.SearchAll)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, fc.wasTerminated())
}
