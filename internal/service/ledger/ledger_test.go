package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"helpdesk-ingest-go/internal/db/dbtest"
	"helpdesk-ingest-go/internal/model"
	"helpdesk-ingest-go/internal/repository"
)

func TestSeenAndCommit(t *testing.T) {
	l := New(dbtest.New(t))
	ctx := context.Background()

	seen, err := l.Seen(ctx, 1, 101)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, l.Commit(ctx, nil, Record{MailboxID: 1, RemoteUID: 101, Outcome: model.OutcomeCreated}))

	seen, err = l.Seen(ctx, 1, 101)
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = l.Seen(ctx, 2, 101)
	require.NoError(t, err)
	assert.False(t, seen, "keys are scoped per mailbox")
}

func TestCommitIsExactlyOnce(t *testing.T) {
	conn := dbtest.New(t)
	l := New(conn)
	ctx := context.Background()

	require.NoError(t, l.Commit(ctx, nil, Record{MailboxID: 1, RemoteUID: 7, Outcome: model.OutcomeAppended}))
	err := l.Commit(ctx, nil, Record{MailboxID: 1, RemoteUID: 7, Outcome: model.OutcomeAppended})
	assert.ErrorIs(t, err, ErrAlreadyCommitted)

	var count int64
	require.NoError(t, conn.Model(&model.ProcessedMessage{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUniqueIndexRejectsDirectDuplicate(t *testing.T) {
	conn := dbtest.New(t)
	require.NoError(t, conn.Create(&model.ProcessedMessage{MailboxID: 3, RemoteUID: 9, Outcome: model.OutcomeCreated}).Error)
	err := conn.Create(&model.ProcessedMessage{MailboxID: 3, RemoteUID: 9, Outcome: model.OutcomeCreated}).Error
	require.Error(t, err)
	assert.True(t, repository.IsUniqueViolation(err))
}

func TestCommitInsideRolledBackTransaction(t *testing.T) {
	conn := dbtest.New(t)
	l := New(conn)
	ctx := context.Background()

	boom := errors.New("effect failed")
	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := l.Commit(ctx, tx, Record{MailboxID: 1, RemoteUID: 42, Outcome: model.OutcomeCreated}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	seen, err := l.Seen(ctx, 1, 42)
	require.NoError(t, err)
	assert.False(t, seen, "rolled back commit must not mark the message seen")
}

func TestLookupReturnsCommittedEntry(t *testing.T) {
	l := New(dbtest.New(t))
	ctx := context.Background()

	entry, err := l.Lookup(ctx, 1, 5)
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, l.Commit(ctx, nil, Record{MailboxID: 1, RemoteUID: 5, MessageID: "old@x.com", Outcome: model.OutcomeCreated}))

	entry, err = l.Lookup(ctx, 1, 5)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "old@x.com", entry.MessageID)
	assert.Equal(t, model.OutcomeCreated, entry.Outcome)

	entry, err = l.Lookup(ctx, 2, 5)
	require.NoError(t, err)
	assert.Nil(t, entry)
}
