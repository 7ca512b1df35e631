// Package ledger records which mailbox messages have already been ingested.
// Entries are keyed by {mailbox, remote UID} and never change once written.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"helpdesk-ingest-go/internal/model"
	"helpdesk-ingest-go/internal/repository"
)

// ErrAlreadyCommitted is returned when a key is committed a second time
var ErrAlreadyCommitted = errors.New("message already committed")

// Record is one ledger entry
type Record struct {
	MailboxID uint
	RemoteUID uint32
	MessageID string
	Outcome   string
	CaseID    *uint
}

// Ledger is the gorm-backed dedup ledger
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

// New creates a ledger over db
func New(db *gorm.DB) *Ledger {
	return &Ledger{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Seen reports whether the key has been committed
func (l *Ledger) Seen(ctx context.Context, mailboxID uint, uid uint32) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&model.ProcessedMessage{}).
		Where("mailbox_id = ? AND remote_uid = ?", mailboxID, uid).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("database error checking processed message: %w", err)
	}
	return count > 0, nil
}

// Lookup returns the entry committed for the key, or nil when there is none
func (l *Ledger) Lookup(ctx context.Context, mailboxID uint, uid uint32) (*model.ProcessedMessage, error) {
	var entry model.ProcessedMessage
	err := l.db.WithContext(ctx).
		Where("mailbox_id = ? AND remote_uid = ?", mailboxID, uid).
		Limit(1).Find(&entry).Error
	if err != nil {
		return nil, fmt.Errorf("database error loading processed message: %w", err)
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

// Commit persists rec exactly once. When tx is non-nil the insert joins that
// transaction.
func (l *Ledger) Commit(ctx context.Context, tx *gorm.DB, rec Record) error {
	db := l.db
	if tx != nil {
		db = tx
	}

	seen, err := (&Ledger{db: db}).Seen(ctx, rec.MailboxID, rec.RemoteUID)
	if err != nil {
		return err
	}
	if seen {
		return fmt.Errorf("mailbox %d uid %d: %w", rec.MailboxID, rec.RemoteUID, ErrAlreadyCommitted)
	}

	entry := model.ProcessedMessage{
		MailboxID:   rec.MailboxID,
		RemoteUID:   rec.RemoteUID,
		MessageID:   rec.MessageID,
		Outcome:     rec.Outcome,
		CaseID:      rec.CaseID,
		ProcessedAt: l.now(),
	}
	if err := db.WithContext(ctx).Create(&entry).Error; err != nil {
		if repository.IsUniqueViolation(err) {
			return fmt.Errorf("mailbox %d uid %d: %w", rec.MailboxID, rec.RemoteUID, ErrAlreadyCommitted)
		}
		return fmt.Errorf("failed to mark message as processed: %w", err)
	}
	return nil
}
