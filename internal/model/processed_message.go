package model

import "time"

// Ingest outcomes recorded in the ledger and the ingest log
const (
	OutcomeCreated     = "created"
	OutcomeAppended    = "appended"
	OutcomeDiscarded   = "discarded"
	OutcomeUndecodable = "undecodable"
	OutcomeFailed      = "failed"
)

// ProcessedMessage is an append-only ledger entry. At most one row exists per
// {mailbox, remote UID}.
type ProcessedMessage struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	MailboxID   uint      `json:"mailbox_id" gorm:"not null;uniqueIndex:idx_processed_mailbox_uid"`
	RemoteUID   uint32    `json:"remote_uid" gorm:"not null;uniqueIndex:idx_processed_mailbox_uid"`
	MessageID   string    `json:"message_id" gorm:"type:varchar(512)"`
	Outcome     string    `json:"outcome" gorm:"type:varchar(20);not null"`
	CaseID      *uint     `json:"case_id"`
	ProcessedAt time.Time `json:"processed_at"`
}

// TableName specifies the table name for ProcessedMessage
func (ProcessedMessage) TableName() string {
	return "processed_messages"
}
