package model

import "time"

// IngestLog records one attempt at ingesting a mailbox message
type IngestLog struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	MailboxID uint      `json:"mailbox_id" gorm:"not null;index"`
	RemoteUID uint32    `json:"remote_uid"`
	MessageID string    `json:"message_id" gorm:"type:varchar(512);index"`
	Status    string    `json:"status" gorm:"type:varchar(20);not null"`
	CaseID    *uint     `json:"case_id" gorm:"index"`
	ErrorMsg  string    `json:"error_msg" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`

	Mailbox *Mailbox `json:"mailbox,omitempty" gorm:"foreignKey:MailboxID"`
}

// TableName specifies the table name for IngestLog
func (IngestLog) TableName() string {
	return "ingest_logs"
}
