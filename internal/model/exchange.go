package model

import "time"

// Exchange is one entry in a case conversation. Exchanges are never updated.
type Exchange struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	CaseID       uint      `json:"case_id" gorm:"not null;index:idx_exchanges_case_created"`
	Body         string    `json:"body" gorm:"type:text"`
	AuthorID     *uint     `json:"author_id"`
	IsEmailReply bool      `json:"is_email_reply" gorm:"default:false"`
	IsPublic     bool      `json:"is_public"`
	FromAgent    bool      `json:"from_agent" gorm:"default:false"`
	ReplyEmail   string    `json:"reply_email" gorm:"type:varchar(255)"`
	CreatedAt    time.Time `json:"created_at" gorm:"index:idx_exchanges_case_created"`
}

// TableName specifies the table name for Exchange
func (Exchange) TableName() string {
	return "exchanges"
}
