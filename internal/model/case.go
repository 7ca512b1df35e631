package model

import (
	"fmt"
	"time"
)

// Case priorities
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// CaseCounterName is the counter row used to number cases
const CaseCounterName = "case"

// Case is a support ticket
type Case struct {
	ID             uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	Number         string     `json:"number" gorm:"type:varchar(32);not null;uniqueIndex"`
	RequesterEmail string     `json:"requester_email" gorm:"type:varchar(255);not null;index:idx_cases_requester_origin"`
	Title          string     `json:"title" gorm:"type:varchar(512);not null"`
	Detail         string     `json:"detail" gorm:"type:text"`
	Priority       string     `json:"priority" gorm:"type:varchar(20);default:low"`
	IsComplete     bool       `json:"is_complete" gorm:"default:false"`
	AssigneeID     *uint      `json:"assignee_id" gorm:"index"`
	OriginToken    *string    `json:"origin_token" gorm:"type:varchar(512);uniqueIndex;index:idx_cases_requester_origin"`
	MailboxID      *uint      `json:"mailbox_id" gorm:"index"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Exchanges      []Exchange `json:"exchanges,omitempty" gorm:"foreignKey:CaseID"`
}

// TableName specifies the table name for Case
func (Case) TableName() string {
	return "cases"
}

// FormatCaseNumber renders a sequence value as a case number, e.g. TKT-000001.
func FormatCaseNumber(seq int64) string {
	return fmt.Sprintf("TKT-%06d", seq)
}
