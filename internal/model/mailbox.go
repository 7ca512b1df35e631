package model

import "time"

// Mailbox auth types
const (
	AuthPassword = "password"
	AuthXOAuth2  = "xoauth2"
)

// Mailbox search modes
const (
	SearchAll    = "all"
	SearchUnseen = "unseen"
)

// Mailbox health statuses
const (
	HealthUnknown  = "unknown"
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthFailed   = "failed"
)

// Mailbox is an external mailbox polled for inbound support mail, together
// with its last recorded health.
type Mailbox struct {
	ID                 uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	Name               string     `json:"name" gorm:"type:varchar(255);not null"`
	Address            string     `json:"address" gorm:"type:varchar(255);not null;uniqueIndex"`
	Host               string     `json:"host" gorm:"type:varchar(255);not null"`
	Port               int        `json:"port" gorm:"default:993"`
	Username           string     `json:"username" gorm:"type:varchar(255)"`
	Password           string     `json:"-" gorm:"type:varchar(255)"`
	AuthType           string     `json:"auth_type" gorm:"type:varchar(20);default:password"`
	RefreshToken       string     `json:"-" gorm:"type:text"`
	Folder             string     `json:"folder" gorm:"type:varchar(255)"`
	ArchiveFolder      string     `json:"archive_folder" gorm:"type:varchar(255)"`
	SearchMode         string     `json:"search_mode" gorm:"type:varchar(20)"`
	InsecureSkipVerify bool       `json:"insecure_skip_verify" gorm:"default:false"`
	Active             bool       `json:"active" gorm:"index"`
	HealthStatus       string     `json:"health_status" gorm:"type:varchar(20);default:unknown"`
	LastCheckedAt      *time.Time `json:"last_checked_at"`
	LastSuccessAt      *time.Time `json:"last_success_at"`
	LastFailureAt      *time.Time `json:"last_failure_at"`
	LastError          string     `json:"last_error" gorm:"type:text"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// TableName specifies the table name for Mailbox
func (Mailbox) TableName() string {
	return "mailboxes"
}

// LoginName returns the IMAP login, defaulting to the mailbox address.
func (m Mailbox) LoginName() string {
	if m.Username != "" {
		return m.Username
	}
	return m.Address
}
