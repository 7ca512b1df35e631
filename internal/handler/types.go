package handler

import (
	"time"

	"helpdesk-ingest-go/internal/model"
)

// MailboxRequest represents the request structure for creating/updating mailboxes
type MailboxRequest struct {
	Name               string `json:"name" binding:"required"`
	Address            string `json:"address" binding:"required,email"`
	Host               string `json:"host" binding:"required"`
	Port               int    `json:"port" binding:"omitempty,min=1,max=65535"`
	Username           string `json:"username"`
	Password           string `json:"password"`
	AuthType           string `json:"auth_type" binding:"omitempty,oneof=password xoauth2"`
	RefreshToken       string `json:"refresh_token"`
	Folder             string `json:"folder"`
	ArchiveFolder      string `json:"archive_folder"`
	SearchMode         string `json:"search_mode" binding:"omitempty,oneof=all unseen"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify"`
	Active             *bool  `json:"active"`
}

// MailboxResponse represents the response structure for mailboxes. Secrets
// are never returned.
type MailboxResponse struct {
	ID                 uint       `json:"id"`
	Name               string     `json:"name"`
	Address            string     `json:"address"`
	Host               string     `json:"host"`
	Port               int        `json:"port"`
	Username           string     `json:"username"`
	AuthType           string     `json:"auth_type"`
	Folder             string     `json:"folder"`
	ArchiveFolder      string     `json:"archive_folder"`
	SearchMode         string     `json:"search_mode"`
	InsecureSkipVerify bool       `json:"insecure_skip_verify"`
	Active             bool       `json:"active"`
	HealthStatus       string     `json:"health_status"`
	LastCheckedAt      *time.Time `json:"last_checked_at"`
	LastSuccessAt      *time.Time `json:"last_success_at"`
	LastError          string     `json:"last_error,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func newMailboxResponse(mb model.Mailbox) MailboxResponse {
	return MailboxResponse{
		ID:                 mb.ID,
		Name:               mb.Name,
		Address:            mb.Address,
		Host:               mb.Host,
		Port:               mb.Port,
		Username:           mb.Username,
		AuthType:           mb.AuthType,
		Folder:             mb.Folder,
		ArchiveFolder:      mb.ArchiveFolder,
		SearchMode:         mb.SearchMode,
		InsecureSkipVerify: mb.InsecureSkipVerify,
		Active:             mb.Active,
		HealthStatus:       mb.HealthStatus,
		LastCheckedAt:      mb.LastCheckedAt,
		LastSuccessAt:      mb.LastSuccessAt,
		LastError:          mb.LastError,
		CreatedAt:          mb.CreatedAt,
		UpdatedAt:          mb.UpdatedAt,
	}
}

// IngestLogResponse represents the response structure for ingest logs
type IngestLogResponse struct {
	ID        uint             `json:"id"`
	MailboxID uint             `json:"mailbox_id"`
	RemoteUID uint32           `json:"remote_uid"`
	MessageID string           `json:"message_id"`
	Status    string           `json:"status"`
	CaseID    *uint            `json:"case_id"`
	ErrorMsg  string           `json:"error_msg"`
	CreatedAt time.Time        `json:"created_at"`
	Mailbox   *MailboxResponse `json:"mailbox,omitempty"`
}

func newIngestLogResponse(entry model.IngestLog) IngestLogResponse {
	response := IngestLogResponse{
		ID:        entry.ID,
		MailboxID: entry.MailboxID,
		RemoteUID: entry.RemoteUID,
		MessageID: entry.MessageID,
		Status:    entry.Status,
		CaseID:    entry.CaseID,
		ErrorMsg:  entry.ErrorMsg,
		CreatedAt: entry.CreatedAt,
	}
	if entry.Mailbox != nil {
		mb := newMailboxResponse(*entry.Mailbox)
		response.Mailbox = &mb
	}
	return response
}

// ExchangeRequest is an agent comment on a case
type ExchangeRequest struct {
	Body     string `json:"body" binding:"required"`
	AuthorID *uint  `json:"author_id"`
	IsPublic *bool  `json:"is_public"`
}

// ExchangeResponse is the created exchange and whether it was emailed
type ExchangeResponse struct {
	Exchange *model.Exchange `json:"exchange"`
	Emailed  bool            `json:"emailed"`
}

// StatusRequest flips the completion flag of a case
type StatusRequest struct {
	IsComplete *bool `json:"is_complete" binding:"required"`
}

// AssignRequest sets or clears the assignee of a case
type AssignRequest struct {
	AssigneeID *uint `json:"assignee_id"`
}

// PriorityStatsResponse is the case count per priority
type PriorityStatsResponse struct {
	Total        int64            `json:"total"`
	OpenOnly     bool             `json:"open_only"`
	Distribution map[string]int64 `json:"distribution"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Scheduler string            `json:"scheduler"`
	Details   map[string]string `json:"details,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
