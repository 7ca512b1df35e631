package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"helpdesk-ingest-go/internal/model"
	"helpdesk-ingest-go/internal/repository"
)

// GetMailboxes returns all configured mailboxes
func (h *Handlers) GetMailboxes(c *gin.Context) {
	mailboxes, err := h.repo.ListMailboxes(c.Request.Context())
	if err != nil {
		databaseError(c, "Failed to fetch mailboxes", err)
		return
	}

	responses := make([]MailboxResponse, 0, len(mailboxes))
	for _, mb := range mailboxes {
		responses = append(responses, newMailboxResponse(mb))
	}

	c.JSON(http.StatusOK, responses)
}

// GetMailbox returns a specific mailbox by ID
func (h *Handlers) GetMailbox(c *gin.Context) {
	id, ok := parseID(c, "mailbox")
	if !ok {
		return
	}

	mb, err := h.repo.GetMailbox(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		notFound(c, "Mailbox not found")
		return
	}
	if err != nil {
		databaseError(c, "Failed to fetch mailbox", err)
		return
	}

	c.JSON(http.StatusOK, newMailboxResponse(*mb))
}

// CreateMailbox registers a new mailbox for polling
func (h *Handlers) CreateMailbox(c *gin.Context) {
	var req MailboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, err)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	mb := model.Mailbox{Active: active}
	applyMailboxRequest(&mb, req)

	err := h.repo.CreateMailbox(c.Request.Context(), &mb)
	if errors.Is(err, repository.ErrDuplicate) {
		conflict(c, "A mailbox with this address already exists")
		return
	}
	if err != nil {
		databaseError(c, "Failed to create mailbox", err)
		return
	}

	logrus.WithFields(logrus.Fields{"mailbox_id": mb.ID, "name": mb.Name}).Info("Mailbox created")
	c.JSON(http.StatusCreated, newMailboxResponse(mb))
}

// UpdateMailbox updates an existing mailbox. Omitted secrets keep their
// stored values.
func (h *Handlers) UpdateMailbox(c *gin.Context) {
	id, ok := parseID(c, "mailbox")
	if !ok {
		return
	}

	var req MailboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, err)
		return
	}

	ctx := c.Request.Context()
	mb, err := h.repo.GetMailbox(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		notFound(c, "Mailbox not found")
		return
	}
	if err != nil {
		databaseError(c, "Failed to fetch mailbox", err)
		return
	}

	applyMailboxRequest(mb, req)
	if req.Active != nil {
		mb.Active = *req.Active
	}

	err = h.repo.SaveMailbox(ctx, mb)
	if errors.Is(err, repository.ErrDuplicate) {
		conflict(c, "A mailbox with this address already exists")
		return
	}
	if err != nil {
		databaseError(c, "Failed to update mailbox", err)
		return
	}

	c.JSON(http.StatusOK, newMailboxResponse(*mb))
}

// DeleteMailbox removes a mailbox, its ledger entries and its in-memory health
func (h *Handlers) DeleteMailbox(c *gin.Context) {
	id, ok := parseID(c, "mailbox")
	if !ok {
		return
	}

	err := h.repo.DeleteMailbox(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		notFound(c, "Mailbox not found")
		return
	}
	if err != nil {
		databaseError(c, "Failed to delete mailbox", err)
		return
	}
	h.orchestrator.Health().Forget(id)

	c.JSON(http.StatusOK, gin.H{"message": "Mailbox deleted successfully"})
}

// EnableMailbox resumes polling for a mailbox
func (h *Handlers) EnableMailbox(c *gin.Context) {
	h.setMailboxActive(c, true)
}

// DisableMailbox pauses polling for a mailbox
func (h *Handlers) DisableMailbox(c *gin.Context) {
	h.setMailboxActive(c, false)
}

func (h *Handlers) setMailboxActive(c *gin.Context, active bool) {
	id, ok := parseID(c, "mailbox")
	if !ok {
		return
	}

	err := h.repo.SetMailboxActive(c.Request.Context(), id, active)
	if errors.Is(err, repository.ErrNotFound) {
		notFound(c, "Mailbox not found")
		return
	}
	if err != nil {
		databaseError(c, "Failed to update mailbox", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "active": active})
}

// GetMailboxHealth returns the health tracked for every polled mailbox
func (h *Handlers) GetMailboxHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"mailboxes": h.orchestrator.HealthSnapshot(),
		"fetching":  h.orchestrator.Running(),
	})
}

func applyMailboxRequest(mb *model.Mailbox, req MailboxRequest) {
	mb.Name = req.Name
	mb.Address = req.Address
	mb.Host = req.Host
	mb.Port = req.Port
	if mb.Port == 0 {
		mb.Port = 993
	}
	mb.Username = req.Username
	mb.AuthType = req.AuthType
	if mb.AuthType == "" {
		mb.AuthType = model.AuthPassword
	}
	mb.Folder = req.Folder
	mb.ArchiveFolder = req.ArchiveFolder
	mb.SearchMode = req.SearchMode
	mb.InsecureSkipVerify = req.InsecureSkipVerify
	if req.Password != "" {
		mb.Password = req.Password
	}
	if req.RefreshToken != "" {
		mb.RefreshToken = req.RefreshToken
	}
}
