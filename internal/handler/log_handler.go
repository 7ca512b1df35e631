package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"helpdesk-ingest-go/internal/repository"
)

// GetIngestLogs returns ingest logs with pagination
func (h *Handlers) GetIngestLogs(c *gin.Context) {
	page, limit, offset := pagination(c)

	logs, total, err := h.repo.ListIngestLogs(c.Request.Context(), offset, limit)
	if err != nil {
		databaseError(c, "Failed to fetch ingest logs", err)
		return
	}

	responses := make([]IngestLogResponse, 0, len(logs))
	for _, entry := range logs {
		responses = append(responses, newIngestLogResponse(entry))
	}

	c.JSON(http.StatusOK, gin.H{
		"logs": responses,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetIngestLog returns a specific ingest log by ID
func (h *Handlers) GetIngestLog(c *gin.Context) {
	id, ok := parseID(c, "log")
	if !ok {
		return
	}

	entry, err := h.repo.GetIngestLog(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		notFound(c, "Log not found")
		return
	}
	if err != nil {
		databaseError(c, "Failed to fetch log", err)
		return
	}

	c.JSON(http.StatusOK, newIngestLogResponse(*entry))
}
