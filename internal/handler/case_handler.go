package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"helpdesk-ingest-go/internal/logging"
	"helpdesk-ingest-go/internal/model"
	"helpdesk-ingest-go/internal/repository"
)

// GetCases returns cases with pagination, newest first
func (h *Handlers) GetCases(c *gin.Context) {
	page, limit, offset := pagination(c)

	cases, total, err := h.repo.ListCases(c.Request.Context(), offset, limit)
	if err != nil {
		databaseError(c, "Failed to fetch cases", err)
		return
	}
	if cases == nil {
		cases = []model.Case{}
	}

	c.JSON(http.StatusOK, gin.H{
		"cases": cases,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetPriorityStats returns the number of cases per priority. With
// ?open=true completed cases are left out.
func (h *Handlers) GetPriorityStats(c *gin.Context) {
	openOnly, _ := strconv.ParseBool(c.Query("open"))

	stats, err := h.repo.PriorityStats(c.Request.Context(), openOnly)
	if err != nil {
		databaseError(c, "Failed to fetch priority stats", err)
		return
	}

	var total int64
	for _, n := range stats {
		total += n
	}

	c.JSON(http.StatusOK, PriorityStatsResponse{
		Total:        total,
		OpenOnly:     openOnly,
		Distribution: stats,
		UpdatedAt:    time.Now().UTC(),
	})
}

// GetCase returns a case with its conversation
func (h *Handlers) GetCase(c *gin.Context) {
	id, ok := parseID(c, "case")
	if !ok {
		return
	}

	found, err := h.repo.GetCase(c.Request.Context(), id, true)
	if errors.Is(err, repository.ErrNotFound) {
		notFound(c, "Case not found")
		return
	}
	if err != nil {
		databaseError(c, "Failed to fetch case", err)
		return
	}

	c.JSON(http.StatusOK, found)
}

// CreateExchange adds an agent comment to a case. Public comments are
// emailed to the requester; a delivery failure does not undo the comment.
func (h *Handlers) CreateExchange(c *gin.Context) {
	id, ok := parseID(c, "case")
	if !ok {
		return
	}

	var req ExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, err)
		return
	}

	ctx := c.Request.Context()
	found, err := h.repo.GetCase(ctx, id, false)
	if errors.Is(err, repository.ErrNotFound) {
		notFound(c, "Case not found")
		return
	}
	if err != nil {
		databaseError(c, "Failed to fetch case", err)
		return
	}

	public := true
	if req.IsPublic != nil {
		public = *req.IsPublic
	}

	exchange := model.Exchange{
		CaseID:    found.ID,
		Body:      req.Body,
		AuthorID:  req.AuthorID,
		IsPublic:  public,
		FromAgent: true,
	}
	if err := h.repo.CreateExchange(ctx, &exchange); err != nil {
		databaseError(c, "Failed to create exchange", err)
		return
	}
	h.notifier.ExchangeAdded(found, &exchange)

	emailed := false
	if public {
		emailed = h.sendReply(c, found, &exchange)
	}

	c.JSON(http.StatusCreated, ExchangeResponse{Exchange: &exchange, Emailed: emailed})
}

func (h *Handlers) sendReply(c *gin.Context, found *model.Case, exchange *model.Exchange) bool {
	result := "sent"
	err := h.sender.SendReply(c.Request.Context(), found, exchange)
	if err != nil {
		result = "failed"
		logrus.WithFields(logrus.Fields{
			"case":      found.Number,
			"requester": logging.MaskEmail(found.RequesterEmail),
		}).WithError(err).Error("Failed to email agent reply")
	}
	if h.metrics != nil {
		h.metrics.RepliesSent.WithLabelValues(result).Inc()
	}
	return err == nil
}

// UpdateCaseStatus marks a case complete or reopens it
func (h *Handlers) UpdateCaseStatus(c *gin.Context) {
	id, ok := parseID(c, "case")
	if !ok {
		return
	}

	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, err)
		return
	}

	updated, err := h.repo.SetCaseComplete(c.Request.Context(), id, *req.IsComplete)
	if errors.Is(err, repository.ErrNotFound) {
		notFound(c, "Case not found")
		return
	}
	if err != nil {
		databaseError(c, "Failed to update case status", err)
		return
	}
	h.notifier.StatusChanged(updated)

	c.JSON(http.StatusOK, updated)
}

// AssignCase sets or clears the case assignee
func (h *Handlers) AssignCase(c *gin.Context) {
	id, ok := parseID(c, "case")
	if !ok {
		return
	}

	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, err)
		return
	}

	updated, previous, err := h.repo.AssignCase(c.Request.Context(), id, req.AssigneeID)
	if errors.Is(err, repository.ErrNotFound) {
		notFound(c, "Case not found")
		return
	}
	if err != nil {
		databaseError(c, "Failed to assign case", err)
		return
	}
	h.notifier.AssignmentChanged(updated, previous)

	c.JSON(http.StatusOK, updated)
}
