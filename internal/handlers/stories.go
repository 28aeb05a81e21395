package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"herotales-backend/internal/entitlement"
	"herotales-backend/internal/middleware"
	"herotales-backend/internal/models"
	"herotales-backend/internal/services"
	"herotales-backend/internal/status"
)

const sseHeartbeat = 15 * time.Second

type StoryService interface {
	StartGeneration(ctx context.Context, userID uuid.UUID, childID, theme string) (uuid.UUID, error)
	GetStory(ctx context.Context, userID, jobID uuid.UUID) (*models.GenerationJob, []models.GeneratedImage, error)
	ListStories(ctx context.Context, userID uuid.UUID, limit int) ([]*models.GenerationJob, error)
}

type StatusService interface {
	GetStatus(ctx context.Context, userID, jobID uuid.UUID) (models.StatusSnapshot, error)
	Watch(ctx context.Context, userID, jobID uuid.UUID) (models.StatusSnapshot, <-chan models.StatusSnapshot, func(), error)
}

type EntitlementService interface {
	CheckEntitlement(ctx context.Context, userID uuid.UUID) (entitlement.Decision, error)
}

type StoriesHandler struct {
	stories      StoryService
	status       StatusService
	entitlements EntitlementService
}

func NewStoriesHandler(stories StoryService, status StatusService, entitlements EntitlementService) *StoriesHandler {
	return &StoriesHandler{
		stories:      stories,
		status:       status,
		entitlements: entitlements,
	}
}

// Generate godoc
// @Summary     Start story generation
// @Description Creates a generation job for a child and theme and returns its id
// @Tags        stories
// @Accept      json
// @Produce     json
// @Param       request body models.GenerateStoryRequest true "Child and theme"
// @Success     202 {object} models.GenerateStoryResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     402 {object} models.ErrorResponse
// @Failure     429 {object} models.ErrorResponse
// @Security    Bearer
// @Router      /stories/generate [post]
func (h *StoriesHandler) Generate(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req models.GenerateStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request body",
			Message: err.Error(),
		})
		return
	}

	jobID, err := h.stories.StartGeneration(c.Request.Context(), userID, req.ChildID, req.Theme)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, models.GenerateStoryResponse{JobID: jobID.String()})
}

// GetStatus godoc
// @Summary     Story generation status
// @Tags        stories
// @Produce     json
// @Param       job_id path string true "Job ID"
// @Success     200 {object} models.StatusSnapshot
// @Failure     404 {object} models.ErrorResponse
// @Security    Bearer
// @Router      /stories/{job_id}/status [get]
func (h *StoriesHandler) GetStatus(c *gin.Context) {
	userID, jobID, ok := requireUserAndJob(c)
	if !ok {
		return
	}

	snap, err := h.status.GetStatus(c.Request.Context(), userID, jobID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Events streams status updates as Server-Sent Events. The current snapshot
// is sent first; the stream ends after a terminal state.
func (h *StoriesHandler) Events(c *gin.Context) {
	userID, jobID, ok := requireUserAndJob(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	last, updates, cancel, err := h.status.Watch(ctx, userID, jobID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	send := func(snap models.StatusSnapshot) {
		c.SSEvent("status", snap)
		c.Writer.Flush()
	}

	send(last)
	if last.IsComplete {
		return
	}

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(c.Writer, ": ping\n\n")
			c.Writer.Flush()
		case update, open := <-updates:
			if !open {
				// The subscription ended without a terminal update reaching
				// us; the job record has the final word.
				if final, err := h.status.GetStatus(ctx, userID, jobID); err == nil && status.Supersedes(final, last) {
					send(final)
				}
				return
			}
			if !status.Supersedes(update, last) {
				continue
			}
			send(update)
			last = update
			if update.IsComplete {
				return
			}
		}
	}
}

// GetStory godoc
// @Summary     Get a story
// @Description Returns the job with its content and persisted images
// @Tags        stories
// @Produce     json
// @Param       job_id path string true "Job ID"
// @Success     200 {object} models.StoryResponse
// @Failure     404 {object} models.ErrorResponse
// @Security    Bearer
// @Router      /stories/{job_id} [get]
func (h *StoriesHandler) GetStory(c *gin.Context) {
	userID, jobID, ok := requireUserAndJob(c)
	if !ok {
		return
	}

	job, images, err := h.stories.GetStory(c.Request.Context(), userID, jobID)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := models.StoryResponse{
		JobID:       job.ID.String(),
		ChildID:     job.ChildID.String(),
		Theme:       job.Theme,
		Status:      job.Status,
		Progress:    job.Progress,
		Title:       job.Title,
		Content:     job.Content,
		Images:      make([]models.ImageResponse, 0, len(images)),
		IsPublished: job.IsPublished,
		StartedAt:   job.StartedAt,
	}
	if job.ErrorMessage.Valid {
		msg := job.ErrorMessage.String
		resp.ErrorMessage = &msg
	}
	if job.CompletedAt.Valid {
		t := job.CompletedAt.Time
		resp.CompletedAt = &t
	}
	for _, img := range images {
		resp.Images = append(resp.Images, models.ImageResponse{
			ChapterIndex: img.ChapterIndex,
			URL:          img.PersistedURL,
			Placeholder:  img.Placeholder,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// ListStories godoc
// @Summary     List the caller's stories
// @Tags        stories
// @Produce     json
// @Param       limit query int false "Maximum number of stories" default(20)
// @Success     200 {object} models.StoryListResponse
// @Security    Bearer
// @Router      /stories [get]
func (h *StoriesHandler) ListStories(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "limit must be between 1 and 100"})
			return
		}
		limit = n
	}

	jobs, err := h.stories.ListStories(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := models.StoryListResponse{Stories: make([]models.StorySummary, 0, len(jobs))}
	for _, job := range jobs {
		resp.Stories = append(resp.Stories, models.StorySummary{
			JobID:     job.ID.String(),
			Title:     job.Title,
			Theme:     job.Theme,
			Status:    job.Status,
			Progress:  job.Progress,
			StartedAt: job.StartedAt,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// GetEntitlement godoc
// @Summary     Current story allowance
// @Tags        account
// @Produce     json
// @Success     200 {object} models.EntitlementResponse
// @Security    Bearer
// @Router      /entitlement [get]
func (h *StoriesHandler) GetEntitlement(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	d, err := h.entitlements.CheckEntitlement(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.EntitlementResponse{
		Allowed:    d.Allowed,
		Reason:     d.Reason,
		UsageCount: d.UsageCount,
		UsageLimit: d.UsageLimit,
		Period:     d.Period,
	})
}

func requireUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "user id not found"})
		return uuid.Nil, false
	}
	return userID, true
}

func requireUserAndJob(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := requireUser(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	jobID, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid job id"})
		return uuid.Nil, uuid.Nil, false
	}
	return userID, jobID, true
}

func writeError(c *gin.Context, err error) {
	var limitErr *services.LimitError
	switch {
	case errors.As(err, &limitErr):
		c.JSON(http.StatusPaymentRequired, models.ErrorResponse{
			Error:   limitErr.Error(),
			Code:    "LIMIT_EXCEEDED",
			Message: fmt.Sprintf("%d of %d stories used this month", limitErr.Decision.UsageCount, limitErr.Decision.UsageLimit),
		})
	case errors.Is(err, models.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "internal server error"})
	}
}
