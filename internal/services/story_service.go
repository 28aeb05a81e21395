package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"herotales-backend/internal/entitlement"
	"herotales-backend/internal/models"
)

const maxThemeLength = 100

type StoryStore interface {
	CreateJob(ctx context.Context, job *models.GenerationJob) error
	GetJobForUser(ctx context.Context, jobID, userID uuid.UUID) (*models.GenerationJob, error)
	ListJobs(ctx context.Context, userID uuid.UUID, limit int) ([]*models.GenerationJob, error)
	ListImages(ctx context.Context, jobID uuid.UUID) ([]models.GeneratedImage, error)
}

type EntitlementChecker interface {
	CheckEntitlement(ctx context.Context, userID uuid.UUID) (entitlement.Decision, error)
}

// JobSubmitter hands a created job to the coordinator.
type JobSubmitter interface {
	Submit(jobID uuid.UUID) bool
}

// LimitError is returned when the account may not start another story.
type LimitError struct {
	Decision entitlement.Decision
}

func (e *LimitError) Error() string {
	return e.Decision.Reason
}

func (e *LimitError) Unwrap() error {
	return models.ErrLimitExceeded
}

type StoryService struct {
	store        StoryStore
	entitlements EntitlementChecker
	submitter    JobSubmitter
	logger       zerolog.Logger
	now          func() time.Time
}

func NewStoryService(store StoryStore, entitlements EntitlementChecker, submitter JobSubmitter, logger zerolog.Logger) *StoryService {
	return &StoryService{
		store:        store,
		entitlements: entitlements,
		submitter:    submitter,
		logger:       logger.With().Str("component", "story_service").Logger(),
		now:          time.Now,
	}
}

// StartGeneration validates the request, checks entitlement, creates the
// pending job and queues it. Nothing is written when validation or
// entitlement rejects the request.
func (s *StoryService) StartGeneration(ctx context.Context, userID uuid.UUID, childID, theme string) (uuid.UUID, error) {
	child, err := uuid.Parse(strings.TrimSpace(childID))
	if err != nil {
		return uuid.Nil, fmt.Errorf("childId must be a valid UUID: %w", models.ErrInvalidInput)
	}
	theme = strings.TrimSpace(theme)
	if theme == "" {
		return uuid.Nil, fmt.Errorf("theme is required: %w", models.ErrInvalidInput)
	}
	if utf8.RuneCountInString(theme) > maxThemeLength {
		return uuid.Nil, fmt.Errorf("theme must be at most %d characters: %w", maxThemeLength, models.ErrInvalidInput)
	}

	decision, err := s.entitlements.CheckEntitlement(ctx, userID)
	if err != nil {
		return uuid.Nil, err
	}
	if !decision.Allowed {
		return uuid.Nil, &LimitError{Decision: decision}
	}

	job := models.NewGenerationJob(userID, child, theme, s.now())
	if err := s.store.CreateJob(ctx, job); err != nil {
		return uuid.Nil, err
	}

	if !s.submitter.Submit(job.ID) {
		// The job stays pending and is picked up by the next resume.
		s.logger.Warn().Str("job_id", job.ID.String()).Msg("coordinator not accepting jobs, left pending")
	}

	s.logger.Info().
		Str("job_id", job.ID.String()).
		Str("user_id", userID.String()).
		Str("child_id", child.String()).
		Int("usage_count", decision.UsageCount).
		Msg("story generation started")
	return job.ID, nil
}

// GetStory returns the job with its persisted images.
func (s *StoryService) GetStory(ctx context.Context, userID, jobID uuid.UUID) (*models.GenerationJob, []models.GeneratedImage, error) {
	job, err := s.store.GetJobForUser(ctx, jobID, userID)
	if err != nil {
		return nil, nil, err
	}
	images, err := s.store.ListImages(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	return job, images, nil
}

func (s *StoryService) ListStories(ctx context.Context, userID uuid.UUID, limit int) ([]*models.GenerationJob, error) {
	if userID == uuid.Nil {
		return nil, errors.New("user id is required")
	}
	return s.store.ListJobs(ctx, userID, limit)
}
