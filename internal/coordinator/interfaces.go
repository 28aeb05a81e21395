package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"herotales-backend/internal/models"
)

// JobStore is the durable job record and its step log.
type JobStore interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error)
	ListUnfinishedJobs(ctx context.Context) ([]*models.GenerationJob, error)
	// ClaimJob takes or renews a driver lease; false means another driver holds it.
	ClaimJob(ctx context.Context, jobID uuid.UUID, driverID string, ttl time.Duration, now time.Time) (bool, error)
	ReleaseJob(ctx context.Context, jobID uuid.UUID, driverID string) error
	AdvanceJob(ctx context.Context, jobID uuid.UUID, status models.JobStatus, progress int, at time.Time) error
	SetTitle(ctx context.Context, jobID uuid.UUID, title string, progress int, at time.Time) error
	FailJob(ctx context.Context, jobID uuid.UUID, message string, at time.Time) error
	FinalizeJob(ctx context.Context, jobID uuid.UUID, content *models.StoryContent, period string, at time.Time) error
	RecordStep(ctx context.Context, jobID uuid.UUID, step string, payload []byte, at time.Time) error
	LoadSteps(ctx context.Context, jobID uuid.UUID) (map[string][]byte, error)
	SaveImage(ctx context.Context, jobID uuid.UUID, img models.GeneratedImage, at time.Time) error
	ListImages(ctx context.Context, jobID uuid.UUID) ([]models.GeneratedImage, error)
}

type BriefLoader interface {
	LoadBrief(ctx context.Context, userID, childID uuid.UUID) (*models.Brief, error)
}

type TextGenerator interface {
	GenerateStory(ctx context.Context, brief models.Brief, theme string) (*models.StoryContent, error)
}

// ImageGenerator returns a provider URL that expires some time after the call.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// AssetStore copies image bytes into storage the service controls and returns
// a stable URL.
type AssetStore interface {
	PutImage(ctx context.Context, userID, jobID uuid.UUID, chapter int, data []byte) (string, error)
}

// Publisher receives every status mutation in the order it was applied.
type Publisher interface {
	Publish(update models.StatusSnapshot)
}

// PlaceholderFunc renders the image used for a chapter whose illustration
// could not be generated or downloaded.
type PlaceholderFunc func(ctx context.Context, chapter int) ([]byte, error)
