package status

import (
	"context"

	"github.com/google/uuid"

	"herotales-backend/internal/models"
)

type JobReader interface {
	GetJobForUser(ctx context.Context, jobID, userID uuid.UUID) (*models.GenerationJob, error)
}

// Service answers status reads from the job record, which is always the
// source of truth, and hands out broker subscriptions for push updates.
type Service struct {
	jobs   JobReader
	broker *Broker
}

func NewService(jobs JobReader, broker *Broker) *Service {
	return &Service{jobs: jobs, broker: broker}
}

func (s *Service) GetStatus(ctx context.Context, userID, jobID uuid.UUID) (models.StatusSnapshot, error) {
	job, err := s.jobs.GetJobForUser(ctx, jobID, userID)
	if err != nil {
		return models.StatusSnapshot{}, err
	}
	return job.Snapshot(), nil
}

// Watch returns the current snapshot and, for a live job, a stream of later
// updates. The subscription is taken before the read so no change between the
// two is missed. For a finished job the returned stream is already closed.
func (s *Service) Watch(ctx context.Context, userID, jobID uuid.UUID) (models.StatusSnapshot, <-chan models.StatusSnapshot, func(), error) {
	updates, cancel := s.broker.Subscribe(ctx, jobID)

	snap, err := s.GetStatus(ctx, userID, jobID)
	if err != nil {
		cancel()
		return models.StatusSnapshot{}, nil, func() {}, err
	}
	if snap.IsComplete {
		cancel()
	}
	return snap, updates, cancel, nil
}
