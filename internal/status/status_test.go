package status

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herotales-backend/internal/models"
)

func snap(jobID uuid.UUID, status models.JobStatus, progress int) models.StatusSnapshot {
	return models.StatusSnapshot{JobID: jobID, Status: status, Progress: progress, IsComplete: status.IsTerminal()}
}

func drain(ch <-chan models.StatusSnapshot) []models.StatusSnapshot {
	var out []models.StatusSnapshot
	for u := range ch {
		out = append(out, u)
	}
	return out
}

type recordingForwarder struct {
	mu      sync.Mutex
	updates []models.StatusSnapshot
}

func (r *recordingForwarder) Forward(update models.StatusSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

func TestBroker_DeliversInOrderAndClosesOnTerminal(t *testing.T) {
	fwd := &recordingForwarder{}
	b := NewBroker(8, fwd)
	jobID := uuid.New()
	ch, cancel := b.Subscribe(context.Background(), jobID)
	defer cancel()

	b.Publish(snap(jobID, models.StatusGeneratingText, 10))
	b.Publish(snap(uuid.New(), models.StatusGeneratingText, 10))
	b.Publish(snap(jobID, models.StatusGeneratingText, 30))
	b.Publish(snap(jobID, models.StatusCompleted, 100))

	got := drain(ch)
	require.Len(t, got, 3)
	assert.Equal(t, 10, got[0].Progress)
	assert.Equal(t, 30, got[1].Progress)
	assert.True(t, got[2].IsComplete)
	assert.Zero(t, b.Subscribers(jobID))
	assert.Len(t, fwd.updates, 4)
}

func TestBroker_SlowSubscriberKeepsNewest(t *testing.T) {
	b := NewBroker(2)
	jobID := uuid.New()
	ch, cancel := b.Subscribe(context.Background(), jobID)
	defer cancel()

	for p := 35; p <= 75; p += 8 {
		b.Publish(snap(jobID, models.StatusGeneratingImages, p))
	}
	b.Publish(snap(jobID, models.StatusFailed, 75))

	got := drain(ch)
	require.Len(t, got, 2)
	assert.Equal(t, 75, got[0].Progress)
	assert.Equal(t, models.StatusFailed, got[1].Status)
	assert.True(t, got[1].IsComplete)
}

func TestBroker_ContextEndsSubscription(t *testing.T) {
	b := NewBroker(4)
	jobID := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	ch, unsubscribe := b.Subscribe(ctx, jobID)
	defer unsubscribe()

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	assert.Zero(t, b.Subscribers(jobID))

	b.Publish(snap(jobID, models.StatusSaving, 80))
	unsubscribe()
}

func TestBroker_ClosedSubscriptionsReleaseWatchers(t *testing.T) {
	b := NewBroker(4)
	jobID := uuid.New()
	before := runtime.NumGoroutine()

	for i := 0; i < 50; i++ {
		_, unsubscribe := b.Subscribe(context.Background(), jobID)
		unsubscribe()
	}
	for i := 0; i < 50; i++ {
		_, unsubscribe := b.Subscribe(context.Background(), uuid.New())
		defer unsubscribe()
	}
	finished := uuid.New()
	for i := 0; i < 50; i++ {
		b.Subscribe(context.Background(), finished)
	}
	b.Publish(snap(finished, models.StatusCompleted, 100))

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+50
	}, time.Second, 10*time.Millisecond, "only the 50 open subscriptions keep a watcher")
	assert.Zero(t, b.Subscribers(jobID))
	assert.Zero(t, b.Subscribers(finished))
}

func TestSupersedes(t *testing.T) {
	jobID := uuid.New()
	text10 := snap(jobID, models.StatusGeneratingText, 10)
	text30 := snap(jobID, models.StatusGeneratingText, 30)
	titled := text30
	titled.Title = "Mira"

	assert.True(t, Supersedes(text30, text10))
	assert.False(t, Supersedes(text10, text30))
	assert.False(t, Supersedes(text30, text30))
	assert.True(t, Supersedes(titled, text30))
	assert.True(t, Supersedes(snap(jobID, models.StatusFailed, 10), text30))
	assert.False(t, Supersedes(text30, snap(jobID, models.StatusCompleted, 100)))
}

type fakeJobs map[uuid.UUID]*models.GenerationJob

func (f fakeJobs) GetJobForUser(_ context.Context, jobID, userID uuid.UUID) (*models.GenerationJob, error) {
	job, ok := f[jobID]
	if !ok || job.UserID != userID {
		return nil, models.ErrNotFound
	}
	return job, nil
}

func TestService_GetStatus(t *testing.T) {
	userID := uuid.New()
	job := models.NewGenerationJob(userID, uuid.New(), "kindness", time.Now())
	job.Status = models.StatusFailed
	job.Progress = 35
	job.ErrorMessage.String, job.ErrorMessage.Valid = "story generation failed: timeout", true

	s := NewService(fakeJobs{job.ID: job}, NewBroker(4))
	got, err := s.GetStatus(context.Background(), userID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 35, got.Progress)
	assert.True(t, got.IsComplete)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "story generation failed: timeout", *got.ErrorMessage)

	_, err = s.GetStatus(context.Background(), uuid.New(), job.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestService_Watch(t *testing.T) {
	userID := uuid.New()
	job := models.NewGenerationJob(userID, uuid.New(), "kindness", time.Now())
	broker := NewBroker(4)
	s := NewService(fakeJobs{job.ID: job}, broker)

	first, updates, cancel, err := s.Watch(context.Background(), userID, job.ID)
	require.NoError(t, err)
	defer cancel()
	assert.Equal(t, models.StatusPending, first.Status)
	assert.False(t, first.IsComplete)

	broker.Publish(snap(job.ID, models.StatusCompleted, 100))
	got := drain(updates)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsComplete)

	job.Status = models.StatusCompleted
	done, updates, cancel2, err := s.Watch(context.Background(), userID, job.ID)
	require.NoError(t, err)
	defer cancel2()
	assert.True(t, done.IsComplete)
	assert.Empty(t, drain(updates))
}
