package models_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herotales-backend/internal/models"
)

func validStory() *models.StoryContent {
	c := &models.StoryContent{Title: "Mira and the Lantern", Theme: "kindness", Moral: "Share your light."}
	for i := 0; i < models.ChapterCount; i++ {
		c.Chapters = append(c.Chapters, models.Chapter{
			Title:       "Chapter",
			Content:     "Once upon a time.",
			ImagePrompt: "a lantern glowing in a quiet forest",
		})
	}
	return c
}

func TestJobStatus_CanTransition(t *testing.T) {
	assert.True(t, models.StatusPending.CanTransition(models.StatusGeneratingText))
	assert.True(t, models.StatusGeneratingText.CanTransition(models.StatusGeneratingImages))
	assert.True(t, models.StatusSaving.CanTransition(models.StatusCompleted))
	assert.True(t, models.StatusGeneratingImages.CanTransition(models.StatusFailed))

	assert.False(t, models.StatusPending.CanTransition(models.StatusSaving), "skipping states")
	assert.False(t, models.StatusSaving.CanTransition(models.StatusGeneratingText), "backwards")
	assert.False(t, models.StatusCompleted.CanTransition(models.StatusFailed), "terminal")
	assert.False(t, models.StatusFailed.CanTransition(models.StatusCompleted), "terminal")
}

func TestJobStatus_Before(t *testing.T) {
	assert.True(t, models.StatusPending.Before(models.StatusCompleted))
	assert.False(t, models.StatusSaving.Before(models.StatusSaving))
	assert.False(t, models.StatusFailed.Before(models.StatusCompleted))
}

func TestParseJobStatus(t *testing.T) {
	s, err := models.ParseJobStatus("generating_images")
	require.NoError(t, err)
	assert.Equal(t, models.StatusGeneratingImages, s)

	_, err = models.ParseJobStatus("running")
	assert.Error(t, err)
}

func TestStoryContent_Validate(t *testing.T) {
	c := validStory()
	require.NoError(t, c.Validate())
	for i, ch := range c.Chapters {
		assert.Equal(t, i+1, ch.ChapterNumber)
	}

	short := validStory()
	short.Chapters = short.Chapters[:4]
	assert.ErrorContains(t, short.Validate(), "expected 5 chapters")

	noPrompt := validStory()
	noPrompt.Chapters[2].ImagePrompt = "  "
	assert.ErrorContains(t, noPrompt.Validate(), "chapter 3 has no image prompt")

	shuffled := validStory()
	shuffled.Chapters[0].ChapterNumber = 2
	assert.Error(t, shuffled.Validate())
}

func TestGenerationJob_Snapshot(t *testing.T) {
	job := models.NewGenerationJob(uuid.New(), uuid.New(), "kindness", time.Now())
	snap := job.Snapshot()
	assert.Equal(t, models.StatusPending, snap.Status)
	assert.Equal(t, models.PlaceholderTitle, snap.Title)
	assert.Nil(t, snap.ErrorMessage)
	assert.False(t, snap.IsComplete)

	job.Status = models.StatusFailed
	job.ErrorMessage.String, job.ErrorMessage.Valid = "boom", true
	snap = job.Snapshot()
	require.NotNil(t, snap.ErrorMessage)
	assert.Equal(t, "boom", *snap.ErrorMessage)
	assert.True(t, snap.IsComplete)
}

func TestSubscription_IsActive(t *testing.T) {
	now := time.Now()
	sub := &models.Subscription{Status: "active", CurrentPeriodEnd: now.Add(time.Hour)}
	assert.True(t, sub.IsActive(now))
	sub.CurrentPeriodEnd = now.Add(-time.Hour)
	assert.False(t, sub.IsActive(now))
	var none *models.Subscription
	assert.False(t, none.IsActive(now))
}
