package models

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChapterCount is the fixed number of chapters in every story.
const ChapterCount = 5

// PlaceholderTitle is shown until text generation produces the real title.
const PlaceholderTitle = "Generating..."

type JobStatus string

const (
	StatusPending          JobStatus = "pending"
	StatusGeneratingText   JobStatus = "generating_text"
	StatusGeneratingImages JobStatus = "generating_images"
	StatusSaving           JobStatus = "saving"
	StatusCompleted        JobStatus = "completed"
	StatusFailed           JobStatus = "failed"
)

var statusOrder = map[JobStatus]int{
	StatusPending:          0,
	StatusGeneratingText:   1,
	StatusGeneratingImages: 2,
	StatusSaving:           3,
	StatusCompleted:        4,
}

// ParseJobStatus converts a stored status value into a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(strings.TrimSpace(s))
	if _, ok := statusOrder[status]; ok || status == StatusFailed {
		return status, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Before reports whether s comes strictly earlier than other on the success path.
// Failed is not ordered against the other states.
func (s JobStatus) Before(other JobStatus) bool {
	a, okA := statusOrder[s]
	b, okB := statusOrder[other]
	return okA && okB && a < b
}

// AtOrBefore lists the live states from which a job may be set to s: s itself
// and every earlier state on the success path.
func (s JobStatus) AtOrBefore() []JobStatus {
	order, ok := statusOrder[s]
	if !ok || s.IsTerminal() {
		return nil
	}
	out := make([]JobStatus, 0, order+1)
	for _, st := range []JobStatus{StatusPending, StatusGeneratingText, StatusGeneratingImages, StatusSaving} {
		if statusOrder[st] <= order {
			out = append(out, st)
		}
	}
	return out
}

// CanTransition reports whether moving from s to next follows the pipeline:
// one step forward at a time, or straight to failed from any live state.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	return statusOrder[next] == statusOrder[s]+1
}

// GenerationJob is one story generation run.
type GenerationJob struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	ChildID      uuid.UUID
	Theme        string
	Status       JobStatus
	Progress     int
	Title        string
	Content      *StoryContent
	IsPublished  bool
	ErrorMessage sql.NullString
	StartedAt    time.Time
	CompletedAt  sql.NullTime
	UpdatedAt    time.Time
}

// NewGenerationJob builds the pending record created at request time.
func NewGenerationJob(userID, childID uuid.UUID, theme string, now time.Time) *GenerationJob {
	return &GenerationJob{
		ID:        uuid.New(),
		UserID:    userID,
		ChildID:   childID,
		Theme:     theme,
		Status:    StatusPending,
		Progress:  0,
		Title:     PlaceholderTitle,
		StartedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

// Snapshot returns the client-visible status of the job.
func (j *GenerationJob) Snapshot() StatusSnapshot {
	snap := StatusSnapshot{
		JobID:      j.ID,
		Status:     j.Status,
		Progress:   j.Progress,
		Title:      j.Title,
		IsComplete: j.Status.IsTerminal(),
	}
	if j.ErrorMessage.Valid {
		msg := j.ErrorMessage.String
		snap.ErrorMessage = &msg
	}
	return snap
}

// StoryContent is the complete structured story written at finalization.
type StoryContent struct {
	Title    string    `json:"title"`
	Theme    string    `json:"theme"`
	Chapters []Chapter `json:"chapters"`
	Moral    string    `json:"moral"`
}

type Chapter struct {
	ChapterNumber int    `json:"chapterNumber"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	ImagePrompt   string `json:"imagePrompt"`
}

// Validate enforces the five chapter contract. Missing chapter numbers are
// filled in from position; any other gap or duplicate is rejected.
func (c *StoryContent) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("story title is empty")
	}
	if len(c.Chapters) != ChapterCount {
		return fmt.Errorf("expected %d chapters, got %d", ChapterCount, len(c.Chapters))
	}
	for i := range c.Chapters {
		ch := &c.Chapters[i]
		if ch.ChapterNumber == 0 {
			ch.ChapterNumber = i + 1
		}
		if ch.ChapterNumber != i+1 {
			return fmt.Errorf("chapter %d has number %d", i+1, ch.ChapterNumber)
		}
		if strings.TrimSpace(ch.Title) == "" {
			return fmt.Errorf("chapter %d has no title", i+1)
		}
		if strings.TrimSpace(ch.Content) == "" {
			return fmt.Errorf("chapter %d has no content", i+1)
		}
		if strings.TrimSpace(ch.ImagePrompt) == "" {
			return fmt.Errorf("chapter %d has no image prompt", i+1)
		}
	}
	return nil
}

// MarshalContent encodes content for storage; nil content encodes to nil.
func MarshalContent(c *StoryContent) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

// UnmarshalContent decodes stored content; empty input yields nil.
func UnmarshalContent(data []byte) (*StoryContent, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var c StoryContent
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode story content: %w", err)
	}
	return &c, nil
}

// GeneratedImage tracks one chapter illustration from provider to storage.
type GeneratedImage struct {
	ChapterIndex int    `json:"chapterIndex"`
	ProviderURL  string `json:"providerUrl,omitempty"`
	PersistedURL string `json:"persistedUrl,omitempty"`
	Placeholder  bool   `json:"placeholder"`
}

// Brief is the structured description of a child fed to the providers.
type Brief struct {
	ChildID    uuid.UUID `json:"childId"`
	Nickname   string    `json:"nickname"`
	Age        int       `json:"age"`
	Gender     string    `json:"gender"`
	Appearance string    `json:"appearance"`
}

// Subscription is the billing state of an account.
type Subscription struct {
	UserID           uuid.UUID
	Plan             string
	Status           string
	CurrentPeriodEnd time.Time
}

// IsActive reports whether the subscription grants paid access at now.
func (s *Subscription) IsActive(now time.Time) bool {
	if s == nil {
		return false
	}
	switch s.Status {
	case "active", "trialing":
		return s.CurrentPeriodEnd.After(now)
	}
	return false
}
