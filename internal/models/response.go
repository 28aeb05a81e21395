package models

import (
	"time"

	"github.com/google/uuid"
)

// StatusSnapshot is the Status Channel contract observed by clients.
type StatusSnapshot struct {
	JobID        uuid.UUID `json:"jobId"`
	Status       JobStatus `json:"status"`
	Progress     int       `json:"progress"`
	ErrorMessage *string   `json:"errorMessage"`
	Title        string    `json:"title"`
	IsComplete   bool      `json:"isComplete"`
}

type GenerateStoryResponse struct {
	JobID string `json:"jobId"`
}

type StoryResponse struct {
	JobID        string          `json:"jobId"`
	ChildID      string          `json:"childId"`
	Theme        string          `json:"theme"`
	Status       JobStatus       `json:"status"`
	Progress     int             `json:"progress"`
	Title        string          `json:"title"`
	Content      *StoryContent   `json:"content"`
	Images       []ImageResponse `json:"images"`
	ErrorMessage *string         `json:"errorMessage"`
	IsPublished  bool            `json:"isPublished"`
	StartedAt    time.Time       `json:"startedAt"`
	CompletedAt  *time.Time      `json:"completedAt"`
}

type ImageResponse struct {
	ChapterIndex int    `json:"chapterIndex"`
	URL          string `json:"url"`
	Placeholder  bool   `json:"placeholder"`
}

type StoryListResponse struct {
	Stories []StorySummary `json:"stories"`
}

type StorySummary struct {
	JobID     string    `json:"jobId"`
	Title     string    `json:"title"`
	Theme     string    `json:"theme"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"`
	StartedAt time.Time `json:"startedAt"`
}

type EntitlementResponse struct {
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason,omitempty"`
	UsageCount int    `json:"usageCount"`
	UsageLimit int    `json:"usageLimit"`
	Period     string `json:"period"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
