package openai

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"herotales-backend/internal/models"
)

// MockTextClient returns a fixed five chapter story built from the brief.
type MockTextClient struct{}

func (MockTextClient) GenerateStory(ctx context.Context, brief models.Brief, theme string) (*models.StoryContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(brief.Nickname)
	if name == "" {
		name = "Our hero"
	}

	scenes := []string{
		"a quiet village square in the morning",
		"a winding forest path with tall friendly trees",
		"a sparkling river with stepping stones",
		"a hilltop meadow full of flowers",
		"a cozy home with a warm glowing window at dusk",
	}
	content := &models.StoryContent{
		Title: fmt.Sprintf("%s and the Gift of %s", name, titleCase(theme)),
		Theme: theme,
		Moral: fmt.Sprintf("Small acts of %s make the world brighter.", theme),
	}
	for i, scene := range scenes {
		content.Chapters = append(content.Chapters, models.Chapter{
			ChapterNumber: i + 1,
			Title:         fmt.Sprintf("Chapter %d", i+1),
			Content:       fmt.Sprintf("%s learns something new about %s in %s.", name, theme, scene),
			ImagePrompt:   scene,
		})
	}
	return content, content.Validate()
}

// MockImageClient hands out mock:// URLs that Fetcher renders locally.
type MockImageClient struct {
	calls atomic.Int64
}

func (m *MockImageClient) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%simage/%d", MockScheme, m.calls.Add(1)), nil
}

func titleCase(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
