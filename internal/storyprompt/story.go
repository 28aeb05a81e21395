package storyprompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"herotales-backend/internal/models"
)

const systemPrompt = `You are a children's book author. You write short, warm, age-appropriate stories with a clear moral.
Reply with a single JSON object and nothing else, using exactly this shape:
{"title": string, "theme": string, "moral": string, "chapters": [{"chapterNumber": number, "title": string, "content": string, "imagePrompt": string}]}
Write exactly 5 chapters numbered 1 to 5. Each imagePrompt describes only the scene, setting and action.
Never describe the main character's looks, hair, skin, clothes or body in an imagePrompt.`

// Messages is a system and user prompt pair for one text completion.
type Messages struct {
	System string
	User   string
}

func StoryPrompt(brief models.Brief, theme string) Messages {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a story with the theme %q.\n", theme)
	fmt.Fprintf(&b, "The hero is %s", brief.Nickname)
	if brief.Age > 0 {
		fmt.Fprintf(&b, ", age %d", brief.Age)
	}
	if g := strings.TrimSpace(brief.Gender); g != "" {
		fmt.Fprintf(&b, ", a %s", g)
	}
	b.WriteString(".\n")
	fmt.Fprintf(&b, "Set the theme field to %q.", theme)
	return Messages{System: systemPrompt, User: b.String()}
}

// ParseStory decodes a provider reply into a validated StoryContent. Markdown
// code fences around the JSON are tolerated; unknown fields are not.
func ParseStory(raw string) (*models.StoryContent, error) {
	body := stripFences(raw)
	if body == "" {
		return nil, fmt.Errorf("empty story response")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()

	var content models.StoryContent
	if err := dec.Decode(&content); err != nil {
		return nil, fmt.Errorf("malformed story response: %w", err)
	}
	if err := content.Validate(); err != nil {
		return nil, fmt.Errorf("invalid story response: %w", err)
	}
	return &content, nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
