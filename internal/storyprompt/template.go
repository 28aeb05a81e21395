// Package storyprompt builds the prompts sent to the text and image providers
// and parses the text provider's reply into a StoryContent.
package storyprompt

import (
	"fmt"
	"regexp"
	"strings"

	"herotales-backend/internal/models"
)

// CharacterTemplate describes the hero the same way for every chapter so the
// image provider draws one consistent character. It depends only on the brief.
func CharacterTemplate(brief models.Brief) string {
	subject := "child"
	switch strings.ToLower(strings.TrimSpace(brief.Gender)) {
	case "girl", "female", "f":
		subject = "girl"
	case "boy", "male", "m":
		subject = "boy"
	}

	var b strings.Builder
	if brief.Age > 0 {
		fmt.Fprintf(&b, "a %d-year-old %s", brief.Age, subject)
	} else {
		fmt.Fprintf(&b, "a young %s", subject)
	}
	if appearance := strings.TrimSpace(brief.Appearance); appearance != "" {
		fmt.Fprintf(&b, " with %s", strings.TrimSuffix(appearance, "."))
	}
	b.WriteString(", drawn as the same recurring main character in every illustration")
	return b.String()
}

const styleSuffix = "Soft watercolor children's book illustration, warm colors, friendly and gentle mood, no text."

// ScenePrompt combines the fixed character description with one chapter's
// scene and sanitizes the result.
func ScenePrompt(template, chapterPrompt string) string {
	scene := strings.TrimSpace(chapterPrompt)
	return Sanitize(fmt.Sprintf("Main character: %s. Scene: %s. %s", template, scene, styleSuffix))
}

var replacements = map[string]string{
	"fight":    "play",
	"fights":   "plays",
	"fighting": "playing",
	"battle":   "game",
	"war":      "contest",
	"attack":   "surprise",
	"kill":     "stop",
	"killing":  "stopping",
	"dead":     "sleeping",
	"death":    "rest",
	"die":      "rest",
	"blood":    "paint",
	"bloody":   "messy",
	"wound":    "scrape",
	"hurt":     "tired",
	"injured":  "tired",
	"weapon":   "tool",
	"weapons":  "tools",
	"sword":    "stick",
	"swords":   "sticks",
	"gun":      "toy",
	"guns":     "toys",
	"knife":    "spoon",
	"bomb":     "balloon",
	"monster":  "creature",
	"scary":    "silly",
	"naked":    "dressed",
	"body":     "figure",
}

var sanitizePattern = func() *regexp.Regexp {
	words := make([]string, 0, len(replacements))
	for w := range replacements {
		words = append(words, regexp.QuoteMeta(w))
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(words, "|") + `)\b`)
}()

// Sanitize replaces whole words that commonly trip image content filters with
// benign equivalents. Matching ignores case; a capitalised word stays capitalised.
func Sanitize(prompt string) string {
	return sanitizePattern.ReplaceAllStringFunc(prompt, func(word string) string {
		repl := replacements[strings.ToLower(word)]
		if word[0] >= 'A' && word[0] <= 'Z' {
			return strings.ToUpper(repl[:1]) + repl[1:]
		}
		return repl
	})
}
