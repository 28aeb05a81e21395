package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"herotales-backend/internal/models"
	"herotales-backend/internal/storyprompt"
)

const maxRetries = 3

func clientOptions(apiKey, baseURL string) []option.RequestOption {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return opts
}

// TextClient generates structured stories with chat completions.
type TextClient struct {
	client   openaisdk.Client
	model    string
	timeout  time.Duration
	backoffs []time.Duration
}

func NewTextClient(apiKey, baseURL, model string, timeout time.Duration) *TextClient {
	return &TextClient{
		client:   openaisdk.NewClient(clientOptions(apiKey, baseURL)...),
		model:    model,
		timeout:  timeout,
		backoffs: defaultBackoffs,
	}
}

// GenerateStory asks for a five chapter story and validates the reply.
// Transport failures are retried; a malformed reply is returned as is.
func (t *TextClient) GenerateStory(ctx context.Context, brief models.Brief, theme string) (*models.StoryContent, error) {
	msgs := storyprompt.StoryPrompt(brief, theme)

	var raw string
	err := RetryWithBackoff(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()

		resp, err := t.client.Chat.Completions.New(callCtx, openaisdk.ChatCompletionNewParams{
			Model: openaisdk.ChatModel(t.model),
			Messages: []openaisdk.ChatCompletionMessageParamUnion{
				openaisdk.SystemMessage(msgs.System),
				openaisdk.UserMessage(msgs.User),
			},
		})
		if err != nil {
			return classify(err)
		}
		if len(resp.Choices) == 0 {
			return errors.New("openai: empty choices")
		}
		raw = resp.Choices[0].Message.Content
		return nil
	}, maxRetries, t.backoffs)
	if err != nil {
		return nil, fmt.Errorf("text generation: %w", err)
	}

	return storyprompt.ParseStory(raw)
}
