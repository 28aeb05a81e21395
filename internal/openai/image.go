package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	openaisdk "github.com/openai/openai-go"
)

// ImageClient generates one illustration per call and returns the provider's
// temporary URL.
type ImageClient struct {
	client   openaisdk.Client
	model    string
	size     string
	timeout  time.Duration
	backoffs []time.Duration
}

func NewImageClient(apiKey, baseURL, model, size string, timeout time.Duration) *ImageClient {
	return &ImageClient{
		client:   openaisdk.NewClient(clientOptions(apiKey, baseURL)...),
		model:    model,
		size:     size,
		timeout:  timeout,
		backoffs: defaultBackoffs,
	}
}

func (c *ImageClient) GenerateImage(ctx context.Context, prompt string) (string, error) {
	var url string
	err := RetryWithBackoff(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.client.Images.Generate(callCtx, openaisdk.ImageGenerateParams{
			Prompt:         prompt,
			Model:          openaisdk.ImageModel(c.model),
			N:              openaisdk.Int(1),
			Size:           openaisdk.ImageGenerateParamsSize(c.size),
			ResponseFormat: openaisdk.ImageGenerateParamsResponseFormatURL,
		})
		if err != nil {
			return classify(err)
		}
		if len(resp.Data) == 0 || resp.Data[0].URL == "" {
			return errors.New("openai: empty image response")
		}
		url = resp.Data[0].URL
		return nil
	}, maxRetries, c.backoffs)
	if err != nil {
		return "", fmt.Errorf("image generation: %w", err)
	}
	return url, nil
}
