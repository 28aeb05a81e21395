package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"herotales-backend/internal/placeholder"
)

const maxImageBytes = 20 << 20

var ErrImageTooLarge = errors.New("image too large")

// MockScheme prefixes the URLs returned by MockImageClient.
const MockScheme = "mock://"

// Fetcher downloads provider images before their URLs expire.
// Downloads larger than maxBytes fail rather than being cut off.
type Fetcher struct {
	httpClient *http.Client
	maxBytes   int
}

func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{httpClient: &http.Client{Timeout: timeout}, maxBytes: maxImageBytes}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if strings.HasPrefix(url, MockScheme) {
		return fetchMock(url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("failed to download image: status %d, body: %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(f.maxBytes)+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(data) > f.maxBytes {
		return nil, fmt.Errorf("image exceeds %d bytes: %w", f.maxBytes, ErrImageTooLarge)
	}
	return data, nil
}

// fetchMock renders mock://image/{n} locally.
func fetchMock(url string) ([]byte, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(url, MockScheme+"image/"))
	if err != nil {
		return nil, fmt.Errorf("invalid mock image url %q", url)
	}
	return placeholder.Card("Mock illustration", fmt.Sprintf("#%d", n))
}
