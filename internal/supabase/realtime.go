package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"herotales-backend/internal/models"
)

const realtimeQueueSize = 256

// RealtimeClient forwards status updates to Supabase Realtime broadcast so
// browser clients subscribed to story:{job_id} see them. Updates are sent by
// a single goroutine in the order they were forwarded.
type RealtimeClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger

	mu      sync.Mutex
	closed  bool
	queue   chan models.StatusSnapshot
	stopped chan struct{}
}

func NewRealtimeClient(supabaseURL, serviceKey string, logger zerolog.Logger) *RealtimeClient {
	r := &RealtimeClient{
		endpoint:   trimBaseURL(supabaseURL) + "/realtime/v1/api/broadcast",
		apiKey:     serviceKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With().Str("component", "realtime").Logger(),
		queue:      make(chan models.StatusSnapshot, realtimeQueueSize),
		stopped:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Forward queues an update. When the queue is full the update is dropped;
// the job row stays the source of truth for pollers.
func (r *RealtimeClient) Forward(update models.StatusSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- update:
	default:
		r.logger.Warn().Str("job_id", update.JobID.String()).Msg("realtime queue full, dropping update")
	}
}

// Close drains queued updates and stops the sender.
func (r *RealtimeClient) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.stopped
}

func (r *RealtimeClient) run() {
	defer close(r.stopped)
	for update := range r.queue {
		if err := r.PublishStoryEvent(context.Background(), update.JobID, "status", StatusPayload(update)); err != nil {
			r.logger.Warn().Err(err).Str("job_id", update.JobID.String()).Msg("failed to broadcast status")
		}
	}
}

func (r *RealtimeClient) PublishEvent(ctx context.Context, topic string, event string, payload map[string]interface{}) error {
	body, err := json.Marshal(map[string]interface{}{
		"messages": []map[string]interface{}{
			{"topic": topic, "event": event, "payload": payload},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to encode broadcast: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", r.apiKey)
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send broadcast: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("broadcast rejected with status %d", resp.StatusCode)
	}
	return nil
}

func (r *RealtimeClient) PublishStoryEvent(ctx context.Context, jobID uuid.UUID, event string, payload map[string]interface{}) error {
	topic := fmt.Sprintf("story:%s", jobID.String())
	return r.PublishEvent(ctx, topic, event, payload)
}

// StatusPayload is the broadcast body for one status update.
func StatusPayload(update models.StatusSnapshot) map[string]interface{} {
	payload := map[string]interface{}{
		"job_id":      update.JobID.String(),
		"status":      string(update.Status),
		"progress":    update.Progress,
		"title":       update.Title,
		"is_complete": update.IsComplete,
	}
	if update.ErrorMessage != nil {
		payload["error"] = *update.ErrorMessage
	}
	return payload
}
