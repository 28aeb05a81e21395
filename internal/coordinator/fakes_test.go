package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"herotales-backend/internal/models"
)

type memStore struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]*models.GenerationJob
	steps       map[uuid.UUID]map[string][]byte
	images      map[uuid.UUID]map[int]models.GeneratedImage
	usage       map[string]int
	finalizeErr error
	finalized   int
	failWrites  int
	violations  []string
	leases      map[uuid.UUID]lease
	claims      int
}

type lease struct {
	driver string
	until  time.Time
}

func newMemStore() *memStore {
	return &memStore{
		jobs:   make(map[uuid.UUID]*models.GenerationJob),
		steps:  make(map[uuid.UUID]map[string][]byte),
		images: make(map[uuid.UUID]map[int]models.GeneratedImage),
		usage:  make(map[string]int),
		leases: make(map[uuid.UUID]lease),
	}
}

func (m *memStore) holder(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leases[id].driver
}

func (m *memStore) setLease(id uuid.UUID, driver string, until time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leases[id] = lease{driver: driver, until: until}
}

func (m *memStore) put(job *models.GenerationJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
}

func (m *memStore) job(id uuid.UUID) models.GenerationJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memStore) usageFor(userID uuid.UUID, period string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage[userID.String()+"|"+period]
}

func (m *memStore) live(id uuid.UUID) (*models.GenerationJob, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return nil, models.ErrTerminal
	}
	return job, nil
}

func (m *memStore) GetJob(_ context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memStore) ListUnfinishedJobs(_ context.Context) ([]*models.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.GenerationJob
	for _, job := range m.jobs {
		if !job.Status.IsTerminal() {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) AdvanceJob(_ context.Context, id uuid.UUID, status models.JobStatus, progress int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.live(id)
	if err != nil {
		return err
	}
	if status.Before(job.Status) {
		m.violations = append(m.violations, fmt.Sprintf("status %s -> %s", job.Status, status))
		return models.ErrStaleState
	}
	job.Status = status
	if progress > job.Progress {
		job.Progress = progress
	}
	job.UpdatedAt = at
	return nil
}

func (m *memStore) ClaimJob(_ context.Context, id uuid.UUID, driverID string, ttl time.Duration, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.live(id); err != nil {
		return false, err
	}
	m.claims++
	cur, held := m.leases[id]
	if held && cur.driver != driverID && now.Before(cur.until) {
		return false, nil
	}
	m.leases[id] = lease{driver: driverID, until: now.Add(ttl)}
	return true, nil
}

func (m *memStore) ReleaseJob(_ context.Context, id uuid.UUID, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leases[id].driver == driverID {
		delete(m.leases, id)
	}
	return nil
}

func (m *memStore) claimCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claims
}

func (m *memStore) SetTitle(_ context.Context, id uuid.UUID, title string, progress int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.live(id)
	if err != nil {
		return err
	}
	job.Title = title
	if progress > job.Progress {
		job.Progress = progress
	}
	job.UpdatedAt = at
	return nil
}

func (m *memStore) FailJob(_ context.Context, id uuid.UUID, message string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.live(id)
	if err != nil {
		return err
	}
	m.failWrites++
	job.Status = models.StatusFailed
	job.ErrorMessage.String, job.ErrorMessage.Valid = message, true
	job.CompletedAt.Time, job.CompletedAt.Valid = at, true
	return nil
}

func (m *memStore) FinalizeJob(_ context.Context, id uuid.UUID, content *models.StoryContent, period string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalizeErr != nil {
		return m.finalizeErr
	}
	job, err := m.live(id)
	if err != nil {
		return err
	}
	m.finalized++
	job.Content = content
	job.Title = content.Title
	job.IsPublished = true
	job.Status = models.StatusCompleted
	job.Progress = 100
	job.CompletedAt.Time, job.CompletedAt.Valid = at, true
	m.usage[job.UserID.String()+"|"+period]++
	return nil
}

func (m *memStore) RecordStep(_ context.Context, id uuid.UUID, step string, payload []byte, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.steps[id] == nil {
		m.steps[id] = make(map[string][]byte)
	}
	if _, ok := m.steps[id][step]; !ok {
		m.steps[id][step] = payload
	}
	return nil
}

func (m *memStore) LoadSteps(_ context.Context, id uuid.UUID) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte)
	for k, v := range m.steps[id] {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) SaveImage(_ context.Context, id uuid.UUID, img models.GeneratedImage, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.images[id] == nil {
		m.images[id] = make(map[int]models.GeneratedImage)
	}
	if _, ok := m.images[id][img.ChapterIndex]; !ok {
		m.images[id][img.ChapterIndex] = img
	}
	return nil
}

func (m *memStore) ListImages(_ context.Context, id uuid.UUID) ([]models.GeneratedImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.GeneratedImage
	for i := 1; i <= models.ChapterCount; i++ {
		if img, ok := m.images[id][i]; ok {
			out = append(out, img)
		}
	}
	return out, nil
}

type fakeBriefs struct {
	owner  uuid.UUID
	briefs map[uuid.UUID]models.Brief
}

func (f *fakeBriefs) LoadBrief(_ context.Context, userID, childID uuid.UUID) (*models.Brief, error) {
	brief, ok := f.briefs[childID]
	if !ok || userID != f.owner {
		return nil, fmt.Errorf("child %s: %w", childID, models.ErrNotFound)
	}
	return &brief, nil
}

type fakeText struct {
	calls atomic.Int32
	fn    func(ctx context.Context, brief models.Brief, theme string) (*models.StoryContent, error)
}

func (f *fakeText) GenerateStory(ctx context.Context, brief models.Brief, theme string) (*models.StoryContent, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, brief, theme)
	}
	return story(theme, models.ChapterCount), nil
}

type fakeImages struct {
	mu      sync.Mutex
	prompts []string
	fail    map[int]error
}

func (f *fakeImages) GenerateImage(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	n := len(f.prompts)
	if err := f.fail[n]; err != nil {
		return "", err
	}
	return fmt.Sprintf("https://provider.test/tmp/%d.png", n), nil
}

func (f *fakeImages) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fakeFetcher struct {
	fail map[string]bool
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	if f.fail[url] {
		return nil, fmt.Errorf("download %s: status 403", url)
	}
	return []byte(url), nil
}

type fakeAssets struct {
	mu       sync.Mutex
	puts     int
	err      error
	uploaded map[int][]byte
}

func (f *fakeAssets) PutImage(_ context.Context, _, jobID uuid.UUID, chapter int, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.err != nil {
		return "", f.err
	}
	if f.uploaded == nil {
		f.uploaded = make(map[int][]byte)
	}
	f.uploaded[chapter] = data
	return fmt.Sprintf("https://cdn.test/%s/chapter-%d.png", jobID, chapter), nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	updates   []models.StatusSnapshot
	duplicate bool
}

func (p *recordingPublisher) Publish(update models.StatusSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, update)
	if p.duplicate {
		p.updates = append(p.updates, update)
	}
}

func (p *recordingPublisher) snapshots() []models.StatusSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.StatusSnapshot(nil), p.updates...)
}

func story(theme string, chapters int) *models.StoryContent {
	c := &models.StoryContent{Title: "Mira and the Kindness Tree", Theme: theme, Moral: "Kindness grows when shared."}
	for i := 1; i <= chapters; i++ {
		c.Chapters = append(c.Chapters, models.Chapter{
			ChapterNumber: i,
			Title:         fmt.Sprintf("Chapter %d", i),
			Content:       "Mira shares her umbrella with a friend.",
			ImagePrompt:   fmt.Sprintf("scene %d in a rainy park", i),
		})
	}
	return c
}

type fixture struct {
	store     *memStore
	briefs    *fakeBriefs
	text      *fakeText
	images    *fakeImages
	fetcher   *fakeFetcher
	assets    *fakeAssets
	publisher *recordingPublisher
	userID    uuid.UUID
	childID   uuid.UUID
}

func newFixture() *fixture {
	userID, childID := uuid.New(), uuid.New()
	return &fixture{
		store: newMemStore(),
		briefs: &fakeBriefs{owner: userID, briefs: map[uuid.UUID]models.Brief{
			childID: {ChildID: childID, Nickname: "Mira", Age: 6, Gender: "girl", Appearance: "curly black hair"},
		}},
		text:      &fakeText{},
		images:    &fakeImages{fail: map[int]error{}},
		fetcher:   &fakeFetcher{fail: map[string]bool{}},
		assets:    &fakeAssets{},
		publisher: &recordingPublisher{},
		userID:    userID,
		childID:   childID,
	}
}

func (f *fixture) coordinator(t *testing.T, maxConcurrent int) *Coordinator {
	t.Helper()
	return f.coordinatorWith(t, Options{MaxConcurrent: maxConcurrent})
}

func (f *fixture) coordinatorWith(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	opts.UploadBackoffs = []time.Duration{time.Millisecond, time.Millisecond}
	opts.Logger = zerolog.Nop()
	c, err := New(Deps{
		Store:     f.store,
		Briefs:    f.briefs,
		Text:      f.text,
		Images:    f.images,
		Fetcher:   f.fetcher,
		Assets:    f.assets,
		Publisher: f.publisher,
	}, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c
}

func (f *fixture) newJob(theme string) *models.GenerationJob {
	job := models.NewGenerationJob(f.userID, f.childID, theme, time.Now())
	f.store.put(job)
	return job
}

func isPlaceholderBytes(data []byte) bool {
	return !strings.HasPrefix(string(data), "https://provider.test/")
}
