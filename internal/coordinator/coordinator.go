// Package coordinator drives story generation jobs through their pipeline:
// brief, text, images, persistence and finalization.
//
// Every status change is written to the JobStore before it is published, and
// each completed step is recorded in the job's step log so a restarted process
// can pick the job up where it stopped. A job that fails for any reason ends
// in the failed state with its cause in the error message.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"herotales-backend/internal/models"
	"herotales-backend/internal/placeholder"
)

const (
	failWriteTimeout = 10 * time.Second
	defaultLeaseTTL  = 2 * time.Minute
)

// errLeaseLost cancels a run whose driver lease was taken by another process.
var errLeaseLost = errors.New("driver lease lost")

type Deps struct {
	Store     JobStore
	Briefs    BriefLoader
	Text      TextGenerator
	Images    ImageGenerator
	Fetcher   ImageFetcher
	Assets    AssetStore
	Publisher Publisher
}

type Options struct {
	// MaxConcurrent bounds how many jobs run at once; extra jobs queue.
	MaxConcurrent int
	// ImageDelay separates successive image provider calls within a job.
	ImageDelay time.Duration
	// UploadBackoffs are the waits between asset upload attempts.
	UploadBackoffs []time.Duration
	// LeaseTTL is how long a driver's claim on a job lasts without renewal.
	// Another process may take over a job whose lease has expired.
	LeaseTTL    time.Duration
	Placeholder PlaceholderFunc
	Now            func() time.Time
	Logger         zerolog.Logger
}

type Coordinator struct {
	deps     Deps
	opts     Options
	slots    *semaphore.Weighted
	logger   zerolog.Logger
	driverID string

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	active map[uuid.UUID]struct{}
	closed bool
}

func New(deps Deps, opts Options) (*Coordinator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("coordinator: store is required")
	case deps.Briefs == nil:
		return nil, errors.New("coordinator: brief loader is required")
	case deps.Text == nil:
		return nil, errors.New("coordinator: text generator is required")
	case deps.Images == nil:
		return nil, errors.New("coordinator: image generator is required")
	case deps.Fetcher == nil:
		return nil, errors.New("coordinator: image fetcher is required")
	case deps.Assets == nil:
		return nil, errors.New("coordinator: asset store is required")
	}
	if deps.Publisher == nil {
		deps.Publisher = nopPublisher{}
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.UploadBackoffs == nil {
		opts.UploadBackoffs = []time.Duration{1 * time.Second, 2 * time.Second}
	}
	if opts.Placeholder == nil {
		opts.Placeholder = func(_ context.Context, chapter int) ([]byte, error) {
			return placeholder.PNG(chapter)
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = defaultLeaseTTL
	}

	driverID := uuid.NewString()
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		deps:     deps,
		opts:     opts,
		slots:    semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		logger:   opts.Logger.With().Str("component", "coordinator").Str("driver_id", driverID).Logger(),
		driverID: driverID,
		baseCtx:  baseCtx,
		cancel:   cancel,
		active:   make(map[uuid.UUID]struct{}),
	}, nil
}

// Submit queues jobID to run in the background once a slot is free. It
// reports false when the job already has a driver or the coordinator is
// shutting down.
func (c *Coordinator) Submit(jobID uuid.UUID) bool {
	if !c.claim(jobID, true) {
		return false
	}

	go func() {
		defer c.wg.Done()
		defer c.release(jobID)

		if err := c.slots.Acquire(c.baseCtx, 1); err != nil {
			c.logger.Warn().Str("job_id", jobID.String()).Msg("job not started before shutdown")
			return
		}
		defer c.slots.Release(1)

		err := c.drive(c.baseCtx, jobID)
		switch {
		case err == nil, errors.Is(err, ErrAlreadyRunning):
		default:
			c.logger.Error().Err(err).Str("job_id", jobID.String()).Msg("job did not complete")
		}
	}()
	return true
}

// Run drives jobID to a terminal state on the calling goroutine, waiting for
// a slot first. It returns the *StepError that failed the job, if any.
func (c *Coordinator) Run(ctx context.Context, jobID uuid.UUID) error {
	if !c.claim(jobID, false) {
		return ErrAlreadyRunning
	}
	defer c.release(jobID)

	if err := c.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.slots.Release(1)

	return c.drive(ctx, jobID)
}

// ResumeUnfinished submits every job left in a non-terminal state, typically
// by a previous process that exited mid-run.
func (c *Coordinator) ResumeUnfinished(ctx context.Context) (int, error) {
	jobs, err := c.deps.Store.ListUnfinishedJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list unfinished jobs: %w", err)
	}

	resumed := 0
	for _, job := range jobs {
		if c.Submit(job.ID) {
			resumed++
		}
	}
	if resumed > 0 {
		c.logger.Info().Int("jobs", resumed).Msg("resumed unfinished jobs")
	}
	return resumed, nil
}

// Shutdown stops accepting jobs and waits for running ones. When ctx ends
// first, running jobs are interrupted and left resumable.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-done
		return ctx.Err()
	}
}

// claim attaches a driver to jobID. Background drivers are counted in wg
// under the same lock Shutdown takes, so none can start after Shutdown waits.
func (c *Coordinator) claim(jobID uuid.UUID, background bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if _, ok := c.active[jobID]; ok {
		return false
	}
	c.active[jobID] = struct{}{}
	if background {
		c.wg.Add(1)
	}
	return true
}

func (c *Coordinator) release(jobID uuid.UUID) {
	c.mu.Lock()
	delete(c.active, jobID)
	c.mu.Unlock()
}

func (c *Coordinator) drive(ctx context.Context, jobID uuid.UUID) error {
	job, err := c.deps.Store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if job.Status.IsTerminal() {
		return nil
	}

	ok, err := c.deps.Store.ClaimJob(ctx, jobID, c.driverID, c.opts.LeaseTTL, c.opts.Now())
	if errors.Is(err, models.ErrTerminal) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to claim job: %w", err)
	}
	if !ok {
		c.logger.Info().Str("job_id", jobID.String()).Msg("job is held by another driver")
		return ErrAlreadyRunning
	}

	runCtx, cancelRun := context.WithCancelCause(ctx)
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		c.keepLease(runCtx, cancelRun, jobID)
	}()
	defer func() {
		cancelRun(nil)
		<-renewed
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
		defer cancel()
		if err := c.deps.Store.ReleaseJob(releaseCtx, jobID, c.driverID); err != nil {
			c.logger.Warn().Err(err).Str("job_id", jobID.String()).Msg("failed to release job lease")
		}
	}()

	r := &run{
		c:      c,
		job:    job,
		logger: c.logger.With().Str("job_id", job.ID.String()).Logger(),
	}

	err = r.execute(runCtx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errStopped):
		return nil
	case errors.Is(context.Cause(runCtx), errLeaseLost):
		r.logger.Warn().Err(err).Msg("driver lease lost, leaving job to its new driver")
		return ErrAlreadyRunning
	case runCtx.Err() != nil:
		r.logger.Warn().Err(err).Str("status", string(r.job.Status)).Int("progress", r.job.Progress).
			Msg("job interrupted, left for resume")
		return ctx.Err()
	}

	se := stepError(StepFinalize, KindFinalize, err)
	r.fail(runCtx, se)
	return se
}

// keepLease renews the job lease until ctx ends. Losing the lease to another
// driver cancels the run.
func (c *Coordinator) keepLease(ctx context.Context, cancelRun context.CancelCauseFunc, jobID uuid.UUID) {
	ticker := time.NewTicker(c.opts.LeaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ok, err := c.deps.Store.ClaimJob(ctx, jobID, c.driverID, c.opts.LeaseTTL, c.opts.Now())
		switch {
		case errors.Is(err, models.ErrTerminal), ctx.Err() != nil:
			return
		case err != nil:
			c.logger.Warn().Err(err).Str("job_id", jobID.String()).Msg("failed to renew job lease")
		case !ok:
			cancelRun(errLeaseLost)
			return
		}
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(_ models.StatusSnapshot) {}
