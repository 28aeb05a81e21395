package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"herotales-backend/internal/entitlement"
	"herotales-backend/internal/models"
	"herotales-backend/internal/storyprompt"
)

// Step log keys. Image steps are recorded per chapter as image_1..image_5.
const (
	StepBrief    = "brief"
	StepText     = "text"
	StepImages   = "images"
	StepPersist  = "persist"
	StepFinalize = "finalize"
)

// Progress checkpoints.
const (
	progressTextStarted    = 10
	progressTitleSet       = 30
	progressImagesStarted  = 35
	progressPerImage       = 8
	progressPersistStarted = 80
	progressPersisted      = 90
	progressCompleted      = 100
)

// errStopped ends a run whose job was made terminal or moved on by someone else.
var errStopped = errors.New("job stopped by another writer")

func imageStep(chapter int) string {
	return fmt.Sprintf("image_%d", chapter)
}

type run struct {
	c      *Coordinator
	job    *models.GenerationJob
	steps  map[string][]byte
	logger zerolog.Logger
}

func (r *run) execute(ctx context.Context) error {
	steps, err := r.c.deps.Store.LoadSteps(ctx, r.job.ID)
	if err != nil {
		return stepError(StepBrief, KindPersistence, err)
	}
	r.steps = steps

	brief, err := r.loadBrief(ctx)
	if err != nil {
		return err
	}
	content, err := r.generateText(ctx, brief)
	if err != nil {
		return err
	}
	images, err := r.generateImages(ctx, brief, content)
	if err != nil {
		return err
	}
	if err := r.persistImages(ctx, images); err != nil {
		return err
	}
	return r.finalize(ctx, content)
}

func (r *run) loadBrief(ctx context.Context) (*models.Brief, error) {
	var brief models.Brief
	if r.replay(StepBrief, &brief) {
		return &brief, nil
	}

	loaded, err := r.c.deps.Briefs.LoadBrief(ctx, r.job.UserID, r.job.ChildID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, stepError(StepBrief, KindNotFound, err)
	}
	if err != nil {
		return nil, stepError(StepBrief, KindPersistence, err)
	}

	if err := r.record(ctx, StepBrief, loaded); err != nil {
		return nil, err
	}
	r.event(zerolog.InfoLevel, StepBrief).Str("child_id", r.job.ChildID.String()).Msg("brief loaded")
	return loaded, nil
}

func (r *run) generateText(ctx context.Context, brief *models.Brief) (*models.StoryContent, error) {
	var content models.StoryContent
	if !r.replay(StepText, &content) {
		if err := r.advance(ctx, StepText, models.StatusGeneratingText, progressTextStarted); err != nil {
			return nil, err
		}

		generated, err := r.c.deps.Text.GenerateStory(ctx, *brief, r.job.Theme)
		if err != nil {
			return nil, stepError(StepText, KindGeneration, err)
		}
		if generated == nil {
			return nil, stepError(StepText, KindGeneration, errors.New("provider returned no story"))
		}
		if err := generated.Validate(); err != nil {
			return nil, stepError(StepText, KindGeneration, err)
		}
		// The story belongs to the theme the user asked for, whatever label the
		// provider put on it.
		generated.Theme = r.job.Theme
		if err := r.record(ctx, StepText, generated); err != nil {
			return nil, err
		}
		content = *generated
	}

	if r.job.Title != content.Title || r.job.Progress < progressTitleSet {
		if err := r.setTitle(ctx, content.Title); err != nil {
			return nil, err
		}
	}
	r.event(zerolog.InfoLevel, StepText).Str("title", content.Title).Msg("story text ready")
	return &content, nil
}

func (r *run) generateImages(ctx context.Context, brief *models.Brief, content *models.StoryContent) ([]models.GeneratedImage, error) {
	if err := r.advance(ctx, StepImages, models.StatusGeneratingImages, progressImagesStarted); err != nil {
		return nil, err
	}

	template := storyprompt.CharacterTemplate(*brief)
	images := make([]models.GeneratedImage, 0, len(content.Chapters))
	calls := 0

	for _, chapter := range content.Chapters {
		n := chapter.ChapterNumber
		step := imageStep(n)

		var img models.GeneratedImage
		if !r.replay(step, &img) {
			if calls > 0 && r.c.opts.ImageDelay > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(r.c.opts.ImageDelay):
				}
			}
			calls++

			img = models.GeneratedImage{ChapterIndex: n}
			url, err := r.c.deps.Images.GenerateImage(ctx, storyprompt.ScenePrompt(template, chapter.ImagePrompt))
			switch {
			case err != nil && ctx.Err() != nil:
				return nil, ctx.Err()
			case err != nil:
				img.Placeholder = true
				r.event(zerolog.WarnLevel, step).Err(err).Msg("image generation failed, using placeholder")
			default:
				img.ProviderURL = url
			}

			if err := r.record(ctx, step, img); err != nil {
				return nil, err
			}
		}
		images = append(images, img)

		if err := r.advance(ctx, step, models.StatusGeneratingImages, progressImagesStarted+progressPerImage*n); err != nil {
			return nil, err
		}
	}
	return images, nil
}

func (r *run) persistImages(ctx context.Context, images []models.GeneratedImage) error {
	if err := r.advance(ctx, StepPersist, models.StatusSaving, progressPersistStarted); err != nil {
		return err
	}

	var persisted []models.GeneratedImage
	if !r.replay(StepPersist, &persisted) {
		existing, err := r.c.deps.Store.ListImages(ctx, r.job.ID)
		if err != nil {
			return stepError(StepPersist, KindPersistence, err)
		}
		done := make(map[int]models.GeneratedImage, len(existing))
		for _, img := range existing {
			done[img.ChapterIndex] = img
		}

		for _, img := range images {
			if saved, ok := done[img.ChapterIndex]; ok {
				persisted = append(persisted, saved)
				continue
			}

			saved, err := r.persistImage(ctx, img)
			if err != nil {
				return err
			}
			persisted = append(persisted, saved)
		}

		if err := r.record(ctx, StepPersist, persisted); err != nil {
			return err
		}
	}

	if err := r.advance(ctx, StepPersist, models.StatusSaving, progressPersisted); err != nil {
		return err
	}
	r.event(zerolog.InfoLevel, StepPersist).Int("images", len(persisted)).Msg("illustrations saved")
	return nil
}

func (r *run) persistImage(ctx context.Context, img models.GeneratedImage) (models.GeneratedImage, error) {
	var data []byte
	if !img.Placeholder {
		fetched, err := r.c.deps.Fetcher.Fetch(ctx, img.ProviderURL)
		if err != nil {
			if ctx.Err() != nil {
				return img, ctx.Err()
			}
			r.event(zerolog.WarnLevel, StepPersist).Err(err).Int("chapter", img.ChapterIndex).
				Msg("image download failed, using placeholder")
			img.Placeholder = true
		} else {
			data = fetched
		}
	}
	if img.Placeholder {
		rendered, err := r.c.opts.Placeholder(ctx, img.ChapterIndex)
		if err != nil {
			return img, stepError(StepPersist, KindPersistence, fmt.Errorf("render placeholder for chapter %d: %w", img.ChapterIndex, err))
		}
		data = rendered
	}

	url, err := r.upload(ctx, img.ChapterIndex, data)
	if err != nil {
		return img, err
	}
	img.PersistedURL = url

	if err := r.c.deps.Store.SaveImage(ctx, r.job.ID, img, r.c.opts.Now()); err != nil {
		return img, stepError(StepPersist, KindPersistence, err)
	}
	return img, nil
}

func (r *run) upload(ctx context.Context, chapter int, data []byte) (string, error) {
	attempts := len(r.c.opts.UploadBackoffs) + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		url, err := r.c.deps.Assets.PutImage(ctx, r.job.UserID, r.job.ID, chapter, data)
		if err == nil {
			return url, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if i < len(r.c.opts.UploadBackoffs) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(r.c.opts.UploadBackoffs[i]):
			}
		}
	}
	return "", stepError(StepPersist, KindPersistence,
		fmt.Errorf("chapter %d upload failed after %d attempts: %w", chapter, attempts, lastErr))
}

func (r *run) finalize(ctx context.Context, content *models.StoryContent) error {
	now := r.c.opts.Now()
	err := r.c.deps.Store.FinalizeJob(ctx, r.job.ID, content, entitlement.Period(now), now)
	if errors.Is(err, models.ErrTerminal) {
		r.event(zerolog.WarnLevel, StepFinalize).Msg("job already terminal at finalize")
		return errStopped
	}
	if err != nil {
		return stepError(StepFinalize, KindFinalize, err)
	}

	r.job.Status = models.StatusCompleted
	r.job.Progress = progressCompleted
	r.job.Title = content.Title
	r.job.Content = content
	r.job.IsPublished = true
	r.publish()
	r.event(zerolog.InfoLevel, StepFinalize).Msg("story completed")
	return nil
}

// advance writes status and progress unless the job is already past that
// point, which happens when a resumed run replays completed steps.
func (r *run) advance(ctx context.Context, step string, status models.JobStatus, progress int) error {
	cur := r.job.Status
	if status.Before(cur) || (status == cur && progress <= r.job.Progress) {
		return nil
	}
	if status != cur && !cur.CanTransition(status) {
		return stepError(step, KindPersistence, fmt.Errorf("invalid transition %s -> %s", cur, status))
	}

	err := r.c.deps.Store.AdvanceJob(ctx, r.job.ID, status, progress, r.c.opts.Now())
	if errors.Is(err, models.ErrTerminal) || errors.Is(err, models.ErrStaleState) {
		return errStopped
	}
	if err != nil {
		return stepError(step, KindPersistence, err)
	}

	r.job.Status = status
	if progress > r.job.Progress {
		r.job.Progress = progress
	}
	r.publish()
	r.event(zerolog.DebugLevel, step).Msg("job advanced")
	return nil
}

func (r *run) setTitle(ctx context.Context, title string) error {
	progress := progressTitleSet
	if r.job.Progress > progress {
		progress = r.job.Progress
	}
	err := r.c.deps.Store.SetTitle(ctx, r.job.ID, title, progress, r.c.opts.Now())
	if errors.Is(err, models.ErrTerminal) || errors.Is(err, models.ErrStaleState) {
		return errStopped
	}
	if err != nil {
		return stepError(StepText, KindPersistence, err)
	}
	r.job.Title = title
	r.job.Progress = progress
	r.publish()
	return nil
}

// fail records the failure with a context that outlives ctx so the write is
// attempted even while the caller is unwinding.
func (r *run) fail(ctx context.Context, se *StepError) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer cancel()

	msg := se.Error()
	err := r.c.deps.Store.FailJob(writeCtx, r.job.ID, msg, r.c.opts.Now())
	if errors.Is(err, models.ErrTerminal) {
		return
	}
	if err != nil {
		r.event(zerolog.ErrorLevel, se.Step).Err(err).Str("cause", msg).Msg("failed to mark job failed")
		return
	}

	r.job.Status = models.StatusFailed
	r.job.ErrorMessage.String = msg
	r.job.ErrorMessage.Valid = true
	r.publish()
	r.event(zerolog.ErrorLevel, se.Step).Str("kind", string(se.Kind)).Err(se.Err).Msg("job failed")
}

func (r *run) replay(step string, v any) bool {
	payload, ok := r.steps[step]
	if !ok {
		return false
	}
	if err := json.Unmarshal(payload, v); err != nil {
		r.event(zerolog.WarnLevel, step).Err(err).Msg("unreadable step log entry, re-running step")
		return false
	}
	r.event(zerolog.DebugLevel, step).Msg("step replayed from log")
	return true
}

func (r *run) record(ctx context.Context, step string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return stepError(step, KindPersistence, err)
	}
	if err := r.c.deps.Store.RecordStep(ctx, r.job.ID, step, payload, r.c.opts.Now()); err != nil {
		return stepError(step, KindPersistence, err)
	}
	r.steps[step] = payload
	return nil
}

func (r *run) publish() {
	r.c.deps.Publisher.Publish(r.job.Snapshot())
}

func (r *run) event(level zerolog.Level, step string) *zerolog.Event {
	return r.logger.WithLevel(level).
		Str("step", step).
		Str("status", string(r.job.Status)).
		Int("progress", r.job.Progress)
}
