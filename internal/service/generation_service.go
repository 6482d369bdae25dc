package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"github.com/jmylchreest/pawtalk-api/internal/constants"
	"github.com/jmylchreest/pawtalk-api/internal/logging"
	"github.com/jmylchreest/pawtalk-api/internal/models"
	"github.com/jmylchreest/pawtalk-api/internal/provider"
	"github.com/jmylchreest/pawtalk-api/internal/repository"
)

// advanceTimeout bounds one poll plus post-processing pass. It is detached from
// the caller's context so a disconnecting client cannot abort an upload halfway.
const advanceTimeout = 5 * time.Minute

// GenerationConfig holds orchestrator settings.
type GenerationConfig struct {
	StagingDir       string
	WatermarkEnabled bool
	Watermark        WatermarkOptions
}

// SubmitOptions are the per-request generation parameters.
type SubmitOptions struct {
	AspectRatio   string
	GenerateAudio bool
	OwnerIdentity string
	AdmissionMode models.AdmissionMode
}

// SubmitResult identifies an accepted generation.
type SubmitResult struct {
	JobID           string
	OperationHandle string
	Status          models.JobStatus
	DurationSeconds int
}

// WaitOptions bound WaitForCompletion.
type WaitOptions struct {
	MaxAttempts int
	Interval    time.Duration
}

// GenerationService drives generation jobs from submission to a terminal state.
//
// A job is created processing once the provider accepts it and moves exactly
// once to completed or failed. Terminal jobs are answered from the store
// without contacting the provider again.
type GenerationService struct {
	jobs      repository.JobRepository
	provider  provider.VideoProvider
	store     VideoStore
	watermark Watermarker
	cfg       GenerationConfig
	polls     singleflight.Group
	logger    *slog.Logger
}

// NewGenerationService creates a new generation service. watermark may be nil.
func NewGenerationService(
	jobs repository.JobRepository,
	vp provider.VideoProvider,
	store VideoStore,
	watermark Watermarker,
	cfg GenerationConfig,
	logger *slog.Logger,
) *GenerationService {
	if cfg.StagingDir == "" {
		cfg.StagingDir = os.TempDir()
	}
	return &GenerationService{
		jobs:      jobs,
		provider:  vp,
		store:     store,
		watermark: watermark,
		cfg:       cfg,
		logger:    logger.With("component", "generation"),
	}
}

// BuildPrompt wraps the caller's text in the instruction sent to the provider.
func BuildPrompt(text string) string {
	return fmt.Sprintf(
		"Animate the dog in this photo so it looks straight at the camera and talks. "+
			"Its mouth moves naturally in sync with speech, with expressive eyes and small head movements. "+
			"Keep the background, lighting and the dog's appearance exactly as in the photo. "+
			"The dog says: %q", strings.TrimSpace(text))
}

// Submit sends the photo and text to the provider and records a processing job.
// It returns as soon as the provider has accepted the request.
func (s *GenerationService) Submit(ctx context.Context, text, imagePath string, opts SubmitOptions) (*SubmitResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", ErrInvalidInput)
	}
	if opts.AspectRatio == "" {
		opts.AspectRatio = constants.AspectLandscape
	}
	if !constants.ValidAspectRatio(opts.AspectRatio) {
		return nil, fmt.Errorf("%w: unsupported aspect ratio %q", ErrInvalidInput, opts.AspectRatio)
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidImage)
	}
	mimeType, err := provider.ImageMimeType(imagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	duration := provider.ComputeDuration(text)
	handle, err := s.provider.Submit(ctx, provider.SubmitRequest{
		Prompt:          BuildPrompt(text),
		ImageBase64:     base64.StdEncoding.EncodeToString(data),
		MimeType:        mimeType,
		DurationSeconds: duration,
		AspectRatio:     opts.AspectRatio,
		GenerateAudio:   opts.GenerateAudio,
	})
	if err != nil {
		return nil, s.submissionError(err)
	}

	now := time.Now().UTC()
	job := &models.GenerationJob{
		ID:              ulid.Make().String(),
		OperationHandle: handle,
		Status:          models.JobStatusProcessing,
		Prompt:          text,
		SourceImageRef:  filepath.Base(imagePath),
		OwnerIdentity:   opts.OwnerIdentity,
		AspectRatio:     opts.AspectRatio,
		DurationSeconds: duration,
		AdmissionMode:   string(opts.AdmissionMode),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		// The provider is already working on it; keep the handle in the logs.
		s.logger.Error("failed to record accepted generation",
			"operation", handle,
			"error", err,
		)
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("generation submitted",
		"job_id", job.ID,
		"duration_seconds", duration,
		"aspect_ratio", opts.AspectRatio,
		"mode", opts.AdmissionMode,
	)

	return &SubmitResult{
		JobID:           job.ID,
		OperationHandle: handle,
		Status:          job.Status,
		DurationSeconds: duration,
	}, nil
}

func (s *GenerationService) submissionError(err error) error {
	var pe *provider.ProviderError
	switch {
	case errors.As(err, &pe):
		s.logger.Warn("provider rejected generation",
			"status_code", pe.StatusCode,
			"code", pe.Code,
			"category", pe.Category,
			"raw", pe.RawMessage,
		)
		return &SubmissionError{Message: pe.UserMessage, Category: pe.Category, Err: err}
	case errors.Is(err, provider.ErrTransport):
		s.logger.Warn("provider unreachable on submit", "error", err)
		return &SubmissionError{
			Message:  "The video service is unreachable right now. Please try again in a moment.",
			Category: provider.CategoryProvider,
			Err:      err,
		}
	default:
		s.logger.Error("generation submit failed", "error", err)
		return &SubmissionError{Message: constants.MsgGenerationFailed, Category: provider.CategoryProvider, Err: err}
	}
}

// GetJob returns a stored job without polling.
func (s *GenerationService) GetJob(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// ListJobs returns an owner's video library, newest first.
func (s *GenerationService) ListJobs(ctx context.Context, owner string, limit, offset int) ([]*models.GenerationJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	jobs, err := s.jobs.ListByOwner(ctx, owner, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// CheckStatus reports a job's state, polling the provider only while it is
// processing. Provider and storage failures are recorded on the job; the
// returned error is reserved for unknown jobs and store failures.
func (s *GenerationService) CheckStatus(ctx context.Context, jobID string) (models.StatusResult, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return models.StatusResult{}, err
	}
	if job.Status.IsTerminal() || job.OperationHandle == "" {
		return models.ResultFromJob(job), nil
	}

	// Concurrent checks of one job share a single poll.
	v, err, _ := s.polls.Do(jobID, func() (any, error) {
		pollCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), advanceTimeout)
		defer cancel()
		return s.advance(logging.WithJobID(pollCtx, jobID), job)
	})
	if err != nil {
		return models.StatusResult{}, err
	}
	return v.(models.StatusResult), nil
}

// advance polls the provider once and applies the outcome.
func (s *GenerationService) advance(ctx context.Context, job *models.GenerationJob) (models.StatusResult, error) {
	res, err := s.provider.Poll(ctx, job.OperationHandle)
	if err != nil {
		var pe *provider.ProviderError
		if errors.As(err, &pe) && !isRetryablePollStatus(pe.StatusCode) {
			s.logger.WarnContext(ctx, "provider rejected poll",
				"status_code", pe.StatusCode,
				"code", pe.Code,
				"category", pe.Category,
				"raw", pe.RawMessage,
			)
			return s.fail(ctx, job, pe.UserMessage)
		}
		// Failing to reach the provider says nothing about the job.
		s.logger.WarnContext(ctx, "poll failed, job stays processing", "error", err)
		return models.ResultFromJob(job), nil
	}
	if !res.Done {
		return models.ResultFromJob(job), nil
	}

	if res.Error != nil {
		pe := provider.ClassifyOperationError(res.Error)
		s.logger.WarnContext(ctx, "provider reported generation failure",
			"code", res.Error.Code,
			"status", res.Error.Status,
			"category", pe.Category,
			"raw", res.Error.Message,
		)
		return s.fail(ctx, job, pe.UserMessage)
	}

	if len(res.Videos) == 0 || !res.Videos[0].HasPayload() {
		s.logger.WarnContext(ctx, "operation finished without a video")
		return s.fail(ctx, job, constants.MsgNoVideoGenerated)
	}
	if len(res.Videos) > 1 {
		s.logger.DebugContext(ctx, "discarding extra samples", "count", len(res.Videos)-1)
	}

	return s.finish(ctx, job, res.Videos[0])
}

// isRetryablePollStatus reports provider responses that reject the poll
// request itself rather than the operation.
func isRetryablePollStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// finish downloads, watermarks and stores the video, then completes the job.
func (s *GenerationService) finish(ctx context.Context, job *models.GenerationJob, video provider.Video) (models.StatusResult, error) {
	data, err := s.provider.Download(ctx, video)
	if err != nil {
		if errors.Is(err, provider.ErrTransport) {
			s.logger.WarnContext(ctx, "video download failed, will retry", "error", err)
			return models.ResultFromJob(job), nil
		}
		var pe *provider.ProviderError
		if errors.As(err, &pe) {
			s.logger.ErrorContext(ctx, "video download rejected", "raw", pe.RawMessage)
		} else {
			s.logger.ErrorContext(ctx, "video download failed", "error", err)
		}
		return s.fail(ctx, job, constants.MsgGenerationFailed)
	}

	if err := os.MkdirAll(s.cfg.StagingDir, 0o750); err != nil {
		s.logger.ErrorContext(ctx, "failed to create staging dir", "error", err)
		return models.ResultFromJob(job), nil
	}
	staged := filepath.Join(s.cfg.StagingDir, job.ID+".mp4")
	if err := os.WriteFile(staged, data, 0o600); err != nil {
		s.logger.ErrorContext(ctx, "failed to stage video", "error", err)
		return models.ResultFromJob(job), nil
	}
	defer removeQuietly(staged)

	final, watermarked := s.applyWatermark(ctx, staged)
	if watermarked {
		defer removeQuietly(final)
	}

	if s.store == nil {
		s.logger.ErrorContext(ctx, "no video store configured")
		return s.fail(ctx, job, constants.MsgUploadFailed)
	}
	url, err := s.store.Upload(ctx, final, "videos/"+job.ID+".mp4")
	if err != nil {
		s.logger.ErrorContext(ctx, "video upload failed", "error", err)
		return s.fail(ctx, job, constants.MsgUploadFailed)
	}

	status := models.JobStatusCompleted
	updated, err := s.jobs.Update(ctx, job.ID, models.JobUpdate{
		Status:      &status,
		ResultURL:   &url,
		Watermarked: &watermarked,
	})
	if err != nil {
		return models.StatusResult{}, fmt.Errorf("failed to complete job: %w", err)
	}
	if updated == nil {
		return models.StatusResult{}, ErrJobNotFound
	}

	s.logger.InfoContext(ctx, "generation completed", "watermarked", watermarked)
	return models.ResultFromJob(updated), nil
}

// applyWatermark returns the watermarked copy, or the input when watermarking
// is off, unavailable or fails.
func (s *GenerationService) applyWatermark(ctx context.Context, input string) (string, bool) {
	if !s.cfg.WatermarkEnabled || s.watermark == nil || !s.watermark.Available(ctx) {
		return input, false
	}
	out, err := s.watermark.Apply(ctx, input, s.cfg.Watermark)
	if err != nil {
		s.logger.WarnContext(ctx, "watermark failed, using original video", "error", err)
		return input, false
	}
	return out, true
}

func (s *GenerationService) fail(ctx context.Context, job *models.GenerationJob, message string) (models.StatusResult, error) {
	status := models.JobStatusFailed
	updated, err := s.jobs.Update(ctx, job.ID, models.JobUpdate{
		Status:       &status,
		ErrorMessage: &message,
	})
	if err != nil {
		return models.StatusResult{}, fmt.Errorf("failed to mark job failed: %w", err)
	}
	if updated == nil {
		return models.StatusResult{}, ErrJobNotFound
	}
	s.logger.InfoContext(ctx, "generation failed", "message", message)
	return models.ResultFromJob(updated), nil
}

// WaitForCompletion checks a job until it is terminal or the attempts run out.
// On timeout it returns the last result with ErrPollTimeout; the job is left as is.
func (s *GenerationService) WaitForCompletion(ctx context.Context, jobID string, opts WaitOptions) (models.StatusResult, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = constants.WaitMaxAttempts
	}
	if opts.Interval <= 0 {
		opts.Interval = constants.WaitInterval
	}

	var last models.StatusResult
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		res, err := s.CheckStatus(ctx, jobID)
		if err != nil {
			return res, err
		}
		if res.Status.IsTerminal() {
			return res, nil
		}
		last = res
		if attempt == opts.MaxAttempts {
			break
		}

		timer := time.NewTimer(opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, ctx.Err()
		case <-timer.C:
		}
	}
	return last, ErrPollTimeout
}

// SweepStale fails jobs stuck processing for longer than maxAge.
func (s *GenerationService) SweepStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := s.jobs.MarkStaleProcessingFailed(ctx, maxAge, constants.MsgTimedOut)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale jobs: %w", err)
	}
	if n > 0 {
		s.logger.Warn("failed stale jobs", "count", n, "max_age", maxAge.String())
	}
	return n, nil
}

// ProcessingJobs returns jobs the background poller should advance.
func (s *GenerationService) ProcessingJobs(ctx context.Context, limit int) ([]*models.GenerationJob, error) {
	jobs, err := s.jobs.ListProcessing(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing jobs: %w", err)
	}
	return jobs, nil
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Default().Debug("failed to remove staged file", "path", path, "error", err)
	}
}
