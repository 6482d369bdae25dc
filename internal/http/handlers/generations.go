package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/pawtalk-api/internal/constants"
	"github.com/jmylchreest/pawtalk-api/internal/http/mw"
	"github.com/jmylchreest/pawtalk-api/internal/models"
	"github.com/jmylchreest/pawtalk-api/internal/provider"
	"github.com/jmylchreest/pawtalk-api/internal/service"
)

// GenerationHandler ties admission, upload handling and the generation
// service together for each request.
type GenerationHandler struct {
	admission  *service.AdmissionService
	generation *service.GenerationService
	uploadDir  string
	baseURL    string
	wait       service.WaitOptions
	logger     *slog.Logger
}

// GenerationHandlerConfig configures a GenerationHandler.
type GenerationHandlerConfig struct {
	UploadDir string
	BaseURL   string
	// Wait bounds ?wait=true status requests; zero values use the defaults.
	Wait service.WaitOptions
}

// NewGenerationHandler creates a new generation handler.
func NewGenerationHandler(
	admission *service.AdmissionService,
	generation *service.GenerationService,
	cfg GenerationHandlerConfig,
	logger *slog.Logger,
) *GenerationHandler {
	return &GenerationHandler{
		admission:  admission,
		generation: generation,
		uploadDir:  cfg.UploadDir,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		wait:       cfg.Wait,
		logger:     logger.With("component", "generations"),
	}
}

// CreateGenerationResponse is returned when a generation has been accepted.
type CreateGenerationResponse struct {
	JobID            string `json:"job_id" example:"01HXYZ123ABC456DEF789" doc:"Generation job identifier (ULID)"`
	Status           string `json:"status" example:"processing"`
	StatusURL        string `json:"status_url" doc:"URL to poll for the result"`
	Mode             string `json:"mode" example:"free" doc:"How the generation was paid for: free, paid or bypass"`
	DurationSeconds  int    `json:"duration_seconds" example:"6"`
	CreditsRemaining *int   `json:"credits_remaining,omitempty"`
}

// CreateGeneration accepts a multipart upload (image, text, aspect_ratio,
// generate_audio, use_credit) and starts a generation.
//
// A credit is spent before the provider is called and refunded if the
// submission fails. The free-tier cooldown only starts once the provider has
// accepted the request.
func (h *GenerationHandler) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := mw.GetIdentity(ctx)
	if !ok {
		writeError(w, huma.Error401Unauthorized("unauthorized"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxImageBytes+(1<<20))
	if err := r.ParseMultipartForm(constants.MaxImageBytes); err != nil {
		writeError(w, huma.Error400BadRequest("expected a multipart form no larger than 10MB"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	text := strings.TrimSpace(r.FormValue("text"))
	if text == "" {
		writeError(w, huma.Error400BadRequest("text is required"))
		return
	}
	if len([]rune(text)) > constants.MaxPromptLen {
		writeError(w, huma.Error400BadRequest(fmt.Sprintf("text must be at most %d characters", constants.MaxPromptLen)))
		return
	}
	aspect := r.FormValue("aspect_ratio")
	if aspect != "" && !constants.ValidAspectRatio(aspect) {
		writeError(w, huma.Error400BadRequest("aspect_ratio must be one of 16:9, 9:16 or 1:1"))
		return
	}
	useCredit := formBool(r, "use_credit", false)
	generateAudio := formBool(r, "generate_audio", true)

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, huma.Error400BadRequest("image is required"))
		return
	}
	defer func() { _ = file.Close() }()

	decision, err := h.admission.Admit(ctx, id, useCredit, id.Privileged)
	if err != nil {
		h.logger.ErrorContext(ctx, "admission failed", "error", err)
		writeError(w, huma.Error500InternalServerError("internal error"))
		return
	}
	if !decision.Allowed() {
		writeError(w, NewDeniedError(decision))
		return
	}

	imagePath, err := h.saveUpload(file, header.Filename)
	if err != nil {
		h.refund(ctx, id, decision)
		h.logger.ErrorContext(ctx, "failed to save upload", "error", err)
		writeError(w, huma.Error500InternalServerError("internal error"))
		return
	}

	res, err := h.generation.Submit(ctx, text, imagePath, service.SubmitOptions{
		AspectRatio:   aspect,
		GenerateAudio: generateAudio,
		OwnerIdentity: id.Key,
		AdmissionMode: decision.Mode,
	})
	if err != nil {
		h.refund(ctx, id, decision)
		_ = os.Remove(imagePath)
		var submitErr *service.SubmissionError
		if !errors.As(err, &submitErr) && !errors.Is(err, service.ErrInvalidInput) && !errors.Is(err, service.ErrInvalidImage) {
			h.logger.ErrorContext(ctx, "submission failed", "error", err)
		}
		writeError(w, toHumaError(err))
		return
	}

	if decision.Mode == models.ModeFree {
		if err := h.admission.RecordFreeUse(ctx, id); err != nil {
			// The generation is already running; losing the cooldown is the lesser evil.
			h.logger.ErrorContext(ctx, "failed to record free use", "job_id", res.JobID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, CreateGenerationResponse{
		JobID:            res.JobID,
		Status:           string(res.Status),
		StatusURL:        h.baseURL + "/api/v1/generations/" + res.JobID,
		Mode:             string(decision.Mode),
		DurationSeconds:  res.DurationSeconds,
		CreditsRemaining: decision.NewBalance,
	})
}

func (h *GenerationHandler) refund(ctx context.Context, id models.Identity, d models.Decision) {
	// Refund logs its own failure; the request still reports the original error.
	_ = h.admission.Refund(ctx, id, d)
}

// saveUpload writes the uploaded image to the upload dir under a fresh name.
// Unknown extensions are dropped so the type is sniffed from content on submit.
func (h *GenerationHandler) saveUpload(src io.Reader, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !provider.IsImageExtension(ext) {
		ext = ""
	}
	if err := os.MkdirAll(h.uploadDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}

	path := filepath.Join(h.uploadDir, ulid.Make().String()+ext)
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to close upload: %w", err)
	}
	return path, nil
}

func formBool(r *http.Request, key string, def bool) bool {
	v := r.FormValue(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// GetGenerationInput is the status request.
type GetGenerationInput struct {
	ID   string `path:"id" doc:"Generation job ID"`
	Wait bool   `query:"wait" default:"false" doc:"Block until the video is ready or about 10 minutes pass"`
}

// GenerationStatusBody is a generation's caller-visible state.
type GenerationStatusBody struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status" enum:"processing,completed,failed"`
	ResultURL    string `json:"result_url,omitempty" doc:"Public URL of the finished video"`
	ErrorMessage string `json:"error_message,omitempty"`
	TimedOut     bool   `json:"timed_out,omitempty" doc:"Set when wait=true gave up; the job keeps running"`
}

// GetGenerationOutput is the status response.
type GetGenerationOutput struct {
	Body GenerationStatusBody
}

// GetGeneration reports a generation's status, advancing it when still processing.
// Only the owner (or a privileged account) can see a job; others get 404.
func (h *GenerationHandler) GetGeneration(ctx context.Context, input *GetGenerationInput) (*GetGenerationOutput, error) {
	id, err := getIdentity(ctx)
	if err != nil {
		return nil, err
	}

	job, err := h.generation.GetJob(ctx, input.ID)
	if err != nil {
		if !errors.Is(err, service.ErrJobNotFound) {
			h.logger.ErrorContext(ctx, "failed to get job", "job_id", input.ID, "error", err)
		}
		return nil, toHumaError(err)
	}
	if job.OwnerIdentity != id.Key && !id.Privileged {
		return nil, toHumaError(service.ErrJobNotFound)
	}

	var res models.StatusResult
	timedOut := false
	if input.Wait {
		res, err = h.generation.WaitForCompletion(ctx, input.ID, h.wait)
		switch {
		case errors.Is(err, service.ErrPollTimeout):
			timedOut, err = true, nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, huma.Error504GatewayTimeout("gave up waiting for the video")
		}
	} else {
		res, err = h.generation.CheckStatus(ctx, input.ID)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "status check failed", "job_id", input.ID, "error", err)
		return nil, toHumaError(err)
	}

	return &GetGenerationOutput{Body: GenerationStatusBody{
		JobID:        res.JobID,
		Status:       string(res.Status),
		ResultURL:    res.ResultURL,
		ErrorMessage: res.ErrorMessage,
		TimedOut:     timedOut,
	}}, nil
}

// ListGenerationsInput is the library request.
type ListGenerationsInput struct {
	Limit  int `query:"limit" default:"20" minimum:"1" maximum:"100"`
	Offset int `query:"offset" default:"0" minimum:"0"`
}

// GenerationItem is one entry in the caller's library.
type GenerationItem struct {
	JobID           string     `json:"job_id"`
	Status          string     `json:"status"`
	Prompt          string     `json:"prompt"`
	ResultURL       string     `json:"result_url,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	AspectRatio     string     `json:"aspect_ratio,omitempty"`
	DurationSeconds int        `json:"duration_seconds,omitempty"`
	Watermarked     bool       `json:"watermarked"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// ListGenerationsOutput is the library response.
type ListGenerationsOutput struct {
	Body struct {
		Generations []GenerationItem `json:"generations"`
	}
}

// ListGenerations returns the caller's videos, newest first.
func (h *GenerationHandler) ListGenerations(ctx context.Context, input *ListGenerationsInput) (*ListGenerationsOutput, error) {
	id, err := getIdentity(ctx)
	if err != nil {
		return nil, err
	}

	jobs, err := h.generation.ListJobs(ctx, id.Key, input.Limit, input.Offset)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list generations", "error", err)
		return nil, toHumaError(err)
	}

	out := &ListGenerationsOutput{}
	out.Body.Generations = make([]GenerationItem, 0, len(jobs))
	for _, job := range jobs {
		out.Body.Generations = append(out.Body.Generations, GenerationItem{
			JobID:           job.ID,
			Status:          string(job.Status),
			Prompt:          job.Prompt,
			ResultURL:       job.ResultURL,
			ErrorMessage:    job.ErrorMessage,
			AspectRatio:     job.AspectRatio,
			DurationSeconds: job.DurationSeconds,
			Watermarked:     job.Watermarked,
			CreatedAt:       job.CreatedAt,
			CompletedAt:     job.CompletedAt,
		})
	}
	return out, nil
}
