package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/pawtalk-api/internal/constants"
	"github.com/jmylchreest/pawtalk-api/internal/models"
	"github.com/jmylchreest/pawtalk-api/internal/service"
)

// DeniedError is returned when admission refuses a generation. It satisfies
// huma.StatusError so typed endpoints can return it directly.
type DeniedError struct {
	Status            int    `json:"-"`
	Title             string `json:"title"`
	Detail            string `json:"detail"`
	Reason            string `json:"reason"`
	RetryAfterMinutes int    `json:"retry_after_minutes,omitempty"`
}

func (e *DeniedError) Error() string {
	return e.Detail
}

func (e *DeniedError) GetStatus() int {
	return e.Status
}

// GetHeaders carries Retry-After for rate-limited callers.
func (e *DeniedError) GetHeaders() http.Header {
	h := http.Header{}
	if e.RetryAfterMinutes > 0 {
		h.Set("Retry-After", strconv.Itoa(e.RetryAfterMinutes*60))
	}
	return h
}

// NewDeniedError converts a denied decision into an HTTP error:
// 402 when credits ran out, 429 while the free cooldown is running.
func NewDeniedError(d models.Decision) *DeniedError {
	if d.Reason == models.ReasonRateLimited {
		return &DeniedError{
			Status:            http.StatusTooManyRequests,
			Title:             http.StatusText(http.StatusTooManyRequests),
			Detail:            fmt.Sprintf(constants.MsgRateLimitedFormat, d.RetryAfterMinutes),
			Reason:            string(d.Reason),
			RetryAfterMinutes: d.RetryAfterMinutes,
		}
	}
	return &DeniedError{
		Status: http.StatusPaymentRequired,
		Title:  http.StatusText(http.StatusPaymentRequired),
		Detail: constants.MsgInsufficientCredits,
		Reason: string(models.ReasonInsufficientCredits),
	}
}

// toHumaError maps service errors onto HTTP statuses. Messages for
// unexpected errors are generic; the cause is logged by the caller.
func toHumaError(err error) error {
	var submitErr *service.SubmissionError
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		return huma.Error404NotFound("generation not found")
	case errors.Is(err, service.ErrInvalidImage):
		return huma.Error400BadRequest("image must be a readable JPEG, PNG, WebP, GIF or HEIC file")
	case errors.Is(err, service.ErrInvalidInput):
		return huma.Error400BadRequest(err.Error())
	case errors.As(err, &submitErr):
		return huma.Error502BadGateway(submitErr.Message)
	default:
		return huma.Error500InternalServerError("internal error")
	}
}

// errorBody is the JSON shape written by the raw (non-huma) handlers, matching
// huma's problem details.
type errorBody struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Reason string `json:"reason,omitempty"`

	RetryAfterMinutes int `json:"retry_after_minutes,omitempty"`
}

// writeError writes err as problem JSON, honouring huma status and header errors.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var se huma.StatusError
	if errors.As(err, &se) {
		status = se.GetStatus()
	}
	var he interface{ GetHeaders() http.Header }
	if errors.As(err, &he) {
		for k, v := range he.GetHeaders() {
			w.Header()[k] = v
		}
	}

	body := errorBody{Title: http.StatusText(status), Status: status, Detail: err.Error()}
	var denied *DeniedError
	if errors.As(err, &denied) {
		body.Reason = denied.Reason
		body.RetryAfterMinutes = denied.RetryAfterMinutes
	}
	var model *huma.ErrorModel
	if errors.As(err, &model) {
		body.Detail = model.Detail
	}

	w.Header().Set("Content-Type", "application/problem+json")
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
