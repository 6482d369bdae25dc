// Package provider adapts the external video-generation API to a fixed
// submit/poll/download contract. Response-shape differences between API
// versions are absorbed here and never reach the job state machine.
package provider

import (
	"context"
)

// VideoProvider is the long-running video generation API.
type VideoProvider interface {
	// Submit starts a generation and returns its operation handle.
	// Rejections come back as *ProviderError; unreachable endpoints wrap ErrTransport.
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	// Poll reports the state of an operation. Errors wrapping ErrTransport mean
	// the provider could not be reached and say nothing about the job itself.
	Poll(ctx context.Context, handle string) (*PollResult, error)
	// Download fetches the bytes of a generated video.
	Download(ctx context.Context, video Video) ([]byte, error)
}

// SubmitRequest is one image-to-video generation.
type SubmitRequest struct {
	Prompt          string
	ImageBase64     string
	MimeType        string
	DurationSeconds int
	AspectRatio     string
	GenerateAudio   bool
}

// PollResult is the provider's view of an operation.
type PollResult struct {
	Done   bool
	Error  *OperationError // Explicit failure reported by the provider
	Videos []Video
}

// OperationError is a failure the provider attached to a finished operation.
type OperationError struct {
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Video is one generated sample, either inline bytes or a URI to fetch.
type Video struct {
	URI      string
	Data     []byte
	MimeType string
}

// HasPayload reports whether the sample carries anything downloadable.
func (v Video) HasPayload() bool {
	return len(v.Data) > 0 || v.URI != ""
}
