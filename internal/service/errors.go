package service

import "errors"

var (
	// ErrJobNotFound is returned when a generation job does not exist.
	ErrJobNotFound = errors.New("generation job not found")

	// ErrSubmissionFailed marks a generation the provider refused or could not accept.
	ErrSubmissionFailed = errors.New("video submission failed")

	// ErrInvalidImage is returned when the source image cannot be read or is not an image.
	ErrInvalidImage = errors.New("invalid source image")

	// ErrInvalidInput is returned for requests that fail basic validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPollTimeout is returned when a bounded wait gives up before the job finished.
	// The job itself is left untouched and can be checked again later.
	ErrPollTimeout = errors.New("timed out waiting for video")

	// ErrStorageDisabled is returned by uploads when no bucket is configured.
	ErrStorageDisabled = errors.New("object storage not configured")
)

// SubmissionError carries the user-safe reason a submission failed.
// The raw provider response is logged, never stored here.
type SubmissionError struct {
	Message  string
	Category string
	Err      error
}

func (e *SubmissionError) Error() string {
	return e.Message
}

func (e *SubmissionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSubmissionFailed}
	}
	return []error{ErrSubmissionFailed, e.Err}
}
