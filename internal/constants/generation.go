// Package constants defines centralized limits and user-facing messages for
// video generation. Change values here to update behaviour across the service.
package constants

import "time"

// Free tier.
const (
	// DefaultFreeCooldown is the wait between two free generations for one identity.
	DefaultFreeCooldown = 3 * time.Hour

	// FreeEntryIdle is how long a free-use entry is kept after its last use.
	// The sweep never removes an entry whose cooldown is still running.
	FreeEntryIdle = 24 * time.Hour

	// CreditEntryIdle is how long an empty anonymous credit balance is kept.
	CreditEntryIdle = 30 * 24 * time.Hour
)

// Clip duration heuristic: roughly how long the dog needs to say the text.
const (
	CharsPerSecond     = 15
	MinDurationSeconds = 4
	MaxDurationSeconds = 8
)

// Aspect ratios accepted by the provider.
const (
	AspectLandscape = "16:9"
	AspectPortrait  = "9:16"
	AspectSquare    = "1:1"
)

// ValidAspectRatio reports whether r is one of the supported ratios.
func ValidAspectRatio(r string) bool {
	switch r {
	case AspectLandscape, AspectPortrait, AspectSquare:
		return true
	}
	return false
}

// Status polling.
const (
	// WaitMaxAttempts and WaitInterval bound a blocking wait on one job (~10 minutes).
	WaitMaxAttempts = 60
	WaitInterval    = 10 * time.Second

	// DefaultStaleJobAge is how long a job may stay processing before the sweep fails it.
	DefaultStaleJobAge = 6 * time.Hour
)

// HTTP request timeouts.
const (
	// DefaultRequestTimeout applies to ordinary API calls.
	DefaultRequestTimeout = 30 * time.Second

	// SubmitRequestTimeout covers an upload plus the provider's submit round trip.
	SubmitRequestTimeout = 2 * time.Minute
)

// Upload limits.
const (
	MaxImageBytes = 10 << 20
	MaxPromptLen  = 500
)

// Watermark overlay defaults.
const (
	WatermarkFontSize = 28
	WatermarkOpacity  = 0.6
	WatermarkPosition = "bottom-right"
)

// User-facing job failure messages.
const (
	MsgNoVideoGenerated = "No video generated"
	MsgUploadFailed     = "Video was generated but failed to upload to storage"
	MsgGenerationFailed = "Video generation failed"
	MsgTimedOut         = "Generation timed out"
)

// User-facing admission messages.
const (
	MsgInsufficientCredits = "You have no credits left. Buy credits to keep generating videos."
	MsgRateLimitedFormat   = "Free generation used. Try again in %d minutes or use a credit."
)
