package provider

import (
	"unicode/utf8"

	"github.com/jmylchreest/pawtalk-api/internal/constants"
)

// ComputeDuration picks a clip length long enough for the dog to say text:
// ceil(chars / CharsPerSecond), clamped to [MinDurationSeconds, MaxDurationSeconds].
func ComputeDuration(text string) int {
	n := utf8.RuneCountInString(text)
	secs := (n + constants.CharsPerSecond - 1) / constants.CharsPerSecond
	if secs < constants.MinDurationSeconds {
		return constants.MinDurationSeconds
	}
	if secs > constants.MaxDurationSeconds {
		return constants.MaxDurationSeconds
	}
	return secs
}
