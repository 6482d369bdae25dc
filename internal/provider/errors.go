package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// ErrTransport marks failures to reach the provider at all (network errors,
// gateway errors). They are never a verdict on the job.
var ErrTransport = errors.New("video provider unreachable")

// Error categories.
const (
	CategoryContentPolicy   = "content_policy"
	CategoryPermission      = "permission"
	CategoryQuota           = "quota"
	CategoryInvalidArgument = "invalid_argument"
	CategoryNotFound        = "not_found"
	CategoryAuth            = "auth"
	CategoryProvider        = "provider_error"
)

// ProviderError is a rejection from the video provider with a user-safe message.
type ProviderError struct {
	StatusCode int    // HTTP status, 0 for errors reported inside an operation
	Code       string // Provider status string, e.g. INVALID_ARGUMENT
	// RawMessage is for server logs only and may contain project ids or keys.
	RawMessage  string
	UserMessage string
	Category    string
}

func (e *ProviderError) Error() string {
	return e.UserMessage
}

// googleErrorBody is the error envelope returned by the generative API.
type googleErrorBody struct {
	Error OperationError `json:"error"`
}

// ClassifyHTTPError builds a ProviderError from a non-2xx response body.
func ClassifyHTTPError(statusCode int, body []byte) *ProviderError {
	var parsed googleErrorBody
	raw := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		raw = parsed.Error.Message
	}
	if raw == "" {
		raw = fmt.Sprintf("HTTP %d", statusCode)
	}

	category, msg := userMessage(parsed.Error.Status, statusCode, raw)
	return &ProviderError{
		StatusCode:  statusCode,
		Code:        parsed.Error.Status,
		RawMessage:  raw,
		UserMessage: msg,
		Category:    category,
	}
}

// ClassifyOperationError builds a ProviderError from an error attached to a finished operation.
// Operation errors carry gRPC codes, not HTTP statuses.
func ClassifyOperationError(opErr *OperationError) *ProviderError {
	status := opErr.Status
	if status == "" {
		status = rpcCodeNames[opErr.Code]
	}
	category, msg := userMessage(status, 0, opErr.Message)
	return &ProviderError{
		Code:        status,
		RawMessage:  opErr.Message,
		UserMessage: msg,
		Category:    category,
	}
}

var rpcCodeNames = map[int]string{
	3:  "INVALID_ARGUMENT",
	5:  "NOT_FOUND",
	7:  "PERMISSION_DENIED",
	8:  "RESOURCE_EXHAUSTED",
	16: "UNAUTHENTICATED",
}

// userMessage returns the category and the user-facing form of a raw provider message.
func userMessage(status string, code int, raw string) (string, string) {
	lower := strings.ToLower(raw)
	switch {
	case status == "PERMISSION_DENIED" || code == http.StatusForbidden:
		return CategoryPermission, "The video service refused this request. Please try again later."
	case status == "UNAUTHENTICATED" || code == http.StatusUnauthorized:
		return CategoryAuth, "The video service is temporarily unavailable. Please try again later."
	case status == "RAI_MEDIA_FILTERED" && strings.TrimSpace(raw) == "":
		return CategoryContentPolicy, "The video was blocked by the provider's safety filters."
	case status == "RAI_MEDIA_FILTERED" || IsContentPolicy(raw):
		// Moderation rejections are the one thing users can act on, so they pass through.
		return CategoryContentPolicy, scrub(raw)
	case status == "RESOURCE_EXHAUSTED" || code == http.StatusTooManyRequests || strings.Contains(lower, "quota"):
		return CategoryQuota, "The video service is busy right now. Please try again in a few minutes."
	case status == "INVALID_ARGUMENT" || code == http.StatusBadRequest:
		return CategoryInvalidArgument, "The video service could not process this request. Try a different photo or shorter text."
	case status == "NOT_FOUND" || code == http.StatusNotFound:
		return CategoryNotFound, "The video generation request could not be found."
	}

	scrubbed := scrub(raw)
	if scrubbed == "" {
		scrubbed = "Video generation failed"
	}
	return CategoryProvider, scrubbed
}

// Phrases that only appear in moderation rejections. Bare words like
// "blocked" also show up in API key and network errors.
var contentPolicyMarkers = []string{
	"safety filter",
	"safety polic",
	"safety setting",
	"responsible ai",
	"content policy",
	"content policies",
	"usage policies",
	"usage guidelines",
	"prompt was blocked",
	"image was blocked",
	"raimediafiltered",
}

// IsContentPolicy reports whether a message is a moderation rejection.
func IsContentPolicy(raw string) bool {
	lower := strings.ToLower(raw)
	for _, m := range contentPolicyMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

var scrubRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.iam\.gserviceaccount\.com`), "[service-account]"},
	{regexp.MustCompile(`projects/[^/\s"']+`), "projects/[redacted]"},
	{regexp.MustCompile(`(?i)\bproject\s+(?:id\s+|number\s+)?[a-z0-9-]{6,30}\b`), "project [redacted]"},
	{regexp.MustCompile(`gs://[^\s"']+`), "[storage-path]"},
	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`), "Bearer [redacted]"},
	{regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`), "[api-key]"},
	{regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`), "[id]"},
}

func scrub(s string) string {
	for _, r := range scrubRules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return strings.TrimSpace(s)
}
