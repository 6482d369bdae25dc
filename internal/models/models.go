// Package models defines the domain models for the application.
// Account IDs are the subject claim of the session token; anonymous callers are
// keyed by a hashed network address instead (see Identity).
package models

import (
	"time"
)

// JobStatus is the state of a GenerationJob. Completed and failed are absorbing.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition may occur.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// GenerationJob is one submitted request to the video provider.
type GenerationJob struct {
	ID              string     `json:"id"`
	OperationHandle string     `json:"-"` // Provider long-running operation name; never exposed
	Status          JobStatus  `json:"status"`
	Prompt          string     `json:"prompt"`
	SourceImageRef  string     `json:"source_image_ref,omitempty"`
	ResultURL       string     `json:"result_url,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"` // Always sanitized
	OwnerIdentity   string     `json:"-"`
	AspectRatio     string     `json:"aspect_ratio,omitempty"`
	DurationSeconds int        `json:"duration_seconds,omitempty"`
	AdmissionMode   string     `json:"admission_mode,omitempty"` // free, paid, bypass
	Watermarked     bool       `json:"watermarked"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// JobUpdate is a partial update; nil fields are left untouched.
type JobUpdate struct {
	Status       *JobStatus
	ResultURL    *string
	ErrorMessage *string
	Watermarked  *bool
}

// StatusResult is what a status check reports to callers.
type StatusResult struct {
	JobID        string    `json:"job_id"`
	Status       JobStatus `json:"status"`
	ResultURL    string    `json:"result_url,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// ResultFromJob builds the caller-visible result of a stored job.
func ResultFromJob(job *GenerationJob) StatusResult {
	return StatusResult{
		JobID:        job.ID,
		Status:       job.Status,
		ResultURL:    job.ResultURL,
		ErrorMessage: job.ErrorMessage,
	}
}

// Account is a signed-in user with two separately tracked credit buckets.
type Account struct {
	ID               string    `json:"id"`
	Email            string    `json:"email,omitempty"`
	PurchasedCredits int       `json:"purchased_credits"`
	AdminCredits     int       `json:"admin_credits"` // Granted by operators; revocable
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TotalCredits is the spendable balance.
func (a *Account) TotalCredits() int {
	return a.PurchasedCredits + a.AdminCredits
}

// AccountUpdate is a partial update of an account; nil fields are left untouched.
type AccountUpdate struct {
	Email            *string
	PurchasedCredits *int
	AdminCredits     *int
}

// AccessEntry tracks free-tier use of one identity.
type AccessEntry struct {
	Identity             string    `json:"identity"`
	LastFreeGenerationAt time.Time `json:"last_free_generation_at"`
	FreeGenerationCount  int       `json:"free_generation_count"`
}

// CreditBalance is an anonymous identity's credit balance.
type CreditBalance struct {
	Identity    string    `json:"identity"`
	Credits     int       `json:"credits"`
	LastUpdated time.Time `json:"last_updated"`
}

// CreditBucket names where a spent credit came from, so it can be refunded there.
type CreditBucket string

const (
	BucketAdmin     CreditBucket = "admin"
	BucketPurchased CreditBucket = "purchased"
	BucketLedger    CreditBucket = "ledger"
)

// CreditPurchase records a completed checkout so replays grant nothing.
type CreditPurchase struct {
	ID          string    `json:"id"`
	PaymentRef  string    `json:"payment_ref"`
	AccountID   string    `json:"account_id,omitempty"`
	Identity    string    `json:"identity,omitempty"`
	Credits     int       `json:"credits"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
