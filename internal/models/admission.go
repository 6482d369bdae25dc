package models

// Identity is the per-request key used for rate limiting and credit accounting.
type Identity struct {
	// Key is "acct:<id>" for signed-in callers or "ip:<hmac>" for anonymous ones.
	Key string
	// AccountID is set when HasPersistedAccount is true.
	AccountID string
	// HasPersistedAccount selects the account-row credit backend over the ledger.
	HasPersistedAccount bool
	// Privileged callers bypass admission entirely.
	Privileged bool
}

// AdmissionMode is the outcome class of an admission decision.
type AdmissionMode string

const (
	ModeBypass AdmissionMode = "bypass"
	ModeFree   AdmissionMode = "free"
	ModePaid   AdmissionMode = "paid"
	ModeDenied AdmissionMode = "denied"
)

// DenyReason explains a denied admission.
type DenyReason string

const (
	ReasonInsufficientCredits DenyReason = "insufficient_credits"
	ReasonRateLimited         DenyReason = "rate_limited"
)

// Decision is the answer to "may this identity start a generation, and at what cost".
type Decision struct {
	Mode              AdmissionMode `json:"mode"`
	Reason            DenyReason    `json:"reason,omitempty"`
	RetryAfterMinutes int           `json:"retry_after_minutes,omitempty"`
	// NewBalance is the spendable balance after a paid admission, when known.
	NewBalance *int `json:"new_balance,omitempty"`
	// Bucket is where a paid admission took its credit from.
	Bucket CreditBucket `json:"-"`
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool {
	return d.Mode != ModeDenied
}
