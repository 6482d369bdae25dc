// Package repository defines the persistence contracts for generation jobs,
// accounts, credit purchases and the access ledger, with libsql, in-memory and
// Redis implementations.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmylchreest/pawtalk-api/internal/models"
)

// JobRepository is the Job Store. GetByID returns (nil, nil) when no job exists.
type JobRepository interface {
	Create(ctx context.Context, job *models.GenerationJob) error
	GetByID(ctx context.Context, id string) (*models.GenerationJob, error)
	// Update applies the partial update only while the job is processing and
	// returns the stored job afterwards. Terminal jobs come back unchanged.
	Update(ctx context.Context, id string, upd models.JobUpdate) (*models.GenerationJob, error)
	// ListByOwner returns an owner's jobs newest first.
	ListByOwner(ctx context.Context, owner string, limit, offset int) ([]*models.GenerationJob, error)
	// ListProcessing returns the oldest processing jobs that have an operation handle.
	ListProcessing(ctx context.Context, limit int) ([]*models.GenerationJob, error)
	// MarkStaleProcessingFailed fails jobs processing for longer than maxAge.
	MarkStaleProcessingFailed(ctx context.Context, maxAge time.Duration, message string) (int64, error)
}

// AccountRepository is the account store holding per-account credit buckets.
// GetAccount returns (nil, nil) when no account exists.
type AccountRepository interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	UpdateAccount(ctx context.Context, id string, upd models.AccountUpdate) (*models.Account, error)
	// DeductCredit atomically takes one credit, admin bucket first.
	// ok is false, with no mutation, when both buckets are empty.
	DeductCredit(ctx context.Context, id string) (acct *models.Account, bucket models.CreditBucket, ok bool, err error)
	// RefundCredit returns one credit to the bucket it was taken from.
	RefundCredit(ctx context.Context, id string, bucket models.CreditBucket) error
	AddPurchasedCredits(ctx context.Context, id string, amount int) (*models.Account, error)
	GrantAdminCredits(ctx context.Context, id string, amount int) (*models.Account, error)
	// RevokeAdminCredits removes up to amount admin credits, never going below zero.
	RevokeAdminCredits(ctx context.Context, id string, amount int) (*models.Account, error)
}

// LedgerCleanupResult reports what a ledger sweep removed.
type LedgerCleanupResult struct {
	FreeEntriesRemoved   int64
	CreditEntriesRemoved int64
}

// LedgerStore persists the access ledger: free-tier cooldowns and anonymous
// credit balances keyed by identity. Callers supply the clock.
type LedgerStore interface {
	// GetFreeUse returns (nil, nil) when the identity has never used the free tier.
	GetFreeUse(ctx context.Context, identity string) (*models.AccessEntry, error)
	// RecordFreeUse creates or bumps the entry. The stored timestamp never moves backwards.
	RecordFreeUse(ctx context.Context, identity string, at time.Time) error
	GetCredits(ctx context.Context, identity string) (int, error)
	// AddCredits creates or increments the balance and returns the new balance.
	AddCredits(ctx context.Context, identity string, amount int, at time.Time) (int, error)
	// DeductCredits decrements only if the balance covers amount.
	DeductCredits(ctx context.Context, identity string, amount int, at time.Time) (bool, error)
	// Cleanup removes free entries last used before freeBefore and zero balances
	// untouched since creditBefore. Nonzero balances are never removed.
	Cleanup(ctx context.Context, freeBefore, creditBefore time.Time) (LedgerCleanupResult, error)
}

// PurchaseRepository records completed credit purchases.
type PurchaseRepository interface {
	// Create stores the purchase. created is false when the payment ref was already recorded.
	Create(ctx context.Context, p *models.CreditPurchase) (created bool, err error)
	GetByPaymentRef(ctx context.Context, ref string) (*models.CreditPurchase, error)
	Delete(ctx context.Context, id string) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.CreditPurchase, error)
}

// Repositories holds all repository instances.
type Repositories struct {
	Job      JobRepository
	Account  AccountRepository
	Purchase PurchaseRepository
	Ledger   LedgerStore
}

// NewRepositories creates the libsql-backed repositories. The ledger store is
// chosen separately (see NewLedgerStore in main) and may be overridden.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Job:      NewSQLiteJobRepository(db),
		Account:  NewSQLiteAccountRepository(db),
		Purchase: NewSQLitePurchaseRepository(db),
		Ledger:   NewSQLiteLedgerStore(db),
	}
}
