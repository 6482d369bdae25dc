package service

import (
	"context"
	"fmt"

	"github.com/jmylchreest/pawtalk-api/internal/models"
	"github.com/jmylchreest/pawtalk-api/internal/repository"
)

// CreditBackend is where an identity's spendable credits live: account rows for
// signed-in callers, the access ledger for anonymous ones.
type CreditBackend interface {
	Balance(ctx context.Context, id models.Identity) (int, error)
	// Deduct atomically takes one credit. ok is false, with nothing changed,
	// when the balance is empty.
	Deduct(ctx context.Context, id models.Identity) (newBalance int, bucket models.CreditBucket, ok bool, err error)
	// Refund returns one credit to the bucket Deduct took it from.
	Refund(ctx context.Context, id models.Identity, bucket models.CreditBucket) error
	// Add grants purchased credits and returns the new balance.
	Add(ctx context.Context, id models.Identity, amount int) (int, error)
}

// AccountCredits spends from the account's admin bucket before its purchased bucket.
type AccountCredits struct {
	accounts repository.AccountRepository
}

// NewAccountCredits creates an account-backed credit backend.
func NewAccountCredits(accounts repository.AccountRepository) *AccountCredits {
	return &AccountCredits{accounts: accounts}
}

func (c *AccountCredits) Balance(ctx context.Context, id models.Identity) (int, error) {
	acct, err := c.accounts.GetAccount(ctx, id.AccountID)
	if err != nil {
		return 0, fmt.Errorf("failed to get account: %w", err)
	}
	if acct == nil {
		return 0, nil
	}
	return acct.TotalCredits(), nil
}

func (c *AccountCredits) Deduct(ctx context.Context, id models.Identity) (int, models.CreditBucket, bool, error) {
	acct, bucket, ok, err := c.accounts.DeductCredit(ctx, id.AccountID)
	if err != nil {
		return 0, "", false, fmt.Errorf("failed to deduct account credit: %w", err)
	}
	if !ok {
		return 0, "", false, nil
	}
	return acct.TotalCredits(), bucket, true, nil
}

func (c *AccountCredits) Refund(ctx context.Context, id models.Identity, bucket models.CreditBucket) error {
	if err := c.accounts.RefundCredit(ctx, id.AccountID, bucket); err != nil {
		return fmt.Errorf("failed to refund account credit: %w", err)
	}
	return nil
}

func (c *AccountCredits) Add(ctx context.Context, id models.Identity, amount int) (int, error) {
	acct, err := c.accounts.AddPurchasedCredits(ctx, id.AccountID, amount)
	if err != nil {
		return 0, fmt.Errorf("failed to add account credits: %w", err)
	}
	return acct.TotalCredits(), nil
}

// LedgerCredits keeps anonymous balances in the access ledger.
type LedgerCredits struct {
	ledger *AccessLedger
}

// NewLedgerCredits creates a ledger-backed credit backend.
func NewLedgerCredits(ledger *AccessLedger) *LedgerCredits {
	return &LedgerCredits{ledger: ledger}
}

func (c *LedgerCredits) Balance(ctx context.Context, id models.Identity) (int, error) {
	return c.ledger.GetCredits(ctx, id.Key)
}

func (c *LedgerCredits) Deduct(ctx context.Context, id models.Identity) (int, models.CreditBucket, bool, error) {
	ok, err := c.ledger.DeductCredit(ctx, id.Key, 1)
	if err != nil || !ok {
		return 0, "", false, err
	}
	// Informational only; the deduction itself was atomic.
	balance, err := c.ledger.GetCredits(ctx, id.Key)
	if err != nil {
		balance = 0
	}
	return balance, models.BucketLedger, true, nil
}

func (c *LedgerCredits) Refund(ctx context.Context, id models.Identity, _ models.CreditBucket) error {
	_, err := c.ledger.AddCredits(ctx, id.Key, 1)
	return err
}

func (c *LedgerCredits) Add(ctx context.Context, id models.Identity, amount int) (int, error) {
	return c.ledger.AddCredits(ctx, id.Key, amount)
}
