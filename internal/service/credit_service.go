package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/pawtalk-api/internal/models"
	"github.com/jmylchreest/pawtalk-api/internal/repository"
)

// ErrDuplicatePayment is returned when a payment has already been credited.
var ErrDuplicatePayment = errors.New("payment already processed")

// PurchaseInput is a completed checkout to credit.
type PurchaseInput struct {
	PaymentRef  string
	AccountID   string // Signed-in buyer
	Identity    string // Anonymous buyer's identity key, used when AccountID is empty
	Credits     int
	AmountCents int64
	Currency    string
}

// CreditService grants purchased credits and manages operator-granted credits.
type CreditService struct {
	accounts  repository.AccountRepository
	purchases repository.PurchaseRepository
	ledger    *AccessLedger
	logger    *slog.Logger
}

// NewCreditService creates a new credit service.
func NewCreditService(
	accounts repository.AccountRepository,
	purchases repository.PurchaseRepository,
	ledger *AccessLedger,
	logger *slog.Logger,
) *CreditService {
	return &CreditService{
		accounts:  accounts,
		purchases: purchases,
		ledger:    ledger,
		logger:    logger.With("component", "credits"),
	}
}

// ApplyPurchase credits a completed payment exactly once per payment ref.
func (s *CreditService) ApplyPurchase(ctx context.Context, in PurchaseInput) (*models.CreditPurchase, error) {
	if in.PaymentRef == "" {
		return nil, fmt.Errorf("%w: payment reference is required", ErrInvalidInput)
	}
	if in.Credits <= 0 {
		return nil, fmt.Errorf("%w: credits must be positive", ErrInvalidInput)
	}
	if in.AccountID == "" && in.Identity == "" {
		return nil, fmt.Errorf("%w: purchase has no recipient", ErrInvalidInput)
	}

	purchase := &models.CreditPurchase{
		ID:          ulid.Make().String(),
		PaymentRef:  in.PaymentRef,
		AccountID:   in.AccountID,
		Identity:    in.Identity,
		Credits:     in.Credits,
		AmountCents: in.AmountCents,
		Currency:    in.Currency,
		CreatedAt:   time.Now().UTC(),
	}

	created, err := s.purchases.Create(ctx, purchase)
	if err != nil {
		return nil, fmt.Errorf("failed to record purchase: %w", err)
	}
	if !created {
		return nil, ErrDuplicatePayment
	}

	var balance int
	if in.AccountID != "" {
		var acct *models.Account
		acct, err = s.accounts.AddPurchasedCredits(ctx, in.AccountID, in.Credits)
		if acct != nil {
			balance = acct.TotalCredits()
		}
	} else {
		balance, err = s.ledger.AddCredits(ctx, in.Identity, in.Credits)
	}
	if err != nil {
		// Drop the record so a redelivered event can try again.
		if delErr := s.purchases.Delete(ctx, purchase.ID); delErr != nil {
			s.logger.Error("failed to roll back purchase record", "payment_ref", in.PaymentRef, "error", delErr)
		}
		return nil, fmt.Errorf("failed to credit purchase: %w", err)
	}

	s.logger.Info("credits purchased",
		"payment_ref", in.PaymentRef,
		"account_id", in.AccountID,
		"anonymous", in.AccountID == "",
		"credits", in.Credits,
		"balance", balance,
	)
	return purchase, nil
}

// GrantAdminCredits adds revocable credits to an account.
func (s *CreditService) GrantAdminCredits(ctx context.Context, accountID string, amount int) (*models.Account, error) {
	if accountID == "" || amount <= 0 {
		return nil, fmt.Errorf("%w: account and positive amount required", ErrInvalidInput)
	}
	acct, err := s.accounts.GrantAdminCredits(ctx, accountID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to grant admin credits: %w", err)
	}
	s.logger.Info("admin credits granted", "account_id", accountID, "amount", amount, "admin_credits", acct.AdminCredits)
	return acct, nil
}

// RevokeAdminCredits claws back up to amount admin credits. Purchased credits
// are never touched.
func (s *CreditService) RevokeAdminCredits(ctx context.Context, accountID string, amount int) (*models.Account, error) {
	if accountID == "" || amount <= 0 {
		return nil, fmt.Errorf("%w: account and positive amount required", ErrInvalidInput)
	}
	acct, err := s.accounts.RevokeAdminCredits(ctx, accountID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke admin credits: %w", err)
	}
	if acct == nil {
		return nil, fmt.Errorf("%w: unknown account %s", ErrInvalidInput, accountID)
	}
	s.logger.Info("admin credits revoked", "account_id", accountID, "amount", amount, "admin_credits", acct.AdminCredits)
	return acct, nil
}

// SetAdminCredits overwrites an account's admin credit balance.
func (s *CreditService) SetAdminCredits(ctx context.Context, accountID string, credits int) (*models.Account, error) {
	if accountID == "" || credits < 0 {
		return nil, fmt.Errorf("%w: account and non-negative balance required", ErrInvalidInput)
	}
	acct, err := s.accounts.UpdateAccount(ctx, accountID, models.AccountUpdate{AdminCredits: &credits})
	if err != nil {
		return nil, fmt.Errorf("failed to set admin credits: %w", err)
	}
	s.logger.Info("admin credits set", "account_id", accountID, "admin_credits", credits)
	return acct, nil
}

// GetAccount returns an account, or nil when it does not exist.
func (s *CreditService) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	acct, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

// ListPurchases returns an account's purchase history, newest first.
func (s *CreditService) ListPurchases(ctx context.Context, accountID string, limit int) ([]*models.CreditPurchase, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	list, err := s.purchases.ListByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	return list, nil
}
