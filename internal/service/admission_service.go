package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/pawtalk-api/internal/models"
)

// AdmissionService decides whether an identity may start a generation and who pays.
//
// Credits are taken before the provider is called so unaffordable requests fail
// fast. The free-tier cooldown is only started by the caller once submission has
// succeeded (RecordFreeUse), so provider errors never burn a free slot.
type AdmissionService struct {
	ledger   *AccessLedger
	accounts CreditBackend
	anon     CreditBackend
	logger   *slog.Logger
}

// NewAdmissionService creates a new admission service.
func NewAdmissionService(ledger *AccessLedger, accounts CreditBackend, logger *slog.Logger) *AdmissionService {
	return &AdmissionService{
		ledger:   ledger,
		accounts: accounts,
		anon:     NewLedgerCredits(ledger),
		logger:   logger.With("component", "admission"),
	}
}

// Credits returns the backend holding the identity's credits.
func (s *AdmissionService) Credits(id models.Identity) CreditBackend {
	if id.HasPersistedAccount {
		return s.accounts
	}
	return s.anon
}

// Admit decides how a generation request may proceed. A privileged override
// short-circuits everything and touches nothing. Denials are returned as
// decisions; the error is reserved for storage failures.
func (s *AdmissionService) Admit(ctx context.Context, id models.Identity, wantsToSpendCredit, privileged bool) (models.Decision, error) {
	if privileged {
		s.logger.Debug("admission bypass", "identity", id.Key)
		return models.Decision{Mode: models.ModeBypass}, nil
	}

	if wantsToSpendCredit {
		balance, bucket, ok, err := s.Credits(id).Deduct(ctx, id)
		if err != nil {
			return models.Decision{}, fmt.Errorf("failed to spend credit: %w", err)
		}
		if !ok {
			s.logger.Debug("admission denied", "identity", id.Key, "reason", models.ReasonInsufficientCredits)
			return models.Decision{Mode: models.ModeDenied, Reason: models.ReasonInsufficientCredits}, nil
		}
		return models.Decision{Mode: models.ModePaid, NewBalance: &balance, Bucket: bucket}, nil
	}

	check, err := s.ledger.CanUseFree(ctx, id.Key)
	if err != nil {
		return models.Decision{}, err
	}
	if !check.Allowed {
		s.logger.Debug("admission denied",
			"identity", id.Key,
			"reason", models.ReasonRateLimited,
			"retry_after_minutes", check.RetryAfterMinutes,
		)
		return models.Decision{
			Mode:              models.ModeDenied,
			Reason:            models.ReasonRateLimited,
			RetryAfterMinutes: check.RetryAfterMinutes,
		}, nil
	}
	return models.Decision{Mode: models.ModeFree}, nil
}

// Refund returns the credit taken by a paid decision whose submission failed.
// Other modes are a no-op.
func (s *AdmissionService) Refund(ctx context.Context, id models.Identity, d models.Decision) error {
	if d.Mode != models.ModePaid {
		return nil
	}
	if err := s.Credits(id).Refund(ctx, id, d.Bucket); err != nil {
		s.logger.Error("credit refund failed", "identity", id.Key, "bucket", d.Bucket, "error", err)
		return err
	}
	s.logger.Info("credit refunded", "identity", id.Key, "bucket", d.Bucket)
	return nil
}

// RecordFreeUse starts the identity's cooldown after a successful free submission.
func (s *AdmissionService) RecordFreeUse(ctx context.Context, id models.Identity) error {
	return s.ledger.RecordFreeUse(ctx, id.Key)
}

// Balance reports the spendable balance and the free-tier state of an identity.
func (s *AdmissionService) Balance(ctx context.Context, id models.Identity) (int, FreeUseCheck, error) {
	credits, err := s.Credits(id).Balance(ctx, id)
	if err != nil {
		return 0, FreeUseCheck{}, err
	}
	check, err := s.ledger.CanUseFree(ctx, id.Key)
	if err != nil {
		return 0, FreeUseCheck{}, err
	}
	return credits, check, nil
}
