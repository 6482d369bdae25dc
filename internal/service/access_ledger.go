package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/pawtalk-api/internal/constants"
	"github.com/jmylchreest/pawtalk-api/internal/repository"
)

// LedgerConfig holds access ledger windows.
type LedgerConfig struct {
	FreeCooldown    time.Duration
	FreeEntryIdle   time.Duration
	CreditEntryIdle time.Duration
}

// FreeUseCheck is the answer to "may this identity generate for free now".
type FreeUseCheck struct {
	Allowed           bool
	RetryAfterMinutes int
}

// AccessLedger tracks free-tier cooldowns and anonymous credit balances.
// Storage is delegated to a LedgerStore; the ledger owns the clock and windows.
type AccessLedger struct {
	store  repository.LedgerStore
	cfg    LedgerConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewAccessLedger creates a new access ledger. Zero windows take the defaults.
func NewAccessLedger(store repository.LedgerStore, cfg LedgerConfig, logger *slog.Logger) *AccessLedger {
	if cfg.FreeCooldown <= 0 {
		cfg.FreeCooldown = constants.DefaultFreeCooldown
	}
	if cfg.FreeEntryIdle <= 0 {
		cfg.FreeEntryIdle = constants.FreeEntryIdle
	}
	if cfg.CreditEntryIdle <= 0 {
		cfg.CreditEntryIdle = constants.CreditEntryIdle
	}
	return &AccessLedger{
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With("component", "access_ledger"),
	}
}

// SetClock replaces the time source.
func (l *AccessLedger) SetClock(now func() time.Time) {
	l.now = now
}

// Cooldown returns the free-tier window.
func (l *AccessLedger) Cooldown() time.Duration {
	return l.cfg.FreeCooldown
}

// CanUseFree reports whether the identity's free-tier cooldown has elapsed.
func (l *AccessLedger) CanUseFree(ctx context.Context, identity string) (FreeUseCheck, error) {
	entry, err := l.store.GetFreeUse(ctx, identity)
	if err != nil {
		return FreeUseCheck{}, fmt.Errorf("failed to read free use: %w", err)
	}
	if entry == nil {
		return FreeUseCheck{Allowed: true}, nil
	}

	remaining := entry.LastFreeGenerationAt.Add(l.cfg.FreeCooldown).Sub(l.now())
	if remaining <= 0 {
		return FreeUseCheck{Allowed: true}, nil
	}
	return FreeUseCheck{Allowed: false, RetryAfterMinutes: ceilMinutes(remaining)}, nil
}

// RecordFreeUse starts a new cooldown for the identity.
func (l *AccessLedger) RecordFreeUse(ctx context.Context, identity string) error {
	if err := l.store.RecordFreeUse(ctx, identity, l.now()); err != nil {
		return fmt.Errorf("failed to record free use: %w", err)
	}
	return nil
}

// GetCredits returns the identity's balance, 0 when it has none.
func (l *AccessLedger) GetCredits(ctx context.Context, identity string) (int, error) {
	n, err := l.store.GetCredits(ctx, identity)
	if err != nil {
		return 0, fmt.Errorf("failed to read credits: %w", err)
	}
	return n, nil
}

// AddCredits grants amount credits and returns the new balance.
func (l *AccessLedger) AddCredits(ctx context.Context, identity string, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: credit amount must be positive", ErrInvalidInput)
	}
	n, err := l.store.AddCredits(ctx, identity, amount, l.now())
	if err != nil {
		return 0, fmt.Errorf("failed to add credits: %w", err)
	}
	return n, nil
}

// DeductCredit takes amount credits if the balance covers them.
// An insufficient balance is (false, nil) and leaves the ledger unchanged.
func (l *AccessLedger) DeductCredit(ctx context.Context, identity string, amount int) (bool, error) {
	if amount <= 0 {
		amount = 1
	}
	ok, err := l.store.DeductCredits(ctx, identity, amount, l.now())
	if err != nil {
		return false, fmt.Errorf("failed to deduct credits: %w", err)
	}
	return ok, nil
}

// Cleanup removes idle free-use entries and empty balances. An entry whose
// cooldown is still running is never removed.
func (l *AccessLedger) Cleanup(ctx context.Context) (repository.LedgerCleanupResult, error) {
	now := l.now()
	freeIdle := max(l.cfg.FreeEntryIdle, l.cfg.FreeCooldown)

	res, err := l.store.Cleanup(ctx, now.Add(-freeIdle), now.Add(-l.cfg.CreditEntryIdle))
	if err != nil {
		return res, fmt.Errorf("failed to clean up ledger: %w", err)
	}
	if res.FreeEntriesRemoved > 0 || res.CreditEntriesRemoved > 0 {
		l.logger.Info("ledger cleanup",
			"free_entries_removed", res.FreeEntriesRemoved,
			"credit_entries_removed", res.CreditEntriesRemoved,
		)
	}
	return res, nil
}

func ceilMinutes(d time.Duration) int {
	m := int(d / time.Minute)
	if d%time.Minute != 0 {
		m++
	}
	return m
}
