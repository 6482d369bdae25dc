package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmylchreest/pawtalk-api/internal/models"
)

// SQLiteLedgerStore implements LedgerStore on the access_entries and
// anonymous_credits tables.
type SQLiteLedgerStore struct {
	db *sql.DB
}

// NewSQLiteLedgerStore creates a new SQLite ledger store.
func NewSQLiteLedgerStore(db *sql.DB) *SQLiteLedgerStore {
	return &SQLiteLedgerStore{db: db}
}

func (s *SQLiteLedgerStore) GetFreeUse(ctx context.Context, identity string) (*models.AccessEntry, error) {
	var entry models.AccessEntry
	var last string
	err := s.db.QueryRowContext(ctx, `
		SELECT identity, last_free_generation_at, free_generation_count
		FROM access_entries WHERE identity = ?
	`, identity).Scan(&entry.Identity, &last, &entry.FreeGenerationCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access entry: %w", err)
	}
	entry.LastFreeGenerationAt = parseTime(last)
	return &entry, nil
}

func (s *SQLiteLedgerStore) RecordFreeUse(ctx context.Context, identity string, at time.Time) error {
	// MAX keeps the timestamp monotonic if two requests record out of order.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_entries (identity, last_free_generation_at, free_generation_count)
		VALUES (?, ?, 1)
		ON CONFLICT(identity) DO UPDATE SET
			last_free_generation_at = MAX(last_free_generation_at, excluded.last_free_generation_at),
			free_generation_count = free_generation_count + 1
	`, identity, formatTime(at))
	if err != nil {
		return fmt.Errorf("failed to record free use: %w", err)
	}
	return nil
}

func (s *SQLiteLedgerStore) GetCredits(ctx context.Context, identity string) (int, error) {
	var credits int
	err := s.db.QueryRowContext(ctx,
		`SELECT credits FROM anonymous_credits WHERE identity = ?`, identity).Scan(&credits)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get credits: %w", err)
	}
	return credits, nil
}

func (s *SQLiteLedgerStore) AddCredits(ctx context.Context, identity string, amount int, at time.Time) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	var balance int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO anonymous_credits (identity, credits, last_updated)
		VALUES (?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			credits = credits + excluded.credits,
			last_updated = excluded.last_updated
		RETURNING credits
	`, identity, amount, formatTime(at)).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to add credits: %w", err)
	}
	return balance, nil
}

func (s *SQLiteLedgerStore) DeductCredits(ctx context.Context, identity string, amount int, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE anonymous_credits SET credits = credits - ?, last_updated = ?
		WHERE identity = ? AND credits >= ?
	`, amount, formatTime(at), identity, amount)
	if err != nil {
		return false, fmt.Errorf("failed to deduct credits: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

func (s *SQLiteLedgerStore) Cleanup(ctx context.Context, freeBefore, creditBefore time.Time) (LedgerCleanupResult, error) {
	var res LedgerCleanupResult

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM access_entries WHERE last_free_generation_at < ?`, formatTime(freeBefore))
	if err != nil {
		return res, fmt.Errorf("failed to clean access entries: %w", err)
	}
	res.FreeEntriesRemoved, _ = result.RowsAffected()

	result, err = s.db.ExecContext(ctx,
		`DELETE FROM anonymous_credits WHERE credits = 0 AND last_updated < ?`, formatTime(creditBefore))
	if err != nil {
		return res, fmt.Errorf("failed to clean credit balances: %w", err)
	}
	res.CreditEntriesRemoved, _ = result.RowsAffected()

	return res, nil
}
