package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmylchreest/pawtalk-api/internal/models"
)

// SQLiteAccountRepository implements AccountRepository for SQLite/libsql.
type SQLiteAccountRepository struct {
	db *sql.DB
}

// NewSQLiteAccountRepository creates a new SQLite account repository.
func NewSQLiteAccountRepository(db *sql.DB) *SQLiteAccountRepository {
	return &SQLiteAccountRepository{db: db}
}

const accountColumns = `id, email, purchased_credits, admin_credits, created_at, updated_at`

func (r *SQLiteAccountRepository) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	acct, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

// UpdateAccount creates the account if needed, then applies the partial update.
// Negative balances are rejected by the table's CHECK constraints.
func (r *SQLiteAccountRepository) UpdateAccount(ctx context.Context, id string, upd models.AccountUpdate) (*models.Account, error) {
	now := formatTime(time.Now())
	if err := r.ensure(ctx, id, now); err != nil {
		return nil, err
	}

	sets := []string{"updated_at = ?"}
	args := []any{now}
	if upd.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, nullString(*upd.Email))
	}
	if upd.PurchasedCredits != nil {
		sets = append(sets, "purchased_credits = ?")
		args = append(args, *upd.PurchasedCredits)
	}
	if upd.AdminCredits != nil {
		sets = append(sets, "admin_credits = ?")
		args = append(args, *upd.AdminCredits)
	}
	args = append(args, id)

	acct, err := scanAccount(r.db.QueryRowContext(ctx,
		`UPDATE accounts SET `+strings.Join(sets, ", ")+` WHERE id = ? RETURNING `+accountColumns, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return acct, nil
}

// DeductCredit runs one guarded decrement per bucket. Each statement only
// matches when its bucket holds a credit, so concurrent callers can never
// overdraw: the loser of a race on the last credit simply matches no row.
func (r *SQLiteAccountRepository) DeductCredit(ctx context.Context, id string) (*models.Account, models.CreditBucket, bool, error) {
	now := formatTime(time.Now())

	acct, err := scanAccount(r.db.QueryRowContext(ctx, `
		UPDATE accounts SET admin_credits = admin_credits - 1, updated_at = ?
		WHERE id = ? AND admin_credits >= 1
		RETURNING `+accountColumns, now, id))
	if err == nil {
		return acct, models.BucketAdmin, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, "", false, fmt.Errorf("failed to deduct admin credit: %w", err)
	}

	acct, err = scanAccount(r.db.QueryRowContext(ctx, `
		UPDATE accounts SET purchased_credits = purchased_credits - 1, updated_at = ?
		WHERE id = ? AND purchased_credits >= 1
		RETURNING `+accountColumns, now, id))
	if err == nil {
		return acct, models.BucketPurchased, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, "", false, fmt.Errorf("failed to deduct purchased credit: %w", err)
	}

	return nil, "", false, nil
}

func (r *SQLiteAccountRepository) RefundCredit(ctx context.Context, id string, bucket models.CreditBucket) error {
	var column string
	switch bucket {
	case models.BucketAdmin:
		column = "admin_credits"
	case models.BucketPurchased:
		column = "purchased_credits"
	default:
		return fmt.Errorf("cannot refund to bucket %q on an account", bucket)
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET `+column+` = `+column+` + 1, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to refund credit: %w", err)
	}
	return nil
}

func (r *SQLiteAccountRepository) AddPurchasedCredits(ctx context.Context, id string, amount int) (*models.Account, error) {
	return r.upsertAdd(ctx, id, "purchased_credits", amount)
}

func (r *SQLiteAccountRepository) GrantAdminCredits(ctx context.Context, id string, amount int) (*models.Account, error) {
	return r.upsertAdd(ctx, id, "admin_credits", amount)
}

func (r *SQLiteAccountRepository) RevokeAdminCredits(ctx context.Context, id string, amount int) (*models.Account, error) {
	if amount < 0 {
		return nil, fmt.Errorf("revoke amount must be non-negative, got %d", amount)
	}
	acct, err := scanAccount(r.db.QueryRowContext(ctx, `
		UPDATE accounts SET admin_credits = MAX(admin_credits - ?, 0), updated_at = ?
		WHERE id = ?
		RETURNING `+accountColumns, amount, formatTime(time.Now()), id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to revoke admin credits: %w", err)
	}
	return acct, nil
}

func (r *SQLiteAccountRepository) upsertAdd(ctx context.Context, id, column string, amount int) (*models.Account, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	now := formatTime(time.Now())

	var purchased, admin int
	if column == "purchased_credits" {
		purchased = amount
	} else {
		admin = amount
	}

	acct, err := scanAccount(r.db.QueryRowContext(ctx, `
		INSERT INTO accounts (id, purchased_credits, admin_credits, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			`+column+` = `+column+` + ?,
			updated_at = excluded.updated_at
		RETURNING `+accountColumns,
		id, purchased, admin, now, now, amount))
	if err != nil {
		return nil, fmt.Errorf("failed to add %s: %w", column, err)
	}
	return acct, nil
}

func (r *SQLiteAccountRepository) ensure(ctx context.Context, id, now string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, now, now)
	if err != nil {
		return fmt.Errorf("failed to ensure account: %w", err)
	}
	return nil
}

func scanAccount(s rowScanner) (*models.Account, error) {
	var acct models.Account
	var email sql.NullString
	var createdAt, updatedAt string

	if err := s.Scan(&acct.ID, &email, &acct.PurchasedCredits, &acct.AdminCredits, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	acct.Email = email.String
	acct.CreatedAt = parseTime(createdAt)
	acct.UpdatedAt = parseTime(updatedAt)
	return &acct, nil
}
