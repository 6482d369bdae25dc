package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmylchreest/pawtalk-api/internal/models"
)

// SQLitePurchaseRepository implements PurchaseRepository for SQLite/libsql.
type SQLitePurchaseRepository struct {
	db *sql.DB
}

// NewSQLitePurchaseRepository creates a new SQLite purchase repository.
func NewSQLitePurchaseRepository(db *sql.DB) *SQLitePurchaseRepository {
	return &SQLitePurchaseRepository{db: db}
}

const purchaseColumns = `id, payment_ref, account_id, identity, credits, amount_cents, currency, created_at`

func (r *SQLitePurchaseRepository) Create(ctx context.Context, p *models.CreditPurchase) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO credit_purchases (`+purchaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(payment_ref) DO NOTHING
	`,
		p.ID,
		p.PaymentRef,
		nullString(p.AccountID),
		nullString(p.Identity),
		p.Credits,
		p.AmountCents,
		nullString(p.Currency),
		formatTime(p.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record credit purchase: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

func (r *SQLitePurchaseRepository) GetByPaymentRef(ctx context.Context, ref string) (*models.CreditPurchase, error) {
	p, err := scanPurchase(r.db.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM credit_purchases WHERE payment_ref = ?`, ref))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credit purchase: %w", err)
	}
	return p, nil
}

// Delete removes a purchase record so a redelivered webhook can retry crediting.
func (r *SQLitePurchaseRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM credit_purchases WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete credit purchase: %w", err)
	}
	return nil
}

func (r *SQLitePurchaseRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.CreditPurchase, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+purchaseColumns+` FROM credit_purchases
		WHERE account_id = ? ORDER BY created_at DESC LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit purchases: %w", err)
	}
	defer rows.Close()

	var out []*models.CreditPurchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credit purchase: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPurchase(s rowScanner) (*models.CreditPurchase, error) {
	var p models.CreditPurchase
	var accountID, identity, currency sql.NullString
	var createdAt string

	if err := s.Scan(&p.ID, &p.PaymentRef, &accountID, &identity, &p.Credits, &p.AmountCents, &currency, &createdAt); err != nil {
		return nil, err
	}
	p.AccountID = accountID.String
	p.Identity = identity.String
	p.Currency = currency.String
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}
