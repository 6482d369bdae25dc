package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260315-093000",
		Description: "Credit purchase records for idempotent webhook handling",
		Up: []string{
			// payment_ref is the checkout session id; a replayed webhook hits the UNIQUE constraint.
			`CREATE TABLE IF NOT EXISTS credit_purchases (
				id TEXT PRIMARY KEY,
				payment_ref TEXT UNIQUE NOT NULL,
				account_id TEXT,
				identity TEXT,
				credits INTEGER NOT NULL,
				amount_cents INTEGER NOT NULL DEFAULT 0,
				currency TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_credit_purchases_account ON credit_purchases(account_id)`,
		},
	})
}
