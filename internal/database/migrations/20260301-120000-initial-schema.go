package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260301-120000",
		Description: "Accounts, generation jobs and access ledger",
		Up: []string{
			// Accounts hold the two credit buckets for signed-in users.
			// The id is the subject of the session token.
			`CREATE TABLE IF NOT EXISTS accounts (
				id TEXT PRIMARY KEY,
				email TEXT,
				purchased_credits INTEGER NOT NULL DEFAULT 0 CHECK (purchased_credits >= 0),
				admin_credits INTEGER NOT NULL DEFAULT 0 CHECK (admin_credits >= 0),
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,

			// Generation jobs double as the user's video library, so rows are never deleted.
			`CREATE TABLE IF NOT EXISTS generation_jobs (
				id TEXT PRIMARY KEY,
				operation_handle TEXT,
				status TEXT NOT NULL DEFAULT 'processing',
				prompt TEXT NOT NULL,
				source_image_ref TEXT,
				result_url TEXT,
				error_message TEXT,
				owner_identity TEXT,
				aspect_ratio TEXT,
				duration_seconds INTEGER,
				admission_mode TEXT,
				watermarked INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				completed_at TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_generation_jobs_owner ON generation_jobs(owner_identity, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_generation_jobs_status ON generation_jobs(status)`,

			// Free-tier cooldown state per identity.
			`CREATE TABLE IF NOT EXISTS access_entries (
				identity TEXT PRIMARY KEY,
				last_free_generation_at TEXT NOT NULL,
				free_generation_count INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_access_entries_last ON access_entries(last_free_generation_at)`,

			// Credit balances for identities without an account.
			`CREATE TABLE IF NOT EXISTS anonymous_credits (
				identity TEXT PRIMARY KEY,
				credits INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
				last_updated TEXT NOT NULL
			)`,
		},
	})
}
