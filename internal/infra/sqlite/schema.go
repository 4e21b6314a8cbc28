package sqlite

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Browser-style key/value storage (persisted wallet name, mock keys)
		`CREATE TABLE IF NOT EXISTS local_storage (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		// Quest completions, one per (address, quest)
		`CREATE TABLE IF NOT EXISTS quest_completions (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			address      TEXT NOT NULL,
			quest_id     TEXT NOT NULL,
			xp           INTEGER NOT NULL DEFAULT 0,
			tx_ref       TEXT,
			completed_at TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE(address, quest_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_completions_address ON quest_completions(address)`,

		// Credential claims, one per (campaign, address)
		`CREATE TABLE IF NOT EXISTS campaign_claims (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			campaign_id TEXT NOT NULL,
			address     TEXT NOT NULL,
			tx_ref      TEXT,
			claimed_at  TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE(campaign_id, address)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_campaign ON campaign_claims(campaign_id)`,
	}
}
