package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/starkpass/starkpass/internal/domain"
)

// ─── Quest Completions ──────────────────────────────────────────────────────

// CompletedQuests returns the quest ids completed by address, oldest first.
func (db *DB) CompletedQuests(address string) ([]string, error) {
	rows, err := db.db.Query(`
		SELECT quest_id FROM quest_completions
		WHERE address = ?
		ORDER BY id ASC
	`, domain.NormalizeAddress(address))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RecordCompletion stores a quest completion. A repeat completion of the
// same quest by the same address is ignored.
func (db *DB) RecordCompletion(address, questID string, xp int, txRef string) error {
	_, err := db.db.Exec(`
		INSERT INTO quest_completions (address, quest_id, xp, tx_ref)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address, quest_id) DO NOTHING
	`, domain.NormalizeAddress(address), questID, xp, txRef)
	return err
}

// ─── Campaign Claims ────────────────────────────────────────────────────────

// ClaimCount returns the number of recorded claims for a campaign.
func (db *DB) ClaimCount(campaignID string) (int, error) {
	var n int
	err := db.db.QueryRow(`SELECT COUNT(*) FROM campaign_claims WHERE campaign_id = ?`, campaignID).Scan(&n)
	return n, err
}

// RecordClaim adds a claim for address on top of base, refusing to exceed max.
func (db *DB) RecordClaim(campaignID, address, txRef string, base, max int) (int, error) {
	tx, err := db.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	addr := domain.NormalizeAddress(address)
	var existing int
	err = tx.QueryRow(`
		SELECT COUNT(*) FROM campaign_claims WHERE campaign_id = ? AND address = ?
	`, campaignID, addr).Scan(&existing)
	if err != nil {
		return 0, err
	}

	var n int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM campaign_claims WHERE campaign_id = ?`, campaignID).Scan(&n); err != nil {
		return 0, err
	}
	if existing > 0 {
		return base + n, nil
	}
	if base+n >= max {
		return base + n, domain.ErrCampaignExhausted
	}

	if _, err := tx.Exec(`
		INSERT INTO campaign_claims (campaign_id, address, tx_ref) VALUES (?, ?, ?)
	`, campaignID, addr, txRef); err != nil {
		return 0, fmt.Errorf("insert claim: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return base + n + 1, nil
}

// ─── Aggregates ─────────────────────────────────────────────────────────────

// CompletionCounts returns the completion count per quest id.
func (db *DB) CompletionCounts() (map[string]int, error) {
	rows, err := db.db.Query(`SELECT quest_id, COUNT(*) FROM quest_completions GROUP BY quest_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

// DistinctAddresses returns how many addresses completed or claimed anything.
func (db *DB) DistinctAddresses() (int, error) {
	var n int
	err := db.db.QueryRow(`
		SELECT COUNT(*) FROM (
			SELECT address FROM quest_completions
			UNION
			SELECT address FROM campaign_claims
		)
	`).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// TopContributors returns the addresses with the most XP, highest first.
func (db *DB) TopContributors(limit int) ([]domain.Contributor, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.db.Query(`
		SELECT address, SUM(xp) AS total_xp, COUNT(*) AS quests
		FROM quest_completions
		GROUP BY address
		ORDER BY total_xp DESC, address ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Contributor{}
	for rows.Next() {
		var c domain.Contributor
		if err := rows.Scan(&c.Address, &c.XP, &c.QuestsCompleted); err != nil {
			return nil, err
		}
		c.Level = domain.Level(c.XP)
		out = append(out, c)
	}
	return out, rows.Err()
}
