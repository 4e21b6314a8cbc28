package sqlite

import (
	"database/sql"
	"errors"
)

// ─── Local Storage ──────────────────────────────────────────────────────────

// LocalStorage is a key/value view of the local_storage table.
type LocalStorage struct {
	db *DB
}

// LocalStorage returns the key/value store backed by db.
func (db *DB) LocalStorage() *LocalStorage {
	return &LocalStorage{db: db}
}

// Get returns the value stored under key.
func (s *LocalStorage) Get(key string) (string, bool, error) {
	var value string
	err := s.db.db.QueryRow(`SELECT value FROM local_storage WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *LocalStorage) Set(key, value string) error {
	_, err := s.db.db.Exec(`
		INSERT INTO local_storage (key, value, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = datetime('now')
	`, key, value)
	return err
}

// Remove deletes key. Removing a missing key is not an error.
func (s *LocalStorage) Remove(key string) error {
	_, err := s.db.db.Exec(`DELETE FROM local_storage WHERE key = ?`, key)
	return err
}
