package store

import (
	"database/sql"
	"strconv"
	"time"
)

// cursorKey is the sync_state key holding the pull watermark.
const cursorKey = "last_pulled_at"

// SetState upserts a sync checkpoint value.
func SetState(q Queryer, key, value string) error {
	now := time.Now().UnixMilli()
	_, err := q.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetState retrieves a sync checkpoint value. Missing keys return "".
func GetState(q Queryer, key string) (string, error) {
	var value string
	err := q.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// LastPulledAt returns the persisted pull cursor in epoch milliseconds.
// A fresh store returns 0, i.e. "pull everything".
func LastPulledAt(q Queryer) (int64, error) {
	value, err := GetState(q, cursorKey)
	if err != nil || value == "" {
		return 0, err
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	return ms, nil
}

func (db *DB) LastPulledAt() (int64, error) { return LastPulledAt(db.DB) }

// SetLastPulledAt advances the pull cursor. Called only inside the pull
// phase's final transaction, after all tables applied.
func SetLastPulledAt(q Queryer, ms int64) error {
	return SetState(q, cursorKey, strconv.FormatInt(ms, 10))
}
