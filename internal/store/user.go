package store

import (
	"database/sql"
	"time"
)

const userCols = `id, first_name, last_name, email, mobile, business_name,
	avatar_url, avatar_path, created_at, updated_at, deleted_at, sync_status`

// SaveUser records a local create or update and marks the row dirty.
// A row that is still pending_create stays pending_create.
func SaveUser(q Queryer, u *User) error {
	now := time.Now().UnixMilli()
	if u.CreatedAt == 0 {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	_, err := q.Exec(`
		INSERT INTO users (id, first_name, last_name, email, mobile, business_name,
			avatar_url, avatar_path, created_at, updated_at, deleted_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			email = excluded.email,
			mobile = excluded.mobile,
			business_name = excluded.business_name,
			avatar_url = excluded.avatar_url,
			avatar_path = excluded.avatar_path,
			updated_at = excluded.updated_at,
			sync_status = CASE WHEN users.sync_status = 'pending_create'
				THEN 'pending_create' ELSE 'pending_update' END`,
		u.ID, u.FirstName, u.LastName, u.Email, u.Mobile, u.BusinessName,
		u.AvatarURL, u.AvatarPath, u.CreatedAt, u.UpdatedAt, u.DeletedAt, PendingCreate)
	return err
}

func (db *DB) SaveUser(u *User) error { return SaveUser(db.DB, u) }

// ApplyRemoteUser upserts a remote-originated row by id and marks it synced.
// Local-only columns (avatar_path) are preserved on update, an empty remote
// avatar_url never erases one already resolved locally, and a row whose
// avatar is still waiting on its upload stays pending so the upload retries.
// Applying the same row twice is a no-op.
func ApplyRemoteUser(q Queryer, u *User) error {
	_, err := q.Exec(`
		INSERT INTO users (id, first_name, last_name, email, mobile, business_name,
			avatar_url, created_at, updated_at, deleted_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'synced')
		ON CONFLICT(id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			email = excluded.email,
			mobile = excluded.mobile,
			business_name = excluded.business_name,
			avatar_url = CASE WHEN excluded.avatar_url = ''
				THEN users.avatar_url ELSE excluded.avatar_url END,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at,
			sync_status = CASE WHEN users.avatar_path != ''
				AND users.avatar_url = '' AND excluded.avatar_url = ''
				THEN 'pending_update' ELSE 'synced' END`,
		u.ID, u.FirstName, u.LastName, u.Email, u.Mobile, u.BusinessName,
		u.AvatarURL, u.CreatedAt, u.UpdatedAt, u.DeletedAt)
	return err
}

// SetUserAvatar persists the result of an avatar upload: remote URL set,
// local path cleared. Dirty status is left as-is.
func SetUserAvatar(q Queryer, id, avatarURL, avatarPath string) error {
	_, err := q.Exec(`UPDATE users SET avatar_url = ?, avatar_path = ? WHERE id = ?`,
		avatarURL, avatarPath, id)
	return err
}

// SoftDeleteUser tombstones a user locally.
func SoftDeleteUser(q Queryer, id string) error {
	now := time.Now().UnixMilli()
	_, err := q.Exec(`
		UPDATE users SET deleted_at = ?, updated_at = ?, sync_status = 'pending_delete'
		WHERE id = ?`, now, now, id)
	return err
}

// MarkUsersSynced clears dirty status after a successful push.
func MarkUsersSynced(q Queryer, ids []string) error {
	return markSynced(q, "users", ids)
}

// GetUser returns a user by id, or nil if absent.
func (db *DB) GetUser(id string) (*User, error) {
	row := db.QueryRow(`SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// ListUsers returns all live (non-tombstoned) users.
func (db *DB) ListUsers() ([]User, error) {
	rows, err := db.Query(`SELECT ` + userCols + ` FROM users WHERE deleted_at = 0 ORDER BY first_name, last_name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// PendingUsers returns users with unsynced local changes, oldest first.
func (db *DB) PendingUsers() ([]User, error) {
	rows, err := db.Query(`
		SELECT ` + userCols + ` FROM users
		WHERE sync_status != 'synced' ORDER BY updated_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (*User, error) {
	var u User
	err := r.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Mobile, &u.BusinessName,
		&u.AvatarURL, &u.AvatarPath, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt, &u.SyncStatus)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
