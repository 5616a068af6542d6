package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

const messageCols = `id, group_id, sender_id, sender_name, message_type, content,
	attachments, important, forwarded, forwarded_message_id, reply_to_message_id,
	created_at, updated_at, deleted_at, sync_status`

// SaveMessage records a local create or update and marks the row dirty.
func SaveMessage(q Queryer, m *Message) error {
	now := time.Now().UnixMilli()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	atts, err := marshalAttachments(m.Attachments)
	if err != nil {
		return err
	}
	_, err = q.Exec(`
		INSERT INTO messages (id, group_id, sender_id, sender_name, message_type, content,
			attachments, important, forwarded, forwarded_message_id, reply_to_message_id,
			created_at, updated_at, deleted_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			attachments = excluded.attachments,
			important = excluded.important,
			updated_at = excluded.updated_at,
			sync_status = CASE WHEN messages.sync_status = 'pending_create'
				THEN 'pending_create' ELSE 'pending_update' END`,
		m.ID, m.GroupID, m.SenderID, m.SenderName, m.Type, m.Content,
		atts, m.Important, m.Forwarded, m.ForwardedMessageID, m.ReplyToMessageID,
		m.CreatedAt, m.UpdatedAt, m.DeletedAt, PendingCreate)
	return err
}

func (db *DB) SaveMessage(m *Message) error { return SaveMessage(db.DB, m) }

// ApplyRemoteMessage upserts a remote-originated row by id and marks it
// synced. Local attachments whose upload has not resolved yet (local path
// only, no URL) are absent from the remote copy; they survive the apply and
// keep the row pending so the upload retries.
func ApplyRemoteMessage(q Queryer, m *Message) error {
	attachments := m.Attachments
	status := Synced
	existing, err := GetMessage(q, m.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		for _, a := range existing.Attachments {
			if a.LocalPath != "" && a.RemoteURL == "" && !hasAttachmentNamed(attachments, a.Name) {
				attachments = append(attachments, a)
				status = PendingUpdate
			}
		}
	}
	atts, err := marshalAttachments(attachments)
	if err != nil {
		return err
	}
	_, err = q.Exec(`
		INSERT INTO messages (id, group_id, sender_id, sender_name, message_type, content,
			attachments, important, forwarded, forwarded_message_id, reply_to_message_id,
			created_at, updated_at, deleted_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			group_id = excluded.group_id,
			sender_id = excluded.sender_id,
			sender_name = excluded.sender_name,
			message_type = excluded.message_type,
			content = excluded.content,
			attachments = excluded.attachments,
			important = excluded.important,
			forwarded = excluded.forwarded,
			forwarded_message_id = excluded.forwarded_message_id,
			reply_to_message_id = excluded.reply_to_message_id,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at,
			sync_status = excluded.sync_status`,
		m.ID, m.GroupID, m.SenderID, m.SenderName, m.Type, m.Content,
		atts, m.Important, m.Forwarded, m.ForwardedMessageID, m.ReplyToMessageID,
		m.CreatedAt, m.UpdatedAt, m.DeletedAt, status)
	return err
}

func hasAttachmentNamed(atts []Attachment, name string) bool {
	for _, a := range atts {
		if a.Name == name {
			return true
		}
	}
	return false
}

// SetMessageAttachments persists the attachment list after uploads resolve.
// Dirty status and timestamps are left as-is so the push still happens.
func SetMessageAttachments(q Queryer, id string, attachments []Attachment) error {
	atts, err := marshalAttachments(attachments)
	if err != nil {
		return err
	}
	_, err = q.Exec(`UPDATE messages SET attachments = ? WHERE id = ?`, atts, id)
	return err
}

// SoftDeleteMessage tombstones a message locally.
func SoftDeleteMessage(q Queryer, id string) error {
	now := time.Now().UnixMilli()
	_, err := q.Exec(`
		UPDATE messages SET deleted_at = ?, updated_at = ?, sync_status = 'pending_delete'
		WHERE id = ?`, now, now, id)
	return err
}

func (db *DB) SoftDeleteMessage(id string) error { return SoftDeleteMessage(db.DB, id) }

// MarkMessagesSynced clears dirty status after a successful push.
func MarkMessagesSynced(q Queryer, ids []string) error {
	return markSynced(q, "messages", ids)
}

// GetMessage returns a message by id, or nil if absent.
func GetMessage(q Queryer, id string) (*Message, error) {
	m, err := scanMessage(q.QueryRow(`SELECT `+messageCols+` FROM messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (db *DB) GetMessage(id string) (*Message, error) { return GetMessage(db.DB, id) }

// ListMessages returns live messages for a group using keyset pagination
// by created_at, newest first.
func (db *DB) ListMessages(groupID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+messageCols+` FROM messages
		WHERE group_id = ? AND created_at < ? AND deleted_at = 0
		ORDER BY created_at DESC
		LIMIT ?`, groupID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectMessages(rows)
}

// PendingMessages returns messages with unsynced local changes, oldest first.
func (db *DB) PendingMessages() ([]Message, error) {
	rows, err := db.Query(`
		SELECT ` + messageCols + ` FROM messages
		WHERE sync_status != 'synced' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectMessages(rows)
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func scanMessage(r rowScanner) (*Message, error) {
	var m Message
	var atts string
	err := r.Scan(&m.ID, &m.GroupID, &m.SenderID, &m.SenderName, &m.Type, &m.Content,
		&atts, &m.Important, &m.Forwarded, &m.ForwardedMessageID, &m.ReplyToMessageID,
		&m.CreatedAt, &m.UpdatedAt, &m.DeletedAt, &m.SyncStatus)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(atts), &m.Attachments)
	return &m, nil
}

func marshalAttachments(attachments []Attachment) (string, error) {
	if attachments == nil {
		return "[]", nil
	}
	b, err := json.Marshal(attachments)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
