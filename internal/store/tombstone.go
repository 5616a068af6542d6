package store

// Remote-originated deletes: the tombstone is already durable upstream, so
// the local row is marked synced, not pending. Absent rows are a no-op.

func ApplyRemoteDeleteMessage(q Queryer, id string, deletedAt int64) error {
	_, err := q.Exec(`
		UPDATE messages SET deleted_at = ?, updated_at = MAX(updated_at, ?), sync_status = 'synced'
		WHERE id = ?`, deletedAt, deletedAt, id)
	return err
}

func ApplyRemoteDeleteGroup(q Queryer, id string, deletedAt int64) error {
	_, err := q.Exec(`
		UPDATE chat_groups SET deleted_at = ?, updated_at = MAX(updated_at, ?), sync_status = 'synced'
		WHERE id = ?`, deletedAt, deletedAt, id)
	return err
}
