package store

import "strings"

// PendingCounts returns the number of unsynced rows per table, for status
// introspection.
func (db *DB) PendingCounts() (map[string]int, error) {
	counts := make(map[string]int, 3)
	for _, table := range []string{"users", "chat_groups", "messages"} {
		var n int
		err := db.QueryRow(
			`SELECT COUNT(*) FROM ` + table + ` WHERE sync_status != 'synced'`).Scan(&n)
		if err != nil {
			return nil, err
		}
		counts[table] = n
	}
	return counts, nil
}

// markSynced flips sync_status to synced for the given ids. Tombstones keep
// their deleted_at marker; the engine never physically removes rows.
func markSynced(q Queryer, table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := q.Exec(
		`UPDATE `+table+` SET sync_status = 'synced' WHERE id IN (`+placeholders+`)`,
		args...)
	return err
}
