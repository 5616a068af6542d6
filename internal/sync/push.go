package sync

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/feather-im/feather/internal/metrics"
	"github.com/feather-im/feather/internal/store"
	"github.com/feather-im/feather/internal/wire"
)

// push uploads local deltas table by table: users, then groups, then
// messages, so remote ownership references always resolve. An error aborts
// the remaining push; affected records keep their pending status and are
// retried next cycle (upsert-by-id makes retries idempotent).
func (e *Engine) push(ctx context.Context) error {
	if err := e.pushUsers(ctx); err != nil {
		return err
	}
	if err := e.pushGroups(ctx); err != nil {
		return err
	}
	return e.pushMessages(ctx)
}

func (e *Engine) pushUsers(ctx context.Context) error {
	users, err := e.db.PendingUsers()
	if err != nil {
		return fmt.Errorf("collect users: %w", err)
	}
	if len(users) == 0 {
		return nil
	}
	users = e.pipeline.ResolveAvatars(ctx, users)

	rows := make([]wire.Row, 0, len(users))
	ids := make([]string, 0, len(users))
	deferred := 0
	for i := range users {
		u := &users[i]
		rows = append(rows, wire.EncodeUser(u))
		// An avatar still waiting on its upload keeps the row pending:
		// the profile goes up now, the file retries next cycle.
		if u.AvatarPath != "" && u.AvatarURL == "" {
			deferred++
			continue
		}
		ids = append(ids, u.ID)
	}
	if err := e.upsertChunked(ctx, wire.TableUsers, rows); err != nil {
		return err
	}
	if deferred > 0 {
		e.logger.Info("kept rows pending for upload retry",
			zap.String("table", wire.TableUsers), zap.Int("rows", deferred))
	}
	return e.markSynced(wire.TableUsers, ids, func(tx *sql.Tx) error {
		return store.MarkUsersSynced(tx, ids)
	})
}

func (e *Engine) pushGroups(ctx context.Context) error {
	groups, err := e.db.PendingGroups()
	if err != nil {
		return fmt.Errorf("collect groups: %w", err)
	}
	rows := make([]wire.Row, 0, len(groups))
	ids := make([]string, 0, len(groups))
	for i := range groups {
		g := &groups[i]
		// Local-only placeholders never go upstream.
		if g.Degenerate() {
			metrics.SkippedRows.WithLabelValues(wire.TableGroups).Inc()
			continue
		}
		rows = append(rows, wire.EncodeGroup(g))
		ids = append(ids, g.ID)
	}
	if len(rows) == 0 {
		return nil
	}
	if err := e.upsertChunked(ctx, wire.TableGroups, rows); err != nil {
		return err
	}
	return e.markSynced(wire.TableGroups, ids, func(tx *sql.Tx) error {
		return store.MarkGroupsSynced(tx, ids)
	})
}

func (e *Engine) pushMessages(ctx context.Context) error {
	msgs, err := e.db.PendingMessages()
	if err != nil {
		return fmt.Errorf("collect messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}
	msgs = e.pipeline.ResolveMessages(ctx, msgs)

	rows := make([]wire.Row, 0, len(msgs))
	ids := make([]string, 0, len(msgs))
	deferred := 0
	for i := range msgs {
		m := &msgs[i]
		// A message is push-ready only once its group exists locally;
		// groups were pushed just above, so anything still missing is
		// left pending and retried after the group materializes.
		g, err := e.db.GetGroup(m.GroupID)
		if err != nil {
			return fmt.Errorf("check group %s: %w", m.GroupID, err)
		}
		if g == nil {
			metrics.SkippedRows.WithLabelValues(wire.TableMessages).Inc()
			e.logger.Warn("message references missing group, deferring",
				zap.String("msg_id", m.ID), zap.String("group_id", m.GroupID))
			continue
		}
		rows = append(rows, wire.EncodeMessage(m))
		// A message with an attachment whose upload failed is pushed
		// without the file but stays pending, so the upload (and the
		// row carrying its URL) retries next cycle.
		if hasUnresolvedAttachment(m) {
			deferred++
			continue
		}
		ids = append(ids, m.ID)
	}
	if len(rows) == 0 {
		return nil
	}
	if err := e.upsertChunked(ctx, wire.TableMessages, rows); err != nil {
		return err
	}
	if deferred > 0 {
		e.logger.Info("kept rows pending for upload retry",
			zap.String("table", wire.TableMessages), zap.Int("rows", deferred))
	}
	return e.markSynced(wire.TableMessages, ids, func(tx *sql.Tx) error {
		return store.MarkMessagesSynced(tx, ids)
	})
}

// upsertChunked pushes rows in capped-size network calls.
func (e *Engine) upsertChunked(ctx context.Context, table string, rows []wire.Row) error {
	for start := 0; start < len(rows); start += e.pageSize {
		end := min(start+e.pageSize, len(rows))
		if err := e.remote.Upsert(ctx, table, rows[start:end]); err != nil {
			return fmt.Errorf("upsert %s: %w", table, err)
		}
	}
	return nil
}

func hasUnresolvedAttachment(m *store.Message) bool {
	for _, a := range m.Attachments {
		if a.LocalPath != "" && a.RemoteURL == "" {
			return true
		}
	}
	return false
}

func (e *Engine) markSynced(table string, ids []string, fn func(tx *sql.Tx) error) error {
	if len(ids) == 0 {
		return nil
	}
	if err := e.db.WithTx(fn); err != nil {
		return fmt.Errorf("mark %s synced: %w", table, err)
	}
	metrics.PushRows.WithLabelValues(table).Add(float64(len(ids)))
	e.logger.Info("pushed", zap.String("table", table), zap.Int("rows", len(ids)))
	e.publish("sync.pushed", map[string]any{"table": table, "rows": len(ids)})
	return nil
}
