package sync

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/feather-im/feather/internal/metrics"
	"github.com/feather-im/feather/internal/store"
	"github.com/feather-im/feather/internal/wire"
)

// pull fetches remote deltas since the cursor for all tables, applies them
// in one local write pass, and advances the cursor to the wall-clock time
// captured before the first fetch. Any error aborts without touching the
// cursor; re-pulling the same window is idempotent.
func (e *Engine) pull(ctx context.Context) error {
	startedAt := time.Now().UnixMilli()

	cursor, err := e.db.LastPulledAt()
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}
	since := wire.ToRemoteTime(cursor)

	type tableBatch struct {
		table string
		rows  []wire.Row
	}
	var batches []tableBatch
	total := 0
	for _, table := range wire.Tables {
		var rows []wire.Row
		offset := 0
		for {
			page, err := e.remote.Pull(ctx, table, since, e.pageSize, offset)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", table, err)
			}
			rows = append(rows, page...)
			if len(page) < e.pageSize {
				break
			}
			offset += len(page)
		}
		batches = append(batches, tableBatch{table: table, rows: rows})
		total += len(rows)
	}

	err = e.db.WithTx(func(tx *sql.Tx) error {
		for _, b := range batches {
			for _, row := range b.rows {
				if err := e.applyRow(tx, b.table, row); err != nil {
					return fmt.Errorf("apply %s: %w", b.table, err)
				}
			}
		}
		return store.SetLastPulledAt(tx, startedAt)
	})
	if err != nil {
		return err
	}

	if total > 0 {
		e.logger.Info("pull applied",
			zap.Int("rows", total),
			zap.String("since", since))
	}
	e.publish("sync.pulled", total)
	return nil
}

// applyRow decodes one remote row and upserts it into the local store.
// Rows carrying deleted_at land as tombstones; everything else is the same
// idempotent apply whether the row is new or changed. Malformed rows are
// logged and skipped, never fatal to the cycle.
func (e *Engine) applyRow(tx *sql.Tx, table string, row wire.Row) error {
	switch table {
	case wire.TableUsers:
		u, err := wire.DecodeUser(row)
		if err != nil {
			e.skipRow(table, err)
			return nil
		}
		if err := store.ApplyRemoteUser(tx, u); err != nil {
			return err
		}
	case wire.TableGroups:
		g, err := wire.DecodeGroup(row)
		if err != nil {
			e.skipRow(table, err)
			return nil
		}
		if err := store.ApplyRemoteGroup(tx, g); err != nil {
			return err
		}
	case wire.TableMessages:
		m, err := wire.DecodeMessage(row)
		if err != nil {
			e.skipRow(table, err)
			return nil
		}
		if err := store.ApplyRemoteMessage(tx, m); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown table %q", table)
	}
	metrics.PullRows.WithLabelValues(table).Inc()
	return nil
}

func (e *Engine) skipRow(table string, err error) {
	metrics.SkippedRows.WithLabelValues(table).Inc()
	e.logger.Warn("skipping malformed remote row",
		zap.String("table", table), zap.Error(err))
}
