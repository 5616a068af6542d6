// Package realtime applies server-pushed deltas to the local store outside
// of the sync cycle and maintains the ephemeral online-presence set.
package realtime

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/feather-im/feather/internal/bus"
	"github.com/feather-im/feather/internal/metrics"
	"github.com/feather-im/feather/internal/store"
	"github.com/feather-im/feather/internal/wire"
)

const (
	reconnectMin = time.Second
	reconnectMax = time.Minute
)

// interestingMessageKinds are the ordinary message types the listener
// applies itself; every other subtype is republished on the bus for other
// collaborators (notification delivery and the like).
var interestingMessageKinds = map[string]bool{
	"text": true,
	"file": true,
}

// Listener is the long-lived subscription to the backend change feed.
type Listener struct {
	db          *store.DB
	bus         *bus.Bus
	presence    *Presence
	logger      *zap.Logger
	url         string
	apiKey      string
	localUserID string
	cancel      context.CancelFunc
}

// NewListener creates a listener. Events originated by localUserID are not
// re-applied; the local store already has them.
func NewListener(db *store.DB, b *bus.Bus, presence *Presence, logger *zap.Logger,
	url, apiKey, localUserID string) *Listener {
	return &Listener{
		db:          db,
		bus:         b,
		presence:    presence,
		logger:      logger,
		url:         url,
		apiKey:      apiKey,
		localUserID: localUserID,
	}
}

// Start connects in the background and keeps reconnecting with capped
// exponential backoff until Stop (or ctx) cancels it.
func (l *Listener) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	go l.run(ctx)
}

// Stop stops the listener.
func (l *Listener) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
}

func (l *Listener) run(ctx context.Context) {
	backoff := reconnectMin
	for {
		if ctx.Err() != nil {
			return
		}
		err := l.connectAndRead(ctx, &backoff)
		if ctx.Err() != nil {
			return
		}
		l.logger.Warn("feed disconnected, reconnecting",
			zap.Error(err), zap.Duration("backoff", backoff))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = min(backoff*2, reconnectMax)
	}
}

func (l *Listener) connectAndRead(ctx context.Context, backoff *time.Duration) error {
	opts := &websocket.DialOptions{}
	if l.apiKey != "" {
		opts.HTTPHeader = map[string][]string{"X-API-Key": {l.apiKey}}
	}
	conn, _, err := websocket.Dial(ctx, l.url, opts)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	l.logger.Info("feed connected", zap.String("url", l.url))

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		*backoff = reconnectMin
		l.handleFrame(data)
	}
}

// handleFrame routes one feed frame. Applying a row the pull phase already
// applied (or is about to apply) is a no-op; both paths funnel through the
// same idempotent upsert inside a store transaction.
func (l *Listener) handleFrame(data []byte) {
	kind := gjson.GetBytes(data, "type").String()
	metrics.FeedEvents.WithLabelValues(kind).Inc()

	switch kind {
	case "presence":
		userID := gjson.GetBytes(data, "user_id").String()
		online := gjson.GetBytes(data, "online").Bool()
		if userID == "" {
			return
		}
		l.presence.Set(userID, online)
		l.publish("presence.changed", map[string]any{"user_id": userID, "online": online})
	case "insert", "update":
		l.applyChange(data)
	case "delete":
		l.applyDelete(data)
	default:
		l.logger.Debug("ignoring feed frame", zap.String("type", kind))
	}
}

func (l *Listener) applyChange(data []byte) {
	table := gjson.GetBytes(data, "table").String()
	row, ok := l.record(data)
	if !ok {
		return
	}

	switch table {
	case wire.TableMessages:
		msgType := gjson.GetBytes(data, "record.chat_message_type").String()
		if !interestingMessageKinds[msgType] {
			// Bot/system subtypes are someone else's concern.
			l.publish("feed.message_subtype", row)
			return
		}
		if gjson.GetBytes(data, "record.created_user_id").String() == l.localUserID {
			return
		}
		m, err := wire.DecodeMessage(row)
		if err != nil {
			l.logger.Warn("malformed feed message", zap.Error(err))
			return
		}
		err = l.db.WithTx(func(tx *sql.Tx) error {
			if err := store.ApplyRemoteMessage(tx, m); err != nil {
				return err
			}
			if err := store.TouchGroupLastMessage(tx, m.GroupID, m.CreatedAt); err != nil {
				return err
			}
			return store.IncrementGroupUnread(tx, m.GroupID)
		})
		if err != nil {
			l.logger.Error("apply feed message", zap.String("msg_id", m.ID), zap.Error(err))
			return
		}
		l.publish("record.upserted", map[string]string{"table": "messages", "id": m.ID})
	case wire.TableGroups:
		if gjson.GetBytes(data, "record.created_user_id").String() == l.localUserID {
			return
		}
		g, err := wire.DecodeGroup(row)
		if err != nil {
			l.logger.Warn("malformed feed group", zap.Error(err))
			return
		}
		err = l.db.WithTx(func(tx *sql.Tx) error {
			return store.ApplyRemoteGroup(tx, g)
		})
		if err != nil {
			l.logger.Error("apply feed group", zap.String("group_id", g.ID), zap.Error(err))
			return
		}
		l.publish("record.upserted", map[string]string{"table": "chat_groups", "id": g.ID})
	default:
		l.logger.Debug("ignoring feed table", zap.String("table", table))
	}
}

func (l *Listener) applyDelete(data []byte) {
	table := gjson.GetBytes(data, "table").String()
	id := gjson.GetBytes(data, "record.id").String()
	if id == "" {
		return
	}
	deletedAt, err := wire.ToLocalTime(gjson.GetBytes(data, "record.deleted_at").String())
	if err != nil || deletedAt == 0 {
		deletedAt = time.Now().UnixMilli()
	}

	var applyErr error
	switch table {
	case wire.TableMessages:
		applyErr = l.db.WithTx(func(tx *sql.Tx) error {
			return store.ApplyRemoteDeleteMessage(tx, id, deletedAt)
		})
	case wire.TableGroups:
		applyErr = l.db.WithTx(func(tx *sql.Tx) error {
			return store.ApplyRemoteDeleteGroup(tx, id, deletedAt)
		})
	default:
		return
	}
	if applyErr != nil {
		l.logger.Error("apply feed delete",
			zap.String("table", table), zap.String("id", id), zap.Error(applyErr))
		return
	}
	l.publish("record.deleted", map[string]string{"table": table, "id": id})
}

func (l *Listener) record(data []byte) (wire.Row, bool) {
	raw := gjson.GetBytes(data, "record")
	if !raw.Exists() {
		return nil, false
	}
	var row wire.Row
	if err := json.Unmarshal([]byte(raw.Raw), &row); err != nil {
		l.logger.Warn("malformed feed record", zap.Error(err))
		return nil, false
	}
	return row, true
}

func (l *Listener) publish(kind string, payload any) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
