// Package identity derives stable chat identifiers and materializes the
// conversations behind them: deterministic pairwise ids for direct chats,
// opaque ids for groups, and message fan-out for forwarding.
package identity

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feather-im/feather/internal/bus"
	"github.com/feather-im/feather/internal/store"
)

// VirtualUserPrefix marks a forwarding target that means "direct chat with
// this user", materialized lazily if no such chat exists yet.
const VirtualUserPrefix = "user:"

// DirectChatID returns the deterministic identifier for a two-person chat.
// The pair is sorted numerically so both sides of the pair derive the same
// identifier; non-numeric ids fall back to lexicographic order, which is
// equally stable.
func DirectChatID(a, b string) string {
	lo, hi := a, b
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		if na > nb {
			lo, hi = b, a
		}
	default:
		if strings.Compare(a, b) > 0 {
			lo, hi = b, a
		}
	}
	return fmt.Sprintf("chat_%s_%s", lo, hi)
}

// NewGroupChatID returns an opaque identifier for an explicitly created
// group chat. No convergence requirement applies.
func NewGroupChatID() string {
	return "group_" + uuid.NewString()
}

// Resolver performs lookup-or-create against the local store.
type Resolver struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// NewResolver creates a resolver over the given store handle.
func NewResolver(db *store.DB, b *bus.Bus, logger *zap.Logger) *Resolver {
	return &Resolver{db: db, bus: b, logger: logger}
}

// EnsureDirectChat returns the chat group for the unordered pair (a, b),
// creating it if absent. Lookup and create run in one transaction so a
// race within the process cannot produce two rows for the same pair.
func (r *Resolver) EnsureDirectChat(a, b string) (*store.Group, error) {
	chatID := DirectChatID(a, b)
	var result *store.Group
	err := r.db.WithTx(func(tx *sql.Tx) error {
		existing, err := store.GetGroupByIdentifier(tx, chatID)
		if err != nil {
			return fmt.Errorf("lookup %s: %w", chatID, err)
		}
		if existing != nil {
			result = existing
			return nil
		}
		g := &store.Group{
			ID:             uuid.NewString(),
			ChatIdentifier: chatID,
			IsGroup:        false,
			CreatedUserID:  a,
			MemberIDs:      []string{a, b},
		}
		if err := store.SaveGroup(tx, g); err != nil {
			return fmt.Errorf("create %s: %w", chatID, err)
		}
		result = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.publish("record.upserted", map[string]string{"table": "chat_groups", "id": result.ID})
	return result, nil
}

// Forward copies a message into each target chat. Targets are chat group
// ids or user:{id} virtual placeholders; virtual targets get their direct
// chat resolved or created first. The fan-out itself is one transaction:
// exactly one fresh message per target, never touching the original.
func (r *Resolver) Forward(originalID, actorID string, targets []string) ([]store.Message, error) {
	original, err := r.db.GetMessage(originalID)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, fmt.Errorf("forward: message %s not found", originalID)
	}

	groupIDs := make([]string, 0, len(targets))
	for _, target := range targets {
		if userID, ok := strings.CutPrefix(target, VirtualUserPrefix); ok {
			g, err := r.EnsureDirectChat(actorID, userID)
			if err != nil {
				return nil, fmt.Errorf("forward: resolve virtual target %s: %w", userID, err)
			}
			groupIDs = append(groupIDs, g.ID)
			continue
		}
		groupIDs = append(groupIDs, target)
	}

	now := time.Now().UnixMilli()
	copies := make([]store.Message, 0, len(groupIDs))
	err = r.db.WithTx(func(tx *sql.Tx) error {
		for _, groupID := range groupIDs {
			msg := &store.Message{
				ID:                 uuid.NewString(),
				GroupID:            groupID,
				SenderID:           actorID,
				Type:               original.Type,
				Content:            original.Content,
				Attachments:        original.Attachments,
				Forwarded:          true,
				ForwardedMessageID: original.ID,
				CreatedAt:          now,
			}
			if err := store.SaveMessage(tx, msg); err != nil {
				return fmt.Errorf("forward to %s: %w", groupID, err)
			}
			if err := store.TouchGroupLastMessage(tx, groupID, now); err != nil {
				return fmt.Errorf("touch group %s: %w", groupID, err)
			}
			copies = append(copies, *msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, msg := range copies {
		r.publish("record.upserted", map[string]string{"table": "messages", "id": msg.ID})
	}
	r.logger.Info("message forwarded",
		zap.String("original_id", originalID),
		zap.Int("targets", len(copies)))
	return copies, nil
}

func (r *Resolver) publish(kind string, payload any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
