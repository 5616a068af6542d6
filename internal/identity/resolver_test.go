package identity

import (
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/feather-im/feather/internal/bus"
	"github.com/feather-im/feather/internal/store"
)

func testResolver(t *testing.T) (*Resolver, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewResolver(db, bus.New(), zap.NewNop()), db
}

func TestDirectChatIDOrderIndependent(t *testing.T) {
	if got, want := DirectChatID("12", "7"), "chat_7_12"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if DirectChatID("7", "12") != DirectChatID("12", "7") {
		t.Error("pair order changed the identifier")
	}

	// Numeric comparison, not lexicographic: "9" < "100".
	if got, want := DirectChatID("100", "9"), "chat_9_100"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	// Non-numeric ids fall back to lexicographic order, still stable.
	if DirectChatID("alice", "bob") != DirectChatID("bob", "alice") {
		t.Error("non-numeric pair order changed the identifier")
	}
	if got, want := DirectChatID("bob", "alice"), "chat_alice_bob"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNewGroupChatIDIsOpaque(t *testing.T) {
	a, b := NewGroupChatID(), NewGroupChatID()
	if !strings.HasPrefix(a, "group_") {
		t.Errorf("got %q, want group_ prefix", a)
	}
	if a == b {
		t.Error("two group ids collided")
	}
}

func TestEnsureDirectChatCreatesOnce(t *testing.T) {
	r, db := testResolver(t)

	first, err := r.EnsureDirectChat("7", "12")
	if err != nil {
		t.Fatal(err)
	}
	if first.ChatIdentifier != "chat_7_12" {
		t.Errorf("identifier = %q", first.ChatIdentifier)
	}
	if first.IsGroup {
		t.Error("direct chat must not be a group")
	}
	if len(first.MemberIDs) != 2 {
		t.Errorf("members = %v", first.MemberIDs)
	}

	// Same pair in either order returns the same row.
	second, err := r.EnsureDirectChat("12", "7")
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("got new group %q, want existing %q", second.ID, first.ID)
	}

	groups, err := db.ListGroups()
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 {
		t.Errorf("got %d groups, want 1", len(groups))
	}
}

func TestForwardFansOutToEachTarget(t *testing.T) {
	r, db := testResolver(t)

	if err := db.SaveGroup(&store.Group{ID: "g1", Name: "Origin"}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveGroup(&store.Group{ID: "g2", Name: "Target"}); err != nil {
		t.Fatal(err)
	}
	original := &store.Message{
		ID: "m1", GroupID: "g1", SenderID: "7", Type: "text", Content: "hello",
		Attachments: []store.Attachment{{Name: "a.png", MimeType: "image/png", RemoteURL: "https://blob/a.png"}},
	}
	if err := db.SaveMessage(original); err != nil {
		t.Fatal(err)
	}

	copies, err := r.Forward("m1", "7", []string{"g2", "user:12"})
	if err != nil {
		t.Fatal(err)
	}
	if len(copies) != 2 {
		t.Fatalf("got %d copies, want 2", len(copies))
	}
	for _, c := range copies {
		if c.ID == "m1" {
			t.Error("forward must mint fresh ids")
		}
		if !c.Forwarded || c.ForwardedMessageID != "m1" {
			t.Errorf("copy %q missing forward provenance", c.ID)
		}
		if c.Content != "hello" || len(c.Attachments) != 1 {
			t.Errorf("copy %q lost content or attachments", c.ID)
		}
		if c.SenderID != "7" {
			t.Errorf("sender = %q, want actor", c.SenderID)
		}
	}

	// The virtual target materialized a direct chat.
	direct, err := db.GetGroupByIdentifier(DirectChatID("7", "12"))
	if err != nil {
		t.Fatal(err)
	}
	if direct == nil {
		t.Fatal("direct chat for virtual target not created")
	}
	msgs, err := db.ListMessages(direct.ID, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("got %d messages in direct chat, want 1", len(msgs))
	}

	// Original untouched.
	got, _ := db.GetMessage("m1")
	if got.Forwarded {
		t.Error("original message was modified")
	}

	// Target group activity bumped.
	g2, _ := db.GetGroup("g2")
	if g2.LastMessageAt == 0 {
		t.Error("target group last_message_at not touched")
	}
}

func TestForwardUnknownMessageFails(t *testing.T) {
	r, _ := testResolver(t)

	if _, err := r.Forward("ghost", "7", []string{"g1"}); err == nil {
		t.Error("expected error for unknown message")
	}
}
