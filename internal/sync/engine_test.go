package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/feather-im/feather/internal/attach"
	"github.com/feather-im/feather/internal/blob"
	"github.com/feather-im/feather/internal/bus"
	"github.com/feather-im/feather/internal/status"
	"github.com/feather-im/feather/internal/store"
	"github.com/feather-im/feather/internal/wire"
)

// fakeRemote serves canned pull pages and records upserts.
type fakeRemote struct {
	mu        sync.Mutex
	serve     map[string][]wire.Row
	pullErr   error
	upsertErr error
	upserts   []upsertCall
	pullCalls int
	blockPull chan struct{} // non-nil: Pull waits until closed
}

type upsertCall struct {
	table string
	rows  []wire.Row
}

func (f *fakeRemote) Pull(_ context.Context, table, _ string, limit, offset int) ([]wire.Row, error) {
	if f.blockPull != nil {
		<-f.blockPull
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pullCalls++
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	rows := f.serve[table]
	if offset >= len(rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end], nil
}

func (f *fakeRemote) Upsert(_ context.Context, table string, rows []wire.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, upsertCall{table: table, rows: rows})
	return nil
}

func (f *fakeRemote) upsertedTables() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	tables := make([]string, len(f.upserts))
	for i, c := range f.upserts {
		tables[i] = c.table
	}
	return tables
}

func testEngine(t *testing.T, rc *fakeRemote, pageSize int) (*Engine, *store.DB) {
	t.Helper()
	return testEngineUploader(t, rc, nil, pageSize)
}

func testEngineUploader(t *testing.T, rc *fakeRemote, up blob.Uploader, pageSize int) (*Engine, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	pipeline := attach.New(db, up, logger)
	machine := status.NewMachine(nil)
	return NewEngine(db, rc, pipeline, machine, bus.New(), logger, pageSize), db
}

// flakyUploader fails every upload until recover is called.
type flakyUploader struct {
	mu      sync.Mutex
	down    bool
	uploads []string
}

func (f *flakyUploader) Upload(_ context.Context, name, _ string, r io.Reader, _ int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return "", errors.New("blob storage unavailable")
	}
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	f.uploads = append(f.uploads, name)
	return "https://blob.example.com/" + name, nil
}

func (f *flakyUploader) recover() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = false
}

func TestSyncAppliesRemoteDeltasAndAdvancesCursor(t *testing.T) {
	rc := &fakeRemote{serve: map[string][]wire.Row{
		wire.TableUsers: {{
			"id": "u1", "first_name": "Alice", "user_email": "a@example.com",
			"created_at": "2023-11-14T22:13:20.000Z",
		}},
		wire.TableGroups: {{
			"id": "g1", "chat_group_name": "Team",
			"chat_group_users_json": []any{map[string]any{"id": "u1"}},
		}},
		wire.TableMessages: {{
			"id": "m1", "group_id": "g1", "created_user_id": "u1",
			"chat_message_type": "text", "content": "hi",
		}},
	}}
	e, db := testEngine(t, rc, 0)

	if err := e.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	u, err := db.GetUser("u1")
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.SyncStatus != store.Synced {
		t.Fatalf("user = %+v, want synced row", u)
	}
	g, _ := db.GetGroup("g1")
	if g == nil || g.Name != "Team" || len(g.MemberIDs) != 1 {
		t.Fatalf("group = %+v", g)
	}
	m, _ := db.GetMessage("m1")
	if m == nil || m.Content != "hi" {
		t.Fatalf("message = %+v", m)
	}

	cursor, _ := db.LastPulledAt()
	if cursor == 0 {
		t.Error("cursor not advanced after successful pull")
	}

	// Re-running the same window must not duplicate or error.
	if err := e.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	users, _ := db.ListUsers()
	if len(users) != 1 {
		t.Errorf("got %d users after re-sync, want 1", len(users))
	}
}

func TestPullPaginatesUntilShortPage(t *testing.T) {
	var msgs []wire.Row
	for i := 0; i < 1200; i++ {
		msgs = append(msgs, wire.Row{
			"id": fmt.Sprintf("m%04d", i), "group_id": "g1",
			"created_user_id": "u1", "chat_message_type": "text",
		})
	}
	rc := &fakeRemote{serve: map[string][]wire.Row{wire.TableMessages: msgs}}
	e, db := testEngine(t, rc, 500)

	if err := e.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1200 {
		t.Errorf("got %d messages, want 1200 across 3 pages", count)
	}
}

func TestPullErrorAbortsWithoutAdvancingCursor(t *testing.T) {
	rc := &fakeRemote{pullErr: errors.New("remote down")}
	e, db := testEngine(t, rc, 0)

	if err := store.SetLastPulledAt(db.DB, 42); err != nil {
		t.Fatal(err)
	}

	err := e.Sync(context.Background())
	if err == nil {
		t.Fatal("expected pull error")
	}

	cursor, _ := db.LastPulledAt()
	if cursor != 42 {
		t.Errorf("cursor = %d, want untouched 42", cursor)
	}

	// The engine settles back to Idle so the next invocation can run.
	rc.mu.Lock()
	rc.pullErr = nil
	rc.mu.Unlock()
	if err := e.Sync(context.Background()); err != nil {
		t.Fatalf("recovery sync failed: %v", err)
	}
	if _, lastErr := e.LastResult(); lastErr != nil {
		t.Errorf("last error = %v, want cleared after success", lastErr)
	}
}

func TestPushOrderAndMarkSynced(t *testing.T) {
	rc := &fakeRemote{}
	e, db := testEngine(t, rc, 0)

	if err := db.SaveUser(&store.User{ID: "u1", FirstName: "Alice"}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveGroup(&store.Group{ID: "g1", Name: "Team", MemberIDs: []string{"u1"}}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveMessage(&store.Message{ID: "m1", GroupID: "g1", SenderID: "u1", Type: "text"}); err != nil {
		t.Fatal(err)
	}

	if err := e.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := []string{wire.TableUsers, wire.TableGroups, wire.TableMessages}
	got := rc.upsertedTables()
	if len(got) != len(want) {
		t.Fatalf("upserts = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("upsert order = %v, want %v", got, want)
		}
	}

	counts, err := db.PendingCounts()
	if err != nil {
		t.Fatal(err)
	}
	for table, n := range counts {
		if n != 0 {
			t.Errorf("%s has %d pending rows after push, want 0", table, n)
		}
	}
}

func TestFailedAttachmentUploadRetriedNextCycle(t *testing.T) {
	rc := &fakeRemote{}
	up := &flakyUploader{down: true}
	e, db := testEngineUploader(t, rc, up, 0)

	path := filepath.Join(t.TempDir(), "photo.png")
	if err := os.WriteFile(path, []byte("png-bytes"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveGroup(&store.Group{ID: "g1", Name: "Team", MemberIDs: []string{"u1"}}); err != nil {
		t.Fatal(err)
	}
	msg := &store.Message{ID: "m1", GroupID: "g1", SenderID: "u1", Type: "file",
		Attachments: []store.Attachment{{Name: "photo.png", MimeType: "image/png", LocalPath: path}}}
	if err := db.SaveMessage(msg); err != nil {
		t.Fatal(err)
	}

	// Cycle 1: blob storage is down. The message text still pushes, but
	// the row must stay pending so the upload is retried.
	if err := e.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	pending, err := db.PendingMessages()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != "m1" {
		t.Fatalf("pending after failed upload = %v, want m1", pending)
	}

	// Cycle 2: blob storage is back. The upload happens once and the row
	// converges to a resolved, synced state.
	up.recover()
	if err := e.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(up.uploads) != 1 || up.uploads[0] != "photo.png" {
		t.Fatalf("uploads = %v, want exactly one of photo.png", up.uploads)
	}
	got, err := db.GetMessage("m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.SyncStatus != store.Synced {
		t.Errorf("status = %q, want synced", got.SyncStatus)
	}
	if len(got.Attachments) != 1 || !got.Attachments[0].Resolved() || got.Attachments[0].LocalPath != "" {
		t.Errorf("attachments = %v, want one resolved with no local path", got.Attachments)
	}

	// Cycle 3: nothing left to upload or push.
	if err := e.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(up.uploads) != 1 {
		t.Errorf("uploads after third cycle = %v, want no re-upload", up.uploads)
	}
}

func TestFailedAvatarUploadRetriedNextCycle(t *testing.T) {
	rc := &fakeRemote{}
	up := &flakyUploader{down: true}
	e, db := testEngineUploader(t, rc, up, 0)

	path := filepath.Join(t.TempDir(), "avatar.png")
	if err := os.WriteFile(path, []byte("png-bytes"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveUser(&store.User{ID: "u1", FirstName: "Alice", AvatarPath: path}); err != nil {
		t.Fatal(err)
	}

	if err := e.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	pendingUsers, err := db.PendingUsers()
	if err != nil {
		t.Fatal(err)
	}
	if len(pendingUsers) != 1 || pendingUsers[0].ID != "u1" {
		t.Fatalf("pending after failed avatar upload = %v, want u1", pendingUsers)
	}

	up.recover()
	if err := e.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(up.uploads) != 1 {
		t.Fatalf("uploads = %v, want exactly one", up.uploads)
	}
	got, err := db.GetUser("u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.SyncStatus != store.Synced {
		t.Errorf("status = %q, want synced", got.SyncStatus)
	}
	if got.AvatarURL == "" || got.AvatarPath != "" {
		t.Errorf("avatar url=%q path=%q, want resolved URL with no local path", got.AvatarURL, got.AvatarPath)
	}
}

func TestPushSkipsDegenerateGroups(t *testing.T) {
	rc := &fakeRemote{}
	e, db := testEngine(t, rc, 0)

	// A placeholder with no name and no members stays local.
	if err := db.SaveGroup(&store.Group{ID: "g-placeholder"}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveGroup(&store.Group{ID: "g-real", Name: "Team"}); err != nil {
		t.Fatal(err)
	}

	if err := e.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if len(rc.upserts) != 1 {
		t.Fatalf("got %d upsert calls, want 1", len(rc.upserts))
	}
	rows := rc.upserts[0].rows
	if len(rows) != 1 || rows[0]["id"] != "g-real" {
		t.Errorf("pushed rows = %v, want only g-real", rows)
	}
}

func TestPushErrorKeepsRecordsPending(t *testing.T) {
	rc := &fakeRemote{upsertErr: errors.New("remote down")}
	e, db := testEngine(t, rc, 0)

	if err := db.SaveUser(&store.User{ID: "u1"}); err != nil {
		t.Fatal(err)
	}

	if err := e.Sync(context.Background()); err == nil {
		t.Fatal("expected push error")
	}

	pending, err := db.PendingUsers()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Errorf("got %d pending users, want 1 (retried next cycle)", len(pending))
	}
}

func TestMessageWithMissingGroupIsDeferred(t *testing.T) {
	rc := &fakeRemote{}
	e, db := testEngine(t, rc, 0)

	if err := db.SaveMessage(&store.Message{ID: "m1", GroupID: "nowhere", SenderID: "u1", Type: "text"}); err != nil {
		t.Fatal(err)
	}

	if err := e.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	rc.mu.Lock()
	calls := len(rc.upserts)
	rc.mu.Unlock()
	if calls != 0 {
		t.Errorf("got %d upsert calls, want 0", calls)
	}
	pending, _ := db.PendingMessages()
	if len(pending) != 1 {
		t.Errorf("got %d pending messages, want 1", len(pending))
	}
}

func TestMalformedRemoteRowIsSkippedNotFatal(t *testing.T) {
	rc := &fakeRemote{serve: map[string][]wire.Row{
		wire.TableUsers: {
			{"first_name": "NoID"},
			{"id": "u1", "first_name": "Alice"},
		},
	}}
	e, db := testEngine(t, rc, 0)

	if err := e.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	users, err := db.ListUsers()
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].ID != "u1" {
		t.Errorf("users = %v, want only u1", users)
	}
}

func TestConcurrentSyncIsRejected(t *testing.T) {
	block := make(chan struct{})
	rc := &fakeRemote{blockPull: block}
	e, _ := testEngine(t, rc, 0)

	done := make(chan error, 1)
	go func() { done <- e.Sync(context.Background()) }()

	// Wait for the first invocation to take the lock and park in Pull.
	for e.machine.Current() != status.Pulling {
		time.Sleep(time.Millisecond)
	}

	if err := e.Sync(context.Background()); !errors.Is(err, ErrSyncRunning) {
		t.Errorf("err = %v, want ErrSyncRunning", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
