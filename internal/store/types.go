package store

// SyncStatus is the per-record dirty-tracking state.
type SyncStatus string

const (
	Synced        SyncStatus = "synced"
	PendingCreate SyncStatus = "pending_create"
	PendingUpdate SyncStatus = "pending_update"
	PendingDelete SyncStatus = "pending_delete"
)

// Pending reports whether the record still has local changes to push.
func (s SyncStatus) Pending() bool {
	return s != Synced && s != ""
}

// User is a row of the local user catalog.
type User struct {
	ID           string
	FirstName    string
	LastName     string
	Email        string
	Mobile       string
	BusinessName string
	AvatarURL    string
	AvatarPath   string // local only, cleared once AvatarURL is durable
	CreatedAt    int64
	UpdatedAt    int64
	DeletedAt    int64 // 0 = live, non-zero = tombstone
	SyncStatus   SyncStatus
}

// Group is a chat group row. A direct (two-person) chat is a Group with
// IsGroup=false and a deterministic ChatIdentifier.
type Group struct {
	ID             string
	ChatIdentifier string
	Name           string
	IsGroup        bool
	CreatedUserID  string
	MemberIDs      []string
	LastMessageAt  int64
	UnreadCount    int // local only, display cache
	CreatedAt      int64
	UpdatedAt      int64
	DeletedAt      int64
	SyncStatus     SyncStatus
}

// Degenerate reports whether the group is a local-only placeholder that
// must never be pushed (no name and no members).
func (g *Group) Degenerate() bool {
	return g.Name == "" && len(g.MemberIDs) == 0
}

// Attachment is one file carried by a message. Immediately after capture
// LocalPath is set and RemoteURL is empty; after a successful upload
// RemoteURL is set and LocalPath is cleared.
type Attachment struct {
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	LocalPath string `json:"local_path,omitempty"`
	RemoteURL string `json:"remote_url,omitempty"`
}

// Resolved reports whether the attachment has a durable remote URL.
func (a Attachment) Resolved() bool {
	return a.RemoteURL != ""
}

// Message is a chat message row.
type Message struct {
	ID                 string
	GroupID            string
	SenderID           string
	SenderName         string
	Type               string // text, file, ...
	Content            string
	Attachments        []Attachment
	Important          bool
	Forwarded          bool
	ForwardedMessageID string
	ReplyToMessageID   string
	CreatedAt          int64
	UpdatedAt          int64
	DeletedAt          int64
	SyncStatus         SyncStatus
}
