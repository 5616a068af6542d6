// Package attach resolves outgoing file references before a push: every
// attachment that only has a local path is uploaded to blob storage and
// folded back into its record with the durable URL.
package attach

import (
	"context"
	"database/sql"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/feather-im/feather/internal/blob"
	"github.com/feather-im/feather/internal/metrics"
	"github.com/feather-im/feather/internal/store"
)

// Pipeline uploads pending attachments. A nil uploader disables uploads:
// records keep their local paths and push without file URLs.
type Pipeline struct {
	db       *store.DB
	uploader blob.Uploader
	logger   *zap.Logger
}

// New creates the pipeline.
func New(db *store.DB, uploader blob.Uploader, logger *zap.Logger) *Pipeline {
	return &Pipeline{db: db, uploader: uploader, logger: logger}
}

// ResolveMessages uploads every unresolved attachment of the given
// messages. One failed upload is logged and deferred; it blocks neither
// the other attachments nor the message itself. Updated attachment lists
// are written back to the store in one transaction per message.
func (p *Pipeline) ResolveMessages(ctx context.Context, msgs []store.Message) []store.Message {
	if p.uploader == nil {
		return msgs
	}
	for i := range msgs {
		msg := &msgs[i]
		changed := false
		for j := range msg.Attachments {
			att := &msg.Attachments[j]
			if att.Resolved() || att.LocalPath == "" {
				continue
			}
			url, err := p.uploadFile(ctx, att.LocalPath, att.Name, att.MimeType)
			if err != nil {
				metrics.UploadFailures.Inc()
				p.logger.Warn("attachment upload failed, deferring",
					zap.String("msg_id", msg.ID),
					zap.String("attachment", att.Name),
					zap.Error(err))
				continue
			}
			att.RemoteURL = url
			att.LocalPath = ""
			changed = true
		}
		if !changed {
			continue
		}
		err := p.db.WithTx(func(tx *sql.Tx) error {
			return store.SetMessageAttachments(tx, msg.ID, msg.Attachments)
		})
		if err != nil {
			// The in-memory copy still pushes; the next cycle re-uploads,
			// which is idempotent.
			p.logger.Error("attachment write-back failed",
				zap.String("msg_id", msg.ID), zap.Error(err))
		}
	}
	return msgs
}

// ResolveAvatars uploads pending user avatar files, mirroring the
// attachment duality: local path until uploaded, then remote URL only.
func (p *Pipeline) ResolveAvatars(ctx context.Context, users []store.User) []store.User {
	if p.uploader == nil {
		return users
	}
	for i := range users {
		u := &users[i]
		if u.AvatarPath == "" || u.AvatarURL != "" {
			continue
		}
		url, err := p.uploadFile(ctx, u.AvatarPath, filepath.Base(u.AvatarPath), mimeFromPath(u.AvatarPath))
		if err != nil {
			metrics.UploadFailures.Inc()
			p.logger.Warn("avatar upload failed, deferring",
				zap.String("user_id", u.ID), zap.Error(err))
			continue
		}
		u.AvatarURL = url
		u.AvatarPath = ""
		err = p.db.WithTx(func(tx *sql.Tx) error {
			return store.SetUserAvatar(tx, u.ID, u.AvatarURL, "")
		})
		if err != nil {
			p.logger.Error("avatar write-back failed",
				zap.String("user_id", u.ID), zap.Error(err))
		}
	}
	return users
}

func (p *Pipeline) uploadFile(ctx context.Context, path, name, mimeType string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if mimeType == "" {
		mimeType = mimeFromPath(path)
	}
	url, err := p.uploader.Upload(ctx, name, mimeType, f, info.Size())
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return url, nil
}

func mimeFromPath(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
