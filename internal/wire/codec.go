// Package wire is the change tracker: it knows, per table, which fields
// cross the wire under which remote column names, which fields are
// local-only, and how timestamps transcode between the local epoch-ms
// representation and the remote ISO-8601 one.
package wire

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/feather-im/feather/internal/store"
)

// Row is one record as it crosses the wire, keyed by remote column name.
type Row = map[string]any

// encode applies a table spec: local fields → remote row. Local-only
// fields are never present in the input maps built by the Encode*
// functions, so stripping is structural. Zero timestamps stay absent
// rather than becoming epoch zero.
func encode(spec Spec, local map[string]any) Row {
	row := Row{}
	for _, f := range spec.Fields {
		v, ok := local[f.Local]
		if !ok {
			continue
		}
		if f.Time {
			ms, _ := v.(int64)
			if ms == 0 {
				continue
			}
			row[f.Remote] = ToRemoteTime(ms)
			continue
		}
		row[f.Remote] = v
	}
	return row
}

// decode applies a table spec in reverse: remote row → local fields.
// Unknown remote columns are ignored; absent or null dates stay zero.
func decode(spec Spec, row Row) (map[string]any, error) {
	local := map[string]any{}
	for _, f := range spec.Fields {
		v, ok := row[f.Remote]
		if !ok || v == nil {
			continue
		}
		if f.Time {
			s, ok := v.(string)
			if !ok || s == "" {
				continue
			}
			ms, err := ToLocalTime(s)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", spec.Table, f.Remote, err)
			}
			local[f.Local] = ms
			continue
		}
		local[f.Local] = v
	}
	return local, nil
}

// EncodeUser converts a user to its wire row.
func EncodeUser(u *store.User) Row {
	spec := specs[TableUsers]
	return encode(spec, map[string]any{
		"id":            u.ID,
		"first_name":    u.FirstName,
		"last_name":     u.LastName,
		"email":         u.Email,
		"mobile":        u.Mobile,
		"business_name": u.BusinessName,
		"avatar_url":    u.AvatarURL,
		"created_at":    u.CreatedAt,
		"updated_at":    u.UpdatedAt,
		"deleted_at":    u.DeletedAt,
	})
}

// DecodeUser converts a wire row to a user record.
func DecodeUser(row Row) (*store.User, error) {
	local, err := decode(specs[TableUsers], row)
	if err != nil {
		return nil, err
	}
	u := &store.User{
		ID:           asString(local["id"]),
		FirstName:    asString(local["first_name"]),
		LastName:     asString(local["last_name"]),
		Email:        asString(local["email"]),
		Mobile:       asString(local["mobile"]),
		BusinessName: asString(local["business_name"]),
		AvatarURL:    asString(local["avatar_url"]),
		CreatedAt:    asInt64(local["created_at"]),
		UpdatedAt:    asInt64(local["updated_at"]),
		DeletedAt:    asInt64(local["deleted_at"]),
	}
	if u.ID == "" {
		return nil, fmt.Errorf("%s row without id", TableUsers)
	}
	return u, nil
}

// EncodeGroup converts a group to its wire row. Membership crosses the
// wire as an array of {id} objects.
func EncodeGroup(g *store.Group) Row {
	members := make([]map[string]any, 0, len(g.MemberIDs))
	for _, id := range g.MemberIDs {
		members = append(members, map[string]any{"id": id})
	}
	spec := specs[TableGroups]
	return encode(spec, map[string]any{
		"id":              g.ID,
		"chat_identifier": g.ChatIdentifier,
		"name":            g.Name,
		"is_group":        g.IsGroup,
		"created_user_id": g.CreatedUserID,
		"member_ids":      members,
		"last_message_at": g.LastMessageAt,
		"created_at":      g.CreatedAt,
		"updated_at":      g.UpdatedAt,
		"deleted_at":      g.DeletedAt,
	})
}

// DecodeGroup converts a wire row to a group record.
func DecodeGroup(row Row) (*store.Group, error) {
	local, err := decode(specs[TableGroups], row)
	if err != nil {
		return nil, err
	}
	g := &store.Group{
		ID:             asString(local["id"]),
		ChatIdentifier: asString(local["chat_identifier"]),
		Name:           asString(local["name"]),
		IsGroup:        asBool(local["is_group"]),
		CreatedUserID:  asString(local["created_user_id"]),
		LastMessageAt:  asInt64(local["last_message_at"]),
		CreatedAt:      asInt64(local["created_at"]),
		UpdatedAt:      asInt64(local["updated_at"]),
		DeletedAt:      asInt64(local["deleted_at"]),
	}
	if g.ID == "" {
		return nil, fmt.Errorf("%s row without id", TableGroups)
	}
	members, err := decodeMembers(local["member_ids"])
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", g.ID, err)
	}
	g.MemberIDs = members
	return g, nil
}

// EncodeMessage converts a message to its wire row. Only resolved
// attachments (those with a durable remote URL) are transmitted; local
// paths never cross the wire.
func EncodeMessage(m *store.Message) Row {
	uploads := make([]map[string]any, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		if !a.Resolved() {
			continue
		}
		uploads = append(uploads, map[string]any{
			"attachmentName":     a.Name,
			"attachmentType":     attachmentKind(a.MimeType),
			"attachmentUrl":      a.RemoteURL,
			"attachmentMimeType": a.MimeType,
		})
	}
	spec := specs[TableMessages]
	return encode(spec, map[string]any{
		"id":                   m.ID,
		"group_id":             m.GroupID,
		"sender_id":            m.SenderID,
		"sender_name":          m.SenderName,
		"message_type":         m.Type,
		"content":              m.Content,
		"attachments":          uploads,
		"important":            m.Important,
		"forwarded":            m.Forwarded,
		"forwarded_message_id": m.ForwardedMessageID,
		"reply_to_message_id":  m.ReplyToMessageID,
		"created_at":           m.CreatedAt,
		"updated_at":           m.UpdatedAt,
		"deleted_at":           m.DeletedAt,
	})
}

// DecodeMessage converts a wire row to a message record.
func DecodeMessage(row Row) (*store.Message, error) {
	local, err := decode(specs[TableMessages], row)
	if err != nil {
		return nil, err
	}
	m := &store.Message{
		ID:                 asString(local["id"]),
		GroupID:            asString(local["group_id"]),
		SenderID:           asString(local["sender_id"]),
		SenderName:         asString(local["sender_name"]),
		Type:               asString(local["message_type"]),
		Content:            asString(local["content"]),
		Important:          asBool(local["important"]),
		Forwarded:          asBool(local["forwarded"]),
		ForwardedMessageID: asString(local["forwarded_message_id"]),
		ReplyToMessageID:   asString(local["reply_to_message_id"]),
		CreatedAt:          asInt64(local["created_at"]),
		UpdatedAt:          asInt64(local["updated_at"]),
		DeletedAt:          asInt64(local["deleted_at"]),
	}
	if m.ID == "" {
		return nil, fmt.Errorf("%s row without id", TableMessages)
	}
	atts, err := decodeUploads(local["attachments"])
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", m.ID, err)
	}
	m.Attachments = atts
	return m, nil
}

// decodeMembers accepts the remote membership value either as a decoded
// JSON array of {id} objects or as a string still holding that JSON.
func decodeMembers(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	items, err := asObjectList(v)
	if err != nil {
		return nil, fmt.Errorf("membership: %w", err)
	}
	var ids []string
	for _, item := range items {
		if id := asString(item["id"]); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func decodeUploads(v any) ([]store.Attachment, error) {
	if v == nil {
		return nil, nil
	}
	items, err := asObjectList(v)
	if err != nil {
		return nil, fmt.Errorf("file uploads: %w", err)
	}
	var atts []store.Attachment
	for _, item := range items {
		atts = append(atts, store.Attachment{
			Name:      asString(item["attachmentName"]),
			MimeType:  asString(item["attachmentMimeType"]),
			RemoteURL: asString(item["attachmentUrl"]),
		})
	}
	return atts, nil
}

func asObjectList(v any) ([]map[string]any, error) {
	switch t := v.(type) {
	case []map[string]any:
		return t, nil
	case []any:
		items := make([]map[string]any, 0, len(t))
		for _, e := range t {
			obj, ok := e.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("element is %T, want object", e)
			}
			items = append(items, obj)
		}
		return items, nil
	case string:
		var raw []map[string]any
		if err := json.Unmarshal([]byte(t), &raw); err != nil {
			return nil, fmt.Errorf("unmarshal %q: %w", truncate(t, 60), err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("value is %T, want array", v)
	}
}

// attachmentKind derives the coarse upload type from a MIME type.
func attachmentKind(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	default:
		return "file"
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers arrive as float64; integral ids must not pick up
		// a fractional rendering, fractional values must not truncate.
		if t == math.Trunc(t) && math.Abs(t) < 1<<62 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	default:
		return false
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
