package wire

// Remote table names.
const (
	TableUsers    = "user_catalog"
	TableGroups   = "chat_group"
	TableMessages = "message"
)

// Tables lists the synced tables in pull/push order. Groups come before
// messages so remote ownership references resolve.
var Tables = []string{TableUsers, TableGroups, TableMessages}

// Field maps one local column to its remote column.
type Field struct {
	Local  string
	Remote string
	Time   bool // epoch-ms <-> ISO-8601 transcoding applies
}

// Spec describes how one table crosses the wire: the transmitted field
// mapping plus the local-only columns that are always stripped.
type Spec struct {
	Table     string
	Fields    []Field
	LocalOnly []string
}

var timestampFields = []Field{
	{Local: "created_at", Remote: "created_at", Time: true},
	{Local: "updated_at", Remote: "updated_at", Time: true},
	{Local: "deleted_at", Remote: "deleted_at", Time: true},
}

var specs = map[string]Spec{
	TableUsers: {
		Table: TableUsers,
		Fields: append([]Field{
			{Local: "id", Remote: "id"},
			{Local: "first_name", Remote: "first_name"},
			{Local: "last_name", Remote: "last_name"},
			{Local: "email", Remote: "user_email"},
			{Local: "mobile", Remote: "user_mobile"},
			{Local: "business_name", Remote: "business_name"},
			{Local: "avatar_url", Remote: "avatar_url"},
		}, timestampFields...),
		LocalOnly: []string{"avatar_path", "sync_status"},
	},
	TableGroups: {
		Table: TableGroups,
		Fields: append([]Field{
			{Local: "id", Remote: "id"},
			{Local: "chat_identifier", Remote: "chat_identifier"},
			{Local: "name", Remote: "chat_group_name"},
			{Local: "is_group", Remote: "is_group"},
			{Local: "created_user_id", Remote: "created_user_id"},
			{Local: "member_ids", Remote: "chat_group_users_json"},
			{Local: "last_message_at", Remote: "last_message_created_at", Time: true},
		}, timestampFields...),
		LocalOnly: []string{"unread_count", "sync_status"},
	},
	TableMessages: {
		Table: TableMessages,
		Fields: append([]Field{
			{Local: "id", Remote: "id"},
			{Local: "group_id", Remote: "group_id"},
			{Local: "sender_id", Remote: "created_user_id"},
			{Local: "sender_name", Remote: "created_user_name"},
			{Local: "message_type", Remote: "chat_message_type"},
			{Local: "content", Remote: "content"},
			{Local: "attachments", Remote: "file_upload_json"},
			{Local: "important", Remote: "important"},
			{Local: "forwarded", Remote: "is_forwarded"},
			{Local: "forwarded_message_id", Remote: "forwarded_message_id"},
			{Local: "reply_to_message_id", Remote: "replied_to_message_id"},
		}, timestampFields...),
		LocalOnly: []string{"sync_status"},
	},
}

// TableSpec returns the wire spec for a remote table name.
func TableSpec(table string) (Spec, bool) {
	s, ok := specs[table]
	return s, ok
}

// LocalOnlyFields returns the column names never transmitted for a table.
func LocalOnlyFields(table string) []string {
	return specs[table].LocalOnly
}
