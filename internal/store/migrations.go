package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create chats and chat messages",
		SQL: `
			CREATE TABLE chats (
				id          TEXT PRIMARY KEY,
				name        TEXT NOT NULL DEFAULT '',
				type        TEXT NOT NULL DEFAULT 'default',
				platform    TEXT NOT NULL DEFAULT '',
				created_at  INTEGER NOT NULL,
				updated_at  INTEGER NOT NULL
			);

			CREATE INDEX idx_chats_platform ON chats (platform);

			CREATE TABLE chat_messages (
				id           TEXT PRIMARY KEY,
				seq          INTEGER NOT NULL,
				chat_id      TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
				direction    TEXT NOT NULL,
				sender       TEXT NOT NULL DEFAULT '',
				content      TEXT NOT NULL DEFAULT '',
				type         TEXT NOT NULL DEFAULT 'text',
				attachments  TEXT,
				timestamp    INTEGER NOT NULL
			);

			CREATE INDEX idx_chat_messages_chat ON chat_messages (chat_id, seq);
		`,
	},
	{
		Version: 2,
		Name:    "create plugin key-value storage",
		SQL: `
			CREATE TABLE plugin_kv (
				plugin_id   TEXT NOT NULL,
				key         TEXT NOT NULL,
				value       TEXT NOT NULL,
				updated_at  INTEGER NOT NULL,
				PRIMARY KEY (plugin_id, key)
			);
		`,
	},
}
