package store

type migration struct {
	version int
	sql     string
}

// migrations upgrade the feed cache. Versions are recorded in the
// database's user_version and must ascend from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	position   INTEGER NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	is_read    INTEGER NOT NULL DEFAULT 0 CHECK(is_read IN (0, 1)),
	item_id    TEXT NOT NULL DEFAULT '',
	comment_id TEXT NOT NULL DEFAULT '',
	thumbnail  TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL DEFAULT 'generic',
	created_at DATETIME,
	fetched_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_position ON notifications(position);
CREATE INDEX IF NOT EXISTS idx_notifications_is_read ON notifications(is_read);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_notifications_read_position
	ON notifications(is_read, position);
`,
	},
}
