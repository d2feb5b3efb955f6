package database

// migration represents a single database schema migration.
type migration struct {
	Version uint
	Query   string
}

// allMigrations holds all schema changes in order.
var allMigrations = []migration{
	{
		Version: 1,
		Query: `
-- Track author edits on topics
ALTER TABLE topics ADD COLUMN edited_at DATETIME;

-- Speed up the last_post recompute after deletes
CREATE INDEX IF NOT EXISTS idx_replies_topic_created ON replies(topic_id, created_at DESC);
		`,
	},
}
