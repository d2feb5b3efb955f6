package database

const schema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME
);
CREATE TABLE IF NOT EXISTS sections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	description TEXT DEFAULT '',
	icon TEXT DEFAULT '',
	sort_order INTEGER DEFAULT 0
);
CREATE TABLE IF NOT EXISTS categories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	section_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	description TEXT DEFAULT '',
	icon TEXT DEFAULT '',
	tags TEXT DEFAULT '[]', -- JSON array, the category's tag vocabulary
	topic_count INTEGER DEFAULT 0,
	post_count INTEGER DEFAULT 0,
	last_post_topic_id INTEGER,
	last_post_title TEXT,
	last_post_author TEXT,
	last_post_at DATETIME,
	FOREIGN KEY (section_id) REFERENCES sections(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS topics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	category_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	author_id TEXT NOT NULL,
	author_name TEXT NOT NULL,
	tag TEXT DEFAULT '',
	media_urls TEXT DEFAULT '[]',
	pinned BOOLEAN DEFAULT 0,
	locked BOOLEAN DEFAULT 0,
	view_count INTEGER DEFAULT 0,
	reply_count INTEGER DEFAULT 0,
	created_at DATETIME NOT NULL,
	last_reply_at DATETIME,
	last_reply_by TEXT,
	FOREIGN KEY (category_id) REFERENCES categories(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS replies (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	topic_id INTEGER NOT NULL,
	author_id TEXT NOT NULL,
	author_name TEXT NOT NULL,
	content TEXT NOT NULL,
	media_urls TEXT DEFAULT '[]',
	created_at DATETIME NOT NULL,
	FOREIGN KEY (topic_id) REFERENCES topics(id) ON DELETE CASCADE
);
-- Notifications are keyed to the steamid/nickname pair the game server knows,
-- not to a user id.
CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	steamid TEXT DEFAULT '',
	nickname TEXT DEFAULT '',
	type TEXT NOT NULL,
	message TEXT NOT NULL,
	read BOOLEAN DEFAULT 0,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS admin_applications (
	id TEXT PRIMARY KEY,
	nickname TEXT NOT NULL,
	steamid TEXT NOT NULL,
	age INTEGER DEFAULT 0,
	experience TEXT DEFAULT '',
	reason TEXT DEFAULT '',
	status TEXT DEFAULT 'pending',
	submitted_at DATETIME NOT NULL
);
-- Audit trail for moderator and admin actions
CREATE TABLE IF NOT EXISTS mod_actions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	target_id INTEGER,
	details TEXT
);

-- --- INDEXES ---
CREATE INDEX IF NOT EXISTS idx_categories_section ON categories(section_id);
CREATE INDEX IF NOT EXISTS idx_topics_category ON topics(category_id, pinned DESC, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_replies_topic ON replies(topic_id);
CREATE INDEX IF NOT EXISTS idx_notifications_steamid ON notifications(steamid);
CREATE INDEX IF NOT EXISTS idx_notifications_nickname ON notifications(nickname);
CREATE INDEX IF NOT EXISTS idx_applications_steamid ON admin_applications(steamid, submitted_at DESC);
CREATE INDEX IF NOT EXISTS idx_mod_actions_time ON mod_actions(timestamp DESC);
`
