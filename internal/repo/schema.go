package repo

// sqliteSchema and postgresSchema realize the persisted state layout:
// one feed_configs row per ingested feed, one link_states row per feed
// holding the scheduler's exclusive write, an append-only history_records
// table, and feed_items upserted idempotently on (feed_id, item_id).
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS feed_configs (
	feed_id             TEXT PRIMARY KEY,
	url                 TEXT NOT NULL,
	domain              TEXT NOT NULL,
	base_poll_seconds   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS link_states (
	feed_id              TEXT PRIMARY KEY REFERENCES feed_configs(feed_id),
	current_poll_seconds INTEGER NOT NULL,
	jitter_fraction      REAL NOT NULL,
	max_poll_seconds     INTEGER NOT NULL,
	next_poll_at_ms      INTEGER NOT NULL,
	last_status          TEXT NOT NULL,
	failure_streak       INTEGER NOT NULL DEFAULT 0,
	etag                 TEXT,
	last_modified        TEXT,
	content_hash         TEXT,
	last_success_at_ms   INTEGER
);

CREATE TABLE IF NOT EXISTS history_records (
	feed_id         TEXT NOT NULL,
	attempted_at_ms INTEGER NOT NULL,
	method          TEXT NOT NULL,
	status_class    TEXT NOT NULL,
	http_code       INTEGER,
	bytes_read      INTEGER,
	duration_ms     INTEGER NOT NULL,
	outcome         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_feed_time ON history_records(feed_id, attempted_at_ms);

CREATE TABLE IF NOT EXISTS feed_items (
	feed_id         TEXT NOT NULL REFERENCES feed_configs(feed_id) ON DELETE CASCADE,
	item_id         TEXT NOT NULL,
	title           TEXT,
	link            TEXT,
	content         TEXT,
	published_at_ms INTEGER,
	PRIMARY KEY (feed_id, item_id)
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS feed_configs (
	feed_id             TEXT PRIMARY KEY,
	url                 TEXT NOT NULL,
	domain              TEXT NOT NULL,
	base_poll_seconds   BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS link_states (
	feed_id              TEXT PRIMARY KEY REFERENCES feed_configs(feed_id),
	current_poll_seconds BIGINT NOT NULL,
	jitter_fraction      DOUBLE PRECISION NOT NULL,
	max_poll_seconds     BIGINT NOT NULL,
	next_poll_at_ms      BIGINT NOT NULL,
	last_status          TEXT NOT NULL,
	failure_streak       INTEGER NOT NULL DEFAULT 0,
	etag                 TEXT,
	last_modified        TEXT,
	content_hash         TEXT,
	last_success_at_ms   BIGINT
);

CREATE TABLE IF NOT EXISTS history_records (
	feed_id         TEXT NOT NULL,
	attempted_at_ms BIGINT NOT NULL,
	method          TEXT NOT NULL,
	status_class    TEXT NOT NULL,
	http_code       INTEGER,
	bytes_read      BIGINT,
	duration_ms     BIGINT NOT NULL,
	outcome         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_feed_time ON history_records(feed_id, attempted_at_ms);

CREATE TABLE IF NOT EXISTS feed_items (
	feed_id         TEXT NOT NULL REFERENCES feed_configs(feed_id) ON DELETE CASCADE,
	item_id         TEXT NOT NULL,
	title           TEXT,
	link            TEXT,
	content         TEXT,
	published_at_ms BIGINT,
	PRIMARY KEY (feed_id, item_id)
);
`
