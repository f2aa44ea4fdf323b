package logstore

// schema is executed once against a fresh database. Time columns are
// signed 64-bit milliseconds since the Unix epoch; negative values are
// valid for pre-epoch test fixtures.
const schema = `
CREATE TABLE IF NOT EXISTS metadata (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	check_id INTEGER NOT NULL,
	time INTEGER NOT NULL,
	result_type TEXT NOT NULL,
	info TEXT
);
CREATE INDEX IF NOT EXISTS idx_logs_check_time ON logs(check_id, time);

CREATE TABLE IF NOT EXISTS log_counts (
	check_id INTEGER NOT NULL,
	up_to INTEGER NOT NULL,
	num_up INTEGER NOT NULL,
	num_warn INTEGER NOT NULL,
	num_error INTEGER NOT NULL,
	PRIMARY KEY (check_id, up_to)
);

CREATE TABLE IF NOT EXISTS push_subscriptions (
	endpoint_url TEXT NOT NULL,
	auth BLOB NOT NULL,
	check_id INTEGER NOT NULL,
	client_p256dh BLOB NOT NULL,
	notify_warn INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (endpoint_url, auth, check_id)
);
`

// schemaVersion is written to metadata.version on a fresh database and
// checked at open. A mismatch is fatal.
const schemaVersion = "0"
