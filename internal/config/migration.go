package config

// Migration creates the three config tables this daemon owns, following
// the "{module}_config" naming convention of the underlying config store.
const Migration = `
CREATE TABLE IF NOT EXISTS daemon_config (
    version INTEGER PRIMARY KEY AUTOINCREMENT,
    created INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    device_id TEXT NOT NULL DEFAULT '',
    restaurant_id TEXT NOT NULL DEFAULT '',
    restaurant_name TEXT NOT NULL DEFAULT '',
    supabase_url TEXT NOT NULL DEFAULT '',
    supabase_key TEXT NOT NULL DEFAULT '',
    frontend_url TEXT NOT NULL DEFAULT '',
    sync_with_dashboard INTEGER NOT NULL DEFAULT 1,
    setup_completed INTEGER NOT NULL DEFAULT 0
) STRICT;

CREATE TABLE IF NOT EXISTS printer_config (
    version INTEGER PRIMARY KEY AUTOINCREMENT,
    created INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    name TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL DEFAULT '',
    device_path TEXT NOT NULL DEFAULT '',
    host TEXT NOT NULL DEFAULT '',
    port INTEGER NOT NULL DEFAULT 0,
    serial_node TEXT NOT NULL DEFAULT ''
) STRICT;

CREATE TABLE IF NOT EXISTS printers_config (
    version INTEGER PRIMARY KEY AUTOINCREMENT,
    created INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    local_printers_json TEXT NOT NULL DEFAULT '[]',
    printer_assignments_json TEXT NOT NULL DEFAULT '[]'
) STRICT;
`
