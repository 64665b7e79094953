package engine

import (
	"context"
	"database/sql"
	"log/slog"
)

const integrationEventsMigration = `
CREATE TABLE IF NOT EXISTS integration_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    created INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    source TEXT NOT NULL,
    event_type TEXT NOT NULL,
    external_id TEXT,
    external_name TEXT,
    success INTEGER NOT NULL DEFAULT 1,
    details TEXT NOT NULL DEFAULT ''
) STRICT;

CREATE INDEX IF NOT EXISTS integration_events_source_created_idx
    ON integration_events (source, created);
CREATE INDEX IF NOT EXISTS integration_events_source_type_success_idx
    ON integration_events (source, event_type, success);
`

// EventLogger provides centralized, queryable logging for cloud/printer
// integration events (claims, completions, printer writes) alongside the
// regular slog stream.
type EventLogger struct {
	db *sql.DB
}

// NewEventLogger creates an EventLogger and applies the integration_events table migration.
func NewEventLogger(db *sql.DB) *EventLogger {
	MustMigrate(db, integrationEventsMigration)
	return &EventLogger{db: db}
}

// LogEvent inserts an integration event into the database.
//   - source: the integration source (e.g., "claim", "printer", "notifier")
//   - eventType: the type of event (e.g., "claimed", "print", "heartbeat")
//   - externalID: external identifier (job id, printer id, device id)
//   - externalName: optional display name (printer name, device name)
//   - success: whether the operation succeeded
//   - details: additional details about the event
func (e *EventLogger) LogEvent(ctx context.Context, source, eventType, externalID, externalName string, success bool, details string) {
	if e == nil || e.db == nil {
		return
	}

	successInt := 0
	if success {
		successInt = 1
	}

	var extIDPtr any
	if externalID != "" {
		extIDPtr = externalID
	}

	var extNamePtr any
	if externalName != "" {
		extNamePtr = externalName
	}

	_, err := e.db.ExecContext(ctx,
		`INSERT INTO integration_events (source, event_type, external_id, external_name, success, details)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		source, eventType, extIDPtr, extNamePtr, successInt, details)
	if err != nil {
		slog.Error("failed to log integration event", "error", err, "source", source, "eventType", eventType)
	}
}
