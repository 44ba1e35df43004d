package tracking

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// ArchivePublisher copies accepted events into a Postgres table for
// long-term reporting. Inserts are idempotent on event_id.
type ArchivePublisher struct {
	db    *sql.DB
	table string
}

// NewArchivePublisher returns a publisher inserting into table.
func NewArchivePublisher(db *sql.DB, table string) *ArchivePublisher {
	return &ArchivePublisher{db: db, table: pq.QuoteIdentifier(table)}
}

func (a *ArchivePublisher) Name() string { return "archive" }

// EnsureSchema creates the archive table if it does not exist.
func (a *ArchivePublisher) EnsureSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+a.table+` (
			event_id     TEXT PRIMARY KEY,
			event_type   TEXT NOT NULL,
			tracking_id  TEXT NOT NULL,
			recipient    TEXT,
			campaign     TEXT,
			event_at     TIMESTAMPTZ NOT NULL,
			ip_address   TEXT,
			user_agent   TEXT,
			device_type  TEXT,
			referer      TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("create archive table: %w", err)
	}
	return nil
}

func (a *ArchivePublisher) Publish(ctx context.Context, evt TrackingEvent) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO `+a.table+` (event_id, event_type, tracking_id, recipient, campaign, event_at, ip_address, user_agent, device_type, referer)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id) DO NOTHING
	`, evt.EventID, string(evt.EventType), evt.TrackingID, nullString(evt.Recipient), nullString(evt.Campaign),
		evt.Timestamp, nullString(evt.IPAddress), nullString(evt.UserAgent), nullString(evt.DeviceType), nullString(evt.Referer))
	if err != nil {
		return fmt.Errorf("archive insert %s: %w", evt.EventID, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
