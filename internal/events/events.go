// Package events is the append-only record of unsubscribe actions, open
// pings, and completed sends. Appends are best-effort: a failed insert is
// logged and swallowed, never aborting the operation that produced it.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Kind classifies an event row.
type Kind string

const (
	KindUnsubscribe Kind = "unsub"
	KindOpen        Kind = "track_open"
	KindSent        Kind = "sent"
)

// Log appends event records. Implementations must be fire-and-forget.
type Log interface {
	Append(ctx context.Context, kind Kind, token, campaignID, url string)
}

// PostgresLog appends events to the events table.
type PostgresLog struct {
	db *pgxpool.Pool
}

// NewPostgresLog creates a PostgresLog on the given pool.
func NewPostgresLog(db *pgxpool.Pool) *PostgresLog {
	return &PostgresLog{db: db}
}

// Append inserts one event row. Failures are logged at warn level and
// otherwise ignored.
func (l *PostgresLog) Append(ctx context.Context, kind Kind, token, campaignID, url string) {
	query := `
        INSERT INTO events (id, kind, token, campaign_id, url, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	_, err := l.db.Exec(ctx, query, uuid.NewString(), kind, token, campaignID, url, time.Now().UTC())
	if err != nil {
		slog.Warn("failed to append event",
			"kind", kind,
			"token", token,
			"error", err,
		)
	}
}

// NopLog discards every event. Used for dry runs without a database.
type NopLog struct{}

// Append does nothing.
func (NopLog) Append(context.Context, Kind, string, string, string) {}
