// Package deadletter keeps events whose projection gave up and replays them later.
package deadletter

import (
	"context"
	"time"

	"example.com/healthassistant/internal/events"
)

// Entry is one dead-lettered event.
type Entry struct {
	ID            string      `json:"id"`
	DeviceID      string      `json:"device_id"`
	EventID       string      `json:"event_id"`
	EventType     events.Type `json:"event_type"`
	Reason        string      `json:"reason"`
	RetryCount    int         `json:"retry_count"`
	NextRetryAt   time.Time   `json:"next_retry_at"`
	CreatedAt     time.Time   `json:"created_at"`
	LastAttemptAt *time.Time  `json:"last_attempt_at,omitempty"`
	QuarantinedAt *time.Time  `json:"quarantined_at,omitempty"`
}

// Cursor marks a position in the CreatedAt, ID ordering.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Store persists dead-letter entries.
type Store interface {
	// Add inserts entry, or refreshes the reason of an open entry for the same event.
	Add(ctx context.Context, entry Entry) error
	// Due returns open entries whose next retry is at or before now, oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]Entry, error)
	Resolve(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id, reason string, attemptAt, next time.Time) error
	Quarantine(ctx context.Context, id, reason string, at time.Time) error
	// Backlog counts entries that are not quarantined.
	Backlog(ctx context.Context) (int, error)
	// List pages through every entry, quarantined ones included.
	List(ctx context.Context, after *Cursor, limit int) ([]Entry, *Cursor, error)
}
