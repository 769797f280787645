package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/healthassistant/internal/deadletter"
	"example.com/healthassistant/internal/events"
)

// DeadLetterStore persists projection dead letters.
type DeadLetterStore struct {
	pool *pgxpool.Pool
}

// NewDeadLetterStore initialises a store backed by the provided connection pool.
func NewDeadLetterStore(pool *pgxpool.Pool) *DeadLetterStore {
	return &DeadLetterStore{pool: pool}
}

const deadLetterColumns = `dlq_id, device_id, event_id, event_type, reason, retry_count, next_retry_at, created_at, last_attempt_at, quarantined_at`

// Add records an entry. An open entry for the same event only has its reason refreshed.
func (s *DeadLetterStore) Add(ctx context.Context, entry deadletter.Entry) error {
	const stmt = `INSERT INTO projection_dlq (dlq_id, device_id, event_id, event_type, reason, retry_count, next_retry_at, created_at)
        VALUES ($1,$2,$3,$4,$5,0,$6,$7)
        ON CONFLICT (device_id, event_id) WHERE quarantined_at IS NULL
        DO UPDATE SET reason = EXCLUDED.reason`
	_, err := s.pool.Exec(ctx, stmt,
		entry.ID,
		entry.DeviceID,
		entry.EventID,
		string(entry.EventType),
		entry.Reason,
		entry.NextRetryAt,
		entry.CreatedAt,
	)
	return err
}

// Due returns open entries whose retry time has passed.
func (s *DeadLetterStore) Due(ctx context.Context, now time.Time, limit int) ([]deadletter.Entry, error) {
	const query = `SELECT ` + deadLetterColumns + ` FROM projection_dlq
        WHERE quarantined_at IS NULL AND next_retry_at <= $1
        ORDER BY created_at, dlq_id
        LIMIT $2`
	return s.query(ctx, query, now, limit)
}

func (s *DeadLetterStore) Resolve(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM projection_dlq WHERE dlq_id = $1`, id)
	return err
}

func (s *DeadLetterStore) Reschedule(ctx context.Context, id, reason string, attemptAt, next time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE projection_dlq
           SET retry_count = retry_count + 1,
               last_attempt_at = $1,
               next_retry_at = $2,
               reason = $3
         WHERE dlq_id = $4`,
		attemptAt, next, reason, id,
	)
	return err
}

func (s *DeadLetterStore) Quarantine(ctx context.Context, id, reason string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE projection_dlq SET quarantined_at = $1, quarantine_reason = $2 WHERE dlq_id = $3`, at, reason, id)
	return err
}

func (s *DeadLetterStore) Backlog(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM projection_dlq WHERE quarantined_at IS NULL`).Scan(&count)
	return count, err
}

// List pages through entries ordered by creation time.
func (s *DeadLetterStore) List(ctx context.Context, after *deadletter.Cursor, limit int) ([]deadletter.Entry, *deadletter.Cursor, error) {
	args := []interface{}{limit}
	query := `SELECT ` + deadLetterColumns + ` FROM projection_dlq`
	if after != nil {
		query += ` WHERE (created_at, dlq_id) > ($2, $3)`
		args = append(args, after.CreatedAt, after.ID)
	}
	query += ` ORDER BY created_at, dlq_id LIMIT $1`

	results, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}

	var next *deadletter.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		next = &deadletter.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, next, nil
}

func (s *DeadLetterStore) query(ctx context.Context, query string, args ...interface{}) ([]deadletter.Entry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []deadletter.Entry
	for rows.Next() {
		entry, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, entry)
	}
	return results, rows.Err()
}

func scanDeadLetter(rows pgx.Rows) (deadletter.Entry, error) {
	var (
		entry     deadletter.Entry
		eventType string
	)
	if err := rows.Scan(&entry.ID, &entry.DeviceID, &entry.EventID, &eventType, &entry.Reason, &entry.RetryCount, &entry.NextRetryAt, &entry.CreatedAt, &entry.LastAttemptAt, &entry.QuarantinedAt); err != nil {
		return deadletter.Entry{}, err
	}
	entry.EventType = events.Type(eventType)
	return entry, nil
}
