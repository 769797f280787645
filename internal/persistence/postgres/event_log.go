package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/healthassistant/internal/events"
)

// EventLog reads the effective view of health_events: deleted events are filtered out
// and the latest correction of an event replaces its payload and occurrence time.
type EventLog struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

// NewEventLog constructs an EventLog assigning calendar dates in loc.
func NewEventLog(pool *pgxpool.Pool, loc *time.Location) *EventLog {
	if loc == nil {
		loc = time.UTC
	}
	return &EventLog{pool: pool, loc: loc}
}

const effectiveEvents = `
    SELECT e.event_id, e.event_type, COALESCE(c.occurred_at, e.occurred_at) AS occurred_at,
           e.device_id, COALESCE(e.idempotency_key, ''), COALESCE(c.payload, e.payload) AS payload, e.seq
      FROM health_events e
      LEFT JOIN LATERAL (
            SELECT x.payload -> 'corrected_payload' AS payload,
                   (x.payload ->> 'corrected_occurred_at')::timestamptz AS occurred_at
              FROM health_events x
             WHERE x.device_id = e.device_id
               AND x.event_type = 'event.corrected'
               AND x.payload ->> 'target_event_id' = e.event_id
             ORDER BY x.seq DESC
             LIMIT 1
      ) c ON true
     WHERE e.device_id = $1
       AND e.event_type NOT IN ('event.deleted', 'event.corrected')
       AND NOT EXISTS (
            SELECT 1 FROM health_events d
             WHERE d.device_id = e.device_id
               AND d.event_type = 'event.deleted'
               AND d.payload ->> 'target_event_id' = e.event_id
       )`

// FindEventsForDateRange implements events.Log.
func (l *EventLog) FindEventsForDateRange(ctx context.Context, deviceID string, from, to time.Time) ([]events.EventData, error) {
	const query = `SELECT event_id, event_type, occurred_at, device_id, idempotency_key, payload FROM (` + effectiveEvents + `) v
        WHERE (v.occurred_at AT TIME ZONE $2)::date BETWEEN $3 AND $4
        ORDER BY v.seq`
	return l.query(ctx, query, deviceID, l.loc.String(), from, to)
}

// FindEventByID implements events.Log.
func (l *EventLog) FindEventByID(ctx context.Context, deviceID, eventID string) (*events.EventData, error) {
	const query = `SELECT event_id, event_type, occurred_at, device_id, idempotency_key, payload FROM (` + effectiveEvents + `) v
        WHERE v.event_id = $2`
	found, err := l.query(ctx, query, deviceID, eventID)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

// FindEventsByType implements events.Log.
func (l *EventLog) FindEventsByType(ctx context.Context, deviceID string, eventType events.Type) ([]events.EventData, error) {
	const query = `SELECT event_id, event_type, occurred_at, device_id, idempotency_key, payload FROM (` + effectiveEvents + `) v
        WHERE v.event_type = $2
        ORDER BY v.seq`
	return l.query(ctx, query, deviceID, string(eventType))
}

func (l *EventLog) query(ctx context.Context, query string, args ...interface{}) ([]events.EventData, error) {
	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.EventData
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// scanEvent leaves Payload nil when it cannot be decoded, so readers skip the event
// instead of failing the whole date.
func scanEvent(row pgx.Row) (events.EventData, error) {
	var (
		evt       events.EventData
		eventType string
		payload   []byte
	)
	if err := row.Scan(&evt.EventID, &eventType, &evt.OccurredAt, &evt.DeviceID, &evt.IdempotencyKey, &payload); err != nil {
		return evt, err
	}
	evt.EventType = events.Type(eventType)
	if decoded, err := events.DecodePayload(evt.EventType, json.RawMessage(payload)); err == nil {
		evt.Payload = decoded
	}
	return evt, nil
}
