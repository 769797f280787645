package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// EventData is one stored event as returned by the event log.
type EventData struct {
	EventID        string
	EventType      Type
	OccurredAt     time.Time
	DeviceID       string
	IdempotencyKey string
	Payload        Payload
}

// Log is the read side of the external event log. It returns the effective view:
// deleted events are absent and corrected events carry their corrected payload.
type Log interface {
	// FindEventsForDateRange returns events whose local date falls in [from, to], in arrival order.
	FindEventsForDateRange(ctx context.Context, deviceID string, from, to time.Time) ([]EventData, error)
	// FindEventByID returns nil, nil when the event does not exist for the device.
	FindEventByID(ctx context.Context, deviceID, eventID string) (*EventData, error)
	// FindEventsByType returns the device's full history of one type, in arrival order.
	FindEventsByType(ctx context.Context, deviceID string, eventType Type) ([]EventData, error)
}

// storedEvent is the JSON shape used when events travel outside the log.
type storedEvent struct {
	EventID        string          `json:"event_id"`
	EventType      Type            `json:"event_type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	DeviceID       string          `json:"device_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
}

// MarshalJSON encodes the event with its payload inline.
func (e EventData) MarshalJSON() ([]byte, error) {
	var payload json.RawMessage
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		payload = raw
	}
	return json.Marshal(storedEvent{
		EventID:        e.EventID,
		EventType:      e.EventType,
		OccurredAt:     e.OccurredAt,
		DeviceID:       e.DeviceID,
		IdempotencyKey: e.IdempotencyKey,
		Payload:        payload,
	})
}

// UnmarshalJSON decodes the event and its typed payload.
func (e *EventData) UnmarshalJSON(data []byte) error {
	var stored storedEvent
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}
	payload, err := DecodePayload(stored.EventType, stored.Payload)
	if err != nil {
		return fmt.Errorf("event %s: %w", stored.EventID, err)
	}
	*e = EventData{
		EventID:        stored.EventID,
		EventType:      stored.EventType,
		OccurredAt:     stored.OccurredAt,
		DeviceID:       stored.DeviceID,
		IdempotencyKey: stored.IdempotencyKey,
		Payload:        payload,
	}
	return nil
}

// DateOf returns the calendar date of t in loc, as midnight UTC.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// StartOfDay returns the instant the given calendar date begins in loc.
func StartOfDay(date time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
}

// FormatDate renders a calendar date.
func FormatDate(date time.Time) string {
	return date.Format(DateLayout)
}

// ParseDate parses a calendar date.
func ParseDate(value string) (time.Time, error) {
	return time.Parse(DateLayout, value)
}

// DatesBetween lists every date in [from, to]. It returns nil when from is after to.
func DatesBetween(from, to time.Time) []time.Time {
	if from.After(to) {
		return nil
	}
	var out []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}
