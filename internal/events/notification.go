package events

import (
	"encoding/json"
	"errors"
	"time"
)

// Notification types published by the event log.
const (
	NotificationEventsStored        = "health.events_stored"
	NotificationCompensationsStored = "health.compensations_stored"
)

// EventsStored announces that new events were appended for a device.
type EventsStored struct {
	DeviceID   string      `json:"device_id"`
	EventCount int         `json:"event_count"`
	Dates      []time.Time `json:"-"`
}

type eventsStoredWire struct {
	DeviceID   string   `json:"device_id"`
	EventCount int      `json:"event_count"`
	Dates      []string `json:"dates"`
}

// MarshalJSON renders dates as calendar dates.
func (n EventsStored) MarshalJSON() ([]byte, error) {
	wire := eventsStoredWire{DeviceID: n.DeviceID, EventCount: n.EventCount, Dates: make([]string, 0, len(n.Dates))}
	for _, d := range n.Dates {
		wire.Dates = append(wire.Dates, FormatDate(d))
	}
	return json.Marshal(wire)
}

// UnmarshalJSON parses calendar dates.
func (n *EventsStored) UnmarshalJSON(data []byte) error {
	var wire eventsStoredWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	dates := make([]time.Time, 0, len(wire.Dates))
	for _, raw := range wire.Dates {
		d, err := ParseDate(raw)
		if err != nil {
			return err
		}
		dates = append(dates, d)
	}
	*n = EventsStored{DeviceID: wire.DeviceID, EventCount: wire.EventCount, Dates: dates}
	return nil
}

// Deletion references an event removed by a compensation event.
type Deletion struct {
	EventID         string `json:"event_id"`
	TargetEventID   string `json:"target_event_id"`
	TargetEventType Type   `json:"target_event_type"`
}

// Correction references an event superseded by a corrected payload.
type Correction struct {
	EventID             string          `json:"event_id"`
	TargetEventID       string          `json:"target_event_id"`
	TargetEventType     Type            `json:"target_event_type"`
	CorrectedPayload    json.RawMessage `json:"corrected_payload"`
	CorrectedOccurredAt time.Time       `json:"corrected_occurred_at"`
}

// Decode returns the corrected payload typed by the target event type.
func (c Correction) Decode() (Payload, error) {
	if c.TargetEventType.IsCompensation() {
		return nil, errors.New("compensation events cannot be corrected")
	}
	return DecodePayload(c.TargetEventType, c.CorrectedPayload)
}

// CompensationsStored announces deletions and corrections appended for a device.
type CompensationsStored struct {
	DeviceID    string       `json:"device_id"`
	Deletions   []Deletion   `json:"deletions"`
	Corrections []Correction `json:"corrections"`
}
