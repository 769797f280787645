package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"example.com/healthassistant/internal/events"
)

// ErrDuplicateIdempotencyKey is returned when an appended event reuses a device's idempotency key.
var ErrDuplicateIdempotencyKey = errors.New("memory: duplicate idempotency key")

// EventLog is an events.Log over a slice. Compensation events are folded into the
// effective view as they are appended.
type EventLog struct {
	mu      sync.RWMutex
	loc     *time.Location
	entries []events.EventData
	deleted map[deviceKey]struct{}
	keys    map[deviceKey]struct{}
}

// NewEventLog constructs an empty log assigning dates in loc.
func NewEventLog(loc *time.Location) *EventLog {
	if loc == nil {
		loc = time.UTC
	}
	return &EventLog{
		loc:     loc,
		deleted: make(map[deviceKey]struct{}),
		keys:    make(map[deviceKey]struct{}),
	}
}

// Append stores events in order and returns the notifications a real log would publish.
func (l *EventLog) Append(_ context.Context, evts ...events.EventData) (events.EventsStored, events.CompensationsStored, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		stored events.EventsStored
		comp   events.CompensationsStored
		dates  = make(map[time.Time]struct{})
	)
	for _, evt := range evts {
		if stored.DeviceID == "" {
			stored.DeviceID, comp.DeviceID = evt.DeviceID, evt.DeviceID
		}
		if evt.IdempotencyKey != "" {
			key := deviceKey{evt.DeviceID, evt.IdempotencyKey}
			if _, ok := l.keys[key]; ok {
				return stored, comp, fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, evt.IdempotencyKey)
			}
			l.keys[key] = struct{}{}
		}

		switch p := evt.Payload.(type) {
		case events.EventDeleted:
			l.deleted[deviceKey{evt.DeviceID, p.TargetEventID}] = struct{}{}
			comp.Deletions = append(comp.Deletions, events.Deletion{
				EventID:         evt.EventID,
				TargetEventID:   p.TargetEventID,
				TargetEventType: p.TargetEventType,
			})
		case events.EventCorrected:
			corrected, err := l.correct(evt.DeviceID, p)
			if err != nil {
				return stored, comp, err
			}
			comp.Corrections = append(comp.Corrections, events.Correction{
				EventID:             evt.EventID,
				TargetEventID:       p.TargetEventID,
				TargetEventType:     p.TargetEventType,
				CorrectedPayload:    p.CorrectedPayload,
				CorrectedOccurredAt: corrected.OccurredAt,
			})
		default:
			l.entries = append(l.entries, evt)
			stored.EventCount++
			d := events.DateOf(evt.OccurredAt, l.loc)
			if _, ok := dates[d]; !ok {
				dates[d] = struct{}{}
				stored.Dates = append(stored.Dates, d)
			}
		}
	}
	return stored, comp, nil
}

func (l *EventLog) correct(deviceID string, c events.EventCorrected) (events.EventData, error) {
	payload, err := events.DecodePayload(c.TargetEventType, c.CorrectedPayload)
	if err != nil {
		return events.EventData{}, err
	}
	for i, e := range l.entries {
		if e.DeviceID != deviceID || e.EventID != c.TargetEventID {
			continue
		}
		e.Payload = payload
		if c.CorrectedOccurredAt != nil {
			e.OccurredAt = *c.CorrectedOccurredAt
		}
		l.entries[i] = e
		return e, nil
	}
	return events.EventData{}, fmt.Errorf("correction target %s not found", c.TargetEventID)
}

func (l *EventLog) live(e events.EventData) bool {
	_, gone := l.deleted[deviceKey{e.DeviceID, e.EventID}]
	return !gone
}

// FindEventsForDateRange implements events.Log.
func (l *EventLog) FindEventsForDateRange(_ context.Context, deviceID string, from, to time.Time) ([]events.EventData, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []events.EventData
	for _, e := range l.entries {
		if e.DeviceID != deviceID || !l.live(e) {
			continue
		}
		d := events.DateOf(e.OccurredAt, l.loc)
		if d.Before(from) || d.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// FindEventByID implements events.Log.
func (l *EventLog) FindEventByID(_ context.Context, deviceID, eventID string) (*events.EventData, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, e := range l.entries {
		if e.DeviceID == deviceID && e.EventID == eventID && l.live(e) {
			return &e, nil
		}
	}
	return nil, nil
}

// FindEventsByType implements events.Log.
func (l *EventLog) FindEventsByType(_ context.Context, deviceID string, eventType events.Type) ([]events.EventData, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []events.EventData
	for _, e := range l.entries {
		if e.DeviceID == deviceID && e.EventType == eventType && l.live(e) {
			out = append(out, e)
		}
	}
	return out, nil
}
