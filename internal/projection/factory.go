package projection

import (
	"strings"
	"time"

	"example.com/healthassistant/internal/aggregate"
	"example.com/healthassistant/internal/events"
)

// Factory turns stored events into projections. It has no side effects.
type Factory struct {
	loc *time.Location
}

// NewFactory builds a Factory assigning dates in loc.
func NewFactory(loc *time.Location) Factory {
	if loc == nil {
		loc = time.UTC
	}
	return Factory{loc: loc}
}

// Workout returns false when evt is not a workout or lacks its identity fields.
// The projection date follows the event's occurrence, like every other read model.
func (f Factory) Workout(evt events.EventData) (WorkoutProjection, bool) {
	payload, ok := evt.Payload.(events.Workout)
	if !ok || strings.TrimSpace(evt.DeviceID) == "" || strings.TrimSpace(evt.EventID) == "" {
		return WorkoutProjection{}, false
	}
	entry, ok := aggregate.WorkoutEntryOf(evt.EventID, payload)
	if !ok {
		return WorkoutProjection{}, false
	}

	performedAt := payload.PerformedAt
	if performedAt.IsZero() {
		performedAt = evt.OccurredAt
	}
	return WorkoutProjection{
		DeviceID:      evt.DeviceID,
		WorkoutID:     entry.WorkoutID,
		EventID:       evt.EventID,
		Date:          events.DateOf(evt.OccurredAt, f.loc),
		PerformedAt:   performedAt,
		Source:        entry.Source,
		Note:          entry.Note,
		Exercises:     entry.Exercises,
		TotalSets:     entry.TotalSets,
		TotalReps:     entry.TotalReps,
		TotalVolumeKg: entry.TotalVolumeKg,
	}, true
}

// Meal returns false when evt is not a meal, lacks its identity fields or carries negative values.
func (f Factory) Meal(evt events.EventData) (MealProjection, bool) {
	payload, ok := evt.Payload.(events.Meal)
	if !ok || strings.TrimSpace(evt.DeviceID) == "" || strings.TrimSpace(evt.EventID) == "" {
		return MealProjection{}, false
	}
	if payload.Calories < 0 || payload.ProteinG < 0 || payload.FatG < 0 || payload.CarbsG < 0 {
		return MealProjection{}, false
	}
	return MealProjection{
		DeviceID:     evt.DeviceID,
		EventID:      evt.EventID,
		Date:         events.DateOf(evt.OccurredAt, f.loc),
		OccurredAt:   evt.OccurredAt,
		Title:        payload.Title,
		MealType:     payload.MealType,
		Calories:     payload.Calories,
		ProteinG:     payload.ProteinG,
		FatG:         payload.FatG,
		CarbsG:       payload.CarbsG,
		HealthRating: payload.HealthRating,
	}, true
}
