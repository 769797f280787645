package domain

import (
	"context"
	"time"

	"example.com/healthassistant/internal/aggregate"
	"example.com/healthassistant/internal/events"
	"example.com/healthassistant/internal/projection"
)

// ActivityFacade answers the activity inputs of energy requirements from the event log
// and the workout projections.
type ActivityFacade struct {
	log   events.Log
	store projection.Reader
	daily *aggregate.DailyAggregator
}

// NewActivityFacade constructs an ActivityFacade.
func NewActivityFacade(log events.Log, store projection.Reader) *ActivityFacade {
	return &ActivityFacade{log: log, store: store, daily: aggregate.NewDailyAggregator(nil)}
}

// StepsForDate returns the day's step total, zero when none were recorded.
func (f *ActivityFacade) StepsForDate(ctx context.Context, deviceID string, date time.Time) (int, error) {
	evts, err := f.log.FindEventsForDateRange(ctx, deviceID, date, date)
	if err != nil {
		return 0, err
	}
	snapshot := f.daily.Aggregate(deviceID, date, evts)
	if snapshot.Activity.Steps == nil {
		return 0, nil
	}
	return *snapshot.Activity.Steps, nil
}

// IsTrainingDay reports whether a workout was projected for the date.
func (f *ActivityFacade) IsTrainingDay(ctx context.Context, deviceID string, date time.Time) (bool, error) {
	workouts, err := f.store.ListWorkouts(ctx, deviceID, date, date)
	if err != nil {
		return false, err
	}
	return len(workouts) > 0, nil
}
