package aggregate

import (
	"math"
	"time"

	"go.uber.org/zap"

	"example.com/healthassistant/internal/events"
	"example.com/healthassistant/internal/logger"
)

// DailyAggregator folds one device's events for one date into a DailySnapshot.
type DailyAggregator struct {
	logger *zap.Logger
}

// NewDailyAggregator constructs a DailyAggregator. A nil logger discards output.
func NewDailyAggregator(log *zap.Logger) *DailyAggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &DailyAggregator{logger: log.Named("aggregate.daily")}
}

// Aggregate is deterministic for a given input list. Compensation events are ignored
// because the event log already returns the effective view.
func (a *DailyAggregator) Aggregate(deviceID string, date time.Time, evts []events.EventData) DailySnapshot {
	snapshot := DailySnapshot{
		DeviceID: deviceID,
		Date:     date,
		Workouts: []WorkoutEntry{},
		Meals:    []MealEntry{},
		Walks:    []WalkEntry{},
	}

	var (
		activity activityTotals
		sleep    []SleepEntry
		heart    heartAccumulator
	)

	for _, evt := range evts {
		switch p := evt.Payload.(type) {
		case events.Steps:
			activity.addSteps(p.Count)
		case events.ActiveMinutes:
			activity.addMinutes(p.Minutes)
		case events.ActiveCalories:
			activity.addCalories(p.EnergyKcal)
		case events.Distance:
			activity.addDistance(p.DistanceMeters)
		case events.SleepSession:
			entry, ok := sleepEntryOf(p)
			if !ok {
				a.skip(evt, "sleep session ends before it starts")
				continue
			}
			sleep = append(sleep, entry)
		case events.HeartRate:
			heart.addReading(p)
		case events.WalkingSession:
			walk, ok := walkEntryOf(p)
			if !ok {
				a.skip(evt, "walking session missing identity or interval")
				continue
			}
			snapshot.Walks = append(snapshot.Walks, walk)
		case events.Workout:
			entry, ok := WorkoutEntryOf(evt.EventID, p)
			if !ok {
				a.skip(evt, "workout missing workout id")
				continue
			}
			if p.MaxHeartRate != nil {
				heart.addMax(*p.MaxHeartRate)
			}
			snapshot.Workouts = append(snapshot.Workouts, entry)
		case events.Meal:
			entry, ok := mealEntryOf(evt, p)
			if !ok {
				a.skip(evt, "meal has negative nutrition values")
				continue
			}
			snapshot.Meals = append(snapshot.Meals, entry)
		case events.EventDeleted, events.EventCorrected:
		default:
			a.skip(evt, "unsupported payload")
		}
	}

	snapshot.Activity = activity.summary()
	snapshot.Sleep = summarizeSleep(sleep)
	snapshot.Heart = heart.summary()
	snapshot.Nutrition = summarizeNutrition(snapshot.Meals)
	return snapshot
}

func (a *DailyAggregator) skip(evt events.EventData, reason string) {
	a.logger.Warn("skipping event",
		zap.String("event_id", evt.EventID),
		zap.String("event_type", string(evt.EventType)),
		logger.Device(evt.DeviceID),
		zap.String("reason", reason),
	)
}

type activityTotals struct {
	steps    int
	minutes  int
	calories float64
	distance float64
}

func (t *activityTotals) addSteps(n int) {
	if n > 0 {
		t.steps += n
	}
}

func (t *activityTotals) addMinutes(n int) {
	if n > 0 {
		t.minutes += n
	}
}

func (t *activityTotals) addCalories(kcal float64) {
	if kcal > 0 && !math.IsInf(kcal, 0) {
		t.calories += kcal
	}
}

func (t *activityTotals) addDistance(m float64) {
	if m > 0 && !math.IsInf(m, 0) {
		t.distance += m
	}
}

func (t activityTotals) summary() ActivitySummary {
	return ActivitySummary{
		Steps:          presentInt(t.steps),
		ActiveMinutes:  presentInt(t.minutes),
		ActiveCalories: presentInt(int(math.Round(t.calories))),
		DistanceMeters: presentInt(int(math.Round(t.distance))),
	}
}
