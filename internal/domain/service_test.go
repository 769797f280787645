package domain_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/healthassistant/internal/aggregate"
	"example.com/healthassistant/internal/domain"
	"example.com/healthassistant/internal/energy"
	"example.com/healthassistant/internal/events"
	"example.com/healthassistant/internal/persistence/memory"
	"example.com/healthassistant/internal/projection"
	"example.com/healthassistant/internal/retry"
)

const device = "device-1"

var (
	day1 = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	day2 = time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	log      *memory.EventLog
	store    *memory.ProjectionStore
	cache    *mapCache
	pipeline *projection.Pipeline
	service  *domain.Service
}

func newFixture(t *testing.T, opts ...domain.Option) *fixture {
	t.Helper()
	log := memory.NewEventLog(time.UTC)
	store := memory.NewProjectionStore()
	pipeline := projection.NewPipeline(store, log,
		projection.WithRetryPolicy(retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}),
	)
	c := newMapCache()
	opts = append([]domain.Option{domain.WithCache(c)}, opts...)
	return &fixture{
		log:      log,
		store:    store,
		cache:    c,
		pipeline: pipeline,
		service:  domain.NewService(log, store, pipeline, opts...),
	}
}

// record appends evts to the log and projects them directly.
func (f *fixture) record(t *testing.T, evts ...events.EventData) projection.Report {
	t.Helper()
	_, _, err := f.log.Append(context.Background(), evts...)
	require.NoError(t, err)
	return f.service.ProjectEvents(context.Background(), evts)
}

func event(eventType events.Type, at time.Time, payload events.Payload) events.EventData {
	return events.EventData{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		OccurredAt: at,
		DeviceID:   device,
		Payload:    payload,
	}
}

func steps(at time.Time, count int) events.EventData {
	return event(events.TypeSteps, at, events.Steps{BucketStart: at, BucketEnd: at.Add(time.Hour), Count: count})
}

func meal(title string, at time.Time, calories int) events.EventData {
	return event(events.TypeMeal, at, events.Meal{Title: title, MealType: "lunch", Calories: calories, ProteinG: 30})
}

func workout(id string, at time.Time, weight float64, reps int) events.EventData {
	return event(events.TypeWorkout, at, events.Workout{
		WorkoutID:   id,
		PerformedAt: at,
		Exercises: []events.WorkoutExercise{{
			ExerciseID: "squat",
			Name:       "Back squat",
			Sets:       []events.WorkoutSet{{SetNumber: 1, WeightKg: weight, Reps: reps}},
		}},
	})
}

func TestGetDailySummaryWithoutDataIsAbsent(t *testing.T) {
	f := newFixture(t)

	snapshot, err := f.service.GetDailySummary(context.Background(), device, day1)
	require.NoError(t, err)
	require.Nil(t, snapshot)
	require.Empty(t, f.cache.entries)
}

func TestGetDailySummaryOverlaysMealNumbersAndCaches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	breakfast := meal("oats", day1.Add(8*time.Hour), 400)
	lunch := meal("rice", day1.Add(13*time.Hour), 700)
	f.record(t, steps(day1.Add(9*time.Hour), 4000), steps(day1.Add(15*time.Hour), 3000), breakfast, lunch)

	snapshot, err := f.service.GetDailySummary(ctx, device, day1)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	require.Equal(t, 7000, *snapshot.Activity.Steps)
	require.Equal(t, 1100, *snapshot.Nutrition.Calories)
	require.Len(t, snapshot.Meals, 2)
	numbers := map[string]int{}
	for _, m := range snapshot.Meals {
		numbers[m.EventID] = m.MealNumber
	}
	require.Equal(t, 1, numbers[breakfast.EventID])
	require.Equal(t, 2, numbers[lunch.EventID])

	require.Contains(t, f.cache.entries, cacheKey(device, day1))

	// Projecting another event for the date drops the cached snapshot.
	f.record(t, meal("apple", day1.Add(16*time.Hour), 80))
	require.NotContains(t, f.cache.entries, cacheKey(device, day1))

	snapshot, err = f.service.GetDailySummary(ctx, device, day1)
	require.NoError(t, err)
	require.Len(t, snapshot.Meals, 3)
}

func TestGetDailySummaryServesCachedSnapshot(t *testing.T) {
	f := newFixture(t)
	steps := 1234
	f.cache.entries[cacheKey(device, day1)] = aggregate.DailySnapshot{
		DeviceID: device,
		Date:     day1,
		Activity: aggregate.ActivitySummary{Steps: &steps},
	}

	snapshot, err := f.service.GetDailySummary(context.Background(), device, day1)
	require.NoError(t, err)
	require.Equal(t, 1234, *snapshot.Activity.Steps)
}

func TestGetRangeSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.record(t,
		steps(day1.Add(9*time.Hour), 6000),
		steps(day2.Add(9*time.Hour), 8000),
		meal("rice", day2.Add(13*time.Hour), 700),
	)

	summary, err := f.service.GetRangeSummary(ctx, device, day1, day2.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Equal(t, 14000, summary.Activity.TotalSteps)
	require.Equal(t, 2, summary.Activity.DaysWithSteps)
	require.Equal(t, 2, summary.DaysWithData)

	_, err = f.service.GetRangeSummary(ctx, device, day2, day1)
	require.ErrorIs(t, err, aggregate.ErrInvalidRange)

	_, err = f.service.GetRangeSummary(ctx, device, day1, day1.AddDate(0, 0, aggregate.MaxRangeDays+1))
	require.ErrorIs(t, err, aggregate.ErrInvalidRange)
}

func TestGetDailyRollups(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.record(t, workout("w-1", day1.Add(7*time.Hour), 100, 5), meal("rice", day2.Add(13*time.Hour), 700))

	rollups, err := f.service.GetDailyRollups(ctx, device, day1, day2)
	require.NoError(t, err)
	require.Len(t, rollups, 2)
	require.Equal(t, 1, rollups[0].WorkoutCount)
	require.Equal(t, 500.0, rollups[0].TotalVolumeKg)
	require.Equal(t, 700, rollups[1].Calories)
}

func TestDeleteAndReprojectDate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.record(t, meal("oats", day1.Add(8*time.Hour), 400), workout("w-1", day1.Add(7*time.Hour), 100, 5))

	_, err := f.service.GetDailySummary(ctx, device, day1)
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteProjectionsForDate(ctx, device, day1))
	require.NotContains(t, f.cache.entries, cacheKey(device, day1))
	rollups, err := f.service.GetDailyRollups(ctx, device, day1, day1)
	require.NoError(t, err)
	require.Empty(t, rollups)

	report, err := f.service.ReprojectDate(ctx, device, day1)
	require.NoError(t, err)
	require.Equal(t, 2, report.Projected)
	rollups, err = f.service.GetDailyRollups(ctx, device, day1, day1)
	require.NoError(t, err)
	require.Len(t, rollups, 1)
	require.Equal(t, 1, rollups[0].MealCount)
}

func TestReprojectAllWorkouts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.record(t, workout("w-1", day1.Add(7*time.Hour), 100, 5), workout("w-2", day2.Add(7*time.Hour), 110, 5))

	report, err := f.service.ReprojectAllWorkouts(ctx, device)
	require.NoError(t, err)
	require.Equal(t, 2, report.Projected)

	records, err := f.service.GetAllPersonalRecords(ctx, device)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, 110.0, records[0].WeightKg)
	require.Equal(t, "w-2", records[0].WorkoutID)
}

func TestGetExerciseStatistics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.record(t,
		workout("w-1", day1.Add(7*time.Hour), 100, 5),
		workout("w-2", day2.Add(7*time.Hour), 110, 5),
	)

	stats, err := f.service.GetExerciseStatistics(ctx, device, "squat", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, stats)
	require.Equal(t, 2, stats.SessionCount)
	require.Equal(t, 1050.0, stats.TotalVolumeKg)

	from := day2
	stats, err = f.service.GetExerciseStatistics(ctx, device, "squat", &from, nil)
	require.NoError(t, err)
	require.Equal(t, 1, stats.SessionCount)

	stats, err = f.service.GetExerciseStatistics(ctx, device, "deadlift", nil, nil)
	require.NoError(t, err)
	require.Nil(t, stats)

	to := day1
	_, err = f.service.GetExerciseStatistics(ctx, device, "squat", &from, &to)
	require.ErrorIs(t, err, aggregate.ErrInvalidRange)
}

func TestFindOwnedEventHidesMissingAndMismatched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lunch := meal("rice", day1.Add(13*time.Hour), 700)
	f.record(t, lunch)

	found, err := f.service.FindOwnedEvent(ctx, device, lunch.EventID, events.TypeMeal)
	require.NoError(t, err)
	require.Equal(t, lunch.EventID, found.EventID)

	_, err = f.service.FindOwnedEvent(ctx, device, lunch.EventID, events.TypeWorkout)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.service.FindOwnedEvent(ctx, "device-2", lunch.EventID, events.TypeMeal)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.service.FindOwnedEvent(ctx, device, "missing", events.TypeMeal)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetEnergyRequirements(t *testing.T) {
	ctx := context.Background()
	log := memory.NewEventLog(time.UTC)
	store := memory.NewProjectionStore()
	calc, err := energy.NewCalculator(energy.DefaultConfig())
	require.NoError(t, err)

	lbm := 70.0
	weights := stubWeights{measurements: []energy.Measurement{{MeasuredAt: day1, WeightKg: 82, LeanBodyMassKg: &lbm}}}
	energySvc := energy.NewService(calc, weights, domain.NewActivityFacade(log, store), time.UTC, nil)

	pipeline := projection.NewPipeline(store, log)
	service := domain.NewService(log, store, pipeline, domain.WithEnergy(energySvc))

	evts := []events.EventData{steps(day1.Add(9*time.Hour), 12000), workout("w-1", day1.Add(7*time.Hour), 100, 5)}
	_, _, err = log.Append(ctx, evts...)
	require.NoError(t, err)
	service.ProjectEvents(ctx, evts)

	req, err := service.GetEnergyRequirements(ctx, device, day1)
	require.NoError(t, err)
	require.NotNil(t, req)
	require.Equal(t, 3585, req.TargetCalories)
	require.True(t, req.IsTrainingDay)

	req, err = service.GetEnergyRequirements(ctx, "device-2", day1)
	require.NoError(t, err)
	require.Nil(t, req)
}

func TestGetEnergyRequirementsWithoutService(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.GetEnergyRequirements(context.Background(), device, day1)
	require.ErrorIs(t, err, domain.ErrEnergyUnavailable)
}

type stubWeights struct {
	measurements []energy.Measurement
}

func (s stubWeights) RecentMeasurements(_ context.Context, deviceID string, _ time.Time, _ int) ([]energy.Measurement, error) {
	if deviceID != device {
		return nil, nil
	}
	return s.measurements, nil
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string]aggregate.DailySnapshot
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string]aggregate.DailySnapshot{}}
}

func cacheKey(deviceID string, date time.Time) string {
	return deviceID + ":" + events.FormatDate(date)
}

func (c *mapCache) Get(_ context.Context, deviceID string, date time.Time) (*aggregate.DailySnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[cacheKey(deviceID, date)]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (c *mapCache) Set(_ context.Context, s aggregate.DailySnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(s.DeviceID, s.Date)] = s
	return nil
}

func (c *mapCache) InvalidateDevice(_ context.Context, deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, deviceID+":") {
			delete(c.entries, key)
		}
	}
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, deviceID string, dates ...time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range dates {
		delete(c.entries, cacheKey(deviceID, d))
	}
	return nil
}
