package projection_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthassistant/internal/persistence/memory"
	"example.com/healthassistant/internal/projection"
)

func TestWorkoutProjectionIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	evt := workoutEvent("w-1", day1.Add(9*time.Hour), 100, 5)

	report := f.appendAndNotify(t, evt)
	require.Equal(t, 1, report.Projected)
	first := f.rollup(t, day1)
	require.NotNil(t, first)

	outcome, err := f.pipeline.Project(context.Background(), evt)
	require.NoError(t, err)
	require.Equal(t, projection.OutcomeAlreadyProjected, outcome)

	require.Equal(t, first, f.rollup(t, day1))
	require.Equal(t, 1, first.WorkoutCount)
	require.Equal(t, 1, first.ExerciseCount)
	require.Equal(t, 2, first.TotalSets)
	require.Equal(t, 10, first.TotalReps)
	require.Equal(t, 1000.0, first.TotalVolumeKg)
	require.Equal(t, fixedNow, first.UpdatedAt)
}

func TestReplayWithNewEventIDKeepsFirstWorkout(t *testing.T) {
	f := newFixture(t, nil)
	f.appendAndNotify(t, workoutEvent("w-1", day1.Add(9*time.Hour), 100, 5))

	// The notification reloads the whole date, so both events resolve to the existing workout.
	report := f.appendAndNotify(t, workoutEvent("w-1", day1.Add(9*time.Hour), 120, 5))
	require.Equal(t, 2, report.AlreadyProjected)
	require.Zero(t, report.Projected)
	require.Equal(t, 1000.0, f.rollup(t, day1).TotalVolumeKg)
}

func TestMealsNumberedInArrivalOrder(t *testing.T) {
	f := newFixture(t, nil)
	f.appendAndNotify(t,
		mealEvent("breakfast", day1.Add(8*time.Hour), 400),
		mealEvent("lunch", day1.Add(12*time.Hour), 700),
	)
	f.appendAndNotify(t, mealEvent("snack", day1.Add(7*time.Hour), 150))

	meals, err := f.store.ListMeals(context.Background(), device, day1, day1)
	require.NoError(t, err)
	require.Len(t, meals, 3)
	require.Equal(t, []string{"breakfast", "lunch", "snack"}, []string{meals[0].Title, meals[1].Title, meals[2].Title})
	require.Equal(t, []int{1, 2, 3}, []int{meals[0].MealNumber, meals[1].MealNumber, meals[2].MealNumber})

	rollup := f.rollup(t, day1)
	require.Equal(t, 3, rollup.MealCount)
	require.Equal(t, 1250, rollup.Calories)
	require.Equal(t, 60, rollup.ProteinG)
}

func TestInvalidMealIsNotApplicable(t *testing.T) {
	f := newFixture(t, nil)
	evt := mealEvent("bad", day1.Add(8*time.Hour), -10)

	report := f.appendAndNotify(t, evt)
	require.Equal(t, 1, report.NotApplicable)
	require.Zero(t, report.Failed())
	require.Nil(t, f.rollup(t, day1))
}

func TestWriteConflictsAreRetried(t *testing.T) {
	var flaky *flakyStore
	f := newFixture(t, func(s *memory.ProjectionStore) projection.Store {
		flaky = &flakyStore{ProjectionStore: s}
		flaky.failures.Store(2)
		return flaky
	})

	report := f.appendAndNotify(t, workoutEvent("w-1", day1.Add(9*time.Hour), 100, 5))
	require.Equal(t, 1, report.Projected)
	require.EqualValues(t, 3, flaky.calls.Load())
	require.NotNil(t, f.rollup(t, day1))
}

type recordedFailures struct {
	mu       sync.Mutex
	failures []projection.Failure
}

func (r *recordedFailures) Record(_ context.Context, f projection.Failure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
	return nil
}

func TestExhaustedEventIsIsolatedAndRecorded(t *testing.T) {
	rec := &recordedFailures{}
	var flaky *flakyStore
	f := newFixture(t, func(s *memory.ProjectionStore) projection.Store {
		flaky = &flakyStore{ProjectionStore: s}
		flaky.failures.Store(3)
		return flaky
	}, projection.WithFailureRecorder(rec))

	failing := workoutEvent("w-1", day1.Add(9*time.Hour), 100, 5)
	report := f.appendAndNotify(t, failing, mealEvent("lunch", day1.Add(12*time.Hour), 600))

	require.Equal(t, 1, report.Failed())
	require.Equal(t, 1, report.Projected)
	require.Len(t, rec.failures, 1)
	require.Equal(t, failing.EventID, rec.failures[0].EventID)
	require.True(t, errors.Is(rec.failures[0].Err, projection.ErrConflict))

	rollup := f.rollup(t, day1)
	require.Zero(t, rollup.WorkoutCount)
	require.Equal(t, 1, rollup.MealCount)
}

type recordingInvalidator struct {
	dates   []time.Time
	devices []string
}

func (r *recordingInvalidator) InvalidateDevice(_ context.Context, deviceID string) error {
	r.devices = append(r.devices, deviceID)
	return nil
}

func (r *recordingInvalidator) Invalidate(_ context.Context, _ string, dates ...time.Time) error {
	r.dates = append(r.dates, dates...)
	return nil
}

func TestListenerInvalidatesEveryNotifiedDate(t *testing.T) {
	inv := &recordingInvalidator{}
	f := newFixture(t, nil, projection.WithInvalidator(inv))

	report := f.appendAndNotify(t,
		stepsEvent(day1.Add(10*time.Hour), 4000),
		mealEvent("dinner", day2.Add(19*time.Hour), 800),
	)
	require.Equal(t, 1, report.Projected)
	require.Equal(t, []time.Time{day1, day2}, inv.dates)
	require.Equal(t, []time.Time{day1, day2}, report.TouchedDates())
}

func TestReprojectDateMatchesIncrementalProjection(t *testing.T) {
	f := newFixture(t, nil)
	f.appendAndNotify(t,
		workoutEvent("w-1", day1.Add(9*time.Hour), 100, 5),
		mealEvent("breakfast", day1.Add(8*time.Hour), 400),
		workoutEvent("w-2", day1.Add(18*time.Hour), 60, 12),
		mealEvent("lunch", day1.Add(12*time.Hour), 700),
	)
	before := f.rollup(t, day1)
	mealsBefore, err := f.store.ListMeals(context.Background(), device, day1, day1)
	require.NoError(t, err)

	report, err := f.pipeline.ReprojectDate(context.Background(), device, day1)
	require.NoError(t, err)
	require.Equal(t, 4, report.Projected)

	require.Equal(t, before, f.rollup(t, day1))
	mealsAfter, err := f.store.ListMeals(context.Background(), device, day1, day1)
	require.NoError(t, err)
	require.Len(t, mealsAfter, len(mealsBefore))
	for i := range mealsBefore {
		require.Equal(t, mealsBefore[i].EventID, mealsAfter[i].EventID)
		require.Equal(t, mealsBefore[i].MealNumber, mealsAfter[i].MealNumber)
	}
}

func TestReprojectAllWorkoutsRebuildsEveryDate(t *testing.T) {
	f := newFixture(t, nil)
	f.appendAndNotify(t,
		workoutEvent("w-1", day1.Add(9*time.Hour), 100, 5),
		workoutEvent("w-2", day2.Add(9*time.Hour), 80, 8),
		mealEvent("lunch", day2.Add(12*time.Hour), 700),
	)
	want1, want2 := f.rollup(t, day1), f.rollup(t, day2)

	report, err := f.pipeline.ReprojectAllWorkouts(context.Background(), device)
	require.NoError(t, err)
	require.Equal(t, 2, report.Projected)
	require.Equal(t, []time.Time{day1, day2}, report.TouchedDates())
	require.Equal(t, want1, f.rollup(t, day1))
	require.Equal(t, want2, f.rollup(t, day2))

	_, err = f.pipeline.ReprojectAllWorkouts(context.Background(), device)
	require.NoError(t, err)
	require.Equal(t, want1, f.rollup(t, day1))
}

func TestDeleteProjectionsForDateResetsMealNumbers(t *testing.T) {
	f := newFixture(t, nil)
	f.appendAndNotify(t, mealEvent("breakfast", day1.Add(8*time.Hour), 400))

	require.NoError(t, f.pipeline.DeleteProjectionsForDate(context.Background(), device, day1))
	require.Nil(t, f.rollup(t, day1))

	f.appendAndNotify(t, mealEvent("late lunch", day1.Add(14*time.Hour), 500))
	meals, err := f.store.ListMeals(context.Background(), device, day1, day1)
	require.NoError(t, err)
	require.Len(t, meals, 2)
	require.Equal(t, "breakfast", meals[0].Title)
	require.Equal(t, 1, meals[0].MealNumber)
	require.Equal(t, 2, meals[1].MealNumber)
}

func TestResyncRemovesProjectionOfDeletedEvent(t *testing.T) {
	f := newFixture(t, nil)
	evt := workoutEvent("w-1", day1.Add(9*time.Hour), 100, 5)
	f.appendAndNotify(t, evt)

	// Store the deletion without delivering its notification.
	_, _, err := f.log.Append(context.Background(), deleteEvent(evt))
	require.NoError(t, err)
	require.NotNil(t, f.rollup(t, day1))

	outcome, touched, err := f.pipeline.Resync(context.Background(), device, evt.EventID, evt.EventType)
	require.NoError(t, err)
	require.Equal(t, projection.OutcomeNotApplicable, outcome)
	require.Equal(t, []time.Time{day1}, touched)
	require.Nil(t, f.rollup(t, day1))
}

func TestResyncProjectsMissingEvent(t *testing.T) {
	f := newFixture(t, nil)
	evt := mealEvent("lunch", day1.Add(12*time.Hour), 600)
	_, _, err := f.log.Append(context.Background(), evt)
	require.NoError(t, err)

	outcome, touched, err := f.pipeline.Resync(context.Background(), device, evt.EventID, evt.EventType)
	require.NoError(t, err)
	require.Equal(t, projection.OutcomeProjected, outcome)
	require.Equal(t, []time.Time{day1}, touched)
	require.Equal(t, 1, f.rollup(t, day1).MealCount)
}
