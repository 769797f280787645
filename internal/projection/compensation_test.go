package projection_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthassistant/internal/events"
	"example.com/healthassistant/internal/projection"
)

func TestDeletionRecomputesRollup(t *testing.T) {
	f := newFixture(t, nil)
	breakfast := mealEvent("breakfast", day1.Add(8*time.Hour), 400)
	lunch := mealEvent("lunch", day1.Add(12*time.Hour), 700)
	f.appendAndNotify(t, breakfast, lunch)

	report := f.appendAndNotify(t, deleteEvent(breakfast))
	require.Equal(t, 1, report.Removed)
	require.Equal(t, []time.Time{day1}, report.TouchedDates())

	rollup := f.rollup(t, day1)
	require.Equal(t, 1, rollup.MealCount)
	require.Equal(t, 700, rollup.Calories)

	f.appendAndNotify(t, deleteEvent(lunch))
	require.Nil(t, f.rollup(t, day1))
}

func TestDeletionOfUnprojectedEventIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	steps := stepsEvent(day1.Add(10*time.Hour), 3000)
	f.appendAndNotify(t, steps)

	report := f.appendAndNotify(t, deleteEvent(steps))
	require.Zero(t, report.Removed)
	require.Zero(t, report.Failed())
	require.Equal(t, 1, report.NotApplicable)
	require.True(t, report.TouchesAllDates(), "cached summaries of the deleted event's date must go")
}

func TestCompensationOfRawEventInvalidatesDevice(t *testing.T) {
	inv := &recordingInvalidator{}
	f := newFixture(t, nil, projection.WithInvalidator(inv))
	steps := stepsEvent(day1.Add(10*time.Hour), 3000)
	f.appendAndNotify(t, steps)
	require.Empty(t, inv.devices)

	f.appendAndNotify(t, deleteEvent(steps))
	require.Equal(t, []string{device}, inv.devices)
}

func TestCorrectionMovesWorkoutToNewDate(t *testing.T) {
	f := newFixture(t, nil)
	evt := workoutEvent("w-1", day1.Add(9*time.Hour), 100, 5)
	f.appendAndNotify(t, evt)

	moved := day2.Add(7 * time.Hour)
	payload := withSets(evt.Payload.(events.Workout), events.WorkoutSet{SetNumber: 1, WeightKg: 110, Reps: 3})
	payload.PerformedAt = moved

	report := f.appendAndNotify(t, correctEvent(t, evt, payload, &moved))
	require.Equal(t, 1, report.Projected)
	require.Equal(t, []time.Time{day1, day2}, report.TouchedDates())

	require.Nil(t, f.rollup(t, day1))
	rollup := f.rollup(t, day2)
	require.NotNil(t, rollup)
	require.Equal(t, 1, rollup.TotalSets)
	require.Equal(t, 330.0, rollup.TotalVolumeKg)
}

func TestCorrectionKeepsDateWhenOccurrenceUnchanged(t *testing.T) {
	f := newFixture(t, nil)
	evt := mealEvent("lunch", day1.Add(12*time.Hour), 700)
	f.appendAndNotify(t, evt)

	fixed := evt.Payload.(events.Meal)
	fixed.Calories = 650
	report := f.appendAndNotify(t, correctEvent(t, evt, fixed, nil))
	require.Equal(t, 1, report.Projected)

	rollup := f.rollup(t, day1)
	require.Equal(t, 1, rollup.MealCount)
	require.Equal(t, 650, rollup.Calories)
}

func TestCorrectionKeepsMealNumber(t *testing.T) {
	f := newFixture(t, nil)
	breakfast := mealEvent("breakfast", day1.Add(8*time.Hour), 400)
	lunch := mealEvent("lunch", day1.Add(12*time.Hour), 700)
	f.appendAndNotify(t, breakfast, lunch)

	fixed := breakfast.Payload.(events.Meal)
	fixed.Calories = 450
	f.appendAndNotify(t, correctEvent(t, breakfast, fixed, nil))

	numbers := mealNumbers(t, f, day1)
	require.Equal(t, 1, numbers[breakfast.EventID])
	require.Equal(t, 2, numbers[lunch.EventID])

	dinner := mealEvent("dinner", day1.Add(19*time.Hour), 800)
	f.appendAndNotify(t, dinner)
	require.Equal(t, 3, mealNumbers(t, f, day1)[dinner.EventID])
}

func TestCorrectionMovingMealTakesNextNumberOfNewDate(t *testing.T) {
	f := newFixture(t, nil)
	breakfast := mealEvent("breakfast", day1.Add(8*time.Hour), 400)
	early := mealEvent("early", day2.Add(7*time.Hour), 300)
	f.appendAndNotify(t, breakfast, early)

	moved := day2.Add(9 * time.Hour)
	f.appendAndNotify(t, correctEvent(t, breakfast, breakfast.Payload, &moved))

	require.Empty(t, mealNumbers(t, f, day1))
	numbers := mealNumbers(t, f, day2)
	require.Equal(t, 1, numbers[early.EventID])
	require.Equal(t, 2, numbers[breakfast.EventID])
}

func TestCorrectionWithoutOccurrenceUsesLoggedEvent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	evt := mealEvent("lunch", day2.Add(12*time.Hour), 700)
	// Stored but never projected.
	_, _, err := f.log.Append(ctx, evt)
	require.NoError(t, err)

	fixed := evt.Payload.(events.Meal)
	fixed.Calories = 650
	raw, err := json.Marshal(fixed)
	require.NoError(t, err)

	report, err := f.listener.OnCompensationsStored(ctx, events.CompensationsStored{
		DeviceID: device,
		Corrections: []events.Correction{{
			TargetEventID:    evt.EventID,
			TargetEventType:  events.TypeMeal,
			CorrectedPayload: raw,
		}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.Projected)

	meals, err := f.store.ListMeals(ctx, device, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, meals, 1)
	require.True(t, meals[0].Date.Equal(day2))
	require.Equal(t, 650, meals[0].Calories)
}

func TestCorrectionWithoutAnyOccurrenceIsSkipped(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	raw, err := json.Marshal(events.Meal{Title: "ghost", Calories: 100})
	require.NoError(t, err)

	report, err := f.listener.OnCompensationsStored(ctx, events.CompensationsStored{
		DeviceID: device,
		Corrections: []events.Correction{{
			TargetEventID:    "missing",
			TargetEventType:  events.TypeMeal,
			CorrectedPayload: raw,
		}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.NotApplicable)
	require.Zero(t, report.Projected)

	meals, err := f.store.ListMeals(ctx, device, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Empty(t, meals)
}

func mealNumbers(t *testing.T, f *fixture, date time.Time) map[string]int {
	t.Helper()
	meals, err := f.store.ListMeals(context.Background(), device, date, date)
	require.NoError(t, err)
	out := make(map[string]int, len(meals))
	for _, m := range meals {
		out[m.EventID] = m.MealNumber
	}
	return out
}

func TestDeletionsApplyBeforeCorrections(t *testing.T) {
	f := newFixture(t, nil)
	a := mealEvent("a", day1.Add(8*time.Hour), 100)
	b := mealEvent("b", day1.Add(9*time.Hour), 200)
	f.appendAndNotify(t, a, b)

	fixed := b.Payload.(events.Meal)
	fixed.Calories = 250
	raw, err := json.Marshal(fixed)
	require.NoError(t, err)

	// Corrections are listed first on purpose.
	n := events.CompensationsStored{
		DeviceID: device,
		Corrections: []events.Correction{{
			EventID:          "fix-b",
			TargetEventID:    b.EventID,
			TargetEventType:  events.TypeMeal,
			CorrectedPayload: raw,
		}},
		Deletions: []events.Deletion{{EventID: "del-a", TargetEventID: a.EventID, TargetEventType: events.TypeMeal}},
	}

	report, err := f.listener.OnCompensationsStored(context.Background(), n)
	require.NoError(t, err)
	require.Equal(t, 1, report.Removed)
	require.Equal(t, 1, report.Projected)

	meals, err := f.store.ListMeals(context.Background(), device, day1, day1)
	require.NoError(t, err)
	require.Len(t, meals, 1)
	require.Equal(t, b.EventID, meals[0].EventID)
	require.Equal(t, 250, meals[0].Calories)
	require.Equal(t, b.OccurredAt, meals[0].OccurredAt)
}

func TestUndecodableCorrectionIsSkipped(t *testing.T) {
	f := newFixture(t, nil)
	evt := mealEvent("lunch", day1.Add(12*time.Hour), 700)
	f.appendAndNotify(t, evt)

	report, err := f.listener.OnCompensationsStored(context.Background(), events.CompensationsStored{
		DeviceID: device,
		Corrections: []events.Correction{{
			TargetEventID:    evt.EventID,
			TargetEventType:  events.TypeMeal,
			CorrectedPayload: []byte(`{"calories":"lots"}`),
		}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.NotApplicable)
	require.Equal(t, 700, f.rollup(t, day1).Calories)
}

func TestCompensationRebuildEquivalence(t *testing.T) {
	incremental := newFixture(t, nil)
	w := workoutEvent("w-1", day1.Add(9*time.Hour), 100, 5)
	m1 := mealEvent("breakfast", day1.Add(8*time.Hour), 400)
	m2 := mealEvent("lunch", day1.Add(12*time.Hour), 700)
	incremental.appendAndNotify(t, w, m1, m2)

	fixed := withSets(w.Payload.(events.Workout), events.WorkoutSet{SetNumber: 1, WeightKg: 90, Reps: 8})
	incremental.appendAndNotify(t, deleteEvent(m1), correctEvent(t, w, fixed, nil))

	want := incremental.rollup(t, day1)
	require.NotNil(t, want)

	_, err := incremental.pipeline.ReprojectDate(context.Background(), device, day1)
	require.NoError(t, err)
	got := incremental.rollup(t, day1)
	require.Equal(t, want.WorkoutCount, got.WorkoutCount)
	require.Equal(t, want.TotalVolumeKg, got.TotalVolumeKg)
	require.Equal(t, want.MealCount, got.MealCount)
	require.Equal(t, want.Calories, got.Calories)
	require.Equal(t, 720.0, got.TotalVolumeKg)
	require.Equal(t, 700, got.Calories)
}

// withSets returns a copy of the workout with the first exercise's sets replaced.
func withSets(w events.Workout, sets ...events.WorkoutSet) events.Workout {
	exercises := append([]events.WorkoutExercise(nil), w.Exercises...)
	exercises[0].Sets = sets
	w.Exercises = exercises
	return w
}
