package projection_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthassistant/internal/events"
	"example.com/healthassistant/internal/projection"
)

func TestFactoryWorkoutTotals(t *testing.T) {
	factory := projection.NewFactory(time.UTC)
	evt := workoutEvent("w-1", day1.Add(9*time.Hour), 100, 5)

	proj, ok := factory.Workout(evt)
	require.True(t, ok)
	require.Equal(t, "w-1", proj.WorkoutID)
	require.Equal(t, evt.EventID, proj.EventID)
	require.True(t, proj.Date.Equal(day1))
	require.Equal(t, 2, proj.TotalSets)
	require.Equal(t, 10, proj.TotalReps)
	require.InDelta(t, 1000, proj.TotalVolumeKg, 0.001)
	require.Len(t, proj.Exercises, 1)
	require.Equal(t, 1, proj.Exercises[0].OrderIndex)
}

func TestFactoryAssignsLocalDate(t *testing.T) {
	factory := projection.NewFactory(time.FixedZone("UTC+2", 2*60*60))
	evt := mealEvent("Late dinner", day1.Add(23*time.Hour), 600)

	proj, ok := factory.Meal(evt)
	require.True(t, ok)
	require.True(t, proj.Date.Equal(day2), "got %s", proj.Date)
	require.Equal(t, 600, proj.Calories)
}

func TestFactorySkipsUnusableEvents(t *testing.T) {
	factory := projection.NewFactory(nil)

	_, ok := factory.Workout(mealEvent("Lunch", day1, 400))
	require.False(t, ok, "wrong payload variant")

	noWorkoutID := workoutEvent("", day1, 100, 5)
	_, ok = factory.Workout(noWorkoutID)
	require.False(t, ok)

	noDevice := mealEvent("Lunch", day1, 400)
	noDevice.DeviceID = " "
	_, ok = factory.Meal(noDevice)
	require.False(t, ok)

	negative := mealEvent("Lunch", day1, 400)
	negative.Payload = events.Meal{Title: "Lunch", Calories: -1}
	_, ok = factory.Meal(negative)
	require.False(t, ok)
}
