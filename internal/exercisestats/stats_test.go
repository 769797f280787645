package exercisestats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthassistant/internal/aggregate"
)

func TestEstimateOneRepMaxBoundaries(t *testing.T) {
	require.Equal(t, 100.0, EstimateOneRepMax(100, 1))
	require.Equal(t, 250.0, EstimateOneRepMax(100, 37))
	require.Equal(t, 250.0, EstimateOneRepMax(100, 50))
	require.Equal(t, 133.33, EstimateOneRepMax(100, 10))

	require.Zero(t, EstimateOneRepMax(0, 5))
	require.Zero(t, EstimateOneRepMax(-10, 5))
	require.Zero(t, EstimateOneRepMax(100, 0))
}

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestProgressionPercent(t *testing.T) {
	require.Zero(t, ProgressionPercent(nil))
	require.Zero(t, ProgressionPercent([]Point{{Date: day(0), Value: 100}}))

	// Perfectly linear: 100 -> 120 over ten days.
	got := ProgressionPercent([]Point{
		{Date: day(10), Value: 120},
		{Date: day(0), Value: 100},
		{Date: day(5), Value: 110},
	})
	require.Equal(t, 20.0, got)

	require.Zero(t, ProgressionPercent([]Point{{Date: day(0), Value: 0}, {Date: day(1), Value: 0}}))
	require.Zero(t, ProgressionPercent([]Point{{Date: day(0), Value: 100}, {Date: day(0), Value: 120}}))
}

func TestProgressionPercentUsesRegressionNotEndpoints(t *testing.T) {
	got := ProgressionPercent([]Point{
		{Date: day(0), Value: 100},
		{Date: day(1), Value: 130},
		{Date: day(2), Value: 100},
	})
	require.Zero(t, got)
}

func workout(id string, at time.Time, sets ...aggregate.SetEntry) aggregate.WorkoutEntry {
	return aggregate.WorkoutEntry{
		WorkoutID:   id,
		PerformedAt: at,
		Exercises: []aggregate.ExerciseEntry{
			{ExerciseID: "bench", Name: "Bench press", OrderIndex: 1, Sets: sets},
		},
	}
}

func TestSelectPersonalRecordsTieGoesToMostRecent(t *testing.T) {
	records := SelectPersonalRecords([]aggregate.WorkoutEntry{
		workout("w2", day(5), aggregate.SetEntry{SetNumber: 1, WeightKg: 100, Reps: 3}),
		workout("w1", day(1), aggregate.SetEntry{SetNumber: 1, WeightKg: 100, Reps: 5}),
		workout("w0", day(0), aggregate.SetEntry{SetNumber: 1, WeightKg: 90, Reps: 10}),
	})
	require.Len(t, records, 1)
	require.Equal(t, "w2", records[0].WorkoutID)
	require.Equal(t, 100.0, records[0].WeightKg)
	require.Equal(t, 3, records[0].Reps)
}

func TestBuild(t *testing.T) {
	stats := Build("bench", []aggregate.WorkoutEntry{
		workout("w2", day(10),
			aggregate.SetEntry{SetNumber: 1, WeightKg: 90, Reps: 5},
			aggregate.SetEntry{SetNumber: 2, WeightKg: 95, Reps: 3},
		),
		workout("w1", day(0),
			aggregate.SetEntry{SetNumber: 1, WeightKg: 80, Reps: 10},
			aggregate.SetEntry{SetNumber: 2, WeightKg: 80, Reps: -1},
		),
	})
	require.NotNil(t, stats)
	require.Equal(t, "Bench press", stats.ExerciseName)
	require.Equal(t, 2, stats.SessionCount)
	require.Equal(t, 3, stats.TotalSets)
	require.Equal(t, 18, stats.TotalReps)
	require.Equal(t, 800.0+450+285, stats.TotalVolumeKg)

	require.Len(t, stats.History, 2)
	require.Equal(t, "w1", stats.History[0].WorkoutID)
	require.Equal(t, 106.67, stats.History[0].EstimatedOneRepMax)

	require.NotNil(t, stats.BestSet)
	require.Equal(t, "w1", stats.BestSet.WorkoutID)

	require.NotNil(t, stats.PersonalRecord)
	require.Equal(t, 95.0, stats.PersonalRecord.WeightKg)
	require.NotZero(t, stats.ProgressionPercent)
}

func TestBuildReturnsNilWithoutSets(t *testing.T) {
	require.Nil(t, Build("squat", []aggregate.WorkoutEntry{workout("w1", day(0), aggregate.SetEntry{WeightKg: 100, Reps: 5})}))
}
