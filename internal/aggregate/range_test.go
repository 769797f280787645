package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func snapshotFor(offset int, steps, minutes, calories, meals int) DailySnapshot {
	s := DailySnapshot{
		DeviceID: "device-1",
		Date:     day.AddDate(0, 0, offset),
		Activity: ActivitySummary{
			Steps:         presentInt(steps),
			ActiveMinutes: presentInt(minutes),
		},
		Nutrition: NutritionSummary{Calories: presentInt(calories), MealCount: meals},
	}
	for i := 0; i < meals; i++ {
		s.Meals = append(s.Meals, MealEntry{EventID: "m", Calories: calories / meals})
	}
	return s
}

func TestValidateRange(t *testing.T) {
	require.NoError(t, ValidateRange(day, day))
	require.NoError(t, ValidateRange(day, day.AddDate(0, 0, MaxRangeDays)))
	require.ErrorIs(t, ValidateRange(day.AddDate(0, 0, 1), day), ErrInvalidRange)
	require.ErrorIs(t, ValidateRange(day, day.AddDate(0, 0, MaxRangeDays+1)), ErrInvalidRange)
}

func TestRangeAveragesUseMetricSpecificDays(t *testing.T) {
	acc := NewRangeAccumulator()
	acc.Add(snapshotFor(0, 10000, 30, 2000, 3))
	acc.Add(snapshotFor(1, 0, 60, 0, 0))
	acc.Add(DailySnapshot{DeviceID: "device-1", Date: day.AddDate(0, 0, 2)})

	summary := acc.Summary("device-1", day, day.AddDate(0, 0, 2))

	require.Equal(t, 2, summary.DaysWithData)
	require.Equal(t, 1, summary.Activity.DaysWithSteps)
	require.Equal(t, 10000.0, *summary.Activity.AvgSteps)
	require.Equal(t, 45.0, *summary.Activity.AvgActiveMinutes)
	require.Equal(t, 1, summary.Nutrition.DaysWithNutrition)
	require.Equal(t, 2000.0, *summary.Nutrition.AvgCalories)
	require.Nil(t, summary.Sleep.AvgMinutes)
	require.Len(t, summary.Days, 3)
}

func TestRangeExtremesKeepFirstOnTie(t *testing.T) {
	acc := NewRangeAccumulator()
	acc.Add(snapshotFor(0, 0, 0, 1800, 2))
	acc.Add(snapshotFor(1, 0, 0, 2400, 3))
	acc.Add(snapshotFor(2, 0, 0, 2400, 3))

	summary := acc.Summary("device-1", day, day.AddDate(0, 0, 2))

	require.Equal(t, day.AddDate(0, 0, 1), summary.MaxCaloriesDay.Date)
	require.Equal(t, 2400, summary.MaxCaloriesDay.Value)
	require.Equal(t, day.AddDate(0, 0, 1), summary.MaxMealCountDay.Date)
}

func TestRangeFoldIsAssociative(t *testing.T) {
	var snapshots []DailySnapshot
	for i := 0; i < 10; i++ {
		snapshots = append(snapshots, snapshotFor(i, 1000*(i%3), 10*i, 300*(i%4), i%4))
	}
	snapshots[4].Sleep = SleepSummary{Sessions: []SleepEntry{{Start: day, End: day.Add(8 * time.Hour), TotalMinutes: 480}}, TotalMinutes: 480}
	snapshots[7].Heart = HeartSummary{RestingBPM: intPtr(50), AvgBPM: intPtr(70), MaxBPM: intPtr(150)}

	sequential := NewRangeAccumulator()
	for _, s := range snapshots {
		sequential.Add(s)
	}

	left, right := NewRangeAccumulator(), NewRangeAccumulator()
	for _, s := range snapshots[:5] {
		left.Add(s)
	}
	for _, s := range snapshots[5:] {
		right.Add(s)
	}
	left.Merge(right)

	from, to := snapshots[0].Date, snapshots[9].Date
	require.Equal(t, sequential.Summary("device-1", from, to), left.Summary("device-1", from, to))
}

func TestRangeMergeWithEmptyIsIdentity(t *testing.T) {
	acc := NewRangeAccumulator()
	acc.Add(snapshotFor(0, 8000, 20, 1500, 2))
	before := acc.Summary("device-1", day, day)

	acc.Merge(NewRangeAccumulator())

	require.Equal(t, before, acc.Summary("device-1", day, day))
}

func TestRangeHeartAveragesShareTheHeartDayCount(t *testing.T) {
	resting, avg, peak := 55, 72, 150
	acc := NewRangeAccumulator()
	acc.Add(DailySnapshot{DeviceID: "device-1", Date: day, Heart: HeartSummary{RestingBPM: &resting, AvgBPM: &avg}})
	acc.Add(DailySnapshot{DeviceID: "device-1", Date: day.AddDate(0, 0, 1), Heart: HeartSummary{MaxBPM: &peak}})

	summary := acc.Summary("device-1", day, day.AddDate(0, 0, 1))

	require.Equal(t, 2, summary.Heart.DaysWithHeart)
	// A day with only a peak reading still counts as a heart day for every average.
	require.Equal(t, 27.5, *summary.Heart.AvgRestingBPM)
	require.Equal(t, 36.0, *summary.Heart.AvgDailyBPM)
	require.Equal(t, 150, *summary.Heart.MaxBPM)
}
