package projection

import (
	"context"
	"fmt"
	"time"

	"example.com/healthassistant/internal/observability"
	"example.com/healthassistant/internal/units"
)

// Reduce is the single reduction from active projections to a daily rollup.
func Reduce(deviceID string, date time.Time, workouts []WorkoutProjection, meals []MealProjection) DailyRollup {
	rollup := DailyRollup{DeviceID: deviceID, Date: date}

	var volume units.Volume
	for _, w := range workouts {
		rollup.WorkoutCount++
		rollup.ExerciseCount += len(w.Exercises)
		rollup.TotalSets += w.TotalSets
		rollup.TotalReps += w.TotalReps
		volume = volume.Add(units.Volume(w.TotalVolumeKg))
	}
	rollup.TotalVolumeKg = volume.Kg()

	for _, m := range meals {
		rollup.MealCount++
		rollup.Calories += m.Calories
		rollup.ProteinG += m.ProteinG
		rollup.FatG += m.FatG
		rollup.CarbsG += m.CarbsG
	}
	return rollup
}

// RollupUpdater rebuilds the rollup row of a date from the full projection set.
type RollupUpdater struct {
	now func() time.Time
}

// NewRollupUpdater constructs a RollupUpdater using now for UpdatedAt.
func NewRollupUpdater(now func() time.Time) *RollupUpdater {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &RollupUpdater{now: now}
}

// Recompute rescans the date inside tx and upserts the rollup, or deletes it when nothing remains.
func (u *RollupUpdater) Recompute(ctx context.Context, tx Tx, deviceID string, date time.Time) error {
	workouts, err := tx.WorkoutsForDate(ctx, deviceID, date)
	if err != nil {
		return fmt.Errorf("load workouts for rollup: %w", err)
	}
	meals, err := tx.MealsForDate(ctx, deviceID, date)
	if err != nil {
		return fmt.Errorf("load meals for rollup: %w", err)
	}

	if len(workouts) == 0 && len(meals) == 0 {
		if err := tx.DeleteRollup(ctx, deviceID, date); err != nil {
			return fmt.Errorf("delete rollup: %w", err)
		}
		observability.RecordRollupRecompute("deleted")
		return nil
	}

	rollup := Reduce(deviceID, date, workouts, meals)
	rollup.UpdatedAt = u.now()
	if err := tx.UpsertRollup(ctx, rollup); err != nil {
		return fmt.Errorf("upsert rollup: %w", err)
	}
	observability.RecordRollupRecompute("upserted")
	return nil
}
