// Package projection maintains the workout, meal and daily rollup read models.
package projection

import (
	"time"

	"example.com/healthassistant/internal/aggregate"
)

// WorkoutProjection is keyed by (DeviceID, WorkoutID).
type WorkoutProjection struct {
	DeviceID      string
	WorkoutID     string
	EventID       string
	Date          time.Time
	PerformedAt   time.Time
	Source        string
	Note          string
	Exercises     []aggregate.ExerciseEntry
	TotalSets     int
	TotalReps     int
	TotalVolumeKg float64
	CreatedAt     time.Time
}

// MealProjection is keyed by (DeviceID, EventID).
type MealProjection struct {
	DeviceID     string
	EventID      string
	Date         time.Time
	MealNumber   int
	OccurredAt   time.Time
	Title        string
	MealType     string
	Calories     int
	ProteinG     int
	FatG         int
	CarbsG       int
	HealthRating string
	CreatedAt    time.Time
}

// DailyRollup is the reduction of all active projections of one device and date.
type DailyRollup struct {
	DeviceID      string    `json:"device_id"`
	Date          time.Time `json:"date"`
	WorkoutCount  int       `json:"workout_count"`
	ExerciseCount int       `json:"exercise_count"`
	TotalSets     int       `json:"total_sets"`
	TotalReps     int       `json:"total_reps"`
	TotalVolumeKg float64   `json:"total_volume_kg"`
	MealCount     int       `json:"meal_count"`
	Calories      int       `json:"calories"`
	ProteinG      int       `json:"protein_grams"`
	FatG          int       `json:"fat_grams"`
	CarbsG        int       `json:"carbohydrates_grams"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// WorkoutEntry renders the projection in the aggregate list form.
func (w WorkoutProjection) WorkoutEntry() aggregate.WorkoutEntry {
	return aggregate.WorkoutEntry{
		EventID:       w.EventID,
		WorkoutID:     w.WorkoutID,
		PerformedAt:   w.PerformedAt,
		Source:        w.Source,
		Note:          w.Note,
		Exercises:     w.Exercises,
		TotalSets:     w.TotalSets,
		TotalReps:     w.TotalReps,
		TotalVolumeKg: w.TotalVolumeKg,
	}
}
