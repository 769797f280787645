// Package aggregate reduces raw health events into daily snapshots and range summaries.
package aggregate

import "time"

// DailySnapshot is the full picture of one device's day.
type DailySnapshot struct {
	DeviceID  string           `json:"device_id"`
	Date      time.Time        `json:"date"`
	Activity  ActivitySummary  `json:"activity"`
	Sleep     SleepSummary     `json:"sleep"`
	Heart     HeartSummary     `json:"heart"`
	Nutrition NutritionSummary `json:"nutrition"`
	Workouts  []WorkoutEntry   `json:"workouts"`
	Meals     []MealEntry      `json:"meals"`
	Walks     []WalkEntry      `json:"walks"`
}

// ActivitySummary holds activity totals. Nil means no data for the day.
type ActivitySummary struct {
	Steps          *int `json:"steps,omitempty"`
	ActiveMinutes  *int `json:"active_minutes,omitempty"`
	ActiveCalories *int `json:"active_calories,omitempty"`
	DistanceMeters *int `json:"distance_meters,omitempty"`
}

// SleepSummary lists the sessions that survived deduplication.
type SleepSummary struct {
	Sessions     []SleepEntry `json:"sessions"`
	TotalMinutes int          `json:"total_minutes"`
}

// SleepEntry is one sleep interval.
type SleepEntry struct {
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	TotalMinutes int       `json:"total_minutes"`
}

// HeartSummary holds heart rate figures. Nil means no data for the day.
type HeartSummary struct {
	RestingBPM *int `json:"resting_bpm,omitempty"`
	AvgBPM     *int `json:"avg_bpm,omitempty"`
	MaxBPM     *int `json:"max_bpm,omitempty"`
}

// NutritionSummary totals the meals of the day. Nil means no data for the day.
type NutritionSummary struct {
	Calories  *int `json:"calories,omitempty"`
	ProteinG  *int `json:"protein_grams,omitempty"`
	FatG      *int `json:"fat_grams,omitempty"`
	CarbsG    *int `json:"carbohydrates_grams,omitempty"`
	MealCount int  `json:"meal_count"`
}

// WorkoutEntry is a workout with its precomputed totals.
type WorkoutEntry struct {
	EventID       string          `json:"event_id"`
	WorkoutID     string          `json:"workout_id"`
	PerformedAt   time.Time       `json:"performed_at"`
	Source        string          `json:"source,omitempty"`
	Note          string          `json:"note,omitempty"`
	Exercises     []ExerciseEntry `json:"exercises"`
	TotalSets     int             `json:"total_sets"`
	TotalReps     int             `json:"total_reps"`
	TotalVolumeKg float64         `json:"total_volume_kg"`
}

// ExerciseEntry is one exercise inside a workout.
type ExerciseEntry struct {
	ExerciseID string     `json:"exercise_id"`
	Name       string     `json:"name"`
	OrderIndex int        `json:"order_index"`
	Sets       []SetEntry `json:"sets"`
	VolumeKg   float64    `json:"volume_kg"`
}

// SetEntry is one set inside an exercise.
type SetEntry struct {
	SetNumber int     `json:"set_number"`
	WeightKg  float64 `json:"weight_kg"`
	Reps      int     `json:"reps"`
}

// MealEntry is one meal of the day. MealNumber is zero until a projection assigns one.
type MealEntry struct {
	EventID      string    `json:"event_id"`
	MealNumber   int       `json:"meal_number,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
	Title        string    `json:"title"`
	MealType     string    `json:"meal_type"`
	Calories     int       `json:"calories"`
	ProteinG     int       `json:"protein_grams"`
	FatG         int       `json:"fat_grams"`
	CarbsG       int       `json:"carbohydrates_grams"`
	HealthRating string    `json:"health_rating,omitempty"`
}

// WalkEntry is one walking session.
type WalkEntry struct {
	SessionID       string    `json:"session_id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
	Steps           *int      `json:"steps,omitempty"`
	DistanceMeters  *int      `json:"distance_meters,omitempty"`
	Calories        *int      `json:"calories,omitempty"`
	AvgHeartRate    *int      `json:"avg_heart_rate,omitempty"`
	MaxHeartRate    *int      `json:"max_heart_rate,omitempty"`
}

// IsEmpty reports whether the snapshot carries no data at all.
func (s DailySnapshot) IsEmpty() bool {
	a, h, n := s.Activity, s.Heart, s.Nutrition
	return a.Steps == nil && a.ActiveMinutes == nil && a.ActiveCalories == nil && a.DistanceMeters == nil &&
		h.RestingBPM == nil && h.AvgBPM == nil && h.MaxBPM == nil &&
		n.MealCount == 0 &&
		len(s.Sleep.Sessions) == 0 && len(s.Workouts) == 0 && len(s.Meals) == 0 && len(s.Walks) == 0
}

// HasActivity reports whether any activity total is present.
func (s DailySnapshot) HasActivity() bool {
	a := s.Activity
	return a.Steps != nil || a.ActiveMinutes != nil || a.ActiveCalories != nil || a.DistanceMeters != nil
}

func presentInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func intValue(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
