package aggregate

import (
	"errors"
	"fmt"
	"time"

	"example.com/healthassistant/internal/units"
)

// MaxRangeDays bounds the span between the first and last date of a range query.
const MaxRangeDays = 365

// ErrInvalidRange is returned for reversed or oversized ranges.
var ErrInvalidRange = errors.New("invalid date range")

// ValidateRange rejects from after to and spans over MaxRangeDays.
func ValidateRange(from, to time.Time) error {
	if from.After(to) {
		return fmt.Errorf("%w: from %s is after to %s", ErrInvalidRange, from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	if days := int(to.Sub(from).Hours() / 24); days > MaxRangeDays {
		return fmt.Errorf("%w: span of %d days exceeds %d", ErrInvalidRange, days, MaxRangeDays)
	}
	return nil
}

// RangeSummary is a multi-day view computed on demand.
type RangeSummary struct {
	DeviceID        string           `json:"device_id"`
	From            time.Time        `json:"from"`
	To              time.Time        `json:"to"`
	DaysWithData    int              `json:"days_with_data"`
	Activity        RangeActivity    `json:"activity"`
	Sleep           RangeSleep       `json:"sleep"`
	Heart           RangeHeart       `json:"heart"`
	Nutrition       RangeNutrition   `json:"nutrition"`
	Workouts        RangeWorkouts    `json:"workouts"`
	MaxCaloriesDay  *DayExtreme      `json:"max_calories_day,omitempty"`
	MaxMealCountDay *DayExtreme      `json:"max_meal_count_day,omitempty"`
	Days            []DayBreakdown   `json:"days"`
}

// RangeActivity carries activity totals and averages.
type RangeActivity struct {
	TotalSteps          int      `json:"total_steps"`
	DaysWithSteps       int      `json:"days_with_steps"`
	AvgSteps            *float64 `json:"avg_steps,omitempty"`
	TotalActiveMinutes  int      `json:"total_active_minutes"`
	AvgActiveMinutes    *float64 `json:"avg_active_minutes,omitempty"`
	TotalActiveCalories int      `json:"total_active_calories"`
	AvgActiveCalories   *float64 `json:"avg_active_calories,omitempty"`
	TotalDistanceMeters int      `json:"total_distance_meters"`
}

// RangeSleep carries sleep totals and averages.
type RangeSleep struct {
	TotalMinutes  int      `json:"total_minutes"`
	DaysWithSleep int      `json:"days_with_sleep"`
	AvgMinutes    *float64 `json:"avg_minutes,omitempty"`
}

// RangeHeart carries heart rate averages and the highest reading.
type RangeHeart struct {
	DaysWithHeart int      `json:"days_with_heart"`
	AvgRestingBPM *float64 `json:"avg_resting_bpm,omitempty"`
	AvgDailyBPM   *float64 `json:"avg_daily_bpm,omitempty"`
	MaxBPM        *int     `json:"max_bpm,omitempty"`
}

// RangeNutrition carries nutrition totals and averages.
type RangeNutrition struct {
	TotalCalories     int      `json:"total_calories"`
	TotalProteinG     int      `json:"total_protein_grams"`
	TotalFatG         int      `json:"total_fat_grams"`
	TotalCarbsG       int      `json:"total_carbohydrates_grams"`
	TotalMeals        int      `json:"total_meals"`
	DaysWithNutrition int      `json:"days_with_nutrition"`
	AvgCalories       *float64 `json:"avg_calories,omitempty"`
	AvgProteinG       *float64 `json:"avg_protein_grams,omitempty"`
	AvgFatG           *float64 `json:"avg_fat_grams,omitempty"`
	AvgCarbsG         *float64 `json:"avg_carbohydrates_grams,omitempty"`
}

// RangeWorkouts carries training totals.
type RangeWorkouts struct {
	TotalWorkouts   int     `json:"total_workouts"`
	TotalSets       int     `json:"total_sets"`
	TotalVolumeKg   float64 `json:"total_volume_kg"`
	DaysWithWorkout int     `json:"days_with_workout"`
}

// DayExtreme names the day holding an extreme value.
type DayExtreme struct {
	Date  time.Time `json:"date"`
	Value int       `json:"value"`
}

// DayBreakdown is the per-day line of a range summary.
type DayBreakdown struct {
	Date           time.Time `json:"date"`
	Steps          *int      `json:"steps,omitempty"`
	ActiveMinutes  *int      `json:"active_minutes,omitempty"`
	ActiveCalories *int      `json:"active_calories,omitempty"`
	SleepMinutes   int       `json:"sleep_minutes"`
	Calories       *int      `json:"calories,omitempty"`
	MealCount      int       `json:"meal_count"`
	WorkoutCount   int       `json:"workout_count"`
}

// RangeAccumulator folds daily snapshots. The zero value is the empty accumulator;
// Add and Merge expect input in ascending date order.
type RangeAccumulator struct {
	daysWithData int

	steps, daysWithSteps int
	activeMinutes        int
	activeCalories       int
	distance             int

	sleepMinutes, daysWithSleep int

	daysWithHeart int
	restingSum    int
	dailyAvgSum   int
	maxBPM        int

	calories, protein, fat, carbs int
	meals, daysWithNutrition      int

	workouts, sets, daysWithWorkout int
	volume                          units.Volume

	maxCalories *DayExtreme
	maxMeals    *DayExtreme

	days []DayBreakdown
}

// NewRangeAccumulator returns the empty accumulator.
func NewRangeAccumulator() *RangeAccumulator {
	return &RangeAccumulator{}
}

// Add folds one day.
func (r *RangeAccumulator) Add(s DailySnapshot) {
	day := DayBreakdown{
		Date:           s.Date,
		Steps:          s.Activity.Steps,
		ActiveMinutes:  s.Activity.ActiveMinutes,
		ActiveCalories: s.Activity.ActiveCalories,
		SleepMinutes:   s.Sleep.TotalMinutes,
		Calories:       s.Nutrition.Calories,
		MealCount:      s.Nutrition.MealCount,
		WorkoutCount:   len(s.Workouts),
	}
	r.days = append(r.days, day)

	if s.IsEmpty() {
		return
	}
	r.daysWithData++

	if steps := intValue(s.Activity.Steps); steps > 0 {
		r.steps += steps
		r.daysWithSteps++
	}
	r.activeMinutes += intValue(s.Activity.ActiveMinutes)
	r.activeCalories += intValue(s.Activity.ActiveCalories)
	r.distance += intValue(s.Activity.DistanceMeters)

	if len(s.Sleep.Sessions) > 0 {
		r.sleepMinutes += s.Sleep.TotalMinutes
		r.daysWithSleep++
	}

	h := s.Heart
	if h.RestingBPM != nil || h.AvgBPM != nil || h.MaxBPM != nil {
		r.daysWithHeart++
		r.restingSum += intValue(h.RestingBPM)
		r.dailyAvgSum += intValue(h.AvgBPM)
		if m := intValue(h.MaxBPM); m > r.maxBPM {
			r.maxBPM = m
		}
	}

	n := s.Nutrition
	if n.MealCount > 0 {
		r.daysWithNutrition++
		r.meals += n.MealCount
		r.calories += intValue(n.Calories)
		r.protein += intValue(n.ProteinG)
		r.fat += intValue(n.FatG)
		r.carbs += intValue(n.CarbsG)
		r.maxCalories = maxKeepFirst(r.maxCalories, &DayExtreme{Date: s.Date, Value: intValue(n.Calories)})
		r.maxMeals = maxKeepFirst(r.maxMeals, &DayExtreme{Date: s.Date, Value: n.MealCount})
	}

	if len(s.Workouts) > 0 {
		r.daysWithWorkout++
		r.workouts += len(s.Workouts)
		for _, w := range s.Workouts {
			r.sets += w.TotalSets
			r.volume = r.volume.Add(units.Volume(w.TotalVolumeKg))
		}
	}
}

// Merge folds other, which covers later dates, into r.
func (r *RangeAccumulator) Merge(other *RangeAccumulator) {
	if other == nil {
		return
	}
	r.daysWithData += other.daysWithData
	r.steps += other.steps
	r.daysWithSteps += other.daysWithSteps
	r.activeMinutes += other.activeMinutes
	r.activeCalories += other.activeCalories
	r.distance += other.distance
	r.sleepMinutes += other.sleepMinutes
	r.daysWithSleep += other.daysWithSleep
	r.daysWithHeart += other.daysWithHeart
	r.restingSum += other.restingSum
	r.dailyAvgSum += other.dailyAvgSum
	if other.maxBPM > r.maxBPM {
		r.maxBPM = other.maxBPM
	}
	r.calories += other.calories
	r.protein += other.protein
	r.fat += other.fat
	r.carbs += other.carbs
	r.meals += other.meals
	r.daysWithNutrition += other.daysWithNutrition
	r.workouts += other.workouts
	r.sets += other.sets
	r.daysWithWorkout += other.daysWithWorkout
	r.volume = r.volume.Add(other.volume)
	r.maxCalories = maxKeepFirst(r.maxCalories, other.maxCalories)
	r.maxMeals = maxKeepFirst(r.maxMeals, other.maxMeals)
	r.days = append(r.days, other.days...)
}

// Summary renders the accumulated state.
func (r *RangeAccumulator) Summary(deviceID string, from, to time.Time) RangeSummary {
	days := make([]DayBreakdown, len(r.days))
	copy(days, r.days)

	out := RangeSummary{
		DeviceID:     deviceID,
		From:         from,
		To:           to,
		DaysWithData: r.daysWithData,
		Activity: RangeActivity{
			TotalSteps:          r.steps,
			DaysWithSteps:       r.daysWithSteps,
			AvgSteps:            average(r.steps, r.daysWithSteps),
			TotalActiveMinutes:  r.activeMinutes,
			AvgActiveMinutes:    average(r.activeMinutes, r.daysWithData),
			TotalActiveCalories: r.activeCalories,
			AvgActiveCalories:   average(r.activeCalories, r.daysWithData),
			TotalDistanceMeters: r.distance,
		},
		Sleep: RangeSleep{
			TotalMinutes:  r.sleepMinutes,
			DaysWithSleep: r.daysWithSleep,
			AvgMinutes:    average(r.sleepMinutes, r.daysWithSleep),
		},
		Heart: RangeHeart{
			DaysWithHeart: r.daysWithHeart,
			AvgRestingBPM: average(r.restingSum, r.daysWithHeart),
			AvgDailyBPM:   average(r.dailyAvgSum, r.daysWithHeart),
			MaxBPM:        presentInt(r.maxBPM),
		},
		Nutrition: RangeNutrition{
			TotalCalories:     r.calories,
			TotalProteinG:     r.protein,
			TotalFatG:         r.fat,
			TotalCarbsG:       r.carbs,
			TotalMeals:        r.meals,
			DaysWithNutrition: r.daysWithNutrition,
			AvgCalories:       average(r.calories, r.daysWithNutrition),
			AvgProteinG:       average(r.protein, r.daysWithNutrition),
			AvgFatG:           average(r.fat, r.daysWithNutrition),
			AvgCarbsG:         average(r.carbs, r.daysWithNutrition),
		},
		Workouts: RangeWorkouts{
			TotalWorkouts:   r.workouts,
			TotalSets:       r.sets,
			TotalVolumeKg:   r.volume.Kg(),
			DaysWithWorkout: r.daysWithWorkout,
		},
		MaxCaloriesDay:  copyExtreme(r.maxCalories),
		MaxMealCountDay: copyExtreme(r.maxMeals),
		Days:            days,
	}
	return out
}

// maxKeepFirst keeps current unless candidate is strictly greater, so ties stay with the earlier day.
func maxKeepFirst(current, candidate *DayExtreme) *DayExtreme {
	if candidate == nil {
		return current
	}
	if current == nil || candidate.Value > current.Value {
		c := *candidate
		return &c
	}
	return current
}

func copyExtreme(e *DayExtreme) *DayExtreme {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

func average(total, days int) *float64 {
	if days == 0 {
		return nil
	}
	v := units.Round2(float64(total) / float64(days))
	return &v
}
