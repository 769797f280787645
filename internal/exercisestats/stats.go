// Package exercisestats estimates strength, progression and personal records from workout history.
package exercisestats

import (
	"sort"
	"time"

	"example.com/healthassistant/internal/aggregate"
	"example.com/healthassistant/internal/units"
)

// brzyckiCapReps is where the Brzycki denominator degenerates.
const brzyckiCapReps = 37

// EstimateOneRepMax applies the Brzycki formula. It returns 0 for non-positive input.
func EstimateOneRepMax(weightKg float64, reps int) float64 {
	if weightKg <= 0 || reps <= 0 {
		return 0
	}
	switch {
	case reps == 1:
		return units.Round2(weightKg)
	case reps >= brzyckiCapReps:
		return units.Round2(weightKg * 2.5)
	default:
		return units.Round2(weightKg * 36 / float64(brzyckiCapReps-reps))
	}
}

// Point is one dated observation.
type Point struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// ProgressionPercent fits an ordinary least squares line through (days since first point, value)
// and returns the relative change of the fitted value between the first and last point.
func ProgressionPercent(points []Point) float64 {
	if len(points) < 2 {
		return 0
	}
	sorted := append([]Point(nil), points...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	origin := sorted[0].Date
	xs := make([]float64, len(sorted))
	var sumX, sumY float64
	for i, p := range sorted {
		xs[i] = p.Date.Sub(origin).Hours() / 24
		sumX += xs[i]
		sumY += p.Value
	}
	n := float64(len(sorted))
	meanX, meanY := sumX/n, sumY/n

	var num, den float64
	for i, p := range sorted {
		dx := xs[i] - meanX
		num += dx * (p.Value - meanY)
		den += dx * dx
	}
	var slope float64
	if den != 0 {
		slope = num / den
	}
	intercept := meanY - slope*meanX

	first := intercept + slope*xs[0]
	last := intercept + slope*xs[len(xs)-1]
	if first == 0 {
		return 0
	}
	return units.Round2((last - first) / first * 100)
}

// PersonalRecord is the heaviest set logged for an exercise.
type PersonalRecord struct {
	ExerciseID         string    `json:"exercise_id"`
	ExerciseName       string    `json:"exercise_name"`
	WorkoutID          string    `json:"workout_id"`
	PerformedAt        time.Time `json:"performed_at"`
	WeightKg           float64   `json:"weight_kg"`
	Reps               int       `json:"reps"`
	EstimatedOneRepMax float64   `json:"estimated_one_rep_max"`
}

func (r PersonalRecord) beatenBy(weight float64, at time.Time) bool {
	if weight != r.WeightKg {
		return weight > r.WeightKg
	}
	return at.After(r.PerformedAt)
}

// SelectPersonalRecords returns one record per exercise, ordered by exercise ID. The heaviest
// set wins and ties go to the most recent workout.
func SelectPersonalRecords(workouts []aggregate.WorkoutEntry) []PersonalRecord {
	best := make(map[string]PersonalRecord)
	for _, w := range workouts {
		for _, ex := range w.Exercises {
			for _, set := range ex.Sets {
				if set.WeightKg <= 0 || set.Reps <= 0 {
					continue
				}
				cur, seen := best[ex.ExerciseID]
				if seen && !cur.beatenBy(set.WeightKg, w.PerformedAt) {
					continue
				}
				best[ex.ExerciseID] = PersonalRecord{
					ExerciseID:         ex.ExerciseID,
					ExerciseName:       ex.Name,
					WorkoutID:          w.WorkoutID,
					PerformedAt:        w.PerformedAt,
					WeightKg:           set.WeightKg,
					Reps:               set.Reps,
					EstimatedOneRepMax: EstimateOneRepMax(set.WeightKg, set.Reps),
				}
			}
		}
	}

	out := make([]PersonalRecord, 0, len(best))
	for _, pr := range best {
		out = append(out, pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExerciseID < out[j].ExerciseID })
	return out
}
