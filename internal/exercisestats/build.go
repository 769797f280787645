package exercisestats

import (
	"sort"
	"time"

	"example.com/healthassistant/internal/aggregate"
	"example.com/healthassistant/internal/units"
)

// BestSet is the set with the highest estimated one-rep max.
type BestSet struct {
	WorkoutID          string    `json:"workout_id"`
	PerformedAt        time.Time `json:"performed_at"`
	WeightKg           float64   `json:"weight_kg"`
	Reps               int       `json:"reps"`
	EstimatedOneRepMax float64   `json:"estimated_one_rep_max"`
}

// Session summarises one workout's work on the exercise.
type Session struct {
	WorkoutID          string    `json:"workout_id"`
	PerformedAt        time.Time `json:"performed_at"`
	Sets               int       `json:"sets"`
	Reps               int       `json:"reps"`
	VolumeKg           float64   `json:"volume_kg"`
	MaxWeightKg        float64   `json:"max_weight_kg"`
	EstimatedOneRepMax float64   `json:"estimated_one_rep_max"`
}

// Statistics describes an exercise over a set of workouts.
type Statistics struct {
	ExerciseID         string          `json:"exercise_id"`
	ExerciseName       string          `json:"exercise_name"`
	SessionCount       int             `json:"session_count"`
	TotalSets          int             `json:"total_sets"`
	TotalReps          int             `json:"total_reps"`
	TotalVolumeKg      float64         `json:"total_volume_kg"`
	BestSet            *BestSet        `json:"best_set,omitempty"`
	PersonalRecord     *PersonalRecord `json:"personal_record,omitempty"`
	ProgressionPercent float64         `json:"progression_percent"`
	History            []Session       `json:"history"`
}

// Build computes statistics for exerciseID. It returns nil when no workout contains a valid set of it.
func Build(exerciseID string, workouts []aggregate.WorkoutEntry) *Statistics {
	ordered := append([]aggregate.WorkoutEntry(nil), workouts...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].PerformedAt.Before(ordered[j].PerformedAt) })

	stats := &Statistics{ExerciseID: exerciseID}
	var (
		trend    []Point
		relevant []aggregate.WorkoutEntry
	)
	for _, w := range ordered {
		session, name, ok := sessionOf(exerciseID, w)
		if !ok {
			continue
		}
		if stats.ExerciseName == "" {
			stats.ExerciseName = name
		}
		stats.History = append(stats.History, session)
		stats.SessionCount++
		stats.TotalSets += session.Sets
		stats.TotalReps += session.Reps
		stats.TotalVolumeKg = units.Round2(stats.TotalVolumeKg + session.VolumeKg)
		trend = append(trend, Point{Date: session.PerformedAt, Value: session.EstimatedOneRepMax})
		relevant = append(relevant, w)

		if best := bestSetOf(exerciseID, w); best != nil &&
			(stats.BestSet == nil || best.EstimatedOneRepMax > stats.BestSet.EstimatedOneRepMax) {
			stats.BestSet = best
		}
	}
	if stats.SessionCount == 0 {
		return nil
	}

	for _, pr := range SelectPersonalRecords(relevant) {
		if pr.ExerciseID == exerciseID {
			stats.PersonalRecord = &pr
		}
	}
	stats.ProgressionPercent = ProgressionPercent(trend)
	return stats
}

func sessionOf(exerciseID string, w aggregate.WorkoutEntry) (Session, string, bool) {
	session := Session{WorkoutID: w.WorkoutID, PerformedAt: w.PerformedAt}
	var name string
	for _, ex := range w.Exercises {
		if ex.ExerciseID != exerciseID {
			continue
		}
		name = ex.Name
		for _, set := range ex.Sets {
			if set.WeightKg < 0 || set.Reps <= 0 {
				continue
			}
			session.Sets++
			session.Reps += set.Reps
			session.VolumeKg = units.Round2(session.VolumeKg + set.WeightKg*float64(set.Reps))
			if set.WeightKg > session.MaxWeightKg {
				session.MaxWeightKg = set.WeightKg
			}
			if e := EstimateOneRepMax(set.WeightKg, set.Reps); e > session.EstimatedOneRepMax {
				session.EstimatedOneRepMax = e
			}
		}
	}
	return session, name, session.Sets > 0
}

func bestSetOf(exerciseID string, w aggregate.WorkoutEntry) *BestSet {
	var best *BestSet
	for _, ex := range w.Exercises {
		if ex.ExerciseID != exerciseID {
			continue
		}
		for _, set := range ex.Sets {
			e := EstimateOneRepMax(set.WeightKg, set.Reps)
			if e == 0 || (best != nil && e <= best.EstimatedOneRepMax) {
				continue
			}
			best = &BestSet{
				WorkoutID:          w.WorkoutID,
				PerformedAt:        w.PerformedAt,
				WeightKg:           set.WeightKg,
				Reps:               set.Reps,
				EstimatedOneRepMax: e,
			}
		}
	}
	return best
}
