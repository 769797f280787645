package aggregate

import (
	"math"
	"strings"

	"example.com/healthassistant/internal/events"
	"example.com/healthassistant/internal/units"
)

// WorkoutEntryOf maps a workout payload to its entry with set, rep and volume totals.
// Sets with non-positive reps or negative weight are left out of the entry.
func WorkoutEntryOf(eventID string, p events.Workout) (WorkoutEntry, bool) {
	if strings.TrimSpace(p.WorkoutID) == "" {
		return WorkoutEntry{}, false
	}

	entry := WorkoutEntry{
		EventID:     eventID,
		WorkoutID:   p.WorkoutID,
		PerformedAt: p.PerformedAt,
		Source:      p.Source,
		Note:        p.Note,
		Exercises:   make([]ExerciseEntry, 0, len(p.Exercises)),
	}

	var total units.Volume
	for i, ex := range p.Exercises {
		exercise := ExerciseEntry{
			ExerciseID: ex.ExerciseID,
			Name:       ex.Name,
			OrderIndex: ex.OrderIndex,
			Sets:       make([]SetEntry, 0, len(ex.Sets)),
		}
		if exercise.OrderIndex == 0 {
			exercise.OrderIndex = i + 1
		}

		var volume units.Volume
		for _, set := range ex.Sets {
			weight, err := units.NewWeight(set.WeightKg)
			if err != nil {
				continue
			}
			reps, err := units.NewReps(set.Reps)
			if err != nil {
				continue
			}
			volume = volume.Add(units.VolumeOf(weight, reps))
			exercise.Sets = append(exercise.Sets, SetEntry{SetNumber: set.SetNumber, WeightKg: weight.Kg(), Reps: int(reps)})
			entry.TotalSets++
			entry.TotalReps += int(reps)
		}
		exercise.VolumeKg = volume.Kg()
		total = total.Add(volume)
		entry.Exercises = append(entry.Exercises, exercise)
	}
	entry.TotalVolumeKg = total.Kg()
	return entry, true
}

func mealEntryOf(evt events.EventData, p events.Meal) (MealEntry, bool) {
	if p.Calories < 0 || p.ProteinG < 0 || p.FatG < 0 || p.CarbsG < 0 {
		return MealEntry{}, false
	}
	return MealEntry{
		EventID:      evt.EventID,
		OccurredAt:   evt.OccurredAt,
		Title:        p.Title,
		MealType:     p.MealType,
		Calories:     p.Calories,
		ProteinG:     p.ProteinG,
		FatG:         p.FatG,
		CarbsG:       p.CarbsG,
		HealthRating: p.HealthRating,
	}, true
}

func summarizeNutrition(meals []MealEntry) NutritionSummary {
	var calories, protein, fat, carbs int
	for _, m := range meals {
		calories += m.Calories
		protein += m.ProteinG
		fat += m.FatG
		carbs += m.CarbsG
	}
	return NutritionSummary{
		Calories:  presentInt(calories),
		ProteinG:  presentInt(protein),
		FatG:      presentInt(fat),
		CarbsG:    presentInt(carbs),
		MealCount: len(meals),
	}
}

func walkEntryOf(p events.WalkingSession) (WalkEntry, bool) {
	if strings.TrimSpace(p.SessionID) == "" || p.Start.IsZero() || p.End.Before(p.Start) {
		return WalkEntry{}, false
	}
	entry := WalkEntry{
		SessionID:       p.SessionID,
		Start:           p.Start,
		End:             p.End,
		DurationMinutes: p.DurationMinutes,
		Steps:           p.TotalSteps,
		AvgHeartRate:    p.AvgHeartRate,
		MaxHeartRate:    p.MaxHeartRate,
	}
	if p.TotalDistanceM != nil {
		d := int(math.Round(*p.TotalDistanceM))
		entry.DistanceMeters = &d
	}
	if p.TotalCalories != nil {
		c := int(math.Round(*p.TotalCalories))
		entry.Calories = &c
	}
	return entry, true
}
