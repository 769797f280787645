// Package events defines the health event contract consumed from the event log.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type identifies the payload variant carried by an event.
type Type string

const (
	TypeSteps          Type = "steps.recorded"
	TypeActiveMinutes  Type = "active_minutes.recorded"
	TypeActiveCalories Type = "active_calories.recorded"
	TypeDistance       Type = "distance.recorded"
	TypeSleepSession   Type = "sleep_session.recorded"
	TypeHeartRate      Type = "heart_rate.recorded"
	TypeWalkingSession Type = "walking_session.recorded"
	TypeWorkout        Type = "workout.recorded"
	TypeMeal           Type = "meal.recorded"
	TypeEventDeleted   Type = "event.deleted"
	TypeEventCorrected Type = "event.corrected"
)

// ErrUnknownEventType is returned when a payload cannot be mapped to a known variant.
var ErrUnknownEventType = errors.New("unknown event type")

// Payload is implemented by every event variant. The set is closed to this package.
type Payload interface {
	EventType() Type
	isPayload()
}

// Steps reports a step count for a time bucket.
type Steps struct {
	BucketStart time.Time `json:"bucket_start"`
	BucketEnd   time.Time `json:"bucket_end"`
	Count       int       `json:"count"`
}

// ActiveMinutes reports minutes of activity for a time bucket.
type ActiveMinutes struct {
	BucketStart time.Time `json:"bucket_start"`
	BucketEnd   time.Time `json:"bucket_end"`
	Minutes     int       `json:"minutes"`
}

// ActiveCalories reports energy burned through activity.
type ActiveCalories struct {
	BucketStart time.Time `json:"bucket_start"`
	BucketEnd   time.Time `json:"bucket_end"`
	EnergyKcal  float64   `json:"energy_kcal"`
}

// Distance reports distance covered in meters.
type Distance struct {
	BucketStart    time.Time `json:"bucket_start"`
	BucketEnd      time.Time `json:"bucket_end"`
	DistanceMeters float64   `json:"distance_meters"`
}

// SleepSession reports a single sleep interval.
type SleepSession struct {
	SleepStart   time.Time `json:"sleep_start"`
	SleepEnd     time.Time `json:"sleep_end"`
	TotalMinutes int       `json:"total_minutes"`
	Source       string    `json:"source,omitempty"`
}

// HeartRate reports heart rate statistics for a measurement window.
type HeartRate struct {
	AvgBPM      float64 `json:"avg_bpm"`
	MinBPM      int     `json:"min_bpm,omitempty"`
	MaxBPM      int     `json:"max_bpm,omitempty"`
	RestingBPM  *int    `json:"resting_bpm,omitempty"`
	SampleCount int     `json:"sample_count,omitempty"`
}

// WalkingSession reports a tracked walk.
type WalkingSession struct {
	SessionID       string    `json:"session_id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
	TotalSteps      *int      `json:"total_steps,omitempty"`
	TotalDistanceM  *float64  `json:"total_distance_meters,omitempty"`
	TotalCalories   *float64  `json:"total_calories,omitempty"`
	AvgHeartRate    *int      `json:"avg_heart_rate,omitempty"`
	MaxHeartRate    *int      `json:"max_heart_rate,omitempty"`
	OriginPackage   string    `json:"origin_package,omitempty"`
}

// WorkoutSet is one set of an exercise.
type WorkoutSet struct {
	SetNumber int     `json:"set_number"`
	WeightKg  float64 `json:"weight_kg"`
	Reps      int     `json:"reps"`
}

// WorkoutExercise groups the sets performed for one exercise.
type WorkoutExercise struct {
	ExerciseID string       `json:"exercise_id"`
	Name       string       `json:"name"`
	OrderIndex int          `json:"order_index"`
	Sets       []WorkoutSet `json:"sets"`
}

// Workout reports a strength training session.
type Workout struct {
	WorkoutID    string            `json:"workout_id"`
	PerformedAt  time.Time         `json:"performed_at"`
	Source       string            `json:"source,omitempty"`
	Note         string            `json:"note,omitempty"`
	MaxHeartRate *int              `json:"max_heart_rate,omitempty"`
	Calories     *float64          `json:"calories,omitempty"`
	Exercises    []WorkoutExercise `json:"exercises"`
}

// Meal reports a single meal.
type Meal struct {
	Title        string `json:"title"`
	MealType     string `json:"meal_type"`
	Calories     int    `json:"calories"`
	ProteinG     int    `json:"protein_grams"`
	FatG         int    `json:"fat_grams"`
	CarbsG       int    `json:"carbohydrates_grams"`
	HealthRating string `json:"health_rating,omitempty"`
}

// EventDeleted marks an earlier event as deleted.
type EventDeleted struct {
	TargetEventID   string `json:"target_event_id"`
	TargetEventType Type   `json:"target_event_type"`
	Reason          string `json:"reason,omitempty"`
}

// EventCorrected supersedes an earlier event with a new payload.
type EventCorrected struct {
	TargetEventID       string          `json:"target_event_id"`
	TargetEventType     Type            `json:"target_event_type"`
	CorrectedPayload    json.RawMessage `json:"corrected_payload"`
	CorrectedOccurredAt *time.Time      `json:"corrected_occurred_at,omitempty"`
	Reason              string          `json:"reason,omitempty"`
}

func (Steps) EventType() Type          { return TypeSteps }
func (ActiveMinutes) EventType() Type  { return TypeActiveMinutes }
func (ActiveCalories) EventType() Type { return TypeActiveCalories }
func (Distance) EventType() Type       { return TypeDistance }
func (SleepSession) EventType() Type   { return TypeSleepSession }
func (HeartRate) EventType() Type      { return TypeHeartRate }
func (WalkingSession) EventType() Type { return TypeWalkingSession }
func (Workout) EventType() Type        { return TypeWorkout }
func (Meal) EventType() Type           { return TypeMeal }
func (EventDeleted) EventType() Type   { return TypeEventDeleted }
func (EventCorrected) EventType() Type { return TypeEventCorrected }

func (Steps) isPayload()          {}
func (ActiveMinutes) isPayload()  {}
func (ActiveCalories) isPayload() {}
func (Distance) isPayload()       {}
func (SleepSession) isPayload()   {}
func (HeartRate) isPayload()      {}
func (WalkingSession) isPayload() {}
func (Workout) isPayload()        {}
func (Meal) isPayload()           {}
func (EventDeleted) isPayload()   {}
func (EventCorrected) isPayload() {}

// DecodePayload maps a stored JSON payload onto its typed variant.
func DecodePayload(eventType Type, raw json.RawMessage) (Payload, error) {
	switch eventType {
	case TypeSteps:
		return decodeAs[Steps](eventType, raw)
	case TypeActiveMinutes:
		return decodeAs[ActiveMinutes](eventType, raw)
	case TypeActiveCalories:
		return decodeAs[ActiveCalories](eventType, raw)
	case TypeDistance:
		return decodeAs[Distance](eventType, raw)
	case TypeSleepSession:
		return decodeAs[SleepSession](eventType, raw)
	case TypeHeartRate:
		return decodeAs[HeartRate](eventType, raw)
	case TypeWalkingSession:
		return decodeAs[WalkingSession](eventType, raw)
	case TypeWorkout:
		return decodeAs[Workout](eventType, raw)
	case TypeMeal:
		return decodeAs[Meal](eventType, raw)
	case TypeEventDeleted:
		return decodeAs[EventDeleted](eventType, raw)
	case TypeEventCorrected:
		return decodeAs[EventCorrected](eventType, raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
}

func decodeAs[T Payload](eventType Type, raw json.RawMessage) (Payload, error) {
	var payload T
	if len(raw) == 0 {
		return nil, fmt.Errorf("decode %s: empty payload", eventType)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return payload, nil
}

// IsCompensation reports whether the type supersedes another event.
func (t Type) IsCompensation() bool {
	return t == TypeEventDeleted || t == TypeEventCorrected
}
