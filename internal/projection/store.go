package projection

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrConflict marks lock, deadlock and serialization failures. Callers may retry.
	ErrConflict = errors.New("projection write conflict")
	// ErrDuplicate marks a unique key violation on insert.
	ErrDuplicate = errors.New("projection already exists")
)

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// Reader exposes read access to projections outside a unit of work.
// Zero from/to bounds are open.
type Reader interface {
	GetRollup(ctx context.Context, deviceID string, date time.Time) (*DailyRollup, error)
	ListRollups(ctx context.Context, deviceID string, from, to time.Time) ([]DailyRollup, error)
	ListWorkouts(ctx context.Context, deviceID string, from, to time.Time) ([]WorkoutProjection, error)
	ListMeals(ctx context.Context, deviceID string, from, to time.Time) ([]MealProjection, error)
}

// Tx is a unit of work. Every write of a projection and its rollup runs in one Tx.
type Tx interface {
	FindWorkout(ctx context.Context, deviceID, workoutID string) (*WorkoutProjection, error)
	FindWorkoutByEvent(ctx context.Context, deviceID, eventID string) (*WorkoutProjection, error)
	InsertWorkout(ctx context.Context, p WorkoutProjection) error
	DeleteWorkout(ctx context.Context, deviceID, workoutID string) error
	DeleteWorkoutsForDate(ctx context.Context, deviceID string, date time.Time) error
	// DeleteAllWorkouts removes every workout of the device and returns the dates they covered.
	DeleteAllWorkouts(ctx context.Context, deviceID string) ([]time.Time, error)
	WorkoutsForDate(ctx context.Context, deviceID string, date time.Time) ([]WorkoutProjection, error)

	FindMeal(ctx context.Context, deviceID, eventID string) (*MealProjection, error)
	InsertMeal(ctx context.Context, p MealProjection) error
	DeleteMeal(ctx context.Context, deviceID, eventID string) error
	DeleteMealsForDate(ctx context.Context, deviceID string, date time.Time) error
	MealsForDate(ctx context.Context, deviceID string, date time.Time) ([]MealProjection, error)
	// NextMealNumber atomically increments and returns the meal counter for the date.
	NextMealNumber(ctx context.Context, deviceID string, date time.Time) (int, error)
	ResetMealNumbers(ctx context.Context, deviceID string, date time.Time) error

	UpsertRollup(ctx context.Context, r DailyRollup) error
	DeleteRollup(ctx context.Context, deviceID string, date time.Time) error
}

// Store owns projection persistence.
type Store interface {
	Reader
	// WithinTx commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
