// Package memory provides in-memory implementations of the persistence contracts for
// local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/healthassistant/internal/projection"
)

type deviceKey struct {
	device string
	id     string
}

type dateKey struct {
	device string
	date   time.Time
}

type projectionState struct {
	workouts map[deviceKey]projection.WorkoutProjection
	meals    map[deviceKey]projection.MealProjection
	rollups  map[dateKey]projection.DailyRollup
	counters map[dateKey]int
}

func newProjectionState() projectionState {
	return projectionState{
		workouts: make(map[deviceKey]projection.WorkoutProjection),
		meals:    make(map[deviceKey]projection.MealProjection),
		rollups:  make(map[dateKey]projection.DailyRollup),
		counters: make(map[dateKey]int),
	}
}

func (s projectionState) clone() projectionState {
	out := newProjectionState()
	for k, v := range s.workouts {
		out.workouts[k] = v
	}
	for k, v := range s.meals {
		out.meals[k] = v
	}
	for k, v := range s.rollups {
		out.rollups[k] = v
	}
	for k, v := range s.counters {
		out.counters[k] = v
	}
	return out
}

// ProjectionStore is a projection.Store guarded by a single mutex. Units of work are
// serialised and roll back by discarding a copy of the state.
type ProjectionStore struct {
	mu    sync.RWMutex
	state projectionState
}

// NewProjectionStore constructs an empty store.
func NewProjectionStore() *ProjectionStore {
	return &ProjectionStore{state: newProjectionState()}
}

// WithinTx runs fn against a working copy and publishes it when fn succeeds.
func (s *ProjectionStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx projection.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &projectionTx{state: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// GetRollup returns nil when no rollup exists.
func (s *ProjectionStore) GetRollup(_ context.Context, deviceID string, date time.Time) (*projection.DailyRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.state.rollups[dateKey{deviceID, date}]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// ListRollups returns rollups ordered by date.
func (s *ProjectionStore) ListRollups(_ context.Context, deviceID string, from, to time.Time) ([]projection.DailyRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []projection.DailyRollup
	for k, r := range s.state.rollups {
		if k.device == deviceID && within(k.date, from, to) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// ListWorkouts returns workouts ordered by performance time.
func (s *ProjectionStore) ListWorkouts(_ context.Context, deviceID string, from, to time.Time) ([]projection.WorkoutProjection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []projection.WorkoutProjection
	for k, w := range s.state.workouts {
		if k.device == deviceID && within(w.Date, from, to) {
			out = append(out, w)
		}
	}
	sortWorkouts(out)
	return out, nil
}

// ListMeals returns meals ordered by date and meal number.
func (s *ProjectionStore) ListMeals(_ context.Context, deviceID string, from, to time.Time) ([]projection.MealProjection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []projection.MealProjection
	for k, m := range s.state.meals {
		if k.device == deviceID && within(m.Date, from, to) {
			out = append(out, m)
		}
	}
	sortMeals(out)
	return out, nil
}

type projectionTx struct {
	state projectionState
}

func (t *projectionTx) FindWorkout(_ context.Context, deviceID, workoutID string) (*projection.WorkoutProjection, error) {
	w, ok := t.state.workouts[deviceKey{deviceID, workoutID}]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (t *projectionTx) FindWorkoutByEvent(_ context.Context, deviceID, eventID string) (*projection.WorkoutProjection, error) {
	for k, w := range t.state.workouts {
		if k.device == deviceID && w.EventID == eventID {
			return &w, nil
		}
	}
	return nil, nil
}

func (t *projectionTx) InsertWorkout(_ context.Context, p projection.WorkoutProjection) error {
	key := deviceKey{p.DeviceID, p.WorkoutID}
	if _, ok := t.state.workouts[key]; ok {
		return projection.ErrDuplicate
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	t.state.workouts[key] = p
	return nil
}

func (t *projectionTx) DeleteWorkout(_ context.Context, deviceID, workoutID string) error {
	delete(t.state.workouts, deviceKey{deviceID, workoutID})
	return nil
}

func (t *projectionTx) DeleteWorkoutsForDate(_ context.Context, deviceID string, date time.Time) error {
	for k, w := range t.state.workouts {
		if k.device == deviceID && w.Date.Equal(date) {
			delete(t.state.workouts, k)
		}
	}
	return nil
}

func (t *projectionTx) DeleteAllWorkouts(_ context.Context, deviceID string) ([]time.Time, error) {
	seen := make(map[time.Time]struct{})
	var dates []time.Time
	for k, w := range t.state.workouts {
		if k.device != deviceID {
			continue
		}
		if _, ok := seen[w.Date]; !ok {
			seen[w.Date] = struct{}{}
			dates = append(dates, w.Date)
		}
		delete(t.state.workouts, k)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

func (t *projectionTx) WorkoutsForDate(_ context.Context, deviceID string, date time.Time) ([]projection.WorkoutProjection, error) {
	var out []projection.WorkoutProjection
	for k, w := range t.state.workouts {
		if k.device == deviceID && w.Date.Equal(date) {
			out = append(out, w)
		}
	}
	sortWorkouts(out)
	return out, nil
}

func (t *projectionTx) FindMeal(_ context.Context, deviceID, eventID string) (*projection.MealProjection, error) {
	m, ok := t.state.meals[deviceKey{deviceID, eventID}]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (t *projectionTx) InsertMeal(_ context.Context, p projection.MealProjection) error {
	key := deviceKey{p.DeviceID, p.EventID}
	if _, ok := t.state.meals[key]; ok {
		return projection.ErrDuplicate
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	t.state.meals[key] = p
	return nil
}

func (t *projectionTx) DeleteMeal(_ context.Context, deviceID, eventID string) error {
	delete(t.state.meals, deviceKey{deviceID, eventID})
	return nil
}

func (t *projectionTx) DeleteMealsForDate(_ context.Context, deviceID string, date time.Time) error {
	for k, m := range t.state.meals {
		if k.device == deviceID && m.Date.Equal(date) {
			delete(t.state.meals, k)
		}
	}
	return nil
}

func (t *projectionTx) MealsForDate(_ context.Context, deviceID string, date time.Time) ([]projection.MealProjection, error) {
	var out []projection.MealProjection
	for k, m := range t.state.meals {
		if k.device == deviceID && m.Date.Equal(date) {
			out = append(out, m)
		}
	}
	sortMeals(out)
	return out, nil
}

func (t *projectionTx) NextMealNumber(_ context.Context, deviceID string, date time.Time) (int, error) {
	key := dateKey{deviceID, date}
	t.state.counters[key]++
	return t.state.counters[key], nil
}

func (t *projectionTx) ResetMealNumbers(_ context.Context, deviceID string, date time.Time) error {
	delete(t.state.counters, dateKey{deviceID, date})
	return nil
}

func (t *projectionTx) UpsertRollup(_ context.Context, r projection.DailyRollup) error {
	t.state.rollups[dateKey{r.DeviceID, r.Date}] = r
	return nil
}

func (t *projectionTx) DeleteRollup(_ context.Context, deviceID string, date time.Time) error {
	delete(t.state.rollups, dateKey{deviceID, date})
	return nil
}

func within(date, from, to time.Time) bool {
	if !from.IsZero() && date.Before(from) {
		return false
	}
	if !to.IsZero() && date.After(to) {
		return false
	}
	return true
}

func sortWorkouts(ws []projection.WorkoutProjection) {
	sort.Slice(ws, func(i, j int) bool {
		if !ws[i].PerformedAt.Equal(ws[j].PerformedAt) {
			return ws[i].PerformedAt.Before(ws[j].PerformedAt)
		}
		return ws[i].WorkoutID < ws[j].WorkoutID
	})
}

func sortMeals(ms []projection.MealProjection) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].Date.Equal(ms[j].Date) {
			return ms[i].Date.Before(ms[j].Date)
		}
		return ms[i].MealNumber < ms[j].MealNumber
	})
}
