package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/healthassistant/internal/aggregate"
	"example.com/healthassistant/internal/projection"
)

// ProjectionStore persists workout, meal and rollup projections.
type ProjectionStore struct {
	pool *pgxpool.Pool
}

// NewProjectionStore constructs a ProjectionStore.
func NewProjectionStore(pool *pgxpool.Pool) *ProjectionStore {
	return &ProjectionStore{pool: pool}
}

// WithinTx runs fn in a serializable transaction. Serialization failures surface as
// projection.ErrConflict so the unit of work is retried.
func (s *ProjectionStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx projection.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return classify(err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	err = classify(tx.Commit(ctx))
	return err
}

const workoutColumns = `device_id, workout_id, event_id, projection_date, performed_at, source, note, exercises, total_sets, total_reps, total_volume_kg, created_at`

const mealColumns = `device_id, event_id, projection_date, meal_number, occurred_at, title, meal_type, calories, protein_g, fat_g, carbs_g, health_rating, created_at`

const rollupColumns = `device_id, rollup_date, workout_count, exercise_count, total_sets, total_reps, total_volume_kg, meal_count, calories, protein_g, fat_g, carbs_g, updated_at`

// GetRollup returns nil when no rollup exists.
func (s *ProjectionStore) GetRollup(ctx context.Context, deviceID string, date time.Time) (*projection.DailyRollup, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+rollupColumns+` FROM daily_rollups WHERE device_id=$1 AND rollup_date=$2`, deviceID, date)
	r, err := scanRollup(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRollups returns rollups ordered by date.
func (s *ProjectionStore) ListRollups(ctx context.Context, deviceID string, from, to time.Time) ([]projection.DailyRollup, error) {
	query, args := dateBounded(`SELECT `+rollupColumns+` FROM daily_rollups WHERE device_id=$1`, "rollup_date", deviceID, from, to)
	rows, err := s.pool.Query(ctx, query+` ORDER BY rollup_date`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []projection.DailyRollup
	for rows.Next() {
		r, err := scanRollup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListWorkouts returns workouts ordered by performance time.
func (s *ProjectionStore) ListWorkouts(ctx context.Context, deviceID string, from, to time.Time) ([]projection.WorkoutProjection, error) {
	query, args := dateBounded(`SELECT `+workoutColumns+` FROM workout_projections WHERE device_id=$1`, "projection_date", deviceID, from, to)
	return queryWorkouts(ctx, s.pool, query+` ORDER BY performed_at, workout_id`, args...)
}

// ListMeals returns meals ordered by date and meal number.
func (s *ProjectionStore) ListMeals(ctx context.Context, deviceID string, from, to time.Time) ([]projection.MealProjection, error) {
	query, args := dateBounded(`SELECT `+mealColumns+` FROM meal_projections WHERE device_id=$1`, "projection_date", deviceID, from, to)
	return queryMeals(ctx, s.pool, query+` ORDER BY projection_date, meal_number`, args...)
}

func dateBounded(query, column, deviceID string, from, to time.Time) (string, []interface{}) {
	args := []interface{}{deviceID}
	if !from.IsZero() {
		args = append(args, from)
		query += fmt.Sprintf(` AND %s >= $%d`, column, len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		query += fmt.Sprintf(` AND %s <= $%d`, column, len(args))
	}
	return query, args
}

type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func queryWorkouts(ctx context.Context, q querier, query string, args ...interface{}) ([]projection.WorkoutProjection, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []projection.WorkoutProjection
	for rows.Next() {
		w, err := scanWorkout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, classify(rows.Err())
}

func queryMeals(ctx context.Context, q querier, query string, args ...interface{}) ([]projection.MealProjection, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []projection.MealProjection
	for rows.Next() {
		m, err := scanMeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, classify(rows.Err())
}

func scanWorkout(row pgx.Row) (projection.WorkoutProjection, error) {
	var (
		w         projection.WorkoutProjection
		exercises []byte
	)
	if err := row.Scan(&w.DeviceID, &w.WorkoutID, &w.EventID, &w.Date, &w.PerformedAt, &w.Source, &w.Note, &exercises, &w.TotalSets, &w.TotalReps, &w.TotalVolumeKg, &w.CreatedAt); err != nil {
		return w, err
	}
	if len(exercises) > 0 {
		if err := json.Unmarshal(exercises, &w.Exercises); err != nil {
			return w, fmt.Errorf("decode exercises of workout %s: %w", w.WorkoutID, err)
		}
	}
	w.Date = asDate(w.Date)
	return w, nil
}

func scanMeal(row pgx.Row) (projection.MealProjection, error) {
	var m projection.MealProjection
	err := row.Scan(&m.DeviceID, &m.EventID, &m.Date, &m.MealNumber, &m.OccurredAt, &m.Title, &m.MealType, &m.Calories, &m.ProteinG, &m.FatG, &m.CarbsG, &m.HealthRating, &m.CreatedAt)
	m.Date = asDate(m.Date)
	return m, err
}

func scanRollup(row pgx.Row) (projection.DailyRollup, error) {
	var r projection.DailyRollup
	err := row.Scan(&r.DeviceID, &r.Date, &r.WorkoutCount, &r.ExerciseCount, &r.TotalSets, &r.TotalReps, &r.TotalVolumeKg, &r.MealCount, &r.Calories, &r.ProteinG, &r.FatG, &r.CarbsG, &r.UpdatedAt)
	r.Date = asDate(r.Date)
	return r, err
}

// asDate normalises a scanned DATE to midnight UTC, the key form used in memory.
func asDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) exec(ctx context.Context, sql string, args ...interface{}) error {
	_, err := t.tx.Exec(ctx, sql, args...)
	return classify(err)
}

func (t *pgTx) findWorkout(ctx context.Context, where string, args ...interface{}) (*projection.WorkoutProjection, error) {
	w, err := scanWorkout(t.tx.QueryRow(ctx, `SELECT `+workoutColumns+` FROM workout_projections WHERE `+where, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &w, nil
}

func (t *pgTx) FindWorkout(ctx context.Context, deviceID, workoutID string) (*projection.WorkoutProjection, error) {
	return t.findWorkout(ctx, `device_id=$1 AND workout_id=$2`, deviceID, workoutID)
}

func (t *pgTx) FindWorkoutByEvent(ctx context.Context, deviceID, eventID string) (*projection.WorkoutProjection, error) {
	return t.findWorkout(ctx, `device_id=$1 AND event_id=$2`, deviceID, eventID)
}

func (t *pgTx) InsertWorkout(ctx context.Context, p projection.WorkoutProjection) error {
	exercises := p.Exercises
	if exercises == nil {
		exercises = []aggregate.ExerciseEntry{}
	}
	body, err := json.Marshal(exercises)
	if err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	const stmt = `INSERT INTO workout_projections (` + workoutColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	return t.exec(ctx, stmt,
		p.DeviceID,
		p.WorkoutID,
		p.EventID,
		p.Date,
		p.PerformedAt,
		p.Source,
		p.Note,
		body,
		p.TotalSets,
		p.TotalReps,
		p.TotalVolumeKg,
		p.CreatedAt,
	)
}

func (t *pgTx) DeleteWorkout(ctx context.Context, deviceID, workoutID string) error {
	return t.exec(ctx, `DELETE FROM workout_projections WHERE device_id=$1 AND workout_id=$2`, deviceID, workoutID)
}

func (t *pgTx) DeleteWorkoutsForDate(ctx context.Context, deviceID string, date time.Time) error {
	return t.exec(ctx, `DELETE FROM workout_projections WHERE device_id=$1 AND projection_date=$2`, deviceID, date)
}

func (t *pgTx) DeleteAllWorkouts(ctx context.Context, deviceID string) ([]time.Time, error) {
	rows, err := t.tx.Query(ctx, `WITH removed AS (
            DELETE FROM workout_projections WHERE device_id=$1 RETURNING projection_date
        )
        SELECT DISTINCT projection_date FROM removed ORDER BY projection_date`, deviceID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, asDate(d))
	}
	return dates, classify(rows.Err())
}

func (t *pgTx) WorkoutsForDate(ctx context.Context, deviceID string, date time.Time) ([]projection.WorkoutProjection, error) {
	return queryWorkouts(ctx, t.tx, `SELECT `+workoutColumns+` FROM workout_projections
        WHERE device_id=$1 AND projection_date=$2 ORDER BY performed_at, workout_id`, deviceID, date)
}

func (t *pgTx) FindMeal(ctx context.Context, deviceID, eventID string) (*projection.MealProjection, error) {
	m, err := scanMeal(t.tx.QueryRow(ctx, `SELECT `+mealColumns+` FROM meal_projections WHERE device_id=$1 AND event_id=$2`, deviceID, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &m, nil
}

func (t *pgTx) InsertMeal(ctx context.Context, p projection.MealProjection) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	const stmt = `INSERT INTO meal_projections (` + mealColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	return t.exec(ctx, stmt,
		p.DeviceID,
		p.EventID,
		p.Date,
		p.MealNumber,
		p.OccurredAt,
		p.Title,
		p.MealType,
		p.Calories,
		p.ProteinG,
		p.FatG,
		p.CarbsG,
		p.HealthRating,
		p.CreatedAt,
	)
}

func (t *pgTx) DeleteMeal(ctx context.Context, deviceID, eventID string) error {
	return t.exec(ctx, `DELETE FROM meal_projections WHERE device_id=$1 AND event_id=$2`, deviceID, eventID)
}

func (t *pgTx) DeleteMealsForDate(ctx context.Context, deviceID string, date time.Time) error {
	return t.exec(ctx, `DELETE FROM meal_projections WHERE device_id=$1 AND projection_date=$2`, deviceID, date)
}

func (t *pgTx) MealsForDate(ctx context.Context, deviceID string, date time.Time) ([]projection.MealProjection, error) {
	return queryMeals(ctx, t.tx, `SELECT `+mealColumns+` FROM meal_projections
        WHERE device_id=$1 AND projection_date=$2 ORDER BY meal_number`, deviceID, date)
}

// NextMealNumber increments the per-date counter in a single statement.
func (t *pgTx) NextMealNumber(ctx context.Context, deviceID string, date time.Time) (int, error) {
	const stmt = `INSERT INTO meal_counters (device_id, counter_date, last_number) VALUES ($1, $2, 1)
        ON CONFLICT (device_id, counter_date) DO UPDATE SET last_number = meal_counters.last_number + 1
        RETURNING last_number`
	var n int
	if err := t.tx.QueryRow(ctx, stmt, deviceID, date).Scan(&n); err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (t *pgTx) ResetMealNumbers(ctx context.Context, deviceID string, date time.Time) error {
	return t.exec(ctx, `DELETE FROM meal_counters WHERE device_id=$1 AND counter_date=$2`, deviceID, date)
}

func (t *pgTx) UpsertRollup(ctx context.Context, r projection.DailyRollup) error {
	const stmt = `INSERT INTO daily_rollups (` + rollupColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        ON CONFLICT (device_id, rollup_date) DO UPDATE SET
            workout_count = EXCLUDED.workout_count,
            exercise_count = EXCLUDED.exercise_count,
            total_sets = EXCLUDED.total_sets,
            total_reps = EXCLUDED.total_reps,
            total_volume_kg = EXCLUDED.total_volume_kg,
            meal_count = EXCLUDED.meal_count,
            calories = EXCLUDED.calories,
            protein_g = EXCLUDED.protein_g,
            fat_g = EXCLUDED.fat_g,
            carbs_g = EXCLUDED.carbs_g,
            updated_at = EXCLUDED.updated_at`
	return t.exec(ctx, stmt,
		r.DeviceID,
		r.Date,
		r.WorkoutCount,
		r.ExerciseCount,
		r.TotalSets,
		r.TotalReps,
		r.TotalVolumeKg,
		r.MealCount,
		r.Calories,
		r.ProteinG,
		r.FatG,
		r.CarbsG,
		r.UpdatedAt,
	)
}

func (t *pgTx) DeleteRollup(ctx context.Context, deviceID string, date time.Time) error {
	return t.exec(ctx, `DELETE FROM daily_rollups WHERE device_id=$1 AND rollup_date=$2`, deviceID, date)
}
