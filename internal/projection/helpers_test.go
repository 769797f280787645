package projection_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/healthassistant/internal/events"
	"example.com/healthassistant/internal/persistence/memory"
	"example.com/healthassistant/internal/projection"
	"example.com/healthassistant/internal/retry"
)

const device = "device-1"

var (
	fixedNow = time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC)
	day1     = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	day2     = time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
)

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

type fixture struct {
	store    *memory.ProjectionStore
	log      *memory.EventLog
	pipeline *projection.Pipeline
	listener *projection.Listener
}

// newFixture wires a pipeline over an in-memory store; wrap may decorate the store.
func newFixture(t *testing.T, wrap func(*memory.ProjectionStore) projection.Store, opts ...projection.ListenerOption) *fixture {
	t.Helper()
	mem := memory.NewProjectionStore()
	var store projection.Store = mem
	if wrap != nil {
		store = wrap(mem)
	}
	log := memory.NewEventLog(time.UTC)
	pipeline := projection.NewPipeline(store, log,
		projection.WithRetryPolicy(fastPolicy()),
		projection.WithClock(func() time.Time { return fixedNow }),
	)
	return &fixture{
		store:    mem,
		log:      log,
		pipeline: pipeline,
		listener: projection.NewListener(pipeline, opts...),
	}
}

// appendAndNotify stores evts and delivers the resulting notifications.
func (f *fixture) appendAndNotify(t *testing.T, evts ...events.EventData) projection.Report {
	t.Helper()
	ctx := context.Background()
	stored, comp, err := f.log.Append(ctx, evts...)
	require.NoError(t, err)

	var report projection.Report
	if stored.EventCount > 0 {
		report, err = f.listener.OnEventsStored(ctx, stored)
		require.NoError(t, err)
	}
	if len(comp.Deletions)+len(comp.Corrections) > 0 {
		report, err = f.listener.OnCompensationsStored(ctx, comp)
		require.NoError(t, err)
	}
	return report
}

func (f *fixture) rollup(t *testing.T, date time.Time) *projection.DailyRollup {
	t.Helper()
	r, err := f.store.GetRollup(context.Background(), device, date)
	require.NoError(t, err)
	return r
}

func nextID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func workoutEvent(workoutID string, at time.Time, weight float64, reps int) events.EventData {
	return events.EventData{
		EventID:    nextID("evt"),
		EventType:  events.TypeWorkout,
		OccurredAt: at,
		DeviceID:   device,
		Payload: events.Workout{
			WorkoutID:   workoutID,
			PerformedAt: at,
			Exercises: []events.WorkoutExercise{{
				ExerciseID: "bench",
				Name:       "Bench press",
				Sets: []events.WorkoutSet{
					{SetNumber: 1, WeightKg: weight, Reps: reps},
					{SetNumber: 2, WeightKg: weight, Reps: reps},
				},
			}},
		},
	}
}

func mealEvent(title string, at time.Time, calories int) events.EventData {
	return events.EventData{
		EventID:    nextID("meal"),
		EventType:  events.TypeMeal,
		OccurredAt: at,
		DeviceID:   device,
		Payload:    events.Meal{Title: title, MealType: "lunch", Calories: calories, ProteinG: 20, FatG: 10, CarbsG: 50},
	}
}

func stepsEvent(at time.Time, count int) events.EventData {
	return events.EventData{
		EventID:    nextID("steps"),
		EventType:  events.TypeSteps,
		OccurredAt: at,
		DeviceID:   device,
		Payload:    events.Steps{BucketStart: at, BucketEnd: at.Add(time.Hour), Count: count},
	}
}

func deleteEvent(target events.EventData) events.EventData {
	return events.EventData{
		EventID:    nextID("del"),
		EventType:  events.TypeEventDeleted,
		OccurredAt: fixedNow,
		DeviceID:   device,
		Payload:    events.EventDeleted{TargetEventID: target.EventID, TargetEventType: target.EventType, Reason: "duplicate"},
	}
}

func correctEvent(t *testing.T, target events.EventData, payload events.Payload, occurredAt *time.Time) events.EventData {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return events.EventData{
		EventID:    nextID("fix"),
		EventType:  events.TypeEventCorrected,
		OccurredAt: fixedNow,
		DeviceID:   device,
		Payload: events.EventCorrected{
			TargetEventID:       target.EventID,
			TargetEventType:     target.EventType,
			CorrectedPayload:    raw,
			CorrectedOccurredAt: occurredAt,
		},
	}
}

// flakyStore fails the first failures units of work with a write conflict.
type flakyStore struct {
	*memory.ProjectionStore
	failures atomic.Int32
	calls    atomic.Int32
}

func (s *flakyStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx projection.Tx) error) error {
	s.calls.Add(1)
	if s.failures.Add(-1) >= 0 {
		return projection.ErrConflict
	}
	return s.ProjectionStore.WithinTx(ctx, fn)
}
