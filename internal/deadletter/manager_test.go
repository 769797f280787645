package deadletter_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthassistant/internal/deadletter"
	"example.com/healthassistant/internal/events"
	"example.com/healthassistant/internal/persistence/memory"
	"example.com/healthassistant/internal/projection"
)

type stubResyncer struct {
	err     error
	touched []time.Time
	calls   int
}

func (s *stubResyncer) Resync(context.Context, string, string, events.Type) (projection.Outcome, []time.Time, error) {
	s.calls++
	if s.err != nil {
		return "", nil, s.err
	}
	return projection.OutcomeProjected, s.touched, nil
}

type stubInvalidator struct {
	dates []time.Time
}

func (s *stubInvalidator) InvalidateDevice(context.Context, string) error { return nil }

func (s *stubInvalidator) Invalidate(_ context.Context, _ string, dates ...time.Time) error {
	s.dates = append(s.dates, dates...)
	return nil
}

func recordFailure(t *testing.T, store deadletter.Store) string {
	t.Helper()
	rec := deadletter.NewRecorder(store, nil)
	require.NoError(t, rec.Record(context.Background(), projection.Failure{
		DeviceID:  "device-1",
		EventID:   "evt-1",
		EventType: events.TypeWorkout,
		Err:       projection.ErrConflict,
	}))
	entries, _, err := store.List(context.Background(), nil, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0].ID
}

func TestRecorderRefreshesOpenEntry(t *testing.T) {
	store := memory.NewDeadLetters()
	recordFailure(t, store)

	rec := deadletter.NewRecorder(store, nil)
	require.NoError(t, rec.Record(context.Background(), projection.Failure{
		DeviceID:  "device-1",
		EventID:   "evt-1",
		EventType: events.TypeWorkout,
		Err:       errors.New("still failing"),
	}))

	entries, _, err := store.List(context.Background(), nil, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "still failing", entries[0].Reason)
}

func TestRunOnceResolvesReplayedEntry(t *testing.T) {
	store := memory.NewDeadLetters()
	id := recordFailure(t, store)
	date := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	resync := &stubResyncer{touched: []time.Time{date}}
	inv := &stubInvalidator{}

	manager := deadletter.NewManager(store, resync, inv, 3, time.Minute, nil)
	resolved, err := manager.RunOnce(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, resolved)
	require.Equal(t, []time.Time{date}, inv.dates)

	_, ok := store.Get(id)
	require.False(t, ok)
}

func TestRunOnceReschedulesWithBackoff(t *testing.T) {
	store := memory.NewDeadLetters()
	id := recordFailure(t, store)
	resync := &stubResyncer{err: projection.ErrConflict}

	manager := deadletter.NewManager(store, resync, nil, 3, time.Minute, nil)
	resolved, err := manager.RunOnce(context.Background(), 10)
	require.NoError(t, err)
	require.Zero(t, resolved)

	entry, ok := store.Get(id)
	require.True(t, ok)
	require.Equal(t, 1, entry.RetryCount)
	require.NotNil(t, entry.LastAttemptAt)
	require.Equal(t, time.Minute, entry.NextRetryAt.Sub(*entry.LastAttemptAt))

	// Not due yet.
	resolved, err = manager.RunOnce(context.Background(), 10)
	require.NoError(t, err)
	require.Zero(t, resolved)
	require.Equal(t, 1, resync.calls)
}

func TestRunOnceQuarantinesExhaustedEntry(t *testing.T) {
	store := memory.NewDeadLetters()
	id := recordFailure(t, store)
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Reschedule(context.Background(), id, "boom", now, now.Add(-time.Second)))
	}

	resync := &stubResyncer{}
	manager := deadletter.NewManager(store, resync, nil, 3, time.Minute, nil)
	resolved, err := manager.RunOnce(context.Background(), 10)
	require.NoError(t, err)
	require.Zero(t, resolved)
	require.Zero(t, resync.calls)

	entry, ok := store.Get(id)
	require.True(t, ok)
	require.NotNil(t, entry.QuarantinedAt)

	backlog, err := store.Backlog(context.Background())
	require.NoError(t, err)
	require.Zero(t, backlog)
}
