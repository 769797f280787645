package domain_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/healthassistant/internal/events"
	"example.com/healthassistant/internal/projection"
)

func TestDeletingRawEventDropsCachedSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	listener := projection.NewListener(f.pipeline, projection.WithInvalidator(f.cache))

	counted := steps(day1.Add(9*time.Hour), 5000)
	stored, _, err := f.log.Append(ctx, counted)
	require.NoError(t, err)
	_, err = listener.OnEventsStored(ctx, stored)
	require.NoError(t, err)

	snapshot, err := f.service.GetDailySummary(ctx, device, day1)
	require.NoError(t, err)
	require.Equal(t, 5000, *snapshot.Activity.Steps)
	require.Contains(t, f.cache.entries, cacheKey(device, day1))

	_, comp, err := f.log.Append(ctx, event(events.TypeEventDeleted, day2, events.EventDeleted{
		TargetEventID:   counted.EventID,
		TargetEventType: events.TypeSteps,
	}))
	require.NoError(t, err)
	_, err = listener.OnCompensationsStored(ctx, comp)
	require.NoError(t, err)

	snapshot, err = f.service.GetDailySummary(ctx, device, day1)
	require.NoError(t, err)
	require.Nil(t, snapshot)
}

func TestMovingRawEventDropsCachedOriginalDate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	listener := projection.NewListener(f.pipeline, projection.WithInvalidator(f.cache))

	counted := steps(day1.Add(9*time.Hour), 5000)
	_, _, err := f.log.Append(ctx, counted)
	require.NoError(t, err)

	snapshot, err := f.service.GetDailySummary(ctx, device, day1)
	require.NoError(t, err)
	require.NotNil(t, snapshot)

	movedAt := day2.Add(9 * time.Hour)
	raw, err := json.Marshal(events.Steps{BucketStart: movedAt, BucketEnd: movedAt.Add(time.Hour), Count: 5000})
	require.NoError(t, err)
	_, comp, err := f.log.Append(ctx, events.EventData{
		EventID:    uuid.NewString(),
		EventType:  events.TypeEventCorrected,
		OccurredAt: movedAt,
		DeviceID:   device,
		Payload: events.EventCorrected{
			TargetEventID:       counted.EventID,
			TargetEventType:     events.TypeSteps,
			CorrectedPayload:    raw,
			CorrectedOccurredAt: &movedAt,
		},
	})
	require.NoError(t, err)
	_, err = listener.OnCompensationsStored(ctx, comp)
	require.NoError(t, err)

	snapshot, err = f.service.GetDailySummary(ctx, device, day1)
	require.NoError(t, err)
	require.Nil(t, snapshot)

	snapshot, err = f.service.GetDailySummary(ctx, device, day2)
	require.NoError(t, err)
	require.Equal(t, 5000, *snapshot.Activity.Steps)
}
