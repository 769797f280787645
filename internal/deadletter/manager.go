package deadletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"example.com/healthassistant/internal/events"
	"example.com/healthassistant/internal/logger"
	"example.com/healthassistant/internal/projection"
)

// Resyncer re-derives the projection of one event from the event log.
type Resyncer interface {
	Resync(ctx context.Context, deviceID, eventID string, eventType events.Type) (projection.Outcome, []time.Time, error)
}

// Manager replays dead-lettered events and quarantines exhausted entries.
type Manager struct {
	store       Store
	resync      Resyncer
	invalidator projection.Invalidator
	maxRetries  int
	baseDelay   time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewManager constructs a Manager with the provided retry configuration.
func NewManager(store Store, resync Resyncer, invalidator projection.Invalidator, maxRetries int, baseDelay time.Duration, log *zap.Logger) *Manager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		store:       store,
		resync:      resync,
		invalidator: invalidator,
		maxRetries:  maxRetries,
		baseDelay:   baseDelay,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      log.Named("deadletter"),
	}
}

// RunOnce processes a batch of due entries and returns how many were resolved.
// Replay failures reschedule the entry; only store failures are returned.
func (m *Manager) RunOnce(ctx context.Context, batchSize int) (int, error) {
	entries, err := m.store.Due(ctx, m.now(), batchSize)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, entry := range entries {
		ok, handleErr := m.handleEntry(ctx, entry)
		if handleErr != nil {
			err = errors.Join(err, handleErr)
			continue
		}
		if ok {
			resolved++
		}
	}
	updateBacklogGauge(ctx, m.store)
	return resolved, err
}

func (m *Manager) handleEntry(ctx context.Context, entry Entry) (bool, error) {
	now := m.now()
	if entry.RetryCount >= m.maxRetries {
		if err := m.store.Quarantine(ctx, entry.ID, "retry limit reached", now); err != nil {
			return false, fmt.Errorf("quarantine %s: %w", entry.ID, err)
		}
		recordQuarantined(entry)
		m.logger.Warn("dead-letter entry quarantined",
			zap.String("event_id", entry.EventID),
			logger.Device(entry.DeviceID),
			zap.Int("retries", entry.RetryCount),
		)
		return false, nil
	}

	outcome, touched, replayErr := m.resync.Resync(ctx, entry.DeviceID, entry.EventID, entry.EventType)
	if replayErr != nil {
		next := now.Add(m.backoffDelay(entry.RetryCount + 1))
		if err := m.store.Reschedule(ctx, entry.ID, replayErr.Error(), now, next); err != nil {
			return false, fmt.Errorf("reschedule %s: %w", entry.ID, err)
		}
		recordRetry(entry)
		m.logger.Info("dead-letter replay failed",
			zap.String("event_id", entry.EventID),
			logger.Device(entry.DeviceID),
			zap.Time("next_retry_at", next),
			zap.Error(replayErr),
		)
		return false, nil
	}

	if m.invalidator != nil && len(touched) > 0 {
		if err := m.invalidator.Invalidate(ctx, entry.DeviceID, touched...); err != nil {
			m.logger.Warn("cache invalidation failed", logger.Device(entry.DeviceID), zap.Error(err))
		}
	}
	if err := m.store.Resolve(ctx, entry.ID); err != nil {
		return false, fmt.Errorf("resolve %s: %w", entry.ID, err)
	}
	recordResolved(entry, string(outcome))
	return true, nil
}

// backoffDelay calculates exponential backoff capped at one hour.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	if attempt > 32 {
		return time.Hour
	}
	delay := time.Duration(1<<uint(attempt-1)) * m.baseDelay
	if delay > time.Hour || delay <= 0 {
		delay = time.Hour
	}
	return delay
}
