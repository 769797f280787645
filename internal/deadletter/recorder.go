package deadletter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"example.com/healthassistant/internal/logger"
	"example.com/healthassistant/internal/projection"
)

// Recorder writes projection failures to the dead-letter store.
type Recorder struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// NewRecorder constructs a Recorder. A nil logger discards output.
func NewRecorder(store Store, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{store: store, now: func() time.Time { return time.Now().UTC() }, logger: log.Named("deadletter")}
}

// Record implements projection.FailureRecorder. The entry is due immediately.
func (r *Recorder) Record(ctx context.Context, failure projection.Failure) error {
	now := r.now()
	reason := "unknown"
	if failure.Err != nil {
		reason = failure.Err.Error()
	}
	entry := Entry{
		ID:          uuid.NewString(),
		DeviceID:    failure.DeviceID,
		EventID:     failure.EventID,
		EventType:   failure.EventType,
		Reason:      reason,
		NextRetryAt: now,
		CreatedAt:   now,
	}
	if err := r.store.Add(ctx, entry); err != nil {
		return err
	}
	recordRecorded(entry)
	r.logger.Warn("event dead-lettered",
		zap.String("event_id", entry.EventID),
		zap.String("event_type", string(entry.EventType)),
		logger.Device(entry.DeviceID),
		zap.String("reason", reason),
	)
	return nil
}
