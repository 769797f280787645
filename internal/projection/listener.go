package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"example.com/healthassistant/internal/events"
	"example.com/healthassistant/internal/logger"
)

// Invalidator drops cached read models for the given dates, or for every date of a device.
type Invalidator interface {
	Invalidate(ctx context.Context, deviceID string, dates ...time.Time) error
	InvalidateDevice(ctx context.Context, deviceID string) error
}

// FailureRecorder keeps events whose projection gave up so they can be replayed later.
type FailureRecorder interface {
	Record(ctx context.Context, failure Failure) error
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithInvalidator sets the cache invalidated after every batch.
func WithInvalidator(inv Invalidator) ListenerOption {
	return func(l *Listener) {
		if inv != nil {
			l.invalidator = inv
		}
	}
}

// WithFailureRecorder sets where exhausted failures are kept.
func WithFailureRecorder(rec FailureRecorder) ListenerOption {
	return func(l *Listener) {
		l.failures = rec
	}
}

// Listener reacts to event log notifications.
type Listener struct {
	pipeline      *Pipeline
	compensations *CompensationHandler
	invalidator   Invalidator
	failures      FailureRecorder
	logger        *zap.Logger
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context, string, ...time.Time) error { return nil }

func (noopInvalidator) InvalidateDevice(context.Context, string) error { return nil }

// NewListener builds a Listener over pipeline.
func NewListener(pipeline *Pipeline, opts ...ListenerOption) *Listener {
	l := &Listener{
		pipeline:      pipeline,
		compensations: NewCompensationHandler(pipeline),
		invalidator:   noopInvalidator{},
		logger:        pipeline.logger.Named("listener"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OnEventsStored projects the events of every affected date. Per-event failures are
// recorded and do not fail the notification; a failure to read the log does, and the
// consumer retries the notification until it succeeds.
func (l *Listener) OnEventsStored(ctx context.Context, n events.EventsStored) (Report, error) {
	var (
		report  Report
		readErr error
	)
	for _, date := range n.Dates {
		evts, err := l.pipeline.log.FindEventsForDateRange(ctx, n.DeviceID, date, date)
		if err != nil {
			l.logger.Error("load events for date",
				logger.Device(n.DeviceID),
				zap.String("date", events.FormatDate(date)),
				zap.Error(err),
			)
			readErr = errors.Join(readErr, fmt.Errorf("load events for %s: %w", events.FormatDate(date), err))
			continue
		}

		relevant := evts[:0:0]
		for _, evt := range evts {
			if l.pipeline.Handles(evt.EventType) {
				relevant = append(relevant, evt)
			}
		}
		report.merge(l.pipeline.ProjectEvents(ctx, relevant))
		report.touch(date)
	}

	l.finish(ctx, n.DeviceID, report)
	return report, readErr
}

// OnCompensationsStored applies deletions, then corrections.
func (l *Listener) OnCompensationsStored(ctx context.Context, n events.CompensationsStored) (Report, error) {
	report := l.compensations.Handle(ctx, n)
	l.finish(ctx, n.DeviceID, report)
	return report, nil
}

// Invalidate drops the cached dates a report touched, or every date of the device when
// the report could not name them.
func Invalidate(ctx context.Context, inv Invalidator, deviceID string, report Report) error {
	if report.TouchesAllDates() {
		return inv.InvalidateDevice(ctx, deviceID)
	}
	if dates := report.TouchedDates(); len(dates) > 0 {
		return inv.Invalidate(ctx, deviceID, dates...)
	}
	return nil
}

func (l *Listener) finish(ctx context.Context, deviceID string, report Report) {
	if err := Invalidate(ctx, l.invalidator, deviceID, report); err != nil {
		l.logger.Warn("cache invalidation failed", logger.Device(deviceID), zap.Error(err))
	}

	for _, f := range report.Failures {
		if l.failures == nil {
			continue
		}
		if err := l.failures.Record(ctx, f); err != nil {
			l.logger.Error("record projection failure",
				zap.String("event_id", f.EventID),
				logger.Device(f.DeviceID),
				zap.Error(err),
			)
		}
	}

	l.logger.Info("notification processed",
		logger.Device(deviceID),
		zap.Int("projected", report.Projected),
		zap.Int("already_projected", report.AlreadyProjected),
		zap.Int("removed", report.Removed),
		zap.Int("failed", report.Failed()),
	)
}
