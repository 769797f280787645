package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"example.com/healthassistant/internal/events"
	"example.com/healthassistant/internal/logger"
	"example.com/healthassistant/internal/observability"
)

// CompensationHandler applies deletions and corrections to projections.
type CompensationHandler struct {
	pipeline *Pipeline
	logger   *zap.Logger
}

// NewCompensationHandler builds a handler sharing the pipeline's projectors and store.
func NewCompensationHandler(pipeline *Pipeline) *CompensationHandler {
	return &CompensationHandler{pipeline: pipeline, logger: pipeline.logger.Named("compensation")}
}

// Handle applies every deletion before any correction. Each item runs in its own
// unit of work; a failure is logged and recorded without stopping the batch.
func (h *CompensationHandler) Handle(ctx context.Context, batch events.CompensationsStored) Report {
	var report Report
	for _, d := range batch.Deletions {
		h.applyDeletion(ctx, batch.DeviceID, d, &report)
	}
	for _, c := range batch.Corrections {
		h.applyCorrection(ctx, batch.DeviceID, c, &report)
	}
	return report
}

// applyDeletion removes the projection of the target. When there is none, the deleted event
// may still be part of a cached daily summary whose date is no longer known, so every date
// of the device is marked.
func (h *CompensationHandler) applyDeletion(ctx context.Context, deviceID string, d events.Deletion, report *Report) {
	proj := h.pipeline.projectorFor(d.TargetEventType)
	if proj == nil {
		report.touchAll()
		report.count(OutcomeNotApplicable)
		observability.RecordCompensation("deletion", string(OutcomeNotApplicable))
		return
	}

	var removed *removal
	err := h.pipeline.uow.run(ctx, proj.Kind(), deviceID, func(ctx context.Context, tx Tx) error {
		r, err := proj.removeTx(ctx, tx, deviceID, d.TargetEventID)
		removed = r
		return err
	})
	if err != nil {
		h.fail(deviceID, d.TargetEventID, d.TargetEventType, "deletion", err, report)
		return
	}

	if removed == nil {
		h.logger.Debug("no projection to delete", zap.String("target_event_id", d.TargetEventID), logger.Device(deviceID))
		report.touchAll()
		report.count(OutcomeNotApplicable)
		observability.RecordCompensation("deletion", "absent")
		return
	}
	report.Removed++
	report.touch(removed.Date)
	observability.RecordCompensation("deletion", "applied")
}

// applyCorrection replaces the projection of the target with the corrected payload. The
// corrected occurrence time falls back to the removed projection, then to the event log.
func (h *CompensationHandler) applyCorrection(ctx context.Context, deviceID string, c events.Correction, report *Report) {
	if !h.pipeline.Handles(c.TargetEventType) {
		report.touchAll()
		report.count(OutcomeNotApplicable)
		observability.RecordCompensation("correction", string(OutcomeNotApplicable))
		return
	}
	proj := h.pipeline.projectorFor(c.TargetEventType)

	payload, err := c.Decode()
	if err != nil {
		h.logger.Warn("skipping correction with undecodable payload",
			zap.String("target_event_id", c.TargetEventID),
			logger.Device(deviceID),
			zap.Error(err),
		)
		report.count(OutcomeNotApplicable)
		observability.RecordCompensation("correction", "skipped")
		return
	}

	var logged time.Time
	if c.CorrectedOccurredAt.IsZero() {
		target, err := h.pipeline.log.FindEventByID(ctx, deviceID, c.TargetEventID)
		if err != nil {
			h.fail(deviceID, c.TargetEventID, c.TargetEventType, "correction", fmt.Errorf("load target: %w", err), report)
			return
		}
		if target != nil && target.EventType == c.TargetEventType {
			logged = target.OccurredAt
		}
	}

	var (
		outcome   Outcome
		removed   *removal
		corrected events.EventData
	)
	err = h.pipeline.uow.run(ctx, proj.Kind(), deviceID, func(ctx context.Context, tx Tx) error {
		outcome = OutcomeNotApplicable
		r, err := proj.removeTx(ctx, tx, deviceID, c.TargetEventID)
		if err != nil {
			return err
		}
		removed = r

		corrected = events.EventData{
			EventID:    c.TargetEventID,
			EventType:  c.TargetEventType,
			OccurredAt: c.CorrectedOccurredAt,
			DeviceID:   deviceID,
			Payload:    payload,
		}
		if corrected.OccurredAt.IsZero() && removed != nil {
			corrected.OccurredAt = removed.OccurredAt
		}
		if corrected.OccurredAt.IsZero() {
			corrected.OccurredAt = logged
		}
		if corrected.OccurredAt.IsZero() {
			return nil
		}
		o, err := proj.applyTx(ctx, tx, corrected, removed)
		if err != nil {
			return err
		}
		outcome = o
		return nil
	})
	if errors.Is(err, ErrDuplicate) {
		outcome, err = OutcomeAlreadyProjected, nil
	}
	if err != nil {
		h.fail(deviceID, c.TargetEventID, c.TargetEventType, "correction", err, report)
		return
	}

	if corrected.OccurredAt.IsZero() {
		h.logger.Warn("skipping correction without occurrence time",
			zap.String("target_event_id", c.TargetEventID),
			logger.Device(deviceID),
		)
	}
	if removed != nil {
		report.touch(removed.Date)
	} else {
		report.touchAll()
	}
	if outcome == OutcomeProjected {
		report.touch(events.DateOf(corrected.OccurredAt, h.pipeline.loc))
	}
	report.count(outcome)
	observability.RecordCompensation("correction", string(outcome))
}

func (h *CompensationHandler) fail(deviceID, eventID string, eventType events.Type, action string, err error, report *Report) {
	h.logger.Error("compensation failed",
		zap.String("action", action),
		zap.String("target_event_id", eventID),
		zap.String("target_event_type", string(eventType)),
		logger.Device(deviceID),
		zap.Error(err),
	)
	observability.RecordCompensation(action, "failed")
	report.Failures = append(report.Failures, Failure{DeviceID: deviceID, EventID: eventID, EventType: eventType, Err: err})
}
