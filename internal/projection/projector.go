package projection

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"example.com/healthassistant/internal/events"
	"example.com/healthassistant/internal/logger"
	"example.com/healthassistant/internal/observability"
	"example.com/healthassistant/internal/retry"
)

// Outcome describes what a projector did with an event.
type Outcome string

const (
	OutcomeProjected        Outcome = "projected"
	OutcomeAlreadyProjected Outcome = "already_projected"
	OutcomeNotApplicable    Outcome = "not_applicable"
)

// Projector writes one aggregate kind.
type Projector interface {
	Kind() string
	Supports(t events.Type) bool
	// Project is idempotent. Errors are returned only once retries are exhausted
	// or the failure is not retryable.
	Project(ctx context.Context, evt events.EventData) (Outcome, error)
}

// removal describes a projection deleted by a compensation. MealNumber is zero for workouts.
type removal struct {
	Date       time.Time
	OccurredAt time.Time
	MealNumber int
}

// kindProjector is implemented by the projectors of this package so compensations
// can compose removal and projection inside one unit of work. prior is the projection
// the same event had before, removed earlier in the unit of work, or nil.
type kindProjector interface {
	Projector
	applyTx(ctx context.Context, tx Tx, evt events.EventData, prior *removal) (Outcome, error)
	removeTx(ctx context.Context, tx Tx, deviceID, eventID string) (*removal, error)
}

// unitOfWork runs fn in a transaction and retries it on write conflicts.
type unitOfWork struct {
	store  Store
	policy retry.Policy
	logger *zap.Logger
}

func (u unitOfWork) run(ctx context.Context, kind, deviceID string, fn func(ctx context.Context, tx Tx) error) error {
	return retry.Do(ctx, u.policy, IsRetryable, func(ctx context.Context) error {
		return u.store.WithinTx(ctx, fn)
	}, func(attempt int, err error, wait time.Duration) {
		observability.RecordProjectionRetry(kind)
		u.logger.Debug("retrying projection write",
			zap.String("kind", kind),
			logger.Device(deviceID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
}

// WorkoutProjector maintains workout projections keyed by workout id.
type WorkoutProjector struct {
	factory Factory
	rollups *RollupUpdater
	uow     unitOfWork
	logger  *zap.Logger
}

func (p *WorkoutProjector) Kind() string { return "workout" }

func (p *WorkoutProjector) Supports(t events.Type) bool { return t == events.TypeWorkout }

func (p *WorkoutProjector) Project(ctx context.Context, evt events.EventData) (Outcome, error) {
	return project(ctx, p, p.uow, p.logger, evt)
}

func (p *WorkoutProjector) applyTx(ctx context.Context, tx Tx, evt events.EventData, _ *removal) (Outcome, error) {
	proj, ok := p.factory.Workout(evt)
	if !ok {
		return OutcomeNotApplicable, nil
	}
	existing, err := tx.FindWorkout(ctx, proj.DeviceID, proj.WorkoutID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return OutcomeAlreadyProjected, nil
	}
	if err := tx.InsertWorkout(ctx, proj); err != nil {
		return "", err
	}
	if err := p.rollups.Recompute(ctx, tx, proj.DeviceID, proj.Date); err != nil {
		return "", err
	}
	return OutcomeProjected, nil
}

func (p *WorkoutProjector) removeTx(ctx context.Context, tx Tx, deviceID, eventID string) (*removal, error) {
	existing, err := tx.FindWorkoutByEvent(ctx, deviceID, eventID)
	if err != nil || existing == nil {
		return nil, err
	}
	if err := tx.DeleteWorkout(ctx, deviceID, existing.WorkoutID); err != nil {
		return nil, err
	}
	if err := p.rollups.Recompute(ctx, tx, deviceID, existing.Date); err != nil {
		return nil, err
	}
	return &removal{Date: existing.Date, OccurredAt: existing.PerformedAt}, nil
}

// MealProjector maintains meal projections keyed by event id and numbers meals per date.
type MealProjector struct {
	factory Factory
	rollups *RollupUpdater
	uow     unitOfWork
	logger  *zap.Logger
}

func (p *MealProjector) Kind() string { return "meal" }

func (p *MealProjector) Supports(t events.Type) bool { return t == events.TypeMeal }

func (p *MealProjector) Project(ctx context.Context, evt events.EventData) (Outcome, error) {
	return project(ctx, p, p.uow, p.logger, evt)
}

// applyTx keeps the meal number of prior when the meal stays on the same date, so a
// correction does not renumber it.
func (p *MealProjector) applyTx(ctx context.Context, tx Tx, evt events.EventData, prior *removal) (Outcome, error) {
	proj, ok := p.factory.Meal(evt)
	if !ok {
		return OutcomeNotApplicable, nil
	}
	existing, err := tx.FindMeal(ctx, proj.DeviceID, proj.EventID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return OutcomeAlreadyProjected, nil
	}
	if prior != nil && prior.MealNumber > 0 && prior.Date.Equal(proj.Date) {
		proj.MealNumber = prior.MealNumber
	} else {
		number, err := tx.NextMealNumber(ctx, proj.DeviceID, proj.Date)
		if err != nil {
			return "", err
		}
		proj.MealNumber = number
	}
	if err := tx.InsertMeal(ctx, proj); err != nil {
		return "", err
	}
	if err := p.rollups.Recompute(ctx, tx, proj.DeviceID, proj.Date); err != nil {
		return "", err
	}
	return OutcomeProjected, nil
}

func (p *MealProjector) removeTx(ctx context.Context, tx Tx, deviceID, eventID string) (*removal, error) {
	existing, err := tx.FindMeal(ctx, deviceID, eventID)
	if err != nil || existing == nil {
		return nil, err
	}
	if err := tx.DeleteMeal(ctx, deviceID, eventID); err != nil {
		return nil, err
	}
	if err := p.rollups.Recompute(ctx, tx, deviceID, existing.Date); err != nil {
		return nil, err
	}
	return &removal{Date: existing.Date, OccurredAt: existing.OccurredAt, MealNumber: existing.MealNumber}, nil
}

func project(ctx context.Context, p kindProjector, uow unitOfWork, log *zap.Logger, evt events.EventData) (Outcome, error) {
	if !p.Supports(evt.EventType) {
		observability.RecordProjection(p.Kind(), string(OutcomeNotApplicable))
		return OutcomeNotApplicable, nil
	}

	var outcome Outcome
	err := uow.run(ctx, p.Kind(), evt.DeviceID, func(ctx context.Context, tx Tx) error {
		o, err := p.applyTx(ctx, tx, evt, nil)
		outcome = o
		return err
	})
	switch {
	case errors.Is(err, ErrDuplicate):
		outcome = OutcomeAlreadyProjected
	case err != nil:
		observability.RecordProjectionFailure(p.Kind())
		return "", err
	}

	switch outcome {
	case OutcomeNotApplicable:
		log.Warn("event not applicable for projection",
			zap.String("event_id", evt.EventID),
			zap.String("event_type", string(evt.EventType)),
			logger.Device(evt.DeviceID),
		)
	case OutcomeAlreadyProjected:
		log.Debug("event already projected", zap.String("event_id", evt.EventID), logger.Device(evt.DeviceID))
	case OutcomeProjected:
		observability.RecordProjected(time.Now())
	}
	observability.RecordProjection(p.Kind(), string(outcome))
	return outcome, nil
}
