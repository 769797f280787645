package projection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"example.com/healthassistant/internal/events"
	"example.com/healthassistant/internal/logger"
	"example.com/healthassistant/internal/retry"
)

// Report summarises a batch. Failures are isolated per event.
type Report struct {
	Projected        int
	AlreadyProjected int
	NotApplicable    int
	Removed          int
	Failures         []Failure
	dates            map[time.Time]struct{}
	allDates         bool
}

// Failure records an event whose processing gave up.
type Failure struct {
	DeviceID  string
	EventID   string
	EventType events.Type
	Err       error
}

func (r *Report) count(o Outcome) {
	switch o {
	case OutcomeProjected:
		r.Projected++
	case OutcomeAlreadyProjected:
		r.AlreadyProjected++
	case OutcomeNotApplicable:
		r.NotApplicable++
	}
}

func (r *Report) touch(dates ...time.Time) {
	if r.dates == nil {
		r.dates = make(map[time.Time]struct{})
	}
	for _, d := range dates {
		r.dates[d] = struct{}{}
	}
}

// touchAll marks a change whose dates are unknown, such as the removal of a raw event
// that had no projection.
func (r *Report) touchAll() { r.allDates = true }

// TouchesAllDates reports whether cached reads of every date of the device may be stale.
func (r Report) TouchesAllDates() bool { return r.allDates }

// Failed returns the number of failures.
func (r Report) Failed() int { return len(r.Failures) }

// TouchedDates lists every date whose projections may have changed, ascending.
func (r Report) TouchedDates() []time.Time {
	out := make([]time.Time, 0, len(r.dates))
	for d := range r.dates {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (r *Report) merge(other Report) {
	r.Projected += other.Projected
	r.AlreadyProjected += other.AlreadyProjected
	r.NotApplicable += other.NotApplicable
	r.Removed += other.Removed
	r.Failures = append(r.Failures, other.Failures...)
	r.allDates = r.allDates || other.allDates
	for d := range other.dates {
		r.touch(d)
	}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger overrides the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRetryPolicy overrides the conflict retry policy.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(p *Pipeline) {
		p.policy = policy
	}
}

// WithLocation sets the zone used to assign calendar dates.
func WithLocation(loc *time.Location) Option {
	return func(p *Pipeline) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// WithClock overrides the clock stamped on rollups.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// Pipeline routes events to the projector of their kind.
type Pipeline struct {
	store      Store
	log        events.Log
	logger     *zap.Logger
	policy     retry.Policy
	loc        *time.Location
	now        func() time.Time
	rollups    *RollupUpdater
	uow        unitOfWork
	projectors []kindProjector
}

// NewPipeline wires the workout and meal projectors over store.
func NewPipeline(store Store, log events.Log, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:  store,
		log:    log,
		logger: zap.NewNop(),
		policy: retry.DefaultPolicy(),
		loc:    time.UTC,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.logger = p.logger.Named("projection")
	p.rollups = NewRollupUpdater(p.now)
	p.uow = unitOfWork{store: store, policy: p.policy, logger: p.logger}
	factory := NewFactory(p.loc)
	p.projectors = []kindProjector{
		&WorkoutProjector{factory: factory, rollups: p.rollups, uow: p.uow, logger: p.logger.Named("workout")},
		&MealProjector{factory: factory, rollups: p.rollups, uow: p.uow, logger: p.logger.Named("meal")},
	}
	return p
}

// Location returns the zone used for calendar dates.
func (p *Pipeline) Location() *time.Location { return p.loc }

func (p *Pipeline) projectorFor(t events.Type) kindProjector {
	for _, proj := range p.projectors {
		if proj.Supports(t) {
			return proj
		}
	}
	return nil
}

// Handles reports whether any projector is interested in t.
func (p *Pipeline) Handles(t events.Type) bool {
	return p.projectorFor(t) != nil
}

// Project routes a single event. Unsupported types are not applicable.
func (p *Pipeline) Project(ctx context.Context, evt events.EventData) (Outcome, error) {
	proj := p.projectorFor(evt.EventType)
	if proj == nil {
		return OutcomeNotApplicable, nil
	}
	return proj.Project(ctx, evt)
}

// ProjectEvents projects each event in order, each in its own unit of work.
// A failing event is logged and recorded in the report; the loop continues.
func (p *Pipeline) ProjectEvents(ctx context.Context, evts []events.EventData) Report {
	var report Report
	for _, evt := range evts {
		if ctx.Err() != nil {
			report.Failures = append(report.Failures, failureOf(evt, ctx.Err()))
			continue
		}
		outcome, err := p.Project(ctx, evt)
		if err != nil {
			p.logger.Error("projection failed",
				zap.String("event_id", evt.EventID),
				zap.String("event_type", string(evt.EventType)),
				logger.Device(evt.DeviceID),
				zap.Error(err),
			)
			report.Failures = append(report.Failures, failureOf(evt, err))
			continue
		}
		report.count(outcome)
		if outcome == OutcomeProjected {
			report.touch(events.DateOf(evt.OccurredAt, p.loc))
		}
	}
	return report
}

func failureOf(evt events.EventData, err error) Failure {
	return Failure{DeviceID: evt.DeviceID, EventID: evt.EventID, EventType: evt.EventType, Err: err}
}

// DeleteProjectionsForDate removes every projection of the date, its meal counter and rollup.
func (p *Pipeline) DeleteProjectionsForDate(ctx context.Context, deviceID string, date time.Time) error {
	return p.uow.run(ctx, "rebuild", deviceID, func(ctx context.Context, tx Tx) error {
		if err := tx.DeleteWorkoutsForDate(ctx, deviceID, date); err != nil {
			return fmt.Errorf("delete workouts: %w", err)
		}
		if err := tx.DeleteMealsForDate(ctx, deviceID, date); err != nil {
			return fmt.Errorf("delete meals: %w", err)
		}
		if err := tx.ResetMealNumbers(ctx, deviceID, date); err != nil {
			return fmt.Errorf("reset meal numbers: %w", err)
		}
		if err := tx.DeleteRollup(ctx, deviceID, date); err != nil {
			return fmt.Errorf("delete rollup: %w", err)
		}
		return nil
	})
}

// ReprojectDate deletes the projections of a date and projects its events again in arrival order.
func (p *Pipeline) ReprojectDate(ctx context.Context, deviceID string, date time.Time) (Report, error) {
	if err := p.DeleteProjectionsForDate(ctx, deviceID, date); err != nil {
		return Report{}, err
	}
	evts, err := p.log.FindEventsForDateRange(ctx, deviceID, date, date)
	if err != nil {
		return Report{}, fmt.Errorf("load events for %s: %w", events.FormatDate(date), err)
	}
	report := p.ProjectEvents(ctx, evts)
	report.touch(date)
	return report, nil
}

// ReprojectAllWorkouts drops every workout projection of the device and rebuilds them
// from the full event history. Re-running it is safe.
func (p *Pipeline) ReprojectAllWorkouts(ctx context.Context, deviceID string) (Report, error) {
	var cleared []time.Time
	err := p.uow.run(ctx, "rebuild", deviceID, func(ctx context.Context, tx Tx) error {
		dates, err := tx.DeleteAllWorkouts(ctx, deviceID)
		if err != nil {
			return fmt.Errorf("delete workouts: %w", err)
		}
		for _, d := range dates {
			if err := p.rollups.Recompute(ctx, tx, deviceID, d); err != nil {
				return err
			}
		}
		cleared = dates
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	history, err := p.log.FindEventsByType(ctx, deviceID, events.TypeWorkout)
	if err != nil {
		return Report{}, fmt.Errorf("load workout history: %w", err)
	}

	report := p.ProjectEvents(ctx, history)
	report.touch(cleared...)
	p.logger.Info("workouts reprojected",
		logger.Device(deviceID),
		zap.Int("events", len(history)),
		zap.Int("projected", report.Projected),
		zap.Int("failed", report.Failed()),
	)
	return report, nil
}

// Resync brings the projection of one event in line with the event log: any existing
// projection is removed and, if the event is still live, projected again.
func (p *Pipeline) Resync(ctx context.Context, deviceID, eventID string, eventType events.Type) (Outcome, []time.Time, error) {
	proj := p.projectorFor(eventType)
	if proj == nil {
		return OutcomeNotApplicable, nil, nil
	}

	current, err := p.log.FindEventByID(ctx, deviceID, eventID)
	if err != nil {
		return "", nil, fmt.Errorf("load event: %w", err)
	}
	if current != nil && current.EventType != eventType {
		current = nil
	}

	var (
		outcome = OutcomeNotApplicable
		touched []time.Time
	)
	err = p.uow.run(ctx, proj.Kind(), deviceID, func(ctx context.Context, tx Tx) error {
		outcome, touched = OutcomeNotApplicable, nil
		removed, err := proj.removeTx(ctx, tx, deviceID, eventID)
		if err != nil {
			return err
		}
		if removed != nil {
			touched = append(touched, removed.Date)
		}
		if current == nil {
			return nil
		}
		o, err := proj.applyTx(ctx, tx, *current, removed)
		if err != nil {
			return err
		}
		outcome = o
		if o == OutcomeProjected {
			touched = append(touched, events.DateOf(current.OccurredAt, p.loc))
		}
		return nil
	})
	if errors.Is(err, ErrDuplicate) {
		return OutcomeAlreadyProjected, touched, nil
	}
	if err != nil {
		return "", nil, err
	}
	return outcome, touched, nil
}
