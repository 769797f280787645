// Package domain exposes the read and rebuild operations of the health projection service.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"example.com/healthassistant/internal/aggregate"
	"example.com/healthassistant/internal/cache"
	"example.com/healthassistant/internal/energy"
	"example.com/healthassistant/internal/events"
	"example.com/healthassistant/internal/exercisestats"
	"example.com/healthassistant/internal/logger"
	"example.com/healthassistant/internal/projection"
)

var (
	// ErrNotFound is returned for events the caller's device does not own, or whose type
	// differs from the one expected. Both cases look the same to callers.
	ErrNotFound = errors.New("event not found")
	// ErrEnergyUnavailable is returned when no energy service was configured.
	ErrEnergyUnavailable = errors.New("energy requirements are not configured")
)

// Option configures a Service.
type Option func(*Service)

// WithCache sets the daily snapshot cache.
func WithCache(c cache.SnapshotCache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithEnergy sets the service answering energy requirement queries.
func WithEnergy(e *energy.Service) Option {
	return func(s *Service) {
		s.energy = e
	}
}

// WithLogger overrides the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service orchestrates reads over the event log and projections, and rebuilds.
type Service struct {
	log      events.Log
	store    projection.Reader
	pipeline *projection.Pipeline
	daily    *aggregate.DailyAggregator
	energy   *energy.Service
	cache    cache.SnapshotCache
	loc      *time.Location
	logger   *zap.Logger
}

// NewService constructs a Service. Dates are interpreted in the pipeline's location.
func NewService(log events.Log, store projection.Reader, pipeline *projection.Pipeline, opts ...Option) *Service {
	s := &Service{
		log:      log,
		store:    store,
		pipeline: pipeline,
		cache:    cache.Noop{},
		loc:      pipeline.Location(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("domain")
	s.daily = aggregate.NewDailyAggregator(s.logger)
	return s
}

// GetDailySummary returns nil when the date has no data.
func (s *Service) GetDailySummary(ctx context.Context, deviceID string, date time.Time) (*aggregate.DailySnapshot, error) {
	cached, err := s.cache.Get(ctx, deviceID, date)
	if err != nil {
		s.logger.Warn("snapshot cache read failed", logger.Device(deviceID), zap.Error(err))
	} else if cached != nil {
		return cached, nil
	}

	snapshots, err := s.snapshots(ctx, deviceID, date, date)
	if err != nil {
		return nil, err
	}
	snapshot := snapshots[0]
	if snapshot.IsEmpty() {
		return nil, nil
	}

	if err := s.cache.Set(ctx, snapshot); err != nil {
		s.logger.Warn("snapshot cache write failed", logger.Device(deviceID), zap.Error(err))
	}
	return &snapshot, nil
}

// GetRangeSummary folds the daily snapshots of [from, to].
func (s *Service) GetRangeSummary(ctx context.Context, deviceID string, from, to time.Time) (aggregate.RangeSummary, error) {
	if err := aggregate.ValidateRange(from, to); err != nil {
		return aggregate.RangeSummary{}, err
	}
	snapshots, err := s.snapshots(ctx, deviceID, from, to)
	if err != nil {
		return aggregate.RangeSummary{}, err
	}
	acc := aggregate.NewRangeAccumulator()
	for _, snapshot := range snapshots {
		acc.Add(snapshot)
	}
	return acc.Summary(deviceID, from, to), nil
}

// snapshots builds one snapshot per date of [from, to] from a single log read.
func (s *Service) snapshots(ctx context.Context, deviceID string, from, to time.Time) ([]aggregate.DailySnapshot, error) {
	evts, err := s.log.FindEventsForDateRange(ctx, deviceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	meals, err := s.store.ListMeals(ctx, deviceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load meal projections: %w", err)
	}
	mealNumbers := make(map[string]int, len(meals))
	for _, m := range meals {
		mealNumbers[m.EventID] = m.MealNumber
	}

	byDate := make(map[time.Time][]events.EventData)
	for _, evt := range evts {
		d := events.DateOf(evt.OccurredAt, s.loc)
		byDate[d] = append(byDate[d], evt)
	}

	dates := events.DatesBetween(from, to)
	out := make([]aggregate.DailySnapshot, 0, len(dates))
	for _, d := range dates {
		snapshot := s.daily.Aggregate(deviceID, d, byDate[d])
		for i := range snapshot.Meals {
			snapshot.Meals[i].MealNumber = mealNumbers[snapshot.Meals[i].EventID]
		}
		out = append(out, snapshot)
	}
	return out, nil
}

// GetDailyRollups lists the stored rollups of [from, to].
func (s *Service) GetDailyRollups(ctx context.Context, deviceID string, from, to time.Time) ([]projection.DailyRollup, error) {
	if err := aggregate.ValidateRange(from, to); err != nil {
		return nil, err
	}
	return s.store.ListRollups(ctx, deviceID, from, to)
}

// ProjectEvents projects events directly, bypassing notifications.
func (s *Service) ProjectEvents(ctx context.Context, evts []events.EventData) projection.Report {
	report := s.pipeline.ProjectEvents(ctx, evts)
	byDevice := make(map[string][]time.Time)
	for _, evt := range evts {
		byDevice[evt.DeviceID] = append(byDevice[evt.DeviceID], events.DateOf(evt.OccurredAt, s.loc))
	}
	for deviceID, dates := range byDevice {
		s.invalidate(ctx, deviceID, dates...)
	}
	return report
}

// DeleteProjectionsForDate removes every projection of the date.
func (s *Service) DeleteProjectionsForDate(ctx context.Context, deviceID string, date time.Time) error {
	if err := s.pipeline.DeleteProjectionsForDate(ctx, deviceID, date); err != nil {
		return err
	}
	s.invalidate(ctx, deviceID, date)
	return nil
}

// ReprojectDate rebuilds the projections of one date from the log.
func (s *Service) ReprojectDate(ctx context.Context, deviceID string, date time.Time) (projection.Report, error) {
	report, err := s.pipeline.ReprojectDate(ctx, deviceID, date)
	s.invalidate(ctx, deviceID, report.TouchedDates()...)
	return report, err
}

// ReprojectAllWorkouts rebuilds every workout projection of the device.
func (s *Service) ReprojectAllWorkouts(ctx context.Context, deviceID string) (projection.Report, error) {
	report, err := s.pipeline.ReprojectAllWorkouts(ctx, deviceID)
	s.invalidate(ctx, deviceID, report.TouchedDates()...)
	return report, err
}

func (s *Service) invalidate(ctx context.Context, deviceID string, dates ...time.Time) {
	if len(dates) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, deviceID, dates...); err != nil {
		s.logger.Warn("cache invalidation failed", logger.Device(deviceID), zap.Error(err))
	}
}

// GetEnergyRequirements returns nil when the device has no usable weight history.
func (s *Service) GetEnergyRequirements(ctx context.Context, deviceID string, date time.Time) (*energy.Requirements, error) {
	if s.energy == nil {
		return nil, ErrEnergyUnavailable
	}
	return s.energy.Requirements(ctx, deviceID, date)
}

// GetExerciseStatistics returns nil when the exercise was never performed in the window.
// Nil bounds are open.
func (s *Service) GetExerciseStatistics(ctx context.Context, deviceID, exerciseID string, from, to *time.Time) (*exercisestats.Statistics, error) {
	var lo, hi time.Time
	if from != nil {
		lo = *from
	}
	if to != nil {
		hi = *to
	}
	if from != nil && to != nil && lo.After(hi) {
		return nil, fmt.Errorf("%w: from %s is after to %s", aggregate.ErrInvalidRange, events.FormatDate(lo), events.FormatDate(hi))
	}

	workouts, err := s.workoutEntries(ctx, deviceID, lo, hi)
	if err != nil {
		return nil, err
	}
	return exercisestats.Build(exerciseID, workouts), nil
}

// GetAllPersonalRecords lists the heaviest set of every exercise the device performed.
func (s *Service) GetAllPersonalRecords(ctx context.Context, deviceID string) ([]exercisestats.PersonalRecord, error) {
	workouts, err := s.workoutEntries(ctx, deviceID, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	return exercisestats.SelectPersonalRecords(workouts), nil
}

func (s *Service) workoutEntries(ctx context.Context, deviceID string, from, to time.Time) ([]aggregate.WorkoutEntry, error) {
	projections, err := s.store.ListWorkouts(ctx, deviceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load workouts: %w", err)
	}
	out := make([]aggregate.WorkoutEntry, 0, len(projections))
	for _, p := range projections {
		out = append(out, p.WorkoutEntry())
	}
	return out, nil
}

// FindOwnedEvent loads an event of the device that must have the expected type.
func (s *Service) FindOwnedEvent(ctx context.Context, deviceID, eventID string, expected events.Type) (*events.EventData, error) {
	evt, err := s.log.FindEventByID(ctx, deviceID, eventID)
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}
	if evt == nil || evt.DeviceID != deviceID || evt.EventType != expected {
		return nil, ErrNotFound
	}
	return evt, nil
}
