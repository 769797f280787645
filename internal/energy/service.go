package energy

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"example.com/healthassistant/internal/logger"
	"example.com/healthassistant/internal/units"
)

// LeanBodyMassWindow is how many recent measurements are averaged.
const LeanBodyMassWindow = 3

// Measurement is one body-composition reading.
type Measurement struct {
	MeasuredAt     time.Time
	WeightKg       float64
	LeanBodyMassKg *float64
}

// WeightHistory supplies body-composition readings, most recent first.
type WeightHistory interface {
	RecentMeasurements(ctx context.Context, deviceID string, until time.Time, limit int) ([]Measurement, error)
}

// ActivityFacade supplies the activity inputs for a date.
type ActivityFacade interface {
	StepsForDate(ctx context.Context, deviceID string, date time.Time) (int, error)
	IsTrainingDay(ctx context.Context, deviceID string, date time.Time) (bool, error)
}

// AverageLeanBodyMass averages the first LeanBodyMassWindow valid values of measurements,
// which must be ordered most recent first. ok is false when none are valid.
func AverageLeanBodyMass(measurements []Measurement) (avg float64, ok bool) {
	var (
		sum float64
		n   int
	)
	for _, m := range measurements {
		if n == LeanBodyMassWindow {
			break
		}
		if m.LeanBodyMassKg == nil {
			continue
		}
		v := *m.LeanBodyMassKg
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, false
	}
	return units.Round2(sum / float64(n)), true
}

// Service computes requirements for stored devices.
type Service struct {
	calc     *Calculator
	weights  WeightHistory
	activity ActivityFacade
	loc      *time.Location
	logger   *zap.Logger
}

// NewService wires the calculator to its facades. Dates are interpreted in loc.
func NewService(calc *Calculator, weights WeightHistory, activity ActivityFacade, loc *time.Location, log *zap.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{calc: calc, weights: weights, activity: activity, loc: loc, logger: log.Named("energy")}
}

// Requirements returns nil when the device has no usable lean body mass on or before date.
func (s *Service) Requirements(ctx context.Context, deviceID string, date time.Time) (*Requirements, error) {
	// Readings taken any time during date count.
	until := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, s.loc).AddDate(0, 0, 1)

	// Over-fetch so readings without lean body mass do not shrink the window.
	history, err := s.weights.RecentMeasurements(ctx, deviceID, until, LeanBodyMassWindow*4)
	if err != nil {
		return nil, fmt.Errorf("load weight history: %w", err)
	}
	lbm, ok := AverageLeanBodyMass(history)
	if !ok {
		s.logger.Debug("no lean body mass available", logger.Device(deviceID))
		return nil, nil
	}

	steps, err := s.activity.StepsForDate(ctx, deviceID, date)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	training, err := s.activity.IsTrainingDay(ctx, deviceID, date)
	if err != nil {
		return nil, fmt.Errorf("load training day: %w", err)
	}

	req, err := s.calc.Calculate(Input{LeanBodyMassKg: lbm, Steps: steps, IsTrainingDay: training})
	if err != nil {
		return nil, err
	}
	return &req, nil
}
