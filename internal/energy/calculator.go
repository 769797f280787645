// Package energy derives daily calorie and macronutrient targets from lean body mass and activity.
package energy

import (
	"errors"
	"fmt"
	"math"

	"example.com/healthassistant/internal/units"
)

// ErrInvalidInput is returned for inputs that can only come from corrupt data.
var ErrInvalidInput = errors.New("energy: invalid input")

const (
	kcalPerGramProtein = 4
	kcalPerGramFat     = 9
	kcalPerGramCarbs   = 4
)

// Config holds the tunable multipliers and thresholds.
type Config struct {
	BaseMultiplier      float64 `env:"BASE_MULTIPLIER" envDefault:"1.4"`
	StepThreshold       int     `env:"STEP_THRESHOLD" envDefault:"5000"`
	StepIntervalSize    int     `env:"STEP_INTERVAL" envDefault:"1000"`
	KcalPerStepInterval int     `env:"KCAL_PER_STEP_INTERVAL" envDefault:"50"`
	MaxStepIntervals    int     `env:"MAX_STEP_INTERVALS" envDefault:"10"`
	TrainingBonusKcal   int     `env:"TRAINING_BONUS_KCAL" envDefault:"300"`
	SurplusKcal         int     `env:"SURPLUS_KCAL" envDefault:"300"`
	ProteinPerKgLBM     float64 `env:"PROTEIN_PER_KG_LBM" envDefault:"2.2"`
	FatGramsTrainingDay int     `env:"FAT_GRAMS_TRAINING_DAY" envDefault:"80"`
	FatGramsRestDay     int     `env:"FAT_GRAMS_REST_DAY" envDefault:"90"`
}

// DefaultConfig mirrors the env defaults.
func DefaultConfig() Config {
	return Config{
		BaseMultiplier:      1.4,
		StepThreshold:       5000,
		StepIntervalSize:    1000,
		KcalPerStepInterval: 50,
		MaxStepIntervals:    10,
		TrainingBonusKcal:   300,
		SurplusKcal:         300,
		ProteinPerKgLBM:     2.2,
		FatGramsTrainingDay: 80,
		FatGramsRestDay:     90,
	}
}

// Validate rejects configurations that would divide by zero or produce negative bonuses.
func (c Config) Validate() error {
	switch {
	case c.BaseMultiplier <= 0:
		return fmt.Errorf("%w: base multiplier must be positive", ErrInvalidInput)
	case c.StepIntervalSize <= 0:
		return fmt.Errorf("%w: step interval must be positive", ErrInvalidInput)
	case c.StepThreshold < 0, c.KcalPerStepInterval < 0, c.MaxStepIntervals < 0:
		return fmt.Errorf("%w: step bonus settings must not be negative", ErrInvalidInput)
	case c.ProteinPerKgLBM < 0, c.FatGramsTrainingDay < 0, c.FatGramsRestDay < 0:
		return fmt.Errorf("%w: macro settings must not be negative", ErrInvalidInput)
	}
	return nil
}

// Input is one day's calculation input.
type Input struct {
	LeanBodyMassKg float64
	Steps          int
	IsTrainingDay  bool
}

// Requirements is the calculated target for a day.
type Requirements struct {
	LeanBodyMassKg float64 `json:"lean_body_mass_kg"`
	Steps          int     `json:"steps"`
	IsTrainingDay  bool    `json:"is_training_day"`
	BMR            int     `json:"bmr"`
	BaseCalories   int     `json:"base_calories"`
	StepBonus      int     `json:"step_bonus"`
	TrainingBonus  int     `json:"training_bonus"`
	Surplus        int     `json:"surplus"`
	TargetCalories int     `json:"target_calories"`
	ProteinG       int     `json:"protein_g"`
	FatG           int     `json:"fat_g"`
	CarbsG         int     `json:"carbs_g"`
}

// Calculator applies the Katch-McArdle based model.
type Calculator struct {
	cfg Config
}

// NewCalculator validates cfg.
func NewCalculator(cfg Config) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{cfg: cfg}, nil
}

// BMR returns 370 + 21.6 × LBM rounded to the nearest kcal.
func BMR(leanBodyMassKg float64) (int, error) {
	if leanBodyMassKg <= 0 || math.IsNaN(leanBodyMassKg) || math.IsInf(leanBodyMassKg, 0) {
		return 0, fmt.Errorf("%w: lean body mass must be positive", ErrInvalidInput)
	}
	return units.RoundInt(370 + 21.6*leanBodyMassKg), nil
}

// StepBonus returns the capped per-interval bonus for steps above the threshold.
func (c *Calculator) StepBonus(steps int) int {
	if steps <= c.cfg.StepThreshold {
		return 0
	}
	intervals := (steps - c.cfg.StepThreshold) / c.cfg.StepIntervalSize
	if intervals > c.cfg.MaxStepIntervals {
		intervals = c.cfg.MaxStepIntervals
	}
	return intervals * c.cfg.KcalPerStepInterval
}

// Calculate returns the day's calorie and macro targets.
func (c *Calculator) Calculate(in Input) (Requirements, error) {
	if in.Steps < 0 {
		return Requirements{}, fmt.Errorf("%w: steps must not be negative", ErrInvalidInput)
	}
	bmr, err := BMR(in.LeanBodyMassKg)
	if err != nil {
		return Requirements{}, err
	}

	req := Requirements{
		LeanBodyMassKg: in.LeanBodyMassKg,
		Steps:          in.Steps,
		IsTrainingDay:  in.IsTrainingDay,
		BMR:            bmr,
		BaseCalories:   units.RoundInt(float64(bmr) * c.cfg.BaseMultiplier),
		StepBonus:      c.StepBonus(in.Steps),
		Surplus:        c.cfg.SurplusKcal,
		FatG:           c.cfg.FatGramsRestDay,
	}
	if in.IsTrainingDay {
		req.TrainingBonus = c.cfg.TrainingBonusKcal
		req.FatG = c.cfg.FatGramsTrainingDay
	}
	req.TargetCalories = req.BaseCalories + req.StepBonus + req.TrainingBonus + req.Surplus

	req.ProteinG = units.RoundInt(c.cfg.ProteinPerKgLBM * in.LeanBodyMassKg)
	remaining := req.TargetCalories - req.ProteinG*kcalPerGramProtein - req.FatG*kcalPerGramFat
	if remaining > 0 {
		req.CarbsG = remaining / kcalPerGramCarbs
	}
	return req, nil
}
