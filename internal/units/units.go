// Package units holds the value types shared by projections and calculators.
package units

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrNegativeWeight is returned for weights below zero.
	ErrNegativeWeight = errors.New("weight must not be negative")
	// ErrNonPositiveReps is returned for rep counts below one.
	ErrNonPositiveReps = errors.New("reps must be positive")
)

// Weight is a load in kilograms.
type Weight float64

// NewWeight validates kg.
func NewWeight(kg float64) (Weight, error) {
	if kg < 0 || math.IsNaN(kg) || math.IsInf(kg, 0) {
		return 0, ErrNegativeWeight
	}
	return Weight(kg), nil
}

// Kg returns the raw kilogram value.
func (w Weight) Kg() float64 { return float64(w) }

// Reps is a repetition count.
type Reps int

// NewReps validates n.
func NewReps(n int) (Reps, error) {
	if n <= 0 {
		return 0, ErrNonPositiveReps
	}
	return Reps(n), nil
}

// Volume is weight multiplied by repetitions, in kilograms.
type Volume float64

// VolumeOf computes the volume of a set.
func VolumeOf(w Weight, r Reps) Volume {
	return Volume(Round2(float64(w) * float64(r)))
}

// Add sums two volumes keeping two decimals.
func (v Volume) Add(other Volume) Volume {
	return Volume(Round2(float64(v) + float64(other)))
}

// Kg returns the raw value.
func (v Volume) Kg() float64 { return float64(v) }

// Round2 rounds half-up to two decimals using the shortest decimal form of v.
func Round2(v float64) float64 {
	return RoundPlaces(v, 2)
}

// RoundPlaces rounds half-up (away from zero) to the given number of decimals.
func RoundPlaces(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// RoundInt rounds to the nearest integer, halves away from zero.
func RoundInt(v float64) int {
	return int(math.Round(v))
}
