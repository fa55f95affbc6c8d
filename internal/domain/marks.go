package domain

import (
	"fmt"
	"math"
)

// MaxMark is the highest mark any single property can earn.
const MaxMark = 5.0

// cgAxes is the number of independently marked center-of-gravity axes.
const cgAxes = 3

// Band is one row of a tolerance table: a percentage error at or below
// MaxError earns Mark.
type Band struct {
	// MaxError is the inclusive upper bound on the percentage error.
	MaxError float64 `yaml:"max_error" json:"max_error" validate:"gte=0"`

	// Mark is awarded when the error falls in this band.
	Mark float64 `yaml:"mark" json:"mark" validate:"gte=0,lte=5"`
}

// Scale maps a percentage error to a mark. Bands are consulted in order and
// the first band whose MaxError is not exceeded wins; errors beyond the last
// band earn zero.
//
// A Scale is a value type and safe for concurrent use.
type Scale []Band

// DefaultScale returns the standard tolerance table:
//
//	error <= 1%  -> 5
//	error <= 20% -> 4
//	error <= 40% -> 3
//	error <= 60% -> 2
//	error <= 80% -> 1
//	otherwise    -> 0
func DefaultScale() Scale {
	return Scale{
		{MaxError: 1, Mark: 5},
		{MaxError: 20, Mark: 4},
		{MaxError: 40, Mark: 3},
		{MaxError: 60, Mark: 2},
		{MaxError: 80, Mark: 1},
	}
}

// Validate checks that bands ascend strictly by MaxError, that marks stay
// within [0, MaxMark] and that marks never increase as error grows.
func (s Scale) Validate() error {
	verr := NewValidationError("Scale")
	if len(s) == 0 {
		verr.AddError("at least one band is required")
		return verr
	}
	for i, b := range s {
		if b.MaxError < 0 || math.IsNaN(b.MaxError) || math.IsInf(b.MaxError, 0) {
			verr.AddError(fmt.Sprintf("band %d: max_error must be a finite non-negative number", i))
		}
		if b.Mark < 0 || b.Mark > MaxMark || math.IsNaN(b.Mark) {
			verr.AddError(fmt.Sprintf("band %d: mark must be between 0 and %.0f", i, MaxMark))
		}
		if i == 0 {
			continue
		}
		prev := s[i-1]
		if b.MaxError <= prev.MaxError {
			verr.AddError(fmt.Sprintf("band %d: max_error %.2f must exceed previous %.2f", i, b.MaxError, prev.MaxError))
		}
		if b.Mark > prev.Mark {
			verr.AddError(fmt.Sprintf("band %d: mark %.2f exceeds previous %.2f", i, b.Mark, prev.Mark))
		}
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

// PercentageError returns |(measured-expected)/expected| * 100. The second
// return value is false when no meaningful error exists: a zero expected
// value or a non-finite input.
func PercentageError(measured, expected float64) (float64, bool) {
	if expected == 0 || !finite(measured) || !finite(expected) {
		return 0, false
	}
	pct := math.Abs((measured-expected)/expected) * 100
	if !finite(pct) {
		return 0, false
	}
	return pct, true
}

// Mark scores measured against expected. A nil value on either side, a zero
// expected value or a non-finite input all score zero; Mark never panics.
func (s Scale) Mark(measured, expected *float64) float64 {
	if measured == nil || expected == nil {
		return 0
	}
	return s.MarkValue(*measured, *expected)
}

// MarkValue is Mark for values known to be present.
func (s Scale) MarkValue(measured, expected float64) float64 {
	pct, ok := PercentageError(measured, expected)
	if !ok {
		return 0
	}
	for _, b := range s {
		if pct <= b.MaxError {
			return clampMark(b.Mark)
		}
	}
	return 0
}

// CGMark marks each axis of the center of gravity independently, weights
// each axis mark by one third and sums them. A fully correct vector earns
// MaxMark; a vector correct on two axes earns two thirds of it.
func (s Scale) CGMark(measured, expected Vector3) float64 {
	m := measured.Components()
	e := expected.Components()
	total := 0.0
	for axis := range cgAxes {
		total += s.MarkValue(m[axis], e[axis]) / cgAxes
	}
	return clampMark(total)
}

// MarkSet marks every property of measured against expected.
func (s Scale) MarkSet(measured GeometricProperties, expected ExpectedProperties) MarkSet {
	return MarkSet{
		VolumeMark:      s.MarkValue(measured.Volume, expected.Volume),
		SurfaceAreaMark: s.MarkValue(measured.SurfaceArea, expected.SurfaceArea),
		CGMark:          s.CGMark(measured.CenterOfGravity, expected.CenterOfGravity),
	}
}

// MarkSet holds the per-property marks for one submission.
type MarkSet struct {
	VolumeMark      float64 `json:"volume_mark"`
	SurfaceAreaMark float64 `json:"surface_area_mark"`
	CGMark          float64 `json:"cg_mark"`
}

// Total is the aggregate score for the submission, in [0, 3*MaxMark].
func (m MarkSet) Total() float64 { return m.VolumeMark + m.SurfaceAreaMark + m.CGMark }

func clampMark(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > MaxMark:
		return MaxMark
	default:
		return v
	}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
