// Package domain contains pure, dependency-free domain models and types
// for the grading pipeline.
package domain

import (
	"fmt"
	"math"
)

// Vector3 is a point or direction in model space.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Components returns the axes in X, Y, Z order.
func (v Vector3) Components() [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

// String renders the vector as a 3-tuple with millimetre precision.
func (v Vector3) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", v.X, v.Y, v.Z)
}

// GeometricProperties holds the mass properties derived from a single solid
// model. Values are produced by a geometry kernel and treated as immutable
// once created; they are passed by value.
type GeometricProperties struct {
	// Volume is the enclosed volume of the solid in model units cubed.
	Volume float64 `json:"volume"`

	// SurfaceArea is the total area of all bounding faces in model units
	// squared.
	SurfaceArea float64 `json:"surface_area"`

	// CenterOfGravity is the centroid of the solid assuming uniform density.
	CenterOfGravity Vector3 `json:"center_of_gravity"`
}

// Validate reports whether every component is a finite number.
// Kernels occasionally return NaN for degenerate shells, which would
// otherwise flow silently into the marks.
func (p GeometricProperties) Validate() error {
	verr := NewValidationError("GeometricProperties")
	check := func(field string, v float64) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			verr.AddError(fmt.Sprintf("%s is not finite: %v", field, v))
		}
	}
	check("volume", p.Volume)
	check("surface_area", p.SurfaceArea)
	check("center_of_gravity.x", p.CenterOfGravity.X)
	check("center_of_gravity.y", p.CenterOfGravity.Y)
	check("center_of_gravity.z", p.CenterOfGravity.Z)
	if verr.HasErrors() {
		return verr
	}
	return nil
}

// ExpectedProperties are the properties of the reference solution. They are
// computed once per batch and read by every mark calculation in it.
type ExpectedProperties struct {
	GeometricProperties

	// ReferencePath is the CAD document the values were extracted from.
	ReferencePath string `json:"reference_path"`
}

// NewExpectedProperties wraps properties extracted from the reference
// solution at path.
func NewExpectedProperties(path string, props GeometricProperties) ExpectedProperties {
	return ExpectedProperties{GeometricProperties: props, ReferencePath: path}
}

// Extraction is the outcome of measuring one CAD document.
type Extraction struct {
	// Properties are the measured values.
	Properties GeometricProperties `json:"properties"`

	// Attempts is the number of export attempts it took. Zero when the
	// values came from a cache.
	Attempts int `json:"attempts"`

	// Cached reports whether the values were served from a cache instead of
	// a fresh export.
	Cached bool `json:"cached"`
}
