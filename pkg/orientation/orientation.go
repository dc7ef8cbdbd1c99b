// Package orientation provides the vector primitives used to reslice an image
// stack into another orthogonal viewing plane.
//
// Image orientation follows the DICOM convention: the first direction cosine
// vector runs along a row (increasing column index), the second along a column
// (increasing row index), and the slice normal is their cross product.
package orientation

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// Plane identifies one of the three orthogonal viewing planes.
type Plane int

const (
	Unknown Plane = iota
	Axial
	Coronal
	Sagittal
)

// String returns the lower-case plane name.
func (p Plane) String() string {
	switch p {
	case Axial:
		return "axial"
	case Coronal:
		return "coronal"
	case Sagittal:
		return "sagittal"
	default:
		return "unknown"
	}
}

// ParsePlane converts a plane name into a Plane.
func ParsePlane(s string) (Plane, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "axial":
		return Axial, nil
	case "coronal":
		return Coronal, nil
	case "sagittal":
		return Sagittal, nil
	}
	return Unknown, fmt.Errorf("invalid plane %q (must be axial, coronal or sagittal)", s)
}

// Orientation holds the Image Orientation (Patient) direction cosines.
type Orientation struct {
	// Row is the direction of increasing column index.
	Row r3.Vec
	// Col is the direction of increasing row index.
	Col r3.Vec
}

// FromSlice builds an Orientation from the six values of the DICOM tag.
func FromSlice(v []float64) (*Orientation, error) {
	if len(v) != 6 {
		return nil, fmt.Errorf("image orientation needs 6 values, got %d", len(v))
	}
	return &Orientation{
		Row: r3.Vec{X: v[0], Y: v[1], Z: v[2]},
		Col: r3.Vec{X: v[3], Y: v[4], Z: v[5]},
	}, nil
}

// Values returns the six direction cosines in tag order.
func (o Orientation) Values() []float64 {
	return []float64{o.Row.X, o.Row.Y, o.Row.Z, o.Col.X, o.Col.Y, o.Col.Z}
}

// Normal returns row × col. ok is false when the orientation is missing or
// the two vectors are parallel.
func Normal(o *Orientation) (n r3.Vec, ok bool) {
	if o == nil {
		return r3.Vec{}, false
	}
	n = r3.Cross(o.Row, o.Col)
	if r3.Norm(n) == 0 {
		return r3.Vec{}, false
	}
	return n, true
}

// DominantAxis returns the index (0=x, 1=y, 2=z) of the component of v with
// the largest magnitude.
func DominantAxis(v r3.Vec) int {
	c := [3]float64{math.Abs(v.X), math.Abs(v.Y), math.Abs(v.Z)}
	axis := 0
	for i := 1; i < 3; i++ {
		if c[i] > c[axis] {
			axis = i
		}
	}
	return axis
}

// PlaneOf classifies an orientation by the dominant component of its normal.
func PlaneOf(o *Orientation) Plane {
	n, ok := Normal(o)
	if !ok {
		return Unknown
	}
	switch DominantAxis(n) {
	case 0:
		return Sagittal
	case 1:
		return Coronal
	default:
		return Axial
	}
}
