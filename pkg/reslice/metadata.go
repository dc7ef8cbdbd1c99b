package reslice

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"

	"dicomreslice/internal/models"
	"dicomreslice/pkg/errors"
	"dicomreslice/pkg/orientation"
)

// Geometry describes how a source stack maps onto a resliced stack.
type Geometry struct {
	Table orientation.Table

	// Sizes are (columns, rows, slices).
	FromSize [3]int
	ToSize   [3]int

	// Spacings are (column spacing, row spacing, slice spacing) in mm.
	FromSpacing [3]float64
	ToSpacing   [3]float64

	// SourceAxes are the source row, column and stacking directions.
	SourceAxes [3]r3.Vec
	Origin     r3.Vec

	Orientation orientation.Orientation
	Normal      r3.Vec

	// DegenerateSpacing is set when the slice spacing could not be measured.
	DegenerateSpacing bool
}

// ComputeGeometry validates src and derives the resliced geometry for table.
// It fails with ErrCodeMissingOrientation if any instance lacks orientation
// or position.
func ComputeGeometry(src *models.Series, table orientation.Table) (*Geometry, error) {
	if !table.Valid() {
		return nil, errors.New(errors.ErrCodeUnsupportedTransform, "invalid permute table %s", table)
	}
	if err := validateSource(src); err != nil {
		return nil, err
	}

	first := &src.First().Metadata
	normal, _ := orientation.Normal(first.Orientation)

	g := &Geometry{
		Table:    table,
		FromSize: [3]int{first.Columns, first.Rows, src.Len()},
		Origin:   *first.Position,
	}

	stack := normal
	if src.Len() > 1 {
		next := src.Instances[src.ImageIDs[1]].Metadata.Position
		if r3.Dot(r3.Sub(*next, *first.Position), normal) < 0 {
			stack = r3.Scale(-1, normal)
		}
	}
	g.SourceAxes = [3]r3.Vec{first.Orientation.Row, first.Orientation.Col, stack}

	sliceSpacing, degenerate := interSliceDistance(src, normal)
	g.DegenerateSpacing = degenerate
	g.FromSpacing = [3]float64{first.PixelSpacing[1], first.PixelSpacing[0], sliceSpacing}

	g.ToSize = orientation.PermuteInts(table, g.FromSize)
	g.ToSpacing = orientation.Permute(table, g.FromSpacing)

	axes := orientation.PermuteSigned(table, g.SourceAxes)
	g.Orientation = orientation.Orientation{Row: axes[0], Col: axes[1]}
	g.Normal, _ = orientation.Normal(&g.Orientation)
	return g, nil
}

func validateSource(src *models.Series) error {
	if src == nil || src.Len() == 0 {
		return errors.New(errors.ErrCodeInvalidInput, "source series is empty")
	}
	for _, id := range src.ImageIDs {
		inst, ok := src.Instances[id]
		if !ok {
			return errors.New(errors.ErrCodeImageNotFound, "image %q listed but not present in series %q", id, src.ID)
		}
		if inst.Metadata.Orientation == nil || inst.Metadata.Position == nil {
			return errors.New(errors.ErrCodeMissingOrientation, "image %q has no orientation or position", id)
		}
	}
	first := &src.First().Metadata
	if _, ok := orientation.Normal(first.Orientation); !ok {
		return errors.New(errors.ErrCodeMissingOrientation, "image %q has degenerate orientation", src.ImageIDs[0])
	}
	if first.Rows <= 0 || first.Columns <= 0 {
		return errors.New(errors.ErrCodeInvalidInput, "image %q has size %dx%d", src.ImageIDs[0], first.Columns, first.Rows)
	}
	return nil
}

// interSliceDistance prefers the slice thickness tag and otherwise projects
// the offset between the first two positions onto the normal.
func interSliceDistance(src *models.Series, normal r3.Vec) (float64, bool) {
	first := &src.First().Metadata
	if first.SliceThickness > 0 {
		return first.SliceThickness, false
	}
	if src.Len() < 2 {
		return 0, true
	}
	p0 := *first.Position
	p1 := *src.Instances[src.ImageIDs[1]].Metadata.Position
	return math.Abs(r3.Dot(r3.Sub(p1, p0), normal)), false
}

// Position returns the Image Position (Patient) of resliced slice f.
func (g *Geometry) Position(f int) r3.Vec {
	base := g.Origin
	for m := 0; m < 2; m++ {
		e := g.Table[m]
		if e.Reversed() {
			offset := float64(g.ToSize[m]-1) * g.FromSpacing[e.Axis]
			base = r3.Add(base, r3.Scale(offset, g.SourceAxes[e.Axis]))
		}
	}

	k := g.Table[2].Axis
	walk := f
	if g.Table[2].Reversed() {
		walk = g.ToSize[2] - 1 - f
	}
	return r3.Add(base, r3.Scale(float64(walk)*g.FromSpacing[k], g.SourceAxes[k]))
}

// SliceLocation projects a position onto the resliced normal.
func (g *Geometry) SliceLocation(p r3.Vec) float64 {
	return r3.Dot(p, g.Normal)
}

// buildInstances synthesizes the metadata of every resliced slice, in
// increasing slice order. nextImageID supplies the image ids.
func buildInstances(src *models.Series, g *Geometry, seriesID string, nextImageID func() string, newUID func() string) []*models.Instance {
	first := &src.First().Metadata
	out := make([]*models.Instance, g.ToSize[2])
	for f := range out {
		pos := g.Position(f)
		orient := g.Orientation
		table := g.Table
		uid := newUID()

		meta := models.Metadata{
			Rows:                g.ToSize[1],
			Columns:             g.ToSize[0],
			PixelSpacing:        [2]float64{g.ToSpacing[1], g.ToSpacing[0]},
			SliceThickness:      g.ToSpacing[2],
			Orientation:         &orient,
			Position:            &pos,
			SliceLocation:       g.SliceLocation(pos),
			RescaleSlope:        first.RescaleSlope,
			RescaleIntercept:    first.RescaleIntercept,
			WindowCenter:        slices.Clone(first.WindowCenter),
			WindowWidth:         slices.Clone(first.WindowWidth),
			BitsAllocated:       first.BitsAllocated,
			BitsStored:          first.BitsStored,
			HighBit:             first.HighBit,
			PixelRepresentation: first.PixelRepresentation,
			PatientID:           first.PatientID,
			PatientName:         first.PatientName,
			StudyInstanceUID:    first.StudyInstanceUID,
			SeriesInstanceUID:   seriesID,
			SOPInstanceUID:      uid,
			InstanceNumber:      f + 1,
			Modality:            first.Modality,
			SeriesDescription:   first.SeriesDescription,
		}

		out[f] = &models.Instance{
			ImageID:    nextImageID(),
			InstanceID: uid,
			Metadata:   meta,
			Permute:    &table,
		}
	}
	return out
}
