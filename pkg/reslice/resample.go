package reslice

import (
	"dicomreslice/internal/models"
	"dicomreslice/pkg/errors"
	"dicomreslice/pkg/orientation"
)

// PixelSource gives read access to decoded source pixel buffers. The
// resampler never triggers a decode.
type PixelSource interface {
	Get(imageID string) (models.PixelBuffer, bool)
}

// Result is one resampled slice.
type Result struct {
	Pixels models.PixelBuffer

	// Unresolved counts destination pixels whose source slice was not cached.
	// Those pixels are left at zero.
	Unresolved int
}

// Resample computes resliced slice frame of dst by reading the cached pixels
// of src. Axis-aligned tables make the mapping an exact bijection between
// integer voxel coordinates, so no interpolation takes place.
func Resample(src *models.Series, dst *models.Instance, frame int, pixels PixelSource) (*Result, error) {
	if dst == nil || dst.Permute == nil {
		return nil, errors.New(errors.ErrCodeMissingPermuteTable, "resliced instance carries no permute table")
	}
	table := *dst.Permute
	if !table.Valid() {
		return nil, errors.New(errors.ErrCodeMissingPermuteTable, "invalid permute table %s", table)
	}
	first := src.First()
	if first == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "source series %q is empty", src.ID)
	}

	fromSize := [3]int{first.Metadata.Columns, first.Metadata.Rows, src.Len()}
	toSize := orientation.PermuteInts(table, fromSize)
	rows, cols := dst.Metadata.Rows, dst.Metadata.Columns
	if rows != toSize[1] || cols != toSize[0] {
		return nil, errors.New(errors.ErrCodeInternal, "destination %dx%d does not match resliced size %dx%d",
			cols, rows, toSize[0], toSize[1])
	}
	if frame < 0 || frame >= toSize[2] {
		return nil, errors.New(errors.ErrCodeInvalidInput, "frame %d out of range [0, %d)", frame, toSize[2])
	}
	if table[2].Reversed() {
		frame = toSize[2] - 1 - frame
	}

	buffers := sourceBuffers(src, table, frame, fromSize, pixels)

	out := models.NewPixelBuffer(dst.Metadata.DType(), rows*cols)
	axes := table.Axes()
	srcCols := fromSize[0]
	revCol, revRow := table[0].Reversed(), table[1].Reversed()
	unresolved := 0

	var ijf [3]int
	ijf[axes[2]] = frame
	for j := 0; j < rows; j++ {
		ijf[axes[1]] = j
		dy := j
		if revRow {
			dy = rows - 1 - j
		}
		for i := 0; i < cols; i++ {
			ijf[axes[0]] = i
			dx := i
			if revCol {
				dx = cols - 1 - i
			}
			b := buffers[ijf[2]]
			if b == nil {
				unresolved++
				continue
			}
			out.SetValue(dy*cols+dx, b.Value(ijf[1]*srcCols+ijf[0]))
		}
	}

	return &Result{Pixels: out, Unresolved: unresolved}, nil
}

// sourceBuffers collects the cached source slices the frame will read. Slices
// that are missing or too short stay nil.
func sourceBuffers(src *models.Series, table orientation.Table, frame int, fromSize [3]int, pixels PixelSource) []models.PixelBuffer {
	buffers := make([]models.PixelBuffer, fromSize[2])
	want := fromSize[0] * fromSize[1]
	fetch := func(k int) {
		b, ok := pixels.Get(src.ImageIDs[k])
		if ok && b != nil && b.Len() >= want {
			buffers[k] = b
		}
	}
	if table[2].Axis == 2 {
		fetch(frame)
		return buffers
	}
	for k := range buffers {
		fetch(k)
	}
	return buffers
}
