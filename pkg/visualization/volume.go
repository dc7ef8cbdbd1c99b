// Package visualization turns in-memory volumes into viewer slices and
// renders decoded images to image files.
package visualization

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"dicomreslice/internal/models"
	"dicomreslice/pkg/errors"
	"dicomreslice/pkg/loader"
	"dicomreslice/pkg/orientation"
	"dicomreslice/pkg/registry"
)

// VolumeScheme prefixes volume slice ids: volume://<name>/<axis>/<index>.
const VolumeScheme = "volume"

// Voxel values are expected in [0, 1] and stored as 16 bit samples; the
// rescale slope maps them back.
const volumeScale = 65535

// VolumeSource serves slices of named volumes along x, y or z.
type VolumeSource struct {
	mu      sync.RWMutex
	volumes map[string]*models.Volume
}

// NewVolumeSource returns an empty source.
func NewVolumeSource() *VolumeSource {
	return &VolumeSource{volumes: make(map[string]*models.Volume)}
}

// Kind implements loader.SliceSource.
func (s *VolumeSource) Kind() loader.Kind { return loader.KindVolumetric }

// Add registers v under name, replacing any previous volume.
func (s *VolumeSource) Add(name string, v *models.Volume) error {
	if strings.ContainsAny(name, "/") || name == "" {
		return errors.New(errors.ErrCodeInvalidInput, "invalid volume name %q", name)
	}
	if v == nil || len(v.Data) != v.Width*v.Height*v.Depth {
		return errors.New(errors.ErrCodeInvalidInput, "volume %q has inconsistent dimensions", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumes[name] = v
	return nil
}

func (s *VolumeSource) volume(name string) (*models.Volume, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.volumes[name]
	return v, ok
}

// SliceID builds the image id of one slice.
func SliceID(name, axis string, index int) string {
	return fmt.Sprintf("%s://%s/%s/%d", VolumeScheme, name, strings.ToLower(axis), index)
}

func parseSliceID(imageID string) (name, axis string, index int, err error) {
	rest, ok := strings.CutPrefix(imageID, VolumeScheme+"://")
	if !ok {
		return "", "", 0, fmt.Errorf("not a %s image id: %q", VolumeScheme, imageID)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return "", "", 0, fmt.Errorf("expected <name>/<axis>/<index>, got %q", rest)
	}
	index, err = strconv.Atoi(parts[2])
	if err != nil {
		return "", "", 0, fmt.Errorf("bad slice index in %q: %w", imageID, err)
	}
	return parts[0], strings.ToLower(parts[1]), index, nil
}

// count returns the number of slices along axis.
func count(v *models.Volume, axis string) (int, error) {
	switch axis {
	case "x":
		return v.Width, nil
	case "y":
		return v.Height, nil
	case "z":
		return v.Depth, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// sliceMetadata describes slice index of v along axis. An x slice has columns
// along z and rows along y, a y slice has columns along x and rows along z.
func sliceMetadata(v *models.Volume, name, axis string, index int) *models.Metadata {
	m := &models.Metadata{
		BitsAllocated:     16,
		BitsStored:        16,
		HighBit:           15,
		RescaleSlope:      1.0 / volumeScale,
		SeriesInstanceUID: name + "-" + axis,
		SeriesDescription: name,
		InstanceNumber:    index + 1,
		Modality:          "OT",
	}
	vs := v.VoxelSize
	var pos r3.Vec
	switch axis {
	case "x":
		m.Rows, m.Columns = v.Height, v.Depth
		m.PixelSpacing = [2]float64{vs.Y, vs.Z}
		m.Orientation = &orientation.Orientation{Row: r3.Vec{Z: 1}, Col: r3.Vec{Y: 1}}
		m.SliceThickness = vs.X
		pos = r3.Vec{X: float64(index) * vs.X}
	case "y":
		m.Rows, m.Columns = v.Depth, v.Width
		m.PixelSpacing = [2]float64{vs.Z, vs.X}
		m.Orientation = &orientation.Orientation{Row: r3.Vec{X: 1}, Col: r3.Vec{Z: 1}}
		m.SliceThickness = vs.Y
		pos = r3.Vec{Y: float64(index) * vs.Y}
	default:
		m.Rows, m.Columns = v.Height, v.Width
		m.PixelSpacing = [2]float64{vs.Y, vs.X}
		m.Orientation = &orientation.Orientation{Row: r3.Vec{X: 1}, Col: r3.Vec{Y: 1}}
		m.SliceThickness = vs.Z
		pos = r3.Vec{Z: float64(index) * vs.Z}
	}
	m.Position = &pos
	if n, ok := orientation.Normal(m.Orientation); ok {
		m.SliceLocation = r3.Dot(pos, n)
	}
	return m
}

// extract copies one slice into a 16 bit buffer laid out as the metadata
// describes.
func extract(v *models.Volume, axis string, index int) models.PixelBuffer {
	quantize := func(x float64) float64 {
		return math.Round(math.Max(0, math.Min(volumeScale, x*volumeScale)))
	}
	switch axis {
	case "x":
		buf := models.NewPixelBuffer(models.Uint16, v.Height*v.Depth)
		for y := 0; y < v.Height; y++ {
			for z := 0; z < v.Depth; z++ {
				buf.SetValue(y*v.Depth+z, quantize(v.At(index, y, z)))
			}
		}
		return buf
	case "y":
		buf := models.NewPixelBuffer(models.Uint16, v.Width*v.Depth)
		for z := 0; z < v.Depth; z++ {
			for x := 0; x < v.Width; x++ {
				buf.SetValue(z*v.Width+x, quantize(v.At(x, index, z)))
			}
		}
		return buf
	default:
		buf := models.NewPixelBuffer(models.Uint16, v.Width*v.Height)
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				buf.SetValue(y*v.Width+x, quantize(v.At(x, y, index)))
			}
		}
		return buf
	}
}

// Resolve extracts the slice named by a volume:// image id.
func (s *VolumeSource) Resolve(ctx context.Context, imageID string) (*models.DecodedImage, error) {
	name, axis, index, err := parseSliceID(imageID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "resolving %s", imageID)
	}
	v, ok := s.volume(name)
	if !ok {
		return nil, errors.New(errors.ErrCodeImageNotFound, "no volume named %q", name)
	}
	n, err := count(v, axis)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "resolving %s", imageID)
	}
	if index < 0 || index >= n {
		return nil, errors.New(errors.ErrCodeInvalidInput, "slice %d out of range [0, %d) along %s", index, n, axis)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return models.NewDecodedImage(imageID, sliceMetadata(v, name, axis, index), extract(v, axis, index)), nil
}

// Publish registers the slices of volume name along axis as a series in rc.
// Pixels are produced when the slices are first loaded.
func (s *VolumeSource) Publish(rc *registry.Context, name, axis string) (*models.Series, error) {
	v, ok := s.volume(name)
	if !ok {
		return nil, errors.New(errors.ErrCodeImageNotFound, "no volume named %q", name)
	}
	axis = strings.ToLower(axis)
	n, err := count(v, axis)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "publishing %s", name)
	}

	first := sliceMetadata(v, name, axis, 0)
	series := models.NewSeries(first.SeriesInstanceUID)
	series.Description = name
	series.Orientation = orientation.PlaneOf(first.Orientation)
	for i := 0; i < n; i++ {
		id := SliceID(name, axis, i)
		series.Add(&models.Instance{ImageID: id, InstanceID: id, Metadata: *sliceMetadata(v, name, axis, i)})
	}
	series.CurrentImageIndex = n / 2
	if err := rc.Publish(series); err != nil {
		return nil, err
	}
	return series, nil
}
