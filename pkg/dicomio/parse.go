// Package dicomio reads DICOM files into series, instances and pixel buffers.
// Tag parsing is done by github.com/suyashkumar/dicom; this package only maps
// the attributes the viewer uses onto models.Metadata.
package dicomio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/spatial/r3"

	"dicomreslice/internal/models"
	"dicomreslice/pkg/orientation"
)

// value returns the raw value of a tag, or false when absent.
func value(ds *dicom.Dataset, t tag.Tag) (any, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil || el == nil || el.Value == nil {
		return nil, false
	}
	return el.Value.GetValue(), true
}

func getString(ds *dicom.Dataset, t tag.Tag) string {
	v, ok := value(ds, t)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case []string:
		return strings.TrimSpace(strings.Join(s, "\\"))
	case []int:
		if len(s) > 0 {
			return strconv.Itoa(s[0])
		}
	}
	return ""
}

func getFloats(ds *dicom.Dataset, t tag.Tag) []float64 {
	v, ok := value(ds, t)
	if !ok {
		return nil
	}
	switch s := v.(type) {
	case []string:
		out := make([]float64, 0, len(s))
		for _, str := range s {
			// some writers pack multi-valued DS into one backslash-joined string
			for _, part := range strings.Split(str, "\\") {
				f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
				if err != nil {
					return nil
				}
				out = append(out, f)
			}
		}
		return out
	case []float64:
		return s
	case []int:
		out := make([]float64, len(s))
		for i, n := range s {
			out[i] = float64(n)
		}
		return out
	}
	return nil
}

func getFloat(ds *dicom.Dataset, t tag.Tag) (float64, bool) {
	f := getFloats(ds, t)
	if len(f) == 0 {
		return 0, false
	}
	return f[0], true
}

func getInt(ds *dicom.Dataset, t tag.Tag) (int, bool) {
	v, ok := value(ds, t)
	if !ok {
		return 0, false
	}
	switch s := v.(type) {
	case []int:
		if len(s) > 0 {
			return s[0], true
		}
	case []string:
		if len(s) > 0 {
			n, err := strconv.Atoi(strings.TrimSpace(s[0]))
			return n, err == nil
		}
	}
	return 0, false
}

// readMetadata maps the dataset attributes onto models.Metadata. Missing
// geometry is left nil so the reslice pipeline can reject the series.
func readMetadata(ds *dicom.Dataset) (models.Metadata, error) {
	var m models.Metadata
	var ok bool

	if m.Rows, ok = getInt(ds, tag.Rows); !ok {
		return m, fmt.Errorf("missing rows")
	}
	if m.Columns, ok = getInt(ds, tag.Columns); !ok {
		return m, fmt.Errorf("missing columns")
	}

	if ps := getFloats(ds, tag.PixelSpacing); len(ps) >= 2 {
		m.PixelSpacing = [2]float64{ps[0], ps[1]}
	} else {
		m.PixelSpacing = [2]float64{1, 1}
	}
	m.SliceThickness, _ = getFloat(ds, tag.SliceThickness)

	if iop := getFloats(ds, tag.ImageOrientationPatient); len(iop) == 6 {
		m.Orientation, _ = orientation.FromSlice(iop)
	}
	if ipp := getFloats(ds, tag.ImagePositionPatient); len(ipp) == 3 {
		m.Position = &r3.Vec{X: ipp[0], Y: ipp[1], Z: ipp[2]}
	}
	m.SliceLocation, _ = getFloat(ds, tag.SliceLocation)

	m.RescaleSlope = 1
	if slope, ok := getFloat(ds, tag.RescaleSlope); ok {
		m.RescaleSlope = slope
	}
	m.RescaleIntercept, _ = getFloat(ds, tag.RescaleIntercept)
	m.WindowCenter = getFloats(ds, tag.WindowCenter)
	m.WindowWidth = getFloats(ds, tag.WindowWidth)

	m.BitsAllocated, _ = getInt(ds, tag.BitsAllocated)
	m.BitsStored, _ = getInt(ds, tag.BitsStored)
	m.HighBit, _ = getInt(ds, tag.HighBit)
	m.PixelRepresentation, _ = getInt(ds, tag.PixelRepresentation)
	if v, ok := getFloat(ds, tag.SmallestImagePixelValue); ok {
		m.SmallestPixelValue = &v
	}
	if v, ok := getFloat(ds, tag.LargestImagePixelValue); ok {
		m.LargestPixelValue = &v
	}

	m.PatientID = getString(ds, tag.PatientID)
	m.PatientName = getString(ds, tag.PatientName)
	m.StudyInstanceUID = getString(ds, tag.StudyInstanceUID)
	m.SeriesInstanceUID = getString(ds, tag.SeriesInstanceUID)
	m.SOPInstanceUID = getString(ds, tag.SOPInstanceUID)
	m.InstanceNumber, _ = getInt(ds, tag.InstanceNumber)
	m.Modality = getString(ds, tag.Modality)
	m.SeriesDescription = getString(ds, tag.SeriesDescription)
	return m, nil
}

// numFrames returns the number of frames in the pixel data element.
func numFrames(ds *dicom.Dataset) int {
	v, ok := value(ds, tag.PixelData)
	if !ok {
		return 0
	}
	info, ok := v.(dicom.PixelDataInfo)
	if !ok {
		return 0
	}
	return len(info.Frames)
}

// readFrame copies native frame n into a typed buffer.
func readFrame(ds *dicom.Dataset, n int, dtype models.DType) (models.PixelBuffer, error) {
	v, ok := value(ds, tag.PixelData)
	if !ok {
		return nil, fmt.Errorf("no pixel data")
	}
	info, ok := v.(dicom.PixelDataInfo)
	if !ok {
		return nil, fmt.Errorf("unexpected pixel data value %T", v)
	}
	if n < 0 || n >= len(info.Frames) {
		return nil, fmt.Errorf("frame %d out of range [0, %d)", n, len(info.Frames))
	}
	return nativePixels(info.Frames[n], dtype)
}

// sampleValue reads a raw native word. The parser always yields unsigned
// words, so signed types reinterpret it as two's complement of their width.
func sampleValue(raw int, dtype models.DType) float64 {
	switch dtype {
	case models.Int8:
		return float64(int8(uint8(raw)))
	case models.Int16:
		return float64(int16(uint16(raw)))
	case models.Int32:
		return float64(int32(uint32(raw)))
	}
	return float64(raw)
}

func nativePixels(fr *frame.Frame, dtype models.DType) (models.PixelBuffer, error) {
	if fr == nil {
		return nil, fmt.Errorf("nil frame")
	}
	if fr.Encapsulated {
		return nil, fmt.Errorf("encapsulated (compressed) pixel data is not supported")
	}
	nf := fr.NativeData
	if nf == nil {
		return nil, fmt.Errorf("frame has no native data")
	}
	rows, cols := nf.Rows(), nf.Cols()
	buf := models.NewPixelBuffer(dtype, rows*cols)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			px, err := nf.GetPixel(x, y)
			if err != nil {
				return nil, fmt.Errorf("pixel (%d,%d): %w", x, y, err)
			}
			if len(px) > 0 {
				buf.SetValue(y*cols+x, sampleValue(px[0], dtype))
			}
		}
	}
	return buf, nil
}

// decodeDataset reads the metadata and frame n of a parsed dataset.
func decodeDataset(ds *dicom.Dataset, n int) (*models.Metadata, models.PixelBuffer, error) {
	meta, err := readMetadata(ds)
	if err != nil {
		return nil, nil, err
	}
	pixels, err := readFrame(ds, n, meta.DType())
	if err != nil {
		return nil, nil, err
	}
	if pixels.Len() != meta.Rows*meta.Columns {
		return nil, nil, fmt.Errorf("frame holds %d pixels, expected %dx%d", pixels.Len(), meta.Columns, meta.Rows)
	}
	return &meta, pixels, nil
}

// ParseFile reads the metadata and first frame of a DICOM file.
func ParseFile(path string) (*models.Metadata, models.PixelBuffer, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse DICOM file %s: %w", path, err)
	}
	meta, pixels, err := decodeDataset(&ds, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return meta, pixels, nil
}
