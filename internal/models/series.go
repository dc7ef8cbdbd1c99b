package models

import (
	"gonum.org/v1/gonum/spatial/r3"

	"dicomreslice/pkg/orientation"
)

// Metadata is the subset of DICOM attributes the viewer keeps per instance.
type Metadata struct {
	Rows    int
	Columns int

	// PixelSpacing is (row spacing, column spacing) in mm, as in the DICOM tag.
	PixelSpacing [2]float64

	// SliceThickness is zero when the tag is absent.
	SliceThickness float64

	// Orientation and Position are nil when the tags are absent.
	Orientation *orientation.Orientation
	Position    *r3.Vec

	SliceLocation float64

	RescaleSlope     float64
	RescaleIntercept float64
	WindowCenter     []float64
	WindowWidth      []float64

	BitsAllocated       int
	BitsStored          int
	HighBit             int
	PixelRepresentation int

	// SmallestPixelValue and LargestPixelValue are nil until known.
	SmallestPixelValue *float64
	LargestPixelValue  *float64

	PatientID         string
	PatientName       string
	StudyInstanceUID  string
	SeriesInstanceUID string
	SOPInstanceUID    string
	InstanceNumber    int
	Modality          string
	SeriesDescription string
}

// DType returns the pixel type declared by bits allocated and pixel representation.
func (m *Metadata) DType() DType {
	return DTypeFor(m.BitsAllocated, m.PixelRepresentation)
}

// Instance is one image of a series.
type Instance struct {
	ImageID    string
	InstanceID string
	Metadata   Metadata

	// Permute is set on resliced instances only.
	Permute *orientation.Table
}

// Series is an ordered stack of instances.
type Series struct {
	ID                string
	ImageIDs          []string
	Instances         map[string]*Instance
	CurrentImageIndex int
	Description       string
	Orientation       orientation.Plane
	IsResliced        bool

	// Resliced maps a target plane to the id of the series resliced from this one.
	Resliced map[orientation.Plane]string
}

// NewSeries returns an empty series with initialized maps.
func NewSeries(id string) *Series {
	return &Series{
		ID:        id,
		Instances: make(map[string]*Instance),
		Resliced:  make(map[orientation.Plane]string),
	}
}

// Add appends an instance at the end of the stack.
func (s *Series) Add(inst *Instance) {
	s.ImageIDs = append(s.ImageIDs, inst.ImageID)
	s.Instances[inst.ImageID] = inst
}

// First returns the first instance, or nil for an empty series.
func (s *Series) First() *Instance {
	if len(s.ImageIDs) == 0 {
		return nil
	}
	return s.Instances[s.ImageIDs[0]]
}

// Len returns the number of images in the series.
func (s *Series) Len() int {
	return len(s.ImageIDs)
}

// DecodedImage is what every loader kind hands to the viewer.
type DecodedImage struct {
	ImageID string
	Rows    int
	Columns int
	Pixels  PixelBuffer

	MinPixelValue float64
	MaxPixelValue float64

	RescaleSlope     float64
	RescaleIntercept float64
	WindowCenter     float64
	WindowWidth      float64

	// RowSpacing and ColumnSpacing are in mm.
	RowSpacing    float64
	ColumnSpacing float64
}

// NewDecodedImage wraps a pixel buffer with the display attributes of meta.
func NewDecodedImage(imageID string, meta *Metadata, pixels PixelBuffer) *DecodedImage {
	img := &DecodedImage{
		ImageID:          imageID,
		Rows:             meta.Rows,
		Columns:          meta.Columns,
		Pixels:           pixels,
		RescaleSlope:     meta.RescaleSlope,
		RescaleIntercept: meta.RescaleIntercept,
		RowSpacing:       meta.PixelSpacing[0],
		ColumnSpacing:    meta.PixelSpacing[1],
	}
	if img.RescaleSlope == 0 {
		img.RescaleSlope = 1
	}
	img.MinPixelValue, img.MaxPixelValue = MinMax(pixels)
	if len(meta.WindowCenter) > 0 && len(meta.WindowWidth) > 0 {
		img.WindowCenter = meta.WindowCenter[0]
		img.WindowWidth = meta.WindowWidth[0]
	} else {
		lo := img.MinPixelValue*img.RescaleSlope + img.RescaleIntercept
		hi := img.MaxPixelValue*img.RescaleSlope + img.RescaleIntercept
		img.WindowCenter = (lo + hi) / 2
		img.WindowWidth = hi - lo
	}
	return img
}
