package dicomio

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/google/go-cmp/cmp"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/spatial/r3"

	"dicomreslice/internal/models"
	"dicomreslice/pkg/errors"
	"dicomreslice/pkg/loader"
	"dicomreslice/pkg/orientation"
	"dicomreslice/pkg/pixelcache"
	"dicomreslice/pkg/registry"
)

func mustNewElement(t *testing.T, tg tag.Tag, v any) *dicom.Element {
	t.Helper()
	el, err := dicom.NewElement(tg, v)
	if err != nil {
		t.Fatalf("NewElement(%v) failed: %v", tg, err)
	}
	return el
}

func ds(t *testing.T, rows, cols int, z float64, frames ...[]uint16) *dicom.Dataset {
	t.Helper()
	info := dicom.PixelDataInfo{}
	for _, px := range frames {
		nf := frame.NewNativeFrame[uint16](16, rows, cols, rows*cols, 1)
		copy(nf.RawData, px)
		info.Frames = append(info.Frames, &frame.Frame{NativeData: nf})
	}
	return &dicom.Dataset{Elements: []*dicom.Element{
		mustNewElement(t, tag.Rows, []int{rows}),
		mustNewElement(t, tag.Columns, []int{cols}),
		mustNewElement(t, tag.BitsAllocated, []int{16}),
		mustNewElement(t, tag.BitsStored, []int{12}),
		mustNewElement(t, tag.PixelRepresentation, []int{0}),
		mustNewElement(t, tag.PixelSpacing, []string{"0.5", "0.75"}),
		mustNewElement(t, tag.SliceThickness, []string{"2"}),
		mustNewElement(t, tag.ImageOrientationPatient, []string{"1", "0", "0", "0", "1", "0"}),
		mustNewElement(t, tag.ImagePositionPatient, []string{"-10", "5", fmt.Sprint(z)}),
		mustNewElement(t, tag.RescaleSlope, []string{"2"}),
		mustNewElement(t, tag.RescaleIntercept, []string{"-1024"}),
		mustNewElement(t, tag.WindowCenter, []string{"40"}),
		mustNewElement(t, tag.WindowWidth, []string{"400"}),
		mustNewElement(t, tag.SeriesInstanceUID, []string{"1.2.3"}),
		mustNewElement(t, tag.SOPInstanceUID, []string{"1.2.3.4"}),
		mustNewElement(t, tag.SeriesDescription, []string{"T1 AX"}),
		mustNewElement(t, tag.InstanceNumber, []string{"7"}),
		mustNewElement(t, tag.PixelData, info),
	}}
}

func TestReadMetadata(t *testing.T) {
	meta, err := readMetadata(ds(t, 2, 3, 12.5, make([]uint16, 6)))
	if err != nil {
		t.Fatalf("readMetadata failed: %v", err)
	}
	if meta.Rows != 2 || meta.Columns != 3 {
		t.Errorf("Expected 2x3, got %dx%d", meta.Rows, meta.Columns)
	}
	if meta.PixelSpacing != [2]float64{0.5, 0.75} || meta.SliceThickness != 2 {
		t.Errorf("Unexpected spacing %v / %v", meta.PixelSpacing, meta.SliceThickness)
	}
	if meta.Position == nil || *meta.Position != (r3.Vec{X: -10, Y: 5, Z: 12.5}) {
		t.Errorf("Unexpected position %v", meta.Position)
	}
	if orientation.PlaneOf(meta.Orientation) != orientation.Axial {
		t.Errorf("Expected axial orientation, got %v", meta.Orientation)
	}
	if meta.RescaleSlope != 2 || meta.RescaleIntercept != -1024 {
		t.Errorf("Unexpected rescale %v/%v", meta.RescaleSlope, meta.RescaleIntercept)
	}
	if diff := cmp.Diff([]float64{40}, meta.WindowCenter); diff != "" {
		t.Errorf("WindowCenter mismatch (-want +got):\n%s", diff)
	}
	if meta.InstanceNumber != 7 || meta.SeriesInstanceUID != "1.2.3" || meta.SeriesDescription != "T1 AX" {
		t.Errorf("Unexpected identifiers %+v", meta)
	}
}

func TestReadMetadataMissingGeometry(t *testing.T) {
	d := &dicom.Dataset{Elements: []*dicom.Element{
		mustNewElement(t, tag.Rows, []int{1}),
		mustNewElement(t, tag.Columns, []int{1}),
	}}
	meta, err := readMetadata(d)
	if err != nil {
		t.Fatalf("readMetadata failed: %v", err)
	}
	if meta.Orientation != nil || meta.Position != nil {
		t.Error("Expected missing geometry to stay nil")
	}
	if meta.PixelSpacing != [2]float64{1, 1} || meta.RescaleSlope != 1 {
		t.Errorf("Expected defaults, got spacing %v slope %v", meta.PixelSpacing, meta.RescaleSlope)
	}

	if _, err := readMetadata(&dicom.Dataset{}); err == nil {
		t.Error("Expected error without rows")
	}
}

func TestDecodeDataset(t *testing.T) {
	px := []uint16{1, 2, 3, 4, 5, 6}
	meta, pixels, err := decodeDataset(ds(t, 2, 3, 0, px), 0)
	if err != nil {
		t.Fatalf("decodeDataset failed: %v", err)
	}
	if meta.Columns != 3 {
		t.Errorf("Expected 3 columns, got %d", meta.Columns)
	}
	for i, want := range px {
		if got := pixels.Value(i); got != float64(want) {
			t.Errorf("pixel %d = %v, want %d", i, got, want)
		}
	}
	if _, _, err := decodeDataset(ds(t, 2, 3, 0, px), 1); err == nil {
		t.Error("Expected error for missing frame")
	}
}

func TestSignedPixels(t *testing.T) {
	f16 := frame.NewNativeFrame[uint16](16, 1, 3, 3, 1)
	copy(f16.RawData, []uint16{0xFFFF, 0x8000, 12})
	f32 := frame.NewNativeFrame[uint32](32, 1, 3, 3, 1)
	copy(f32.RawData, []uint32{0xFFFFFFFF, 0x80000000, 12})

	tests := []struct {
		name  string
		frame *frame.Frame
		dtype models.DType
		want  []float64
	}{
		{"int16", &frame.Frame{NativeData: f16}, models.DTypeFor(16, 1), []float64{-1, -32768, 12}},
		{"uint16", &frame.Frame{NativeData: f16}, models.DTypeFor(16, 0), []float64{65535, 32768, 12}},
		{"int32", &frame.Frame{NativeData: f32}, models.DTypeFor(32, 1), []float64{-1, -2147483648, 12}},
		{"uint32", &frame.Frame{NativeData: f32}, models.DTypeFor(32, 0), []float64{4294967295, 2147483648, 12}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pixels, err := nativePixels(tt.frame, tt.dtype)
			if err != nil {
				t.Fatalf("nativePixels failed: %v", err)
			}
			got := make([]float64, pixels.Len())
			for i := range got {
				got[i] = pixels.Value(i)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("pixels mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncapsulatedRejected(t *testing.T) {
	fr := &frame.Frame{Encapsulated: true}
	if _, err := nativePixels(fr, 0); err == nil {
		t.Error("Expected encapsulated frame to be rejected")
	}
}

func newTestLoader() (*Loader, *registry.Context, *pixelcache.Cache) {
	rc := registry.New()
	cache := pixelcache.New()
	return NewLoader(rc, cache, WithLogger(log.New(io.Discard)), WithWorkers(2)), rc, cache
}

func TestAssembleSortsAlongNormal(t *testing.T) {
	var records []*record
	for _, z := range []float64{6, 0, 3} {
		meta, pixels, err := decodeDataset(ds(t, 1, 1, z, []uint16{uint16(z)}), 0)
		if err != nil {
			t.Fatalf("decodeDataset failed: %v", err)
		}
		records = append(records, &record{imageID: fmt.Sprintf("dicomfile://%v", z), meta: meta, pixels: pixels})
	}
	series := assemble(records)
	if len(series) != 1 {
		t.Fatalf("Expected one series, got %d", len(series))
	}
	s := series[0]
	if diff := cmp.Diff([]string{"dicomfile://0", "dicomfile://3", "dicomfile://6"}, s.ImageIDs); diff != "" {
		t.Errorf("Order mismatch (-want +got):\n%s", diff)
	}
	if s.ID != "1.2.3" || s.Orientation != orientation.Axial || s.Description != "T1 AX" {
		t.Errorf("Unexpected series %+v", s)
	}
}

func TestPublishFrames(t *testing.T) {
	l, rc, cache := newTestLoader()
	r := loader.NewRegistry(rc, cache, loader.WithLogger(log.New(io.Discard)))
	l.Register(r)

	d := ds(t, 1, 2, 10, []uint16{1, 2}, []uint16{3, 4}, []uint16{5, 6})
	s, err := l.publishFrames(context.Background(), "/data/mf.dcm", d)
	if err != nil {
		t.Fatalf("publishFrames failed: %v", err)
	}
	if s.Len() != 3 {
		t.Fatalf("Expected 3 frames, got %d", s.Len())
	}
	for n, id := range s.ImageIDs {
		if id != FrameID("/data/mf.dcm", n) {
			t.Errorf("image %d id = %q", n, id)
		}
		inst := s.Instances[id]
		if z := inst.Metadata.Position.Z; z != 10+2*float64(n) {
			t.Errorf("frame %d at z=%v, want %v", n, z, 10+2*float64(n))
		}
	}
	if owner, ok := rc.OwnerOf(s.ImageIDs[2]); !ok || owner != s.ID {
		t.Errorf("Expected frame tracked to %s, got %q", s.ID, owner)
	}

	img, err := r.Load(context.Background(), s.ImageIDs[1])
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if img.Pixels.Value(0) != 3 || img.Pixels.Value(1) != 4 {
		t.Errorf("Expected frame 1 pixels [3 4], got [%v %v]", img.Pixels.Value(0), img.Pixels.Value(1))
	}
}

func TestParseFrameID(t *testing.T) {
	path, n, err := parseFrameID("multiframe:///a/b#c.dcm#12")
	if err != nil || path != "/a/b#c.dcm" || n != 12 {
		t.Errorf("parseFrameID = %q, %d, %v", path, n, err)
	}
	if _, _, err := parseFrameID("dicomfile:///x"); err == nil {
		t.Error("Expected error for wrong scheme")
	}
	if _, _, err := parseFrameID("multiframe:///x#one"); err == nil {
		t.Error("Expected error for bad frame number")
	}
}

func TestPublishCachesEveryImage(t *testing.T) {
	l, rc, cache := newTestLoader()
	var records []*record
	for i, z := range []float64{4, 0, 2, 6} {
		meta, pixels, err := decodeDataset(ds(t, 1, 2, z, []uint16{uint16(10 * i), uint16(10*i + 1)}), 0)
		if err != nil {
			t.Fatalf("decodeDataset failed: %v", err)
		}
		records = append(records, &record{imageID: fmt.Sprintf("dicomfile://%d.dcm", i), meta: meta, pixels: pixels})
	}

	series, err := l.publish(records)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if len(series) != 1 || series[0].Len() != 4 {
		t.Fatalf("Expected one series of 4 images, got %v", series)
	}
	for _, r := range records {
		got, ok := cache.Get(r.imageID)
		if !ok {
			t.Errorf("Expected %s to be cached", r.imageID)
			continue
		}
		if got.Value(1) != r.pixels.Value(1) {
			t.Errorf("%s: cached pixel %v, want %v", r.imageID, got.Value(1), r.pixels.Value(1))
		}
		if owner, ok := rc.OwnerOf(r.imageID); !ok || owner != series[0].ID {
			t.Errorf("Expected %s tracked under %s, got %q", r.imageID, series[0].ID, owner)
		}
	}
}

func TestLoadDirSkipsNonDICOM(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	l, _, _ := newTestLoader()
	_, err := l.LoadDir(context.Background(), dir)
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("Expected INVALID_INPUT for a directory without DICOM, got %v", err)
	}
}

func TestResolveRejectsForeignIDs(t *testing.T) {
	l, _, _ := newTestLoader()
	if _, err := l.Resolve(context.Background(), "reslice://1"); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("Expected INVALID_INPUT, got %v", err)
	}
	if l.Kind() != loader.KindDICOM || l.frames.Kind() != loader.KindMultiframe {
		t.Error("Unexpected source kinds")
	}
}
