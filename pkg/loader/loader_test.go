package loader

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"dicomreslice/internal/models"
	"dicomreslice/pkg/errors"
	"dicomreslice/pkg/pixelcache"
	"dicomreslice/pkg/registry"
)

type countingSource struct {
	calls atomic.Int32
	delay time.Duration
}

func (s *countingSource) Kind() Kind { return KindVolumetric }

func (s *countingSource) Resolve(ctx context.Context, imageID string) (*models.DecodedImage, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	meta := &models.Metadata{Rows: 1, Columns: 2, BitsAllocated: 16}
	pixels := models.NewPixelBuffer(models.Uint16, 2)
	pixels.SetValue(1, 42)
	return models.NewDecodedImage(imageID, meta, pixels), nil
}

func newTestRegistry() (*Registry, *registry.Context, *pixelcache.Cache) {
	rc := registry.New()
	cache := pixelcache.New()
	return NewRegistry(rc, cache, WithLogger(log.New(io.Discard))), rc, cache
}

func TestScheme(t *testing.T) {
	tests := []struct {
		id     string
		scheme string
		ok     bool
	}{
		{"reslice://3", "reslice", true},
		{"dicomfile:///tmp/a.dcm", "dicomfile", true},
		{"no-scheme", "", false},
		{"://x", "", false},
	}
	for _, tt := range tests {
		scheme, ok := Scheme(tt.id)
		if scheme != tt.scheme || ok != tt.ok {
			t.Errorf("Scheme(%q) = %q, %v; want %q, %v", tt.id, scheme, ok, tt.scheme, tt.ok)
		}
	}
}

func TestLoadDispatchesAndCaches(t *testing.T) {
	r, _, cache := newTestRegistry()
	src := &countingSource{}
	r.Register("volume", src)

	img, err := r.Load(context.Background(), "volume://a/z/0")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if img.MaxPixelValue != 42 || img.MinPixelValue != 0 {
		t.Errorf("Expected min/max 0/42, got %v/%v", img.MinPixelValue, img.MaxPixelValue)
	}
	if _, ok := cache.Get("volume://a/z/0"); !ok {
		t.Error("Expected pixels to be cached after load")
	}
	if got, ok := r.Source("volume"); !ok || got.Kind() != KindVolumetric {
		t.Errorf("Expected volumetric source registered")
	}
}

func TestLoadUsesCacheForTrackedImages(t *testing.T) {
	r, rc, cache := newTestRegistry()
	src := &countingSource{}
	r.Register("volume", src)

	s := models.NewSeries("s")
	s.Add(&models.Instance{ImageID: "volume://a/z/0", Metadata: models.Metadata{Rows: 1, Columns: 2, BitsAllocated: 16}})
	rc.Publish(s)
	pixels := models.NewPixelBuffer(models.Uint16, 2)
	pixels.SetValue(0, 7)
	cache.Put("volume://a/z/0", pixels)

	img, err := r.Load(context.Background(), "volume://a/z/0")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if src.calls.Load() != 0 {
		t.Errorf("Expected cached pixels to be reused, source called %d times", src.calls.Load())
	}
	if img.Pixels.Value(0) != 7 {
		t.Errorf("Expected cached value 7, got %v", img.Pixels.Value(0))
	}
}

func TestLoadCollapsesConcurrentRequests(t *testing.T) {
	r, rc, _ := newTestRegistry()
	src := &countingSource{delay: 50 * time.Millisecond}
	r.Register("volume", src)
	s := models.NewSeries("s")
	s.Add(&models.Instance{ImageID: "volume://same", Metadata: models.Metadata{Rows: 1, Columns: 2, BitsAllocated: 16}})
	rc.Publish(s)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Load(context.Background(), "volume://same"); err != nil {
				t.Errorf("Load failed: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := src.calls.Load(); n != 1 {
		t.Errorf("Expected a single resolve, got %d", n)
	}
}

func TestLoadErrors(t *testing.T) {
	r, _, _ := newTestRegistry()
	if _, err := r.Load(context.Background(), "nothing"); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("Expected INVALID_INPUT, got %v", err)
	}
	if _, err := r.Load(context.Background(), "nope://1"); !errors.Is(err, errors.ErrCodeUnknownScheme) {
		t.Errorf("Expected UNKNOWN_SCHEME, got %v", err)
	}
}

func TestKindString(t *testing.T) {
	want := map[Kind]string{KindDICOM: "dicom", KindResliced: "resliced", KindMultiframe: "multiframe", KindVolumetric: "volumetric"}
	for k, s := range want {
		if k.String() != s {
			t.Errorf("Kind(%d).String() = %q, want %q", k, k.String(), s)
		}
	}
}
