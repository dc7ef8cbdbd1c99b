// Package loader dispatches image ids of the form "<scheme>://<rest>" to the
// SliceSource registered for that scheme.
//
// Every kind of source (single-frame DICOM files, multi-frame files, resliced
// series, in-memory volumes) implements SliceSource. Registry.Load collapses
// concurrent requests for one image id and stores the resulting pixels in
// the shared pixel cache, so a slice is decoded or resampled at most once.
package loader

import (
	"context"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"dicomreslice/internal/models"
	"dicomreslice/pkg/errors"
	"dicomreslice/pkg/pixelcache"
	"dicomreslice/pkg/registry"
)

// Kind names the loader family of a SliceSource.
type Kind int

const (
	KindDICOM Kind = iota
	KindResliced
	KindMultiframe
	KindVolumetric
)

func (k Kind) String() string {
	switch k {
	case KindDICOM:
		return "dicom"
	case KindResliced:
		return "resliced"
	case KindMultiframe:
		return "multiframe"
	case KindVolumetric:
		return "volumetric"
	}
	return "unknown"
}

// SliceSource produces decoded images for the image ids of one scheme.
type SliceSource interface {
	Kind() Kind
	Resolve(ctx context.Context, imageID string) (*models.DecodedImage, error)
}

// Registry maps schemes to slice sources.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]SliceSource
	cache   *pixelcache.Cache
	rc      *registry.Context
	group   singleflight.Group
	logger  *log.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for load diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry returns a registry storing loaded pixels in cache. rc is used to
// rebuild decoded images for ids whose pixels are already cached.
func NewRegistry(rc *registry.Context, cache *pixelcache.Cache, opts ...Option) *Registry {
	r := &Registry{
		sources: make(map[string]SliceSource),
		cache:   cache,
		rc:      rc,
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds scheme to src, replacing any previous source.
func (r *Registry) Register(scheme string, src SliceSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[scheme] = src
}

// Source returns the source bound to scheme.
func (r *Registry) Source(scheme string) (SliceSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[scheme]
	return src, ok
}

// Scheme returns the part of imageID before "://".
func Scheme(imageID string) (string, bool) {
	scheme, _, ok := strings.Cut(imageID, "://")
	if !ok || scheme == "" {
		return "", false
	}
	return scheme, true
}

// Load resolves imageID through its scheme's source. Pixels already in the
// cache are reused when the image is tracked in the registry context.
func (r *Registry) Load(ctx context.Context, imageID string) (*models.DecodedImage, error) {
	scheme, ok := Scheme(imageID)
	if !ok {
		return nil, errors.New(errors.ErrCodeInvalidInput, "malformed image id %q", imageID)
	}
	src, ok := r.Source(scheme)
	if !ok {
		return nil, errors.New(errors.ErrCodeUnknownScheme, "no loader registered for %q", scheme)
	}

	if img, ok := r.fromCache(imageID); ok {
		return img, nil
	}

	v, err, shared := r.group.Do(imageID, func() (interface{}, error) {
		img, err := src.Resolve(ctx, imageID)
		if err != nil {
			return nil, err
		}
		r.cache.Put(imageID, img.Pixels)
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.logger.Debug("shared load", "image", imageID, "kind", src.Kind())
	}
	return v.(*models.DecodedImage), nil
}

func (r *Registry) fromCache(imageID string) (*models.DecodedImage, bool) {
	pixels, ok := r.cache.Get(imageID)
	if !ok || r.rc == nil {
		return nil, false
	}
	inst, err := r.rc.Instance(imageID)
	if err != nil {
		return nil, false
	}
	return models.NewDecodedImage(imageID, &inst.Metadata, pixels), true
}
