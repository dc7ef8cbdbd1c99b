package dicomio

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/suyashkumar/dicom"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"dicomreslice/internal/models"
	"dicomreslice/pkg/errors"
	"dicomreslice/pkg/loader"
	"dicomreslice/pkg/orientation"
	"dicomreslice/pkg/pixelcache"
	"dicomreslice/pkg/registry"
)

const (
	// FileScheme prefixes single-frame file image ids: dicomfile://<path>.
	FileScheme = "dicomfile"

	// MultiframeScheme prefixes frame image ids: multiframe://<path>#<frame>.
	MultiframeScheme = "multiframe"
)

// Loader parses DICOM files, caches their pixels and publishes series.
type Loader struct {
	rc      *registry.Context
	cache   *pixelcache.Cache
	logger  *log.Logger
	workers int
	frames  *MultiframeSource
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the loader logger.
func WithLogger(l *log.Logger) Option {
	return func(d *Loader) { d.logger = l }
}

// WithWorkers bounds concurrent file parsing.
func WithWorkers(n int) Option {
	return func(d *Loader) {
		if n > 0 {
			d.workers = n
		}
	}
}

// NewLoader returns a Loader publishing into rc and caching into cache.
func NewLoader(rc *registry.Context, cache *pixelcache.Cache, opts ...Option) *Loader {
	d := &Loader{rc: rc, cache: cache, logger: log.Default(), workers: 4}
	d.frames = &MultiframeSource{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register binds the single-frame and multi-frame sources to r.
func (d *Loader) Register(r *loader.Registry) {
	r.Register(FileScheme, d)
	r.Register(MultiframeScheme, d.frames)
}

// Kind implements loader.SliceSource.
func (d *Loader) Kind() loader.Kind { return loader.KindDICOM }

// Resolve decodes the file behind a dicomfile:// image id.
func (d *Loader) Resolve(ctx context.Context, imageID string) (*models.DecodedImage, error) {
	path, ok := strings.CutPrefix(imageID, FileScheme+"://")
	if !ok {
		return nil, errors.New(errors.ErrCodeInvalidInput, "not a %s image id: %q", FileScheme, imageID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	meta, pixels, err := ParseFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "decoding %s", imageID)
	}
	return models.NewDecodedImage(imageID, meta, pixels), nil
}

type record struct {
	imageID string
	meta    *models.Metadata
	pixels  models.PixelBuffer
}

// LoadDir parses every DICOM file below dir, groups instances by series
// instance UID and publishes one series per group. Files that are not DICOM
// are skipped.
func (d *Loader) LoadDir(ctx context.Context, dir string) ([]*models.Series, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	return d.LoadFiles(ctx, paths)
}

// LoadFiles is LoadDir for an explicit file list.
func (d *Loader) LoadFiles(ctx context.Context, paths []string) ([]*models.Series, error) {
	records := make([]*record, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			meta, pixels, err := ParseFile(path)
			if err != nil {
				d.logger.Debug("skipping file", "path", path, "err", err)
				return nil
			}
			records[i] = &record{imageID: FileScheme + "://" + path, meta: meta, pixels: pixels}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var found []*record
	for _, r := range records {
		if r != nil {
			found = append(found, r)
		}
	}
	if len(found) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "no readable DICOM files among %d paths", len(paths))
	}
	return d.publish(found)
}

// publish assembles records into series, caches their pixels and registers
// them in the registry context.
func (d *Loader) publish(records []*record) ([]*models.Series, error) {
	pixels := make(map[string]models.PixelBuffer, len(records))
	for _, r := range records {
		pixels[r.imageID] = r.pixels
	}

	series := assemble(records)
	for _, s := range series {
		for _, id := range s.ImageIDs {
			d.cache.Put(id, pixels[id])
		}
		if err := d.rc.Publish(s); err != nil {
			return nil, err
		}
		d.logger.Info("loaded series", "series", s.ID, "plane", s.Orientation, "images", s.Len())
	}
	return series, nil
}

// assemble groups records by series UID and orders each group along its
// slice normal, falling back to instance number.
func assemble(records []*record) []*models.Series {
	groups := make(map[string][]*record)
	var order []string
	for _, r := range records {
		uid := r.meta.SeriesInstanceUID
		if uid == "" {
			uid = "unknown"
		}
		if _, ok := groups[uid]; !ok {
			order = append(order, uid)
		}
		groups[uid] = append(groups[uid], r)
	}
	sort.Strings(order)

	out := make([]*models.Series, 0, len(order))
	for _, uid := range order {
		group := groups[uid]
		sortRecords(group)

		id := uid
		if id == "unknown" {
			id = uuid.NewString()
		}
		s := models.NewSeries(id)
		s.Description = group[0].meta.SeriesDescription
		s.Orientation = orientation.PlaneOf(group[0].meta.Orientation)
		for _, r := range group {
			s.Add(&models.Instance{
				ImageID:    r.imageID,
				InstanceID: r.meta.SOPInstanceUID,
				Metadata:   *r.meta,
			})
		}
		out = append(out, s)
	}
	return out
}

func sortRecords(group []*record) {
	normal, ok := orientation.Normal(group[0].meta.Orientation)
	byPosition := ok
	for _, r := range group {
		if r.meta.Position == nil {
			byPosition = false
			break
		}
	}
	sort.SliceStable(group, func(i, j int) bool {
		if byPosition {
			pi := r3.Dot(*group[i].meta.Position, normal)
			pj := r3.Dot(*group[j].meta.Position, normal)
			if pi != pj {
				return pi < pj
			}
		}
		return group[i].meta.InstanceNumber < group[j].meta.InstanceNumber
	})
}

// MultiframeSource resolves multiframe://<path>#<frame> image ids. Parsed
// datasets are kept so each file is read once.
type MultiframeSource struct {
	mu       sync.Mutex
	datasets map[string]*dicom.Dataset
}

// Kind implements loader.SliceSource.
func (m *MultiframeSource) Kind() loader.Kind { return loader.KindMultiframe }

// FrameID builds the image id of one frame.
func FrameID(path string, frame int) string {
	return fmt.Sprintf("%s://%s#%d", MultiframeScheme, path, frame)
}

func parseFrameID(imageID string) (string, int, error) {
	rest, ok := strings.CutPrefix(imageID, MultiframeScheme+"://")
	if !ok {
		return "", 0, fmt.Errorf("not a %s image id: %q", MultiframeScheme, imageID)
	}
	i := strings.LastIndex(rest, "#")
	if i < 0 {
		return rest, 0, nil
	}
	n, err := strconv.Atoi(rest[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("bad frame number in %q: %w", imageID, err)
	}
	return rest[:i], n, nil
}

func (m *MultiframeSource) dataset(path string) (*dicom.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ds, ok := m.datasets[path]; ok {
		return ds, nil
	}
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DICOM file %s: %w", path, err)
	}
	if m.datasets == nil {
		m.datasets = make(map[string]*dicom.Dataset)
	}
	m.datasets[path] = &ds
	return &ds, nil
}

// Resolve decodes one frame of a multi-frame file.
func (m *MultiframeSource) Resolve(ctx context.Context, imageID string) (*models.DecodedImage, error) {
	path, n, err := parseFrameID(imageID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "resolving %s", imageID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ds, err := m.dataset(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "resolving %s", imageID)
	}
	meta, pixels, err := decodeDataset(ds, n)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "resolving %s", imageID)
	}
	return models.NewDecodedImage(imageID, meta, pixels), nil
}

// LoadMultiframe publishes every frame of a multi-frame file as one series.
// Frame positions are stacked from the file position along the normal using
// the slice thickness; per-frame functional groups are not read.
func (d *Loader) LoadMultiframe(ctx context.Context, path string) (*models.Series, error) {
	ds, err := d.frames.dataset(path)
	if err != nil {
		return nil, err
	}
	return d.publishFrames(ctx, path, ds)
}

func (d *Loader) publishFrames(ctx context.Context, path string, ds *dicom.Dataset) (*models.Series, error) {
	base, err := readMetadata(ds)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "reading %s", path)
	}
	frames := numFrames(ds)
	if frames == 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "%s has no frames", path)
	}

	id := base.SeriesInstanceUID
	if id == "" {
		id = uuid.NewString()
	}
	s := models.NewSeries(id)
	s.Description = base.SeriesDescription
	s.Orientation = orientation.PlaneOf(base.Orientation)
	normal, hasNormal := orientation.Normal(base.Orientation)

	for n := 0; n < frames; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pixels, err := readFrame(ds, n, base.DType())
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "frame %d of %s", n, path)
		}
		meta := base
		meta.InstanceNumber = n + 1
		if base.Position != nil && hasNormal {
			pos := r3.Add(*base.Position, r3.Scale(float64(n)*base.SliceThickness, normal))
			meta.Position = &pos
		}
		imageID := FrameID(path, n)
		d.cache.Put(imageID, pixels)
		s.Add(&models.Instance{ImageID: imageID, InstanceID: fmt.Sprintf("%s.%d", base.SOPInstanceUID, n+1), Metadata: meta})
	}
	if err := d.rc.Publish(s); err != nil {
		return nil, err
	}
	d.logger.Info("loaded multiframe series", "series", s.ID, "frames", frames)
	return s, nil
}
