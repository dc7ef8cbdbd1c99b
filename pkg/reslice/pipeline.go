// Package reslice synthesizes coronal and sagittal stacks from an axially
// acquired series by exact voxel reassignment.
//
// The work is split in two phases:
//  1. Reslice builds the metadata of every output slice eagerly and publishes
//     the new series in the registry context.
//  2. Pixels are produced lazily, one slice at a time, when the loader
//     registry first resolves a "reslice://<n>" image id. Materialize forces
//     every slice through a bounded worker pool.
package reslice

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dicomreslice/internal/models"
	"dicomreslice/pkg/errors"
	"dicomreslice/pkg/loader"
	"dicomreslice/pkg/orientation"
	"dicomreslice/pkg/pixelcache"
	"dicomreslice/pkg/registry"
)

// Pipeline drives metadata building, publication and lazy resampling.
type Pipeline struct {
	rc      *registry.Context
	cache   *pixelcache.Cache
	loaders *loader.Registry
	source  *Source
	workers int
	logger  *log.Logger
	newUID  func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithWorkers bounds the number of slices Materialize resamples at once.
// Values below 1 select runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(p *Pipeline) { p.workers = n }
}

// NewPipeline wires a pipeline to its collaborators and registers the
// resliced-image source under registry.ResliceScheme.
func NewPipeline(rc *registry.Context, cache *pixelcache.Cache, loaders *loader.Registry, opts ...Option) *Pipeline {
	p := &Pipeline{
		rc:      rc,
		cache:   cache,
		loaders: loaders,
		source:  NewSource(),
		workers: runtime.NumCPU(),
		logger:  log.Default(),
		newUID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workers < 1 {
		p.workers = runtime.NumCPU()
	}
	loaders.Register(registry.ResliceScheme, p.source)
	return p
}

// Source returns the resliced-image SliceSource.
func (p *Pipeline) Source() *Source { return p.source }

// Reslice builds a new series showing sourceID in plane to. It returns once
// the metadata is published; pixels are resampled on first load. On error
// nothing is published.
func (p *Pipeline) Reslice(ctx context.Context, sourceID string, to orientation.Plane) (*models.Series, error) {
	start := time.Now()

	src, err := p.rc.Series(sourceID)
	if err != nil {
		return nil, err
	}
	from := src.Orientation
	if from == orientation.Unknown {
		p.logger.Debug("series has no plane tag, assuming axial", "series", sourceID)
		from = orientation.Axial
	}
	table, err := orientation.Lookup(from, to)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeUnsupportedTransform, err, "series %q", sourceID)
	}

	g, err := ComputeGeometry(src, table)
	if err != nil {
		return nil, err
	}
	if g.DegenerateSpacing {
		p.logger.Warn("cannot measure slice spacing, using 0",
			"series", sourceID, "code", errors.ErrCodeDegenerateSpacing, "slices", src.Len())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seriesID := p.newUID()
	instances := buildInstances(src, g, seriesID, p.rc.NextResliceImageID, p.newUID)

	series := models.NewSeries(seriesID)
	series.Description = src.Description
	series.Orientation = to
	series.IsResliced = true
	batch := make(map[string]producer, len(instances))
	for f, inst := range instances {
		series.Add(inst)
		batch[inst.ImageID] = p.producer(src, inst, f)
	}
	series.CurrentImageIndex = series.Len() / 2

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.source.add(batch)
	if err := p.rc.Publish(series); err != nil {
		p.source.remove(series.ImageIDs)
		return nil, err
	}
	if err := p.rc.LinkResliced(sourceID, to, seriesID); err != nil {
		p.rc.RemoveSeries(seriesID)
		p.source.remove(series.ImageIDs)
		return nil, err
	}

	p.logger.Info("resliced series",
		"source", sourceID, "series", seriesID, "from", from, "to", to,
		"table", table.String(), "size", fmt.Sprintf("%dx%dx%d", g.ToSize[0], g.ToSize[1], g.ToSize[2]),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return series, nil
}

// ResliceAll reslices sourceID into both planes other than its own.
func (p *Pipeline) ResliceAll(ctx context.Context, sourceID string) (map[orientation.Plane]*models.Series, error) {
	src, err := p.rc.Series(sourceID)
	if err != nil {
		return nil, err
	}
	from := src.Orientation
	if from == orientation.Unknown {
		from = orientation.Axial
	}

	out := make(map[orientation.Plane]*models.Series, 2)
	for _, to := range []orientation.Plane{orientation.Axial, orientation.Coronal, orientation.Sagittal} {
		if to == from {
			continue
		}
		s, err := p.Reslice(ctx, sourceID, to)
		if err != nil {
			for _, done := range out {
				p.Discard(done.ID)
			}
			return nil, err
		}
		out[to] = s
	}
	return out, nil
}

func (p *Pipeline) producer(src *models.Series, inst *models.Instance, f int) producer {
	return func(ctx context.Context) (*models.DecodedImage, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := Resample(src, inst, f, p.cache)
		if err != nil {
			return nil, err
		}
		if res.Unresolved > 0 {
			p.logger.Warn("source pixels not cached",
				"image", inst.ImageID, "code", errors.ErrCodeUncachedSourcePixel, "pixels", res.Unresolved)
		}
		p.logger.Debug("resampled slice", "image", inst.ImageID, "frame", f)
		return models.NewDecodedImage(inst.ImageID, &inst.Metadata, res.Pixels), nil
	}
}

// Materialize resolves every slice of seriesID through the loader registry,
// at most p.workers at a time. Images come back in series order.
func (p *Pipeline) Materialize(ctx context.Context, seriesID string) ([]*models.DecodedImage, error) {
	series, err := p.rc.Series(seriesID)
	if err != nil {
		return nil, err
	}

	images := make([]*models.DecodedImage, series.Len())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, id := range series.ImageIDs {
		g.Go(func() error {
			img, err := p.loaders.Load(gctx, id)
			if err != nil {
				return fmt.Errorf("loading %s: %w", id, err)
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

// Discard removes a resliced series: its registry entry, tracked images,
// producers, cached pixels and the back-link from its source.
func (p *Pipeline) Discard(seriesID string) error {
	series, err := p.rc.Series(seriesID)
	if err != nil {
		return err
	}
	if !series.IsResliced {
		return errors.New(errors.ErrCodeInvalidInput, "series %q was not produced by reslicing", seriesID)
	}
	p.source.remove(series.ImageIDs)
	p.cache.Delete(series.ImageIDs...)
	p.rc.UnlinkResliced(seriesID)
	p.rc.RemoveSeries(seriesID)
	p.logger.Debug("discarded resliced series", "series", seriesID)
	return nil
}
