// Package registry holds the series manager and image tracker shared by the
// loaders and the reslice pipeline. A Context replaces process-wide state:
// create one per viewer session with New and clear it with Reset.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"dicomreslice/internal/models"
	"dicomreslice/pkg/errors"
	"dicomreslice/pkg/orientation"
)

// ResliceScheme is the image id namespace of resliced images.
const ResliceScheme = "reslice"

// Context is the series manager plus the image id → series id tracker.
type Context struct {
	mu      sync.RWMutex
	series  map[string]*models.Series
	tracker map[string]string
	nextSeq uint64
}

// New returns an empty Context.
func New() *Context {
	c := &Context{}
	c.Reset()
	return c
}

// Reset drops every series and tracked image. The reslice counter keeps
// running so ids issued after a reset never alias earlier ones.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.series = make(map[string]*models.Series)
	c.tracker = make(map[string]string)
}

// AddSeries registers s under s.ID, replacing any previous entry.
func (c *Context) AddSeries(s *models.Series) error {
	if s == nil || s.ID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "series must have an id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.series[s.ID] = s
	return nil
}

// Series returns the series registered under id.
func (c *Context) Series(id string) (*models.Series, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.series[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeSeriesNotFound, "series %q", id)
	}
	return s, nil
}

// SeriesIDs returns the registered ids in sorted order.
func (c *Context) SeriesIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.series))
	for id := range c.series {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RemoveSeries drops a series and every tracker entry pointing at it.
func (c *Context) RemoveSeries(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.series, id)
	for imageID, owner := range c.tracker {
		if owner == id {
			delete(c.tracker, imageID)
		}
	}
}

// TrackImages records seriesID as the owner of every image id.
func (c *Context) TrackImages(seriesID string, imageIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range imageIDs {
		c.tracker[id] = seriesID
	}
}

// OwnerOf returns the series owning imageID.
func (c *Context) OwnerOf(imageID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.tracker[imageID]
	return id, ok
}

// Instance resolves an image id to its instance through the tracker.
func (c *Context) Instance(imageID string) (*models.Instance, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	owner, ok := c.tracker[imageID]
	if !ok {
		return nil, errors.New(errors.ErrCodeImageNotFound, "image %q is not tracked", imageID)
	}
	s, ok := c.series[owner]
	if !ok {
		return nil, errors.New(errors.ErrCodeSeriesNotFound, "series %q of image %q", owner, imageID)
	}
	inst, ok := s.Instances[imageID]
	if !ok {
		return nil, errors.New(errors.ErrCodeImageNotFound, "image %q not in series %q", imageID, owner)
	}
	return inst, nil
}

// NextResliceImageID returns a fresh "reslice://<n>" id.
func (c *Context) NextResliceImageID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := fmt.Sprintf("%s://%d", ResliceScheme, c.nextSeq)
	c.nextSeq++
	return id
}

// LinkResliced records that target was resliced from source into plane.
func (c *Context) LinkResliced(sourceID string, plane orientation.Plane, targetID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.series[sourceID]
	if !ok {
		return errors.New(errors.ErrCodeSeriesNotFound, "series %q", sourceID)
	}
	if s.Resliced == nil {
		s.Resliced = make(map[orientation.Plane]string)
	}
	s.Resliced[plane] = targetID
	return nil
}

// UnlinkResliced removes every back-link pointing at targetID.
func (c *Context) UnlinkResliced(targetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.series {
		for plane, id := range s.Resliced {
			if id == targetID {
				delete(s.Resliced, plane)
			}
		}
	}
}

// Publish adds a series and tracks its images in a single step, so readers
// never observe a series whose images are not yet tracked.
func (c *Context) Publish(s *models.Series) error {
	if s == nil || s.ID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "series must have an id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.series[s.ID] = s
	for _, id := range s.ImageIDs {
		c.tracker[id] = s.ID
	}
	return nil
}
