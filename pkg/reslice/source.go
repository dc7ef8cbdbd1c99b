package reslice

import (
	"context"
	"sync"

	"dicomreslice/internal/models"
	"dicomreslice/pkg/errors"
	"dicomreslice/pkg/loader"
)

type producer func(ctx context.Context) (*models.DecodedImage, error)

// Source is the SliceSource of resliced images. Each image id maps to a
// closure that resamples its slice on demand.
type Source struct {
	mu        sync.RWMutex
	producers map[string]producer
}

// NewSource returns an empty resliced-image source.
func NewSource() *Source {
	return &Source{producers: make(map[string]producer)}
}

// Kind implements loader.SliceSource.
func (s *Source) Kind() loader.Kind { return loader.KindResliced }

// Resolve runs the producer registered for imageID.
func (s *Source) Resolve(ctx context.Context, imageID string) (*models.DecodedImage, error) {
	s.mu.RLock()
	p, ok := s.producers[imageID]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.ErrCodeImageNotFound, "no resliced image %q", imageID)
	}
	return p(ctx)
}

// Len returns the number of registered producers.
func (s *Source) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.producers)
}

func (s *Source) add(batch map[string]producer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range batch {
		s.producers[id] = p
	}
}

func (s *Source) remove(imageIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range imageIDs {
		delete(s.producers, id)
	}
}
