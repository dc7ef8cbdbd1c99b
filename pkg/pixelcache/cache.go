// Package pixelcache stores decoded pixel buffers by image id. The reslice
// resampler only ever reads from it; loaders fill it.
package pixelcache

import (
	"sync"

	"dicomreslice/internal/models"
)

// Cache is a concurrency-safe image id → pixel buffer map.
type Cache struct {
	mu     sync.RWMutex
	pixels map[string]models.PixelBuffer
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{pixels: make(map[string]models.PixelBuffer)}
}

// Put stores the buffer for imageID.
func (c *Cache) Put(imageID string, b models.PixelBuffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pixels[imageID] = b
}

// Get returns the cached buffer for imageID.
func (c *Cache) Get(imageID string) (models.PixelBuffer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.pixels[imageID]
	return b, ok
}

// Delete drops the buffers of the given image ids.
func (c *Cache) Delete(imageIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range imageIDs {
		delete(c.pixels, id)
	}
}

// Len returns the number of cached buffers.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pixels)
}

// Purge empties the cache.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pixels = make(map[string]models.PixelBuffer)
}
