package pixelcache

import (
	"fmt"
	"sync"
	"testing"

	"dicomreslice/internal/models"
)

func TestPutGetDelete(t *testing.T) {
	c := New()
	b := models.NewPixelBuffer(models.Uint8, 4)
	c.Put("a", b)
	c.Put("b", b)

	if got, ok := c.Get("a"); !ok || got.Len() != 4 {
		t.Errorf("Expected cached buffer for a, got %v (%v)", got, ok)
	}
	c.Delete("a", "missing")
	if _, ok := c.Get("a"); ok {
		t.Error("Expected a to be deleted")
	}
	if c.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", c.Len())
	}
	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Expected empty cache after purge, got %d", c.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("img/%d", i)
			c.Put(id, models.NewPixelBuffer(models.Int16, i+1))
			if b, ok := c.Get(id); !ok || b.Len() != i+1 {
				t.Errorf("%s: unexpected buffer", id)
			}
		}(i)
	}
	wg.Wait()
	if c.Len() != 16 {
		t.Errorf("Expected 16 entries, got %d", c.Len())
	}
}
