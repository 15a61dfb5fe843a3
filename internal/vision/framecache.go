package vision

import (
	"image"
	"sync"

	"github.com/corona10/goimagehash"
)

// DefaultCacheDistance is the largest perceptual-hash Hamming distance at
// which two frames count as the same scene.
const DefaultCacheDistance = 5

const defaultCacheSize = 16

// FrameCache remembers recent VLM answers keyed by the perceptual hash of the
// frame and the instruction. A realtime camera feed sends many nearly
// identical frames; those are answered from the cache.
type FrameCache struct {
	maxDistance int
	size        int

	mu      sync.Mutex
	entries []cacheEntry // oldest first
}

type cacheEntry struct {
	hash        *goimagehash.ImageHash
	instruction string
	answer      string
}

// NewFrameCache returns a cache holding up to size answers. Frames within
// maxDistance of a cached frame hit.
func NewFrameCache(maxDistance, size int) *FrameCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	return &FrameCache{maxDistance: maxDistance, size: size}
}

// Hash computes the perceptual hash of img.
func (c *FrameCache) Hash(img image.Image) (*goimagehash.ImageHash, error) {
	return goimagehash.PerceptionHash(img)
}

// Lookup returns the cached answer for a frame close to h with the same
// instruction. A hit moves the entry to the back.
func (c *FrameCache) Lookup(h *goimagehash.ImageHash, instruction string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.entries) - 1; i >= 0; i-- {
		e := c.entries[i]
		if e.instruction != instruction {
			continue
		}
		d, err := h.Distance(e.hash)
		if err != nil || d > c.maxDistance {
			continue
		}
		c.entries = append(append(c.entries[:i], c.entries[i+1:]...), e)
		return e.answer, true
	}
	return "", false
}

// Store records answer for the frame hashed to h, evicting the oldest entry
// when full.
func (c *FrameCache) Store(h *goimagehash.ImageHash, instruction, answer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.size {
		c.entries = c.entries[1:]
	}
	c.entries = append(c.entries, cacheEntry{hash: h, instruction: instruction, answer: answer})
}

// Len returns the number of cached answers.
func (c *FrameCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
