package mjpeg

import (
	"io"
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/lanikai/camrelay/internal/media"
)

// Boundary separating parts of a multipart/x-mixed-replace response.
const Boundary = "frame"

// ContentType of a multipart MJPEG response.
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

var (
	partHeader  = []byte("--" + Boundary + "\r\nContent-Type: image/jpeg\r\n\r\n")
	partTrailer = []byte("\r\n")
)

// Part wraps one JPEG image as a multipart body part: boundary line,
// Content-Type header, blank line, image bytes, line break.
func Part(jpeg []byte) []byte {
	p := make([]byte, 0, len(partHeader)+len(jpeg)+len(partTrailer))
	p = append(p, partHeader...)
	p = append(p, jpeg...)
	return append(p, partTrailer...)
}

// WritePart writes jpeg to w as a single multipart body part.
func WritePart(w io.Writer, jpeg []byte) (int, error) {
	return w.Write(Part(jpeg))
}

// A PartCache builds the multipart body part of each published frame once, no
// matter how many viewers send it. Safe for concurrent use.
type PartCache struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// NewPartCache remembers the parts of the n most recent frames.
func NewPartCache(n int) *PartCache {
	if n < 1 {
		n = 1
	}
	return &PartCache{cache: lru.New(n)}
}

// Get returns the multipart body part for f. The result must not be modified.
func (c *PartCache) Get(f *media.Frame) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.cache.Get(f.Seq); ok {
		return p.([]byte)
	}
	p := Part(f.Bytes())
	c.cache.Add(f.Seq, p)
	return p
}

// Len returns the number of cached parts.
func (c *PartCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}
