package reference

import (
	"context"
	"image"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Cache keeps built Sets keyed by the fingerprint of their reference image.
//
// Readers load an immutable map snapshot without locking. Writers copy the
// map, change the copy and publish it, so a Set is replaced as a whole and
// never edited while someone is matching against it.
type Cache struct {
	builder *Builder
	logger  zerolog.Logger
	sets    atomic.Pointer[map[string]*Set]
	mu      sync.Mutex // serialises writers
	group   singleflight.Group
}

// NewCache creates an empty cache that builds missing sets with builder
func NewCache(builder *Builder, logger zerolog.Logger) *Cache {
	c := &Cache{builder: builder, logger: logger}
	empty := map[string]*Set{}
	c.sets.Store(&empty)
	return c
}

// Get returns the set for a fingerprint
func (c *Cache) Get(fingerprint string) (*Set, bool) {
	s, ok := (*c.sets.Load())[fingerprint]
	return s, ok
}

// Len returns the number of cached sets
func (c *Cache) Len() int {
	return len(*c.sets.Load())
}

// Put publishes set under its fingerprint, replacing any previous set
func (c *Cache) Put(set *Set) {
	c.update(func(m map[string]*Set) { m[set.Fingerprint()] = set })
}

// Delete drops the set for a fingerprint
func (c *Cache) Delete(fingerprint string) {
	c.update(func(m map[string]*Set) { delete(m, fingerprint) })
}

// GetOrBuild returns the cached set for img, building it on a miss.
// Concurrent calls for the same image share one build. The shared build is
// detached from each caller's cancellation: a caller whose ctx ends gets
// ctx.Err() while the build carries on for the others and is cached.
func (c *Cache) GetOrBuild(ctx context.Context, img image.Image) (*Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src := imaging.Clone(img)
	fp := FingerprintNRGBA(src)
	if s, ok := c.Get(fp); ok {
		c.logger.Debug().Str("fingerprint", fp[:12]).Msg("reference cache hit")
		return s, nil
	}

	buildCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(fp, func() (interface{}, error) {
		if s, ok := c.Get(fp); ok {
			return s, nil
		}
		s, err := c.builder.Build(buildCtx, src)
		if err != nil {
			return nil, err
		}
		c.Put(s)
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Set), nil
	}
}

func (c *Cache) update(fn func(map[string]*Set)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := maps.Clone(*c.sets.Load())
	fn(next)
	c.sets.Store(&next)
}
