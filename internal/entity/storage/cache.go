package storage

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// BuildFunc compiles the descriptor for an archetype name. It is expected to
// be expensive (parsing, condition/thread compilation) relative to a map
// lookup, which is why DescriptorCache exists.
type BuildFunc func(name string) (*EntityDescriptor, error)

// DescriptorCache memoizes compiled EntityDescriptors by archetype name and
// collapses concurrent Get calls for the same name into a single Build,
// via golang.org/x/sync/singleflight. A host loading many instances of the
// same archetype across goroutines (multiple registries/scenes coming up at
// once) only pays the compile cost once.
type DescriptorCache struct {
	group singleflight.Group
	build BuildFunc

	mu     sync.RWMutex
	byName map[string]*EntityDescriptor
}

// NewDescriptorCache returns a cache that compiles misses with build.
func NewDescriptorCache(build BuildFunc) *DescriptorCache {
	return &DescriptorCache{
		build:  build,
		byName: make(map[string]*EntityDescriptor),
	}
}

// Get returns the cached descriptor for name, building (and caching) it on
// first request. Concurrent Get calls for the same name share one Build.
func (c *DescriptorCache) Get(name string) (*EntityDescriptor, error) {
	c.mu.RLock()
	d, ok := c.byName[name]
	c.mu.RUnlock()
	if ok {
		return d, nil
	}

	v, err, _ := c.group.Do(name, func() (any, error) {
		d, err := c.build(name)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.byName[name] = d
		c.mu.Unlock()
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*EntityDescriptor), nil
}

// Invalidate drops name from the cache, forcing the next Get to rebuild it.
func (c *DescriptorCache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.byName, name)
	c.mu.Unlock()
}

// Len reports how many archetypes are currently cached.
func (c *DescriptorCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byName)
}
