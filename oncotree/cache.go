package oncotree

import (
	"context"
	"sort"
	"sync"
	"time"

	metrics "github.com/rcrowley/go-metrics"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// NodeSource returns the flat node list of a version.
type NodeSource interface {
	FetchNodes(ctx context.Context, version Version) ([]NodeRecord, error)
}

// TreeCache keeps one built tree per version key. At most one fetch and build
// per key is in flight; GetTree and Rebuild callers for that key share it. The
// live key is rebuilt on every call and never stored.
type TreeCache struct {
	sync.RWMutex
	source  NodeSource
	builder *TreeBuilder
	liveKey string
	trees   map[string]*Tree
	group   singleflight.Group

	// Invalidations bump these; a build only stores its tree when neither
	// moved while it ran.
	epoch       uint64
	generations map[string]uint64

	hits     metrics.Counter
	misses   metrics.Counter
	failures metrics.Counter
	builds   metrics.Timer
}

type generation struct {
	epoch uint64
	key   uint64
}

func NewTreeCache(source NodeSource, builder *TreeBuilder, liveKey string, registry metrics.Registry) *TreeCache {
	if registry == nil {
		registry = metrics.DefaultRegistry
	}
	return &TreeCache{
		source:      source,
		builder:     builder,
		liveKey:     liveKey,
		trees:       make(map[string]*Tree),
		generations: make(map[string]uint64),
		hits:        metrics.GetOrRegisterCounter("oncotree.tree.cache.hit", registry),
		misses:      metrics.GetOrRegisterCounter("oncotree.tree.cache.miss", registry),
		failures:    metrics.GetOrRegisterCounter("oncotree.tree.build.failure", registry),
		builds:      metrics.GetOrRegisterTimer("oncotree.tree.build", registry),
	}
}

// GetTree returns the tree of version, building it on a miss. Build and fetch
// failures are wrapped in ErrTreeUnavailable and are not cached.
func (c *TreeCache) GetTree(ctx context.Context, version Version) (*Tree, error) {
	if !c.isLive(version.Key) {
		if tree, ok := c.cached(version.Key); ok {
			c.hits.Inc(1)
			return tree, nil
		}
	}
	return c.load(ctx, version, true)
}

// Rebuild fetches and builds version again. The previous tree keeps serving
// until the new one is ready and stays in place if the rebuild fails. If a
// build of version is already running, Rebuild waits for it instead of
// starting another.
func (c *TreeCache) Rebuild(ctx context.Context, version Version) (*Tree, error) {
	previous, _ := c.cached(version.Key)
	for {
		tree, err := c.load(ctx, version, false)
		// A joined GetTree call may have answered from the cache.
		if err != nil || tree != previous {
			return tree, err
		}
	}
}

// load runs the single in-flight build for version.Key, or joins it. With
// reuseCached the call answers from the cache when a build finished between
// the caller's miss and the start of the call.
func (c *TreeCache) load(ctx context.Context, version Version, reuseCached bool) (*Tree, error) {
	v, err, _ := c.group.Do(version.Key, func() (interface{}, error) {
		if reuseCached && !c.isLive(version.Key) {
			if tree, ok := c.cached(version.Key); ok {
				c.hits.Inc(1)
				return tree, nil
			}
		}
		c.misses.Inc(1)
		gen := c.generation(version.Key)
		tree, err := c.build(ctx, version)
		if err != nil {
			return nil, err
		}
		c.store(version.Key, tree, gen)
		return tree, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Tree), nil
}

func (c *TreeCache) build(ctx context.Context, version Version) (*Tree, error) {
	start := time.Now()
	records, err := c.source.FetchNodes(ctx, version)
	if err != nil {
		c.failures.Inc(1)
		log.WithError(err).Errorf("Unable to fetch oncotree nodes for version '%s'", version.Key)
		return nil, &treeUnavailableError{version: version.Key, cause: err}
	}
	tree, err := c.builder.Build(records, version)
	if err != nil {
		c.failures.Inc(1)
		log.WithError(err).Errorf("Unable to build oncotree for version '%s'", version.Key)
		return nil, &treeUnavailableError{version: version.Key, cause: err}
	}
	c.builds.UpdateSince(start)
	log.Infof("Built oncotree for version '%s' from %d nodes in %v", version.Key, len(records), time.Since(start))
	return tree, nil
}

func (c *TreeCache) generation(key string) generation {
	c.RLock()
	defer c.RUnlock()
	return generation{epoch: c.epoch, key: c.generations[key]}
}

// store caches tree unless key is live or was invalidated since gen was read.
func (c *TreeCache) store(key string, tree *Tree, gen generation) {
	if c.isLive(key) {
		return
	}
	c.Lock()
	defer c.Unlock()
	if c.epoch != gen.epoch || c.generations[key] != gen.key {
		log.Debugf("Discarding oncotree for version '%s', invalidated during build", key)
		return
	}
	c.trees[key] = tree
}

// Retain drops every cached tree whose key is not in keys.
func (c *TreeCache) Retain(keys []string) {
	keep := make(map[string]bool, len(keys))
	for _, k := range keys {
		keep[k] = true
	}
	c.Lock()
	defer c.Unlock()
	for k := range c.trees {
		if !keep[k] {
			log.Infof("Dropping cached oncotree for retired version '%s'", k)
			delete(c.trees, k)
			c.generations[k]++
		}
	}
}

// Invalidate drops the tree of version; the next GetTree rebuilds it. A build
// already running for version does not store its result.
func (c *TreeCache) Invalidate(version Version) {
	c.Lock()
	delete(c.trees, version.Key)
	c.generations[version.Key]++
	c.Unlock()
}

func (c *TreeCache) InvalidateAll() {
	c.Lock()
	c.trees = make(map[string]*Tree)
	c.epoch++
	c.Unlock()
}

// Cached returns the keys that currently hold a tree, sorted.
func (c *TreeCache) Cached() []string {
	c.RLock()
	defer c.RUnlock()
	keys := make([]string, 0, len(c.trees))
	for k := range c.trees {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *TreeCache) cached(key string) (*Tree, bool) {
	c.RLock()
	defer c.RUnlock()
	tree, ok := c.trees[key]
	return tree, ok
}

func (c *TreeCache) isLive(key string) bool {
	return c.liveKey != "" && key == c.liveKey
}

// treeUnavailableError matches ErrTreeUnavailable while keeping the fetch or
// build cause reachable through errors.Is and errors.As.
type treeUnavailableError struct {
	version string
	cause   error
}

func (e *treeUnavailableError) Error() string {
	return "version '" + e.version + "': " + ErrTreeUnavailable.Error() + ": " + e.cause.Error()
}

func (e *treeUnavailableError) Is(target error) bool {
	return target == ErrTreeUnavailable
}

func (e *treeUnavailableError) Unwrap() error {
	return e.cause
}
