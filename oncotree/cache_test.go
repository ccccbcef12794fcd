package oncotree

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	metrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
)

type mockNodeSource struct {
	mu        sync.Mutex
	records   []NodeRecord
	errs      []error
	delay     time.Duration
	calls     int32
	active    int32
	maxActive int32
}

func (s *mockNodeSource) FetchNodes(ctx context.Context, version Version) ([]NodeRecord, error) {
	n := atomic.AddInt32(&s.calls, 1)
	active := atomic.AddInt32(&s.active, 1)
	defer atomic.AddInt32(&s.active, -1)
	for {
		peak := atomic.LoadInt32(&s.maxActive)
		if active <= peak || atomic.CompareAndSwapInt32(&s.maxActive, peak, active) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(n) <= len(s.errs) && s.errs[n-1] != nil {
		return nil, s.errs[n-1]
	}
	return s.records, nil
}

func (s *mockNodeSource) count() int {
	return int(atomic.LoadInt32(&s.calls))
}

func (s *mockNodeSource) peak() int {
	return int(atomic.LoadInt32(&s.maxActive))
}

func newTestTreeCache(source NodeSource) *TreeCache {
	return NewTreeCache(source, NewTreeBuilder(testConcepts()), DefaultLiveVersion, metrics.NewRegistry())
}

func TestTreeCacheBuildsOncePerVersion(t *testing.T) {
	source := &mockNodeSource{records: breastAndLungRecords(), delay: 50 * time.Millisecond}
	cache := newTestTreeCache(source)

	const callers = 20
	trees := make([]*Tree, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tree, err := cache.GetTree(context.Background(), testVersion)
			assert.NoError(t, err)
			trees[i] = tree
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, source.count())
	for _, tree := range trees {
		assert.Same(t, trees[0], tree)
	}
	assert.Equal(t, []string{testVersion.Key}, cache.Cached())

	again, err := cache.GetTree(context.Background(), testVersion)
	assert.NoError(t, err)
	assert.Same(t, trees[0], again)
	assert.Equal(t, 1, source.count())
}

func TestTreeCacheSeparatesVersions(t *testing.T) {
	source := &mockNodeSource{records: breastAndLungRecords()}
	cache := newTestTreeCache(source)

	other := Version{Key: "oncotree_2019_12_01", GraphURI: "urn:graph:2019"}
	a, err := cache.GetTree(context.Background(), testVersion)
	assert.NoError(t, err)
	b, err := cache.GetTree(context.Background(), other)
	assert.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, other, b.Version)
	assert.Equal(t, 2, source.count())
	assert.Equal(t, []string{"oncotree_2019_12_01", testVersion.Key}, cache.Cached())
}

func TestTreeCacheLiveVersionAlwaysRebuilt(t *testing.T) {
	source := &mockNodeSource{records: breastAndLungRecords()}
	cache := newTestTreeCache(source)
	live := Version{Key: DefaultLiveVersion}

	first, err := cache.GetTree(context.Background(), live)
	assert.NoError(t, err)
	second, err := cache.GetTree(context.Background(), live)
	assert.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, source.count())
	assert.Empty(t, cache.Cached())
}

func TestTreeCacheFailuresAreNotCached(t *testing.T) {
	sourceErr := errors.New("connection refused")
	source := &mockNodeSource{records: breastAndLungRecords(), errs: []error{sourceErr}}
	cache := newTestTreeCache(source)

	tree, err := cache.GetTree(context.Background(), testVersion)
	assert.Nil(t, tree)
	assert.True(t, errors.Is(err, ErrTreeUnavailable))
	assert.True(t, errors.Is(err, sourceErr))
	assert.Empty(t, cache.Cached())

	tree, err = cache.GetTree(context.Background(), testVersion)
	assert.NoError(t, err)
	assert.NotNil(t, tree)
	assert.Equal(t, 2, source.count())
}

func TestTreeCacheInvalidTree(t *testing.T) {
	source := &mockNodeSource{records: []NodeRecord{{Code: "BRCA", ParentCode: "BREAST"}}}
	cache := newTestTreeCache(source)

	_, err := cache.GetTree(context.Background(), testVersion)
	assert.True(t, errors.Is(err, ErrTreeUnavailable))
	var invalid *InvalidTreeError
	assert.True(t, errors.As(err, &invalid))
	assert.Empty(t, cache.Cached())
}

func TestTreeCacheInvalidate(t *testing.T) {
	source := &mockNodeSource{records: breastAndLungRecords()}
	cache := newTestTreeCache(source)
	other := Version{Key: "oncotree_2019_12_01"}

	first, _ := cache.GetTree(context.Background(), testVersion)
	cache.GetTree(context.Background(), other)

	cache.Invalidate(testVersion)
	assert.Equal(t, []string{other.Key}, cache.Cached())

	rebuilt, err := cache.GetTree(context.Background(), testVersion)
	assert.NoError(t, err)
	assert.NotSame(t, first, rebuilt)

	cache.InvalidateAll()
	assert.Empty(t, cache.Cached())
	assert.Equal(t, 3, source.count())
}

func TestTreeCacheRebuild(t *testing.T) {
	source := &mockNodeSource{records: breastAndLungRecords()}
	cache := newTestTreeCache(source)

	first, err := cache.GetTree(context.Background(), testVersion)
	assert.NoError(t, err)

	rebuilt, err := cache.Rebuild(context.Background(), testVersion)
	assert.NoError(t, err)
	assert.NotSame(t, first, rebuilt)

	current, err := cache.GetTree(context.Background(), testVersion)
	assert.NoError(t, err)
	assert.Same(t, rebuilt, current)
	assert.Equal(t, 2, source.count())
}

func TestTreeCacheRebuildFailureKeepsTree(t *testing.T) {
	source := &mockNodeSource{records: breastAndLungRecords(), errs: []error{nil, errors.New("timeout")}}
	cache := newTestTreeCache(source)

	first, err := cache.GetTree(context.Background(), testVersion)
	assert.NoError(t, err)

	_, err = cache.Rebuild(context.Background(), testVersion)
	assert.True(t, errors.Is(err, ErrTreeUnavailable))

	current, err := cache.GetTree(context.Background(), testVersion)
	assert.NoError(t, err)
	assert.Same(t, first, current)
}

func TestTreeCacheRetain(t *testing.T) {
	source := &mockNodeSource{records: breastAndLungRecords()}
	cache := newTestTreeCache(source)
	retired := Version{Key: "oncotree_2017_01_01"}

	cache.GetTree(context.Background(), testVersion)
	cache.GetTree(context.Background(), retired)
	cache.Retain([]string{testVersion.Key})

	assert.Equal(t, []string{testVersion.Key}, cache.Cached())
}

func TestTreeCacheGetTreeAndRebuildShareBuild(t *testing.T) {
	source := &mockNodeSource{records: breastAndLungRecords(), delay: 100 * time.Millisecond}
	cache := newTestTreeCache(source)

	var wg sync.WaitGroup
	trees := make([]*Tree, 4)
	for i := range trees {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				trees[i], err = cache.GetTree(context.Background(), testVersion)
			} else {
				trees[i], err = cache.Rebuild(context.Background(), testVersion)
			}
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, source.peak())
	assert.Equal(t, 1, source.count())
	for _, tree := range trees {
		assert.Same(t, trees[0], tree)
	}
}

func TestTreeCacheInvalidateDuringBuild(t *testing.T) {
	tests := []struct {
		name       string
		invalidate func(c *TreeCache)
	}{
		{"invalidate version", func(c *TreeCache) { c.Invalidate(testVersion) }},
		{"invalidate all", func(c *TreeCache) { c.InvalidateAll() }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			source := &mockNodeSource{records: breastAndLungRecords(), delay: 100 * time.Millisecond}
			cache := newTestTreeCache(source)

			done := make(chan *Tree)
			go func() {
				tree, err := cache.GetTree(context.Background(), testVersion)
				assert.NoError(t, err)
				done <- tree
			}()
			time.Sleep(30 * time.Millisecond)
			test.invalidate(cache)

			assert.NotNil(t, <-done)
			assert.Empty(t, cache.Cached())

			_, err := cache.GetTree(context.Background(), testVersion)
			assert.NoError(t, err)
			assert.Equal(t, []string{testVersion.Key}, cache.Cached())
			assert.Equal(t, 2, source.count())
		})
	}
}

func TestTreeCacheCountsOneMissPerBuild(t *testing.T) {
	registry := metrics.NewRegistry()
	source := &mockNodeSource{records: breastAndLungRecords(), delay: 50 * time.Millisecond}
	cache := NewTreeCache(source, NewTreeBuilder(testConcepts()), DefaultLiveVersion, registry)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.GetTree(context.Background(), testVersion)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	_, err := cache.GetTree(context.Background(), testVersion)
	assert.NoError(t, err)

	assert.Equal(t, int64(1), registry.Get("oncotree.tree.cache.miss").(metrics.Counter).Count())
	assert.Equal(t, int64(1), registry.Get("oncotree.tree.cache.hit").(metrics.Counter).Count())
}
