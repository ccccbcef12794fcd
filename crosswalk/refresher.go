package crosswalk

import (
	"context"
	"time"

	"github.com/mskcc/oncotree-api/backup"
	"github.com/mskcc/oncotree-api/oncotree"
	metrics "github.com/rcrowley/go-metrics"
	log "github.com/sirupsen/logrus"
)

// snapshotKey is the backup key the full concept map is persisted under.
const snapshotKey = "all"

type VersionSource interface {
	FetchVersions(ctx context.Context) ([]oncotree.Version, error)
}

type ConceptSource interface {
	GetByOncotreeCode(ctx context.Context, code string) (Concept, error)
}

// Invalidator drops built trees so they pick up new concepts.
type Invalidator interface {
	InvalidateAll()
}

// Refresher rebuilds the concept cache from every version's node list.
type Refresher struct {
	versions    VersionSource
	nodes       oncotree.NodeSource
	concepts    ConceptSource
	cache       *Cache
	fallback    *backup.Fallback
	invalidator Invalidator
	timer       metrics.Timer
}

func NewRefresher(versions VersionSource, nodes oncotree.NodeSource, concepts ConceptSource, cache *Cache,
	fallback *backup.Fallback, invalidator Invalidator, registry metrics.Registry) *Refresher {
	if registry == nil {
		registry = metrics.DefaultRegistry
	}
	return &Refresher{
		versions:    versions,
		nodes:       nodes,
		concepts:    concepts,
		cache:       cache,
		fallback:    fallback,
		invalidator: invalidator,
		timer:       metrics.GetOrRegisterTimer("crosswalk.refresh", registry),
	}
}

// Refresh collects concepts for every code of every version, falling back to
// the last persisted concept map when the sources fail. On success the cache
// is swapped and all trees are invalidated.
func (r *Refresher) Refresh(ctx context.Context) error {
	start := time.Now()
	log.Info("Attempting to refresh crosswalk concept cache")

	var (
		result backup.Result[map[string]Concept]
		err    error
	)
	if r.fallback != nil {
		result, err = backup.Fetch(ctx, r.fallback, snapshotKey, r.collect)
	} else {
		result.Value, err = r.collect(ctx)
	}
	if err != nil {
		log.WithError(err).Error("Failed to refresh crosswalk concept cache")
		return err
	}
	if r.fallback != nil && !result.Degraded {
		if err := r.fallback.Persist(snapshotKey, result.Value); err != nil {
			log.WithError(err).Warn("Unable to persist crosswalk concepts to backup")
		}
	}

	r.cache.Replace(result.Value)
	if r.invalidator != nil {
		r.invalidator.InvalidateAll()
	}
	r.timer.UpdateSince(start)
	log.WithFields(log.Fields{"concepts": len(result.Value), "degraded": result.Degraded}).
		Infof("Refreshed crosswalk concept cache in %v", time.Since(start))
	return nil
}

// collect walks versions oldest first. A code's history is every other code
// that earlier versions used for the same node URI. When a code appears in
// several versions the latest occurrence wins.
func (r *Refresher) collect(ctx context.Context) (map[string]Concept, error) {
	versions, err := r.versions.FetchVersions(ctx)
	if err != nil {
		return nil, err
	}
	oncotree.SortVersions(versions)

	fetched := map[string]Concept{}
	uriCodes := map[string]map[string]bool{}
	concepts := map[string]Concept{}

	for _, version := range versions {
		nodes, err := r.nodes.FetchNodes(ctx, version)
		if err != nil {
			return nil, err
		}
		for _, node := range nodes {
			concept, ok := fetched[node.Code]
			if !ok {
				concept, err = r.concepts.GetByOncotreeCode(ctx, node.Code)
				if err != nil {
					return nil, err
				}
				fetched[node.Code] = concept
			}
			if node.URI == "" {
				concepts[node.Code] = concept
				continue
			}
			codes, seen := uriCodes[node.URI]
			if !seen {
				codes = map[string]bool{}
				uriCodes[node.URI] = codes
			}
			concepts[node.Code] = concept.withHistory(codes, node.Code)
			codes[node.Code] = true
		}
	}
	return concepts, nil
}

// Run refreshes every interval until ctx is done.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Crosswalk refresher stopped")
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				log.WithError(err).Warn("Scheduled crosswalk refresh failed, keeping previous concepts")
			}
		}
	}
}
