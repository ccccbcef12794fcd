package api

import (
	"context"
	"sync"
	"time"

	"github.com/mskcc/oncotree-api/oncotree"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const defaultBuildConcurrency = 4

type Service interface {
	IsDataLoaded() bool
	Versions() []oncotree.Version
	ResolveVersion(name string) (oncotree.Version, error)
	GetTree(ctx context.Context, name string) (*oncotree.Tree, error)
	Reload(ctx context.Context) error
	ReloadVersion(ctx context.Context, name string) error
}

type ServiceImpl struct {
	sync.RWMutex
	versions    VersionSource
	resolver    *oncotree.VersionResolver
	trees       *oncotree.TreeCache
	liveKey     string
	concurrency int
	dataLoaded  bool
}

func NewService(versions VersionSource, resolver *oncotree.VersionResolver, trees *oncotree.TreeCache, liveKey string) *ServiceImpl {
	return &ServiceImpl{
		versions:    versions,
		resolver:    resolver,
		trees:       trees,
		liveKey:     liveKey,
		concurrency: defaultBuildConcurrency,
	}
}

func (s *ServiceImpl) IsDataLoaded() bool {
	s.RLock()
	defer s.RUnlock()
	return s.dataLoaded
}

func (s *ServiceImpl) setDataLoaded(val bool) {
	s.Lock()
	s.dataLoaded = val
	s.Unlock()
}

func (s *ServiceImpl) Versions() []oncotree.Version {
	return s.resolver.List()
}

// ResolveVersion resolves name, or the default alias when name is empty.
func (s *ServiceImpl) ResolveVersion(name string) (oncotree.Version, error) {
	if name == "" {
		return s.resolver.ResolveDefault()
	}
	return s.resolver.Resolve(name)
}

func (s *ServiceImpl) GetTree(ctx context.Context, name string) (*oncotree.Tree, error) {
	version, err := s.ResolveVersion(name)
	if err != nil {
		return nil, err
	}
	return s.trees.GetTree(ctx, version)
}

// Reload refreshes the version list and rebuilds every tree. Versions that
// fail keep their previous tree; only a failure of the default version fails
// the reload.
func (s *ServiceImpl) Reload(ctx context.Context) error {
	start := time.Now()
	log.Info("Reloading oncotree versions and trees")

	versions, err := s.versions.FetchVersions(ctx)
	if err != nil {
		return errors.Wrap(err, "loading oncotree versions")
	}
	if len(versions) == 0 {
		return errors.Wrap(oncotree.ErrSourceUnavailable, "no oncotree versions returned")
	}
	s.resolver.Refresh(versions)

	required, err := s.resolver.ResolveDefault()
	if err != nil {
		return errors.Wrapf(err, "required version '%s' is missing from the version list", s.resolver.DefaultAlias())
	}

	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed []string
		keys   []string
	)
	g.SetLimit(s.concurrency)
	for _, version := range s.resolver.List() {
		keys = append(keys, version.Key)
		if version.Key == s.liveKey {
			continue
		}
		version := version
		g.Go(func() error {
			if _, err := s.trees.Rebuild(ctx, version); err != nil {
				mu.Lock()
				failed = append(failed, version.Key)
				mu.Unlock()
				if version.Key == required.Key {
					return err
				}
			}
			return nil
		})
	}
	err = g.Wait()
	s.trees.Retain(keys)

	if err != nil {
		return errors.Wrapf(err, "failed to build required version '%s'", required.Key)
	}
	if len(failed) > 0 {
		log.WithField("versions", failed).Warn("Some oncotree versions failed to build, serving previous trees where available")
	}
	s.setDataLoaded(true)
	log.WithField("versions", len(keys)).Infof("Reloaded oncotree in %v", time.Since(start))
	return nil
}

func (s *ServiceImpl) ReloadVersion(ctx context.Context, name string) error {
	version, err := s.ResolveVersion(name)
	if err != nil {
		return err
	}
	_, err = s.trees.Rebuild(ctx, version)
	return err
}

// Run reloads every interval until ctx is done.
func (s *ServiceImpl) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Oncotree reloader stopped")
			return
		case <-ticker.C:
			if err := s.Reload(ctx); err != nil {
				log.WithError(err).Error("Scheduled oncotree reload failed")
			}
		}
	}
}
