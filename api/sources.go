package api

import (
	"context"

	"github.com/mskcc/oncotree-api/backup"
	"github.com/mskcc/oncotree-api/oncotree"
	log "github.com/sirupsen/logrus"
)

const versionsSnapshotKey = "all"

type VersionSource interface {
	FetchVersions(ctx context.Context) ([]oncotree.Version, error)
}

// BackedNodeSource serves node lists from the backup when the primary source
// fails, and persists every fresh list it sees.
type BackedNodeSource struct {
	source   oncotree.NodeSource
	fallback *backup.Fallback
}

func NewBackedNodeSource(source oncotree.NodeSource, fallback *backup.Fallback) *BackedNodeSource {
	return &BackedNodeSource{source: source, fallback: fallback}
}

func (s *BackedNodeSource) FetchNodes(ctx context.Context, version oncotree.Version) ([]oncotree.NodeRecord, error) {
	if s.fallback == nil {
		return s.source.FetchNodes(ctx, version)
	}
	result, err := backup.Fetch(ctx, s.fallback, version.Key, func(ctx context.Context) ([]oncotree.NodeRecord, error) {
		return s.source.FetchNodes(ctx, version)
	})
	if err != nil {
		return nil, err
	}
	if !result.Degraded {
		if err := s.fallback.Persist(version.Key, result.Value); err != nil {
			log.WithError(err).Warnf("Unable to back up oncotree nodes for version '%s'", version.Key)
		}
	}
	return result.Value, nil
}

// BackedVersionSource is BackedNodeSource for the version list.
type BackedVersionSource struct {
	source   VersionSource
	fallback *backup.Fallback
}

func NewBackedVersionSource(source VersionSource, fallback *backup.Fallback) *BackedVersionSource {
	return &BackedVersionSource{source: source, fallback: fallback}
}

func (s *BackedVersionSource) FetchVersions(ctx context.Context) ([]oncotree.Version, error) {
	if s.fallback == nil {
		return s.source.FetchVersions(ctx)
	}
	result, err := backup.Fetch(ctx, s.fallback, versionsSnapshotKey, s.source.FetchVersions)
	if err != nil {
		return nil, err
	}
	if !result.Degraded {
		if err := s.fallback.Persist(versionsSnapshotKey, result.Value); err != nil {
			log.WithError(err).Warn("Unable to back up oncotree versions")
		}
	}
	return result.Value, nil
}
