package api

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mskcc/oncotree-api/backup"
	"github.com/mskcc/oncotree-api/oncotree"
	metrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
)

func openTestBackup(t *testing.T) *backup.Store {
	store, err := backup.Open(filepath.Join(t.TempDir(), "backup.db"))
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBackedNodeSource(t *testing.T) {
	store := openTestBackup(t)
	nodes := newMockNodeSource()
	source := NewBackedNodeSource(nodes, backup.NewFallback(store, backup.NodesStore, metrics.NewRegistry()))
	version := oncotree.Version{Key: olderVersion}

	fresh, err := source.FetchNodes(context.Background(), version)
	assert.NoError(t, err)
	assert.Equal(t, olderRecords(), fresh)

	nodes.setErr(olderVersion, oncotree.ErrSourceUnavailable)
	degraded, err := source.FetchNodes(context.Background(), version)
	assert.NoError(t, err)
	assert.Equal(t, olderRecords(), degraded)

	nodes.setErr(oncotree.DefaultVersionAlias, oncotree.ErrSourceUnavailable)
	_, err = source.FetchNodes(context.Background(), oncotree.Version{Key: oncotree.DefaultVersionAlias})
	assert.True(t, errors.Is(err, backup.ErrFallbackExhausted))
	assert.True(t, errors.Is(err, oncotree.ErrSourceUnavailable))
}

func TestBackedVersionSource(t *testing.T) {
	store := openTestBackup(t)
	versions := &mockVersionSource{versions: testVersions()}
	source := NewBackedVersionSource(versions, backup.NewFallback(store, backup.VersionsStore, metrics.NewRegistry()))

	_, err := NewBackedVersionSource(&mockVersionSource{err: oncotree.ErrSourceUnavailable},
		backup.NewFallback(store, backup.VersionsStore, metrics.NewRegistry())).FetchVersions(context.Background())
	assert.True(t, errors.Is(err, backup.ErrFallbackExhausted))

	fresh, err := source.FetchVersions(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, testVersions(), fresh)

	versions.err = errors.New("timeout")
	degraded, err := source.FetchVersions(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, testVersions(), degraded)
}

func TestBackedSourcesWithoutBackup(t *testing.T) {
	nodes := newMockNodeSource()
	records, err := NewBackedNodeSource(nodes, nil).FetchNodes(context.Background(), oncotree.Version{Key: olderVersion})
	assert.NoError(t, err)
	assert.Len(t, records, 2)

	versions, err := NewBackedVersionSource(&mockVersionSource{versions: testVersions()}, nil).FetchVersions(context.Background())
	assert.NoError(t, err)
	assert.Len(t, versions, 3)
}
