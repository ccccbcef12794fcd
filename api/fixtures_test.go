package api

import (
	"context"
	"sync"
	"testing"

	"github.com/mskcc/oncotree-api/oncotree"
	"github.com/stretchr/testify/assert"
)

const (
	olderVersion = "oncotree_2019_12_01"
	liveVersion  = oncotree.DefaultLiveVersion
)

func testRecords() []oncotree.NodeRecord {
	return []oncotree.NodeRecord{
		{URI: "urn:onc:0", Code: "BREAST", Name: "Breast", Color: "HotPink"},
		{URI: "urn:onc:1", Code: "BRCA", Name: "Invasive Breast Carcinoma", MainType: "Breast Cancer", Color: "HotPink", ParentCode: "BREAST"},
		{URI: "urn:onc:2", Code: "IDC", Name: "Breast Invasive Ductal Carcinoma", MainType: "Breast Cancer", Color: "HotPink", ParentCode: "BRCA"},
		{URI: "urn:onc:3", Code: "LUNG", Name: "Lung", Color: "Gainsboro"},
		{URI: "urn:onc:4", Code: "LUAD", Name: "Lung Adenocarcinoma", MainType: "Non-Small Cell Lung Cancer", Color: "Gainsboro", ParentCode: "LUNG"},
	}
}

func olderRecords() []oncotree.NodeRecord {
	return []oncotree.NodeRecord{
		{URI: "urn:onc:0", Code: "BREAST", Name: "Breast"},
		{URI: "urn:onc:1", Code: "OLDBRCA", Name: "Invasive Breast Carcinoma", ParentCode: "BREAST"},
	}
}

func testVersions() []oncotree.Version {
	return []oncotree.Version{
		{Key: liveVersion, ReleaseDate: "2022-01-01"},
		{Key: olderVersion, ReleaseDate: "2019-12-01", Visible: true},
		{Key: oncotree.DefaultVersionAlias, ReleaseDate: "2021-11-02", Visible: true},
	}
}

func buildTree(t *testing.T, records []oncotree.NodeRecord, key string) *oncotree.Tree {
	t.Helper()
	tree, err := oncotree.NewTreeBuilder(nil).Build(records, oncotree.Version{Key: key})
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	return tree
}

type mockVersionSource struct {
	versions []oncotree.Version
	err      error
}

func (m *mockVersionSource) FetchVersions(ctx context.Context) ([]oncotree.Version, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]oncotree.Version, len(m.versions))
	copy(out, m.versions)
	return out, nil
}

type mockNodeSource struct {
	mu      sync.Mutex
	records map[string][]oncotree.NodeRecord
	errs    map[string]error
	calls   map[string]int
}

func newMockNodeSource() *mockNodeSource {
	return &mockNodeSource{
		records: map[string][]oncotree.NodeRecord{
			oncotree.DefaultVersionAlias: testRecords(),
			olderVersion:                 olderRecords(),
			liveVersion:                  testRecords(),
		},
		errs:  map[string]error{},
		calls: map[string]int{},
	}
}

func (m *mockNodeSource) FetchNodes(ctx context.Context, version oncotree.Version) ([]oncotree.NodeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[version.Key]++
	if err := m.errs[version.Key]; err != nil {
		return nil, err
	}
	return m.records[version.Key], nil
}

func (m *mockNodeSource) setErr(key string, err error) {
	m.mu.Lock()
	m.errs[key] = err
	m.mu.Unlock()
}

func (m *mockNodeSource) callCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[key]
}
