package oncotree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type mockConcepts map[string]CrossReferences

func (m mockConcepts) Lookup(code string) (CrossReferences, bool) {
	refs, ok := m[code]
	return refs, ok
}

var testVersion = Version{Key: "oncotree_2021_11_02", GraphURI: "urn:graph:2021", ReleaseDate: "2021-11-02", Visible: true}

func breastAndLungRecords() []NodeRecord {
	return []NodeRecord{
		{Code: "BREAST", Name: "Breast", Color: "HotPink", ParentCode: RootCode},
		{Code: "BRCA", Name: "Invasive Breast Carcinoma", MainType: "Breast Cancer", Color: "HotPink", ParentCode: "BREAST"},
		{Code: "IDC", Name: "Breast Invasive Ductal Carcinoma", MainType: "breast cancer", Color: "HotPink", ParentCode: "BRCA"},
		{Code: "LUNG", Name: "Lung", Color: "Gainsboro"},
		{Code: "LUAD", Name: "Lung Adenocarcinoma", MainType: "Non-Small Cell Lung Cancer", Color: "Gainsboro", ParentCode: "LUNG",
			Precursors: []string{"AAH"}},
	}
}

func testConcepts() mockConcepts {
	return mockConcepts{
		"BRCA": {NCI: []string{"C5214"}, UMLS: []string{"C0853879"}},
		"LUAD": {NCI: []string{"C3512"}, UMLS: []string{"C0152013"}, History: []string{"LUNGADC"}},
	}
}

func buildTestTree(t *testing.T) *Tree {
	t.Helper()
	tree, err := NewTreeBuilder(testConcepts()).Build(breastAndLungRecords(), testVersion)
	assert.NoError(t, err)
	if tree == nil {
		t.FailNow()
	}
	return tree
}

func codesOf(tumorTypes []*TumorType) []string {
	codes := make([]string, 0, len(tumorTypes))
	for _, tt := range tumorTypes {
		codes = append(codes, tt.Code)
	}
	return codes
}
