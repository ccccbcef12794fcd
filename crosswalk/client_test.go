package crosswalk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mskcc/oncotree-api/oncotree"
	"github.com/stretchr/testify/assert"
)

func TestGetByOncotreeCode(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected Concept
		wantErr  error
	}{
		{
			name:   "found",
			status: http.StatusOK,
			body:   `{"conceptId":["MSK00017"],"oncotreeCode":["BRCA"],"crosswalks":{"NCI":["C5214"]},"unknown":1}`,
			expected: Concept{
				ConceptIDs:    []string{"MSK00017"},
				OncotreeCodes: []string{"BRCA"},
				Crosswalks:    map[string][]string{"NCI": {"C5214"}},
			},
		},
		{name: "not found", status: http.StatusNotFound, expected: Concept{}},
		{name: "server error", status: http.StatusServiceUnavailable, wantErr: oncotree.ErrSourceUnavailable},
		{name: "malformed", status: http.StatusOK, body: "{", wantErr: oncotree.ErrSourceUnavailable},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "ONCOTREE", r.URL.Query().Get("vocabularyId"))
				assert.Equal(t, "BRCA", r.URL.Query().Get("conceptId"))
				w.WriteHeader(test.status)
				w.Write([]byte(test.body))
			}))
			defer server.Close()

			concept, err := NewClient(server.Client(), server.URL+"/cvs").GetByOncotreeCode(context.Background(), "BRCA")
			if test.wantErr != nil {
				assert.True(t, errors.Is(err, test.wantErr))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, test.expected, concept)
		})
	}
}

func TestGetByOncotreeCodeTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	_, err := NewClient(server.Client(), server.URL).GetByOncotreeCode(context.Background(), "BRCA")
	assert.True(t, errors.Is(err, oncotree.ErrSourceUnavailable))
}

func TestConceptReferences(t *testing.T) {
	concept := Concept{
		ConceptIDs: []string{"MSK00017", "MSK00018"},
		Crosswalks: map[string][]string{"NCI": {"C5214"}, "ICDO": {"8500/3"}},
		History:    []string{"OLD"},
	}
	refs := concept.References()
	assert.Equal(t, []string{"C5214"}, refs.NCI)
	assert.Equal(t, []string{"C00017", "C00018"}, refs.UMLS)
	assert.Equal(t, []string{"OLD"}, refs.History)

	empty := Concept{}.References()
	assert.Equal(t, []string{}, empty.NCI)
	assert.Equal(t, []string{}, empty.UMLS)
	assert.Equal(t, []string{}, empty.History)
}

func TestQuery(t *testing.T) {
	tests := []struct {
		name     string
		query    MappingQuery
		status   int
		body     string
		params   map[string]string
		expected []string
		wantErr  error
	}{
		{
			name:     "by concept id",
			query:    MappingQuery{VocabularyID: "UMLS", ConceptID: "C0007124"},
			status:   http.StatusOK,
			body:     `{"conceptId":["MSK00017"],"crosswalks":{"ONCOTREE":["IDC"],"UMLS":["C0007124"]}}`,
			params:   map[string]string{"vocabularyId": "UMLS", "conceptId": "C0007124"},
			expected: []string{"IDC"},
		},
		{
			name:     "by histology and site",
			query:    MappingQuery{VocabularyID: "ICDO", HistologyCode: "8500/3", SiteCode: "C50.9"},
			status:   http.StatusOK,
			body:     `{"conceptId":["MSK00017"],"oncotreeCode":["IDC"]}`,
			params:   map[string]string{"vocabularyId": "ICDO", "histologyCode": "8500/3", "siteCode": "C50.9"},
			expected: []string{"IDC"},
		},
		{
			name:    "not found",
			query:   MappingQuery{VocabularyID: "UMLS", ConceptID: "C0000000"},
			status:  http.StatusNotFound,
			params:  map[string]string{"vocabularyId": "UMLS", "conceptId": "C0000000"},
			wantErr: ErrConceptNotFound,
		},
		{
			name:    "server error",
			query:   MappingQuery{VocabularyID: "UMLS", ConceptID: "C0007124"},
			status:  http.StatusBadGateway,
			params:  map[string]string{"vocabularyId": "UMLS", "conceptId": "C0007124"},
			wantErr: oncotree.ErrSourceUnavailable,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got := map[string]string{}
				for name := range r.URL.Query() {
					got[name] = r.URL.Query().Get(name)
				}
				assert.Equal(t, test.params, got)
				w.WriteHeader(test.status)
				w.Write([]byte(test.body))
			}))
			defer server.Close()

			concept, err := NewClient(server.Client(), server.URL).Query(context.Background(), test.query)
			if test.wantErr != nil {
				assert.True(t, errors.Is(err, test.wantErr), "got %v", err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, test.expected, concept.OncotreeMappings())
		})
	}
}

func TestOncotreeMappings(t *testing.T) {
	assert.Equal(t, []string{"BRCA"}, Concept{OncotreeCodes: []string{"BRCA"}}.OncotreeMappings())
	assert.Equal(t, []string{"IDC"}, Concept{
		OncotreeCodes: []string{"BRCA"},
		Crosswalks:    map[string][]string{"ONCOTREE": {"IDC"}},
	}.OncotreeMappings())
	assert.Empty(t, Concept{
		OncotreeCodes: []string{"BRCA"},
		Crosswalks:    map[string][]string{"NCI": {"C5214"}},
	}.OncotreeMappings())
	assert.Empty(t, Concept{}.OncotreeMappings())
}
