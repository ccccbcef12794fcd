package crosswalk

import (
	"sort"
	"strings"

	"github.com/mskcc/oncotree-api/oncotree"
)

// Concept is the subset of a crosswalk concept the tree builder uses.
type Concept struct {
	ConceptIDs    []string            `json:"conceptId"`
	OncotreeCodes []string            `json:"oncotreeCode"`
	Crosswalks    map[string][]string `json:"crosswalks"`
	History       []string            `json:"history,omitempty"`
}

// References converts the concept into the identifiers attached to a tumor
// type. UMLS ids are the concept ids with the MSK prefix swapped for C.
func (c Concept) References() oncotree.CrossReferences {
	refs := oncotree.CrossReferences{
		NCI:     []string{},
		UMLS:    make([]string, 0, len(c.ConceptIDs)),
		History: []string{},
	}
	refs.NCI = append(refs.NCI, c.Crosswalks["NCI"]...)
	for _, id := range c.ConceptIDs {
		refs.UMLS = append(refs.UMLS, strings.ReplaceAll(id, "MSK", "C"))
	}
	refs.History = append(refs.History, c.History...)
	return refs
}

// OncotreeMappings returns the oncotree codes the concept maps to. When the
// concept carries crosswalks only the ONCOTREE crosswalk counts.
func (c Concept) OncotreeMappings() []string {
	if len(c.Crosswalks) > 0 {
		return c.Crosswalks[vocabularyID]
	}
	return c.OncotreeCodes
}

func (c Concept) withHistory(codes map[string]bool, exclude string) Concept {
	history := make([]string, 0, len(codes))
	for code := range codes {
		if code != exclude {
			history = append(history, code)
		}
	}
	sort.Strings(history)
	c.History = history
	return c
}
