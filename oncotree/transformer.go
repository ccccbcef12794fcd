package oncotree

import (
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// CrossReferences are the external identifiers known for one oncotree code.
type CrossReferences struct {
	NCI     []string
	UMLS    []string
	History []string
}

// ConceptLookup resolves cross references for a code. Implementations must be
// safe for concurrent use; builds for different versions run in parallel.
type ConceptLookup interface {
	Lookup(code string) (CrossReferences, bool)
}

// TreeBuilder turns flat node lists into validated trees.
type TreeBuilder struct {
	concepts ConceptLookup
	now      func() time.Time
}

// NewTreeBuilder returns a builder. concepts may be nil, in which case
// NCI, UMLS and history stay empty.
func NewTreeBuilder(concepts ConceptLookup) *TreeBuilder {
	return &TreeBuilder{concepts: concepts, now: time.Now}
}

// Build assembles the tree for version from records. Any structural problem
// fails the whole build with an *InvalidTreeError; nothing is dropped.
func (b *TreeBuilder) Build(records []NodeRecord, version Version) (*Tree, error) {
	invalid := &InvalidTreeError{Version: version.Key}
	registry := NewMainTypeRegistry()

	root := &TumorType{Code: RootCode, Name: rootName}
	nodes := map[string]*TumorType{RootCode: root}
	parents := make(map[string]string, len(records))
	order := make([]*TumorType, 0, len(records))
	duplicates := make(map[string]bool)
	rootRecordSeen := false

	for _, rec := range records {
		code := strings.TrimSpace(rec.Code)
		if code == "" {
			invalid.EmptyCodes++
			continue
		}
		if code == RootCode {
			if rootRecordSeen {
				duplicates[code] = true
				continue
			}
			rootRecordSeen = true
			if p := strings.TrimSpace(rec.ParentCode); p != "" {
				invalid.RootParent = p
				continue
			}
			if rec.Name != "" {
				root.Name = rec.Name
			}
			root.Color = rec.Color
			root.URI = rec.URI
			continue
		}
		if _, exists := nodes[code]; exists {
			duplicates[code] = true
			continue
		}
		node := b.newTumorType(code, rec, registry)
		nodes[code] = node
		parents[code] = strings.TrimSpace(rec.ParentCode)
		order = append(order, node)
	}
	for code := range duplicates {
		invalid.Duplicates = append(invalid.Duplicates, code)
	}
	sort.Strings(invalid.Duplicates)

	for _, node := range order {
		parentCode := parents[node.Code]
		if parentCode == "" {
			parentCode = RootCode
		}
		parent, ok := nodes[parentCode]
		if !ok {
			invalid.Orphans = append(invalid.Orphans, OrphanedNode{Code: node.Code, ParentCode: parentCode})
			continue
		}
		node.Parent = parentCode
		parent.addChild(node)
	}
	if !invalid.empty() {
		return nil, invalid
	}

	visited := 0
	for _, child := range root.Children {
		visited += setDepthAndTissue(child, 1, child.Name)
	}
	if visited != len(order) {
		for _, node := range order {
			if node.Level == 0 {
				invalid.Cycles = append(invalid.Cycles, node.Code)
			}
		}
		sort.Strings(invalid.Cycles)
		return nil, invalid
	}

	log.WithFields(log.Fields{
		"version":   version.Key,
		"nodes":     len(order),
		"mainTypes": registry.Len(),
	}).Debug("Built oncotree")

	return &Tree{Version: version, Root: root, MainTypes: registry, BuiltAt: b.now()}, nil
}

func (b *TreeBuilder) newTumorType(code string, rec NodeRecord, registry *MainTypeRegistry) *TumorType {
	tt := &TumorType{
		URI:                 rec.URI,
		Code:                code,
		Name:                rec.Name,
		Color:               rec.Color,
		ClinicalCasesSubset: rec.ClinicalCasesSubset,
		Revocations:         copyStrings(rec.Revocations),
		Precursors:          copyStrings(rec.Precursors),
		NCI:                 []string{},
		UMLS:                []string{},
		History:             []string{},
	}
	if rec.MainType != "" {
		tt.MainType = registry.GetOrCreate(rec.MainType)
	}
	if b.concepts != nil {
		if refs, ok := b.concepts.Lookup(code); ok {
			tt.NCI = copyStrings(refs.NCI)
			tt.UMLS = copyStrings(refs.UMLS)
			tt.History = copyStrings(refs.History)
		}
	}
	return tt
}

// setDepthAndTissue sets level and tissue on the subtree and returns the
// number of nodes visited.
func setDepthAndTissue(tt *TumorType, depth int, tissue string) int {
	tt.Level = depth
	tt.Tissue = tissue
	visited := 1
	for _, child := range tt.Children {
		visited += setDepthAndTissue(child, depth+1, tissue)
	}
	return visited
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
