package oncotree

import (
	"sort"
	"strconv"
	"strings"
)

// Field names a searchable tumor type attribute.
type Field string

const (
	FieldCode     Field = "code"
	FieldName     Field = "name"
	FieldColor    Field = "color"
	FieldNCI      Field = "nci"
	FieldUMLS     Field = "umls"
	FieldMainType Field = "maintype"
	FieldLevel    Field = "level"
)

var knownFields = map[Field]bool{
	FieldCode: true, FieldName: true, FieldColor: true, FieldNCI: true,
	FieldUMLS: true, FieldMainType: true, FieldLevel: true,
}

// ParseField lowercases name and maps it to a Field. Anything unrecognized,
// including names with separators such as "main_type", searches by code.
// Clients depend on that fallback, so it is not an error.
func ParseField(name string) Field {
	f := Field(strings.ToLower(name))
	if knownFields[f] {
		return f
	}
	return FieldCode
}

// Query describes one search over a tree.
type Query struct {
	Field            Field
	Keyword          string
	ExactMatch       bool
	IncludeAncestors bool
}

// Search walks the tree under root in pre-order (children by code) and returns
// shallow copies of the matching nodes. With IncludeAncestors, each match is
// followed by its ancestors up to and including root. Results are unique by
// code and keep the position of their first occurrence. An empty keyword
// matches nothing.
func Search(root *TumorType, q Query) []*TumorType {
	acc := newResultSet()
	if root == nil || q.Keyword == "" {
		return acc.items
	}
	if !knownFields[q.Field] {
		q.Field = FieldCode
	}
	collect(root, root, q, acc)
	return acc.items
}

func collect(root, current *TumorType, q Query, acc *resultSet) {
	if matches(current, q) {
		acc.add(current.ShallowCopy())
		if q.IncludeAncestors {
			addAncestors(root, current.Parent, acc)
		}
	}
	for _, child := range sortedChildren(current) {
		collect(root, child, q, acc)
	}
}

// addAncestors follows parent codes upward with exact code lookups against
// root until a node without a parent is reached.
func addAncestors(root *TumorType, parentCode string, acc *resultSet) {
	for parentCode != "" {
		found := newResultSet()
		collect(root, root, Query{Field: FieldCode, Keyword: parentCode, ExactMatch: true}, found)
		if len(found.items) == 0 {
			return
		}
		parent := found.items[0]
		acc.add(parent)
		parentCode = parent.Parent
	}
}

func matches(tt *TumorType, q Query) bool {
	switch q.Field {
	case FieldName:
		return matchString(tt.Name, q.Keyword, q.ExactMatch)
	case FieldColor:
		return matchString(tt.Color, q.Keyword, q.ExactMatch)
	case FieldNCI:
		return matchAny(tt.NCI, q.Keyword, q.ExactMatch)
	case FieldUMLS:
		return matchAny(tt.UMLS, q.Keyword, q.ExactMatch)
	case FieldMainType:
		return matchString(tt.MainTypeName(), q.Keyword, q.ExactMatch)
	case FieldLevel:
		level, err := strconv.Atoi(strings.TrimSpace(q.Keyword))
		return err == nil && tt.Code != RootCode && tt.Level == level
	default:
		return matchString(tt.Code, q.Keyword, q.ExactMatch)
	}
}

func matchString(value, keyword string, exact bool) bool {
	if value == "" {
		return false
	}
	if exact {
		return strings.EqualFold(value, keyword)
	}
	return strings.Contains(strings.ToLower(value), strings.ToLower(keyword))
}

func matchAny(values []string, keyword string, exact bool) bool {
	for _, v := range values {
		if matchString(v, keyword, exact) {
			return true
		}
	}
	return false
}

// FilterByLevel keeps the tumor types whose level is in levels. A nil or empty
// levels slice keeps nothing.
func FilterByLevel(tumorTypes []*TumorType, levels []int) []*TumorType {
	wanted := make(map[int]bool, len(levels))
	for _, l := range levels {
		wanted[l] = true
	}
	filtered := make([]*TumorType, 0, len(tumorTypes))
	for _, tt := range tumorTypes {
		if wanted[tt.Level] {
			filtered = append(filtered, tt)
		}
	}
	return filtered
}

func sortedChildren(tt *TumorType) []*TumorType {
	if len(tt.Children) == 0 {
		return nil
	}
	codes := make([]string, 0, len(tt.Children))
	for code := range tt.Children {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	children := make([]*TumorType, len(codes))
	for i, code := range codes {
		children[i] = tt.Children[code]
	}
	return children
}

type resultSet struct {
	seen  map[string]bool
	items []*TumorType
}

func newResultSet() *resultSet {
	return &resultSet{seen: map[string]bool{}, items: []*TumorType{}}
}

func (s *resultSet) add(tt *TumorType) {
	if s.seen[tt.Code] {
		return
	}
	s.seen[tt.Code] = true
	s.items = append(s.items, tt)
}
