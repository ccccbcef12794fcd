package oncotree

import "time"

// RootCode is the code of the synthetic node every tree hangs off.
const RootCode = "TISSUE"

const rootName = "Tissue"

// NodeRecord is one flat tumor type entry as returned by the ontology store.
// Empty strings mean the value was absent.
type NodeRecord struct {
	URI                 string   `json:"uri,omitempty"`
	Code                string   `json:"code"`
	Name                string   `json:"name,omitempty"`
	MainType            string   `json:"mainType,omitempty"`
	Color               string   `json:"color,omitempty"`
	ParentCode          string   `json:"parentCode,omitempty"`
	ClinicalCasesSubset string   `json:"clinicalCasesSubset,omitempty"`
	Revocations         []string `json:"revocations,omitempty"`
	Precursors          []string `json:"precursors,omitempty"`
}

type MainType struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// TumorType is a node of a built tree. Parent is the code of the parent node;
// children are owned through the Children map.
type TumorType struct {
	URI                 string                `json:"-"`
	Code                string                `json:"code"`
	Name                string                `json:"name"`
	MainType            *MainType             `json:"mainType,omitempty"`
	Color               string                `json:"color,omitempty"`
	NCI                 []string              `json:"nci"`
	UMLS                []string              `json:"umls"`
	History             []string              `json:"history"`
	Revocations         []string              `json:"revocations,omitempty"`
	Precursors          []string              `json:"precursors,omitempty"`
	ClinicalCasesSubset string                `json:"clinicalCasesSubset,omitempty"`
	Tissue              string                `json:"tissue,omitempty"`
	Level               int                   `json:"level"`
	Parent              string                `json:"parent,omitempty"`
	Children            map[string]*TumorType `json:"children,omitempty"`
}

// MainTypeName returns the display name of the node's main type, or "".
func (t *TumorType) MainTypeName() string {
	if t.MainType == nil {
		return ""
	}
	return t.MainType.Name
}

// ShallowCopy returns a copy of the node without its subtree.
func (t *TumorType) ShallowCopy() *TumorType {
	c := *t
	c.Children = nil
	return &c
}

func (t *TumorType) addChild(child *TumorType) {
	if t.Children == nil {
		t.Children = make(map[string]*TumorType)
	}
	t.Children[child.Code] = child
}

// Tree is the result of one build for one version.
type Tree struct {
	Version   Version
	Root      *TumorType
	MainTypes *MainTypeRegistry
	BuiltAt   time.Time
}
