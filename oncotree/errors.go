package oncotree

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownVersion is returned when a version name is empty or not in the
	// current version list.
	ErrUnknownVersion = errors.New("unknown oncotree version")

	// ErrSourceUnavailable is returned by sources when the ontology store
	// cannot be reached or answers with something unusable.
	ErrSourceUnavailable = errors.New("oncotree source unavailable")

	// ErrTreeUnavailable is returned when a known version has no tree because
	// its fetch or build failed.
	ErrTreeUnavailable = errors.New("oncotree tree unavailable")

	// ErrTumorTypeNotFound is returned when a lookup by code finds nothing.
	ErrTumorTypeNotFound = errors.New("tumor type not found")
)

// OrphanedNode is a node whose parent code matches no node in the fetch.
type OrphanedNode struct {
	Code       string
	ParentCode string
}

// InvalidTreeError reports every structural problem found in one node list.
type InvalidTreeError struct {
	Version    string
	EmptyCodes int
	Duplicates []string
	Orphans    []OrphanedNode
	Cycles     []string
	RootParent string
}

func (e *InvalidTreeError) empty() bool {
	return e.EmptyCodes == 0 && len(e.Duplicates) == 0 && len(e.Orphans) == 0 &&
		len(e.Cycles) == 0 && e.RootParent == ""
}

func (e *InvalidTreeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid oncotree received for version '%s':", e.Version)
	if e.EmptyCodes > 0 {
		fmt.Fprintf(&b, "\n\t%d node(s) without a code", e.EmptyCodes)
	}
	for _, code := range e.Duplicates {
		fmt.Fprintf(&b, "\n\tduplication: more than one node has code %s", code)
	}
	for _, o := range e.Orphans {
		fmt.Fprintf(&b, "\n\tnode %s has parent code '%s', which is not a code for any node in the tree", o.Code, o.ParentCode)
	}
	if len(e.Cycles) > 0 {
		fmt.Fprintf(&b, "\n\tnodes unreachable from %s (parent cycle): %s", RootCode, strings.Join(e.Cycles, ", "))
	}
	if e.RootParent != "" {
		fmt.Fprintf(&b, "\n\tnode %s cannot have parent '%s'", RootCode, e.RootParent)
	}
	return b.String()
}
