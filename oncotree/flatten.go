package oncotree

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// maxTSVLevels is the number of level columns in the tumor_types.txt layout.
const maxTSVLevels = 7

// TSVHeader is the header row of the tumor_types.txt export.
const TSVHeader = "level_1\tlevel_2\tlevel_3\tlevel_4\tlevel_5\tlevel_6\tlevel_7\tmetamaintype\tmetacolor\tmetanci\tmetaumls\thistory"

// Flatten returns shallow copies of every node under root in pre-order,
// excluding root itself. Parent holds the code each node was attached to.
func Flatten(root *TumorType) []*TumorType {
	var out []*TumorType
	var walk func(tt *TumorType)
	walk = func(tt *TumorType) {
		for _, child := range sortedChildren(tt) {
			out = append(out, child.ShallowCopy())
			walk(child)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// MainTypeNames returns the distinct main type names used in tree, sorted.
func MainTypeNames(tree *Tree) []string {
	names := []string{}
	if tree == nil || tree.MainTypes == nil {
		return names
	}
	for _, mt := range tree.MainTypes.All() {
		names = append(names, mt.Name)
	}
	sort.Strings(names)
	return names
}

// WriteTSV writes the tree in the tumor_types.txt layout: one row per node
// with its ancestors in the level columns, rows sorted, header first.
func WriteTSV(w io.Writer, root *TumorType) error {
	var rows []string
	var addRows func(tt *TumorType, parents []string) error
	addRows = func(tt *TumorType, parents []string) error {
		if len(parents) >= maxTSVLevels {
			return fmt.Errorf("oncotree depth for code %s exceeds max representation, depth cannot be > %d", tt.Code, maxTSVLevels)
		}
		display := fmt.Sprintf("%s (%s)", strings.TrimSpace(tt.Name), strings.TrimSpace(tt.Code))
		row := make([]string, 0, maxTSVLevels+5)
		row = append(row, parents...)
		row = append(row, display)
		for len(row) < maxTSVLevels {
			row = append(row, "")
		}
		row = append(row,
			tt.MainTypeName(),
			tt.Color,
			strings.Join(tt.NCI, ","),
			strings.Join(tt.UMLS, ","),
			strings.Join(tt.History, ","),
		)
		rows = append(rows, strings.Join(row, "\t"))

		next := append(append([]string{}, parents...), display)
		for _, child := range sortedChildren(tt) {
			if err := addRows(child, next); err != nil {
				return err
			}
		}
		return nil
	}

	if root != nil {
		for _, child := range sortedChildren(root) {
			if err := addRows(child, nil); err != nil {
				return err
			}
		}
	}
	sort.Strings(rows)

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(TSVHeader + "\n"); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := bw.WriteString(row + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
