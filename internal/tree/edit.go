// # internal/tree/edit.go
package tree

import (
	"sort"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"molt/internal/core/errors"
)

// Edit replaces the byte range [Start, End) of the original source with Text.
// A pure insertion has Start == End. Rewrites are expressed as edits rather
// than in-place mutation: everything outside the edited ranges renders from
// the original bytes, so unmodified regions stay byte-identical.
type Edit struct {
	Start uint
	End   uint
	Text  string
}

// Replace builds an edit covering exactly one node.
func Replace(node *sitter.Node, text string) Edit {
	return Edit{Start: node.StartByte(), End: node.EndByte(), Text: text}
}

// Insert builds a pure insertion at the given byte offset.
func Insert(at uint, text string) Edit {
	return Edit{Start: at, End: at, Text: text}
}

// Delete builds an edit that removes the byte range [start, end).
func Delete(start, end uint) Edit {
	return Edit{Start: start, End: end}
}

// Render applies the edits to the tree's source. Edits must not overlap and
// must stay within the source bounds; either condition failing indicates a
// bug in a rewrite stage, reported as an invariant violation.
func (t *Tree) Render(edits []Edit) (string, error) {
	if len(edits) == 0 {
		return string(t.src), nil
	}

	sorted := make([]Edit, len(edits))
	copy(sorted, edits)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	var b strings.Builder
	cursor := uint(0)
	for _, e := range sorted {
		if e.End > uint(len(t.src)) || e.Start > e.End {
			return "", errors.New(errors.CodeInvariant, "edit out of bounds")
		}
		if e.Start < cursor {
			return "", errors.New(errors.CodeInvariant, "overlapping edits")
		}
		b.Write(t.src[cursor:e.Start])
		b.WriteString(e.Text)
		cursor = e.End
	}
	b.Write(t.src[cursor:])
	return b.String(), nil
}
