// # internal/tree/tree.go
package tree

import (
	"fmt"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
)

// Tree wraps a tree-sitter parse of one source unit. The concrete syntax tree
// spans every byte of the input, so a render with zero edits reproduces the
// input exactly.
type Tree struct {
	src    []byte
	parser *sitter.Parser
	inner  *sitter.Tree
}

// ParseError reports the first syntactically invalid region of a unit.
// A unit that fails to parse is never rewritten.
type ParseError struct {
	Line    int
	Column  int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d:%d: %s", e.Line, e.Column, e.Message)
}

// Parse builds the syntax tree for src. Malformed input yields a *ParseError;
// no partial tree is returned.
func Parse(src []byte) (*Tree, error) {
	parser := sitter.NewParser()
	lang := sitter.NewLanguage(tree_sitter_python.Language())
	if err := parser.SetLanguage(lang); err != nil {
		parser.Close()
		return nil, fmt.Errorf("set language: %w", err)
	}

	inner := parser.Parse(src, nil)
	if inner == nil {
		parser.Close()
		return nil, &ParseError{Line: 1, Column: 1, Message: "parse failed"}
	}

	root := inner.RootNode()
	if root.HasError() {
		bad := firstErrorNode(root)
		perr := &ParseError{Line: 1, Column: 1, Message: "invalid syntax"}
		if bad != nil {
			perr.Line = int(bad.StartPosition().Row) + 1
			perr.Column = int(bad.StartPosition().Column) + 1
			if bad.IsMissing() {
				perr.Message = "missing " + bad.Kind()
			}
		}
		inner.Close()
		parser.Close()
		return nil, perr
	}

	return &Tree{src: src, parser: parser, inner: inner}, nil
}

func firstErrorNode(node *sitter.Node) *sitter.Node {
	if node.IsError() || node.IsMissing() {
		return node
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		if found := firstErrorNode(node.Child(i)); found != nil {
			return found
		}
	}
	return nil
}

// Close releases the underlying tree-sitter allocations. The tree must not be
// used afterwards.
func (t *Tree) Close() {
	if t.inner != nil {
		t.inner.Close()
		t.inner = nil
	}
	if t.parser != nil {
		t.parser.Close()
		t.parser = nil
	}
}

func (t *Tree) Root() *sitter.Node {
	return t.inner.RootNode()
}

func (t *Tree) Source() []byte {
	return t.src
}

// Text returns the verbatim source slice covered by node.
func (t *Tree) Text(node *sitter.Node) string {
	return string(t.src[node.StartByte():node.EndByte()])
}

// FieldText returns the text of the node's named field, or "" when absent.
func (t *Tree) FieldText(node *sitter.Node, field string) string {
	child := node.ChildByFieldName(field)
	if child == nil {
		return ""
	}
	return t.Text(child)
}

// Indentation returns the leading whitespace of the line node starts on.
func (t *Tree) Indentation(node *sitter.Node) string {
	start := node.StartByte()
	lineStart := start
	for lineStart > 0 && t.src[lineStart-1] != '\n' {
		lineStart--
	}
	end := lineStart
	for end < start && (t.src[end] == ' ' || t.src[end] == '\t') {
		end++
	}
	return string(t.src[lineStart:end])
}

// Span is a 1-based line/column range, matching editor conventions.
type Span struct {
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

func (s Span) String() string {
	return fmt.Sprintf("%d:%d-%d:%d", s.StartLine, s.StartCol, s.EndLine, s.EndCol)
}

func NodeSpan(node *sitter.Node) Span {
	return Span{
		StartLine: int(node.StartPosition().Row) + 1,
		StartCol:  int(node.StartPosition().Column) + 1,
		EndLine:   int(node.EndPosition().Row) + 1,
		EndCol:    int(node.EndPosition().Column) + 1,
	}
}

// NamedChildren collects the node's named children into a slice.
func NamedChildren(node *sitter.Node) []*sitter.Node {
	count := node.NamedChildCount()
	out := make([]*sitter.Node, 0, count)
	for i := uint(0); i < count; i++ {
		out = append(out, node.NamedChild(i))
	}
	return out
}

// FindAll walks the subtree rooted at node and returns every descendant of the
// given kind, in source order.
func FindAll(node *sitter.Node, kind string) []*sitter.Node {
	var out []*sitter.Node
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Kind() == kind {
			out = append(out, n)
		}
		for i := uint(0); i < n.ChildCount(); i++ {
			walk(n.Child(i))
		}
	}
	walk(node)
	return out
}

// ChildOfKind returns the first direct child of the given kind, or nil.
func ChildOfKind(node *sitter.Node, kind string) *sitter.Node {
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child.Kind() == kind {
			return child
		}
	}
	return nil
}
