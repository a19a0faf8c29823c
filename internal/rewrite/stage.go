// # internal/rewrite/stage.go
package rewrite

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"molt/internal/degrade"
	"molt/internal/facts"
	"molt/internal/tree"
)

// Stage is one ordered step of the transformer pipeline. Apply receives the
// unit's current tree plus the one-shot fact set and returns the edits to
// splice in. Every individual rewrite inside a stage goes through the
// controller, so a returned error means the stage itself broke an invariant,
// not that a rewrite failed. Stages must be no-ops when nothing applies.
type Stage interface {
	Name() string
	Apply(t *tree.Tree, f *facts.Facts, ctl *degrade.Controller) ([]tree.Edit, error)
}

// DefaultStages returns the fixed stage order. Import fixing runs last since
// every other stage can add or remove identifier usages.
func DefaultStages() []Stage {
	return []Stage{
		FixtureStage{},
		AssertionStage{},
		ExceptionStage{},
		LogCaptureStage{},
		ParametrizeStage{},
		ImportsStage{},
	}
}

// enclosingFunction walks up to the nearest function definition, or nil.
func enclosingFunction(n *sitter.Node) *sitter.Node {
	for cur := n.Parent(); cur != nil; cur = cur.Parent() {
		if cur.Kind() == "function_definition" {
			return cur
		}
	}
	return nil
}

// enclosingQual reconstructs the "Class.method" key used by the fact set for
// the function containing n.
func enclosingQual(t *tree.Tree, n *sitter.Node) string {
	def := n
	if def.Kind() != "function_definition" {
		def = enclosingFunction(n)
	}
	if def == nil {
		return ""
	}
	name := t.FieldText(def, "name")
	var classes []string
	for cur := def.Parent(); cur != nil; cur = cur.Parent() {
		if cur.Kind() == "class_definition" {
			classes = append([]string{t.FieldText(cur, "name")}, classes...)
		}
	}
	if len(classes) == 0 {
		return name
	}
	return strings.Join(classes, ".") + "." + name
}

// findCallable locates the definition node for a fact-set qualified name in
// the current tree. Facts are keyed by name, not offset, so they survive the
// text edits of earlier stages.
func findCallable(t *tree.Tree, qual string) *sitter.Node {
	var found *sitter.Node
	var walk func(n *sitter.Node, class string)
	walk = func(n *sitter.Node, class string) {
		for i := uint(0); i < n.NamedChildCount(); i++ {
			child := n.NamedChild(i)
			if found != nil {
				return
			}
			kind := child.Kind()
			if kind == "decorated_definition" {
				if def := child.ChildByFieldName("definition"); def != nil {
					child = def
					kind = child.Kind()
				}
			}
			switch kind {
			case "function_definition":
				name := t.FieldText(child, "name")
				full := name
				if class != "" {
					full = class + "." + name
				}
				if full == qual {
					found = child
					return
				}
			case "class_definition":
				name := t.FieldText(child, "name")
				scope := name
				if class != "" {
					scope = class + "." + name
				}
				if body := child.ChildByFieldName("body"); body != nil {
					walk(body, scope)
				}
			}
		}
	}
	walk(t.Root(), "")
	return found
}

// operand renders an expression for embedding into a larger assert
// expression, parenthesizing forms whose precedence would otherwise change
// the meaning.
func operand(t *tree.Tree, n *sitter.Node) string {
	switch n.Kind() {
	case "lambda", "conditional_expression", "boolean_operator", "not_operator",
		"comparison_operator", "named_expression", "await", "tuple":
		return "(" + t.Text(n) + ")"
	}
	return t.Text(n)
}

// lineStart returns the byte offset of the start of the line n begins on.
func lineStart(n *sitter.Node) uint {
	return n.StartByte() - uint(n.StartPosition().Column)
}

// hasStarredArgs reports whether the call uses *args/**kwargs splats, which
// no structural mapping can carry.
func hasStarredArgs(call *sitter.Node) bool {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return false
	}
	for _, arg := range tree.NamedChildren(args) {
		if arg.Kind() == "list_splat" || arg.Kind() == "dictionary_splat" {
			return true
		}
	}
	return false
}

// addParameter builds the edit that appends a parameter to a def's parameter
// list, or returns nil when the parameter is already present.
func addParameter(t *tree.Tree, def *sitter.Node, name string) []tree.Edit {
	params := def.ChildByFieldName("parameters")
	if params == nil {
		return nil
	}
	for _, p := range tree.NamedChildren(params) {
		id := p
		if id.Kind() == "default_parameter" || id.Kind() == "typed_parameter" {
			if inner := id.NamedChild(0); inner != nil {
				id = inner
			}
		}
		if id.Kind() == "identifier" && t.Text(id) == name {
			return nil
		}
	}
	insert := name
	if params.NamedChildCount() > 0 {
		insert = ", " + name
	}
	// parameters end with the closing parenthesis
	return []tree.Edit{tree.Insert(params.EndByte()-1, insert)}
}
