// # internal/rewrite/parametrize.go
package rewrite

import (
	"fmt"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"molt/internal/degrade"
	"molt/internal/facts"
	"molt/internal/ledger"
	"molt/internal/tree"
)

// ParametrizeStage lowers per-element iteration-with-assertion loops into one
// parametrized case per element. Case order is source order, and pytest
// derives case identifiers from the elements' literal representation. Loops
// with an accumulator dependency keep their structure; their inner assertions
// were already rewritten in place by the assertion stage.
type ParametrizeStage struct{}

func (ParametrizeStage) Name() string { return "parametrize" }

func (s ParametrizeStage) Apply(t *tree.Tree, f *facts.Facts, ctl *degrade.Controller) ([]tree.Edit, error) {
	if !f.Config.Parametrize {
		return nil, nil
	}

	var edits []tree.Edit
	for _, tm := range f.TestMethods {
		def := findCallable(t, tm.Qual)
		if def == nil {
			continue
		}
		body := def.ChildByFieldName("body")
		if body == nil {
			continue
		}
		sole := soleLoop(body)

		// Every assertion-bearing loop is judged for an accumulator, not just
		// the sole-statement shape; only the sole loop is ever lowered.
		for idx, loop := range tree.FindAll(body, "for_statement") {
			fact, ok := f.Loop(tm.Qual, idx)
			if !ok || !fact.HasAssertion {
				continue
			}
			span := tree.NodeSpan(loop)
			if fact.Accumulator != "" {
				ctl.Skip(span, ledger.FamilyParametrize, fmt.Sprintf("loop-carried accumulator %q", fact.Accumulator))
				continue
			}
			if sole == nil || loop.StartByte() != sole.StartByte() {
				continue
			}

			edits = append(edits, ctl.Attempt(span, ledger.FamilyParametrize, degrade.TierAdvanced, func() ([]tree.Edit, error) {
				return s.lower(t, def, loop)
			})...)
		}
	}
	return edits, nil
}

// soleLoop returns the body's only statement when it is a for-loop, allowing
// a leading docstring. Anything else disqualifies the test for lowering.
func soleLoop(body *sitter.Node) *sitter.Node {
	stmts := tree.NamedChildren(body)
	if len(stmts) > 0 && isDocstring(stmts[0]) {
		stmts = stmts[1:]
	}
	if len(stmts) != 1 || stmts[0].Kind() != "for_statement" {
		return nil
	}
	return stmts[0]
}

func isDocstring(n *sitter.Node) bool {
	return n.Kind() == "expression_statement" &&
		n.NamedChildCount() == 1 &&
		n.NamedChild(0).Kind() == "string"
}

func (ParametrizeStage) lower(t *tree.Tree, def, loop *sitter.Node) ([]tree.Edit, error) {
	left := loop.ChildByFieldName("left")
	right := loop.ChildByFieldName("right")
	loopBody := loop.ChildByFieldName("body")
	if left == nil || right == nil || loopBody == nil {
		return nil, fmt.Errorf("incomplete loop")
	}

	names, err := targetNames(t, left)
	if err != nil {
		return nil, err
	}

	var values string
	switch right.Kind() {
	case "list", "tuple":
		elems := tree.NamedChildren(right)
		if len(elems) == 0 {
			return nil, fmt.Errorf("empty literal sequence")
		}
		parts := make([]string, 0, len(elems))
		for _, e := range elems {
			parts = append(parts, t.Text(e))
		}
		values = "[" + strings.Join(parts, ", ") + "]"
	case "identifier":
		values = t.Text(right)
	default:
		return nil, fmt.Errorf("unsupported sequence expression (%s)", right.Kind())
	}

	indent := t.Indentation(def)
	decorator := fmt.Sprintf("%s@pytest.mark.parametrize(%q, %s)\n", indent, strings.Join(names, ","), values)

	edits := []tree.Edit{tree.Insert(lineStart(def), decorator)}
	for _, name := range names {
		edits = append(edits, addParameter(t, def, name)...)
	}

	// Replace the loop (including its leading indentation) with its body,
	// dedented one level.
	stmts := tree.NamedChildren(loopBody)
	if len(stmts) == 0 {
		return nil, fmt.Errorf("empty loop body")
	}
	forIndent := t.Indentation(loop)
	bodyIndent := t.Indentation(stmts[0])
	if !strings.HasPrefix(bodyIndent, forIndent) || len(bodyIndent) == len(forIndent) {
		return nil, fmt.Errorf("unexpected loop body indentation")
	}
	level := bodyIndent[len(forIndent):]

	src := t.Source()
	region := string(src[lineStart(stmts[0]):loop.EndByte()])
	dedented := dedent(region, forIndent, level)
	edits = append(edits, tree.Edit{Start: lineStart(loop), End: loop.EndByte(), Text: dedented})

	return edits, nil
}

func targetNames(t *tree.Tree, left *sitter.Node) ([]string, error) {
	switch left.Kind() {
	case "identifier":
		return []string{t.Text(left)}, nil
	case "pattern_list", "tuple_pattern":
		var names []string
		for _, p := range tree.NamedChildren(left) {
			if p.Kind() != "identifier" {
				return nil, fmt.Errorf("unsupported loop target %s", p.Kind())
			}
			names = append(names, t.Text(p))
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("empty loop target")
		}
		return names, nil
	default:
		return nil, fmt.Errorf("unsupported loop target %s", left.Kind())
	}
}

// dedent removes one indentation level from every line of region that starts
// with base+level.
func dedent(region, base, level string) string {
	lines := strings.Split(region, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, base+level) {
			lines[i] = base + line[len(base)+len(level):]
		}
	}
	return strings.Join(lines, "\n")
}
