// # internal/rewrite/fixtures.go
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

// hookRenames maps legacy hook names to their function-based equivalents.
var hookRenames = map[string]string{
	"setUp":          "setup_method",
	"tearDown":       "teardown_method",
	"setUpClass":     "setup_class",
	"tearDownClass":  "teardown_class",
	"setUpModule":    "setup_module",
	"tearDownModule": "teardown_module",
}

// methodHooks gain a trailing method parameter in the target idiom.
var methodHooks = map[string]bool{
	"setUp":    true,
	"tearDown": true,
}

// FixtureStage lowers legacy test classes: the TestCase base is removed and
// the setup/teardown hooks are renamed to their scoped equivalents. All edits
// for one class form a single attempt, so a class is either lowered whole or
// left whole. State shared through hook-assigned attributes keeps working
// after lowering (the fixture/state record tracks both access styles), so
// attribute reads in test bodies are left as they are.
type FixtureStage struct{}

func (FixtureStage) Name() string { return "fixtures" }

func (s FixtureStage) Apply(t *tree.Tree, f *facts.Facts, ctl *degrade.Controller) ([]tree.Edit, error) {
	var edits []tree.Edit

	for _, cls := range tree.FindAll(t.Root(), "class_definition") {
		name := t.FieldText(cls, "name")
		supers := cls.ChildByFieldName("superclasses")
		if name == "" || supers == nil {
			continue
		}
		bases := tree.NamedChildren(supers)
		if !hasTestCaseBase(t, bases) {
			continue
		}

		span := tree.NodeSpan(cls)
		if f.Config.KeepTestCaseBase {
			ctl.Skip(span, ledger.FamilyFixture, "legacy base preserved by configuration")
			continue
		}
		if len(bases) > 1 {
			ctl.Skip(span, ledger.FamilyFixture, "multiple base classes")
			continue
		}
		if f.UsesUnsupportedAPI(name) {
			ctl.Skip(span, ledger.FamilyFixture,
				fmt.Sprintf("uses TestCase-only API (%s)", strings.Join(f.ClassAPIs[name], ", ")))
			continue
		}
		if callsSuperHook(t, cls) {
			ctl.Skip(span, ledger.FamilyFixture, "hooks chain to super()")
			continue
		}

		edits = append(edits, ctl.Attempt(span, ledger.FamilyFixture, degrade.TierAdvanced, func() ([]tree.Edit, error) {
			return s.lowerClass(t, cls, supers)
		})...)
	}

	// Module-scope hooks rename independently of any class.
	for _, tm := range moduleHookDefs(t) {
		span := tree.NodeSpan(tm)
		edits = append(edits, ctl.Attempt(span, ledger.FamilyFixture, degrade.TierAdvanced, func() ([]tree.Edit, error) {
			nameNode := tm.ChildByFieldName("name")
			return []tree.Edit{tree.Replace(nameNode, hookRenames[t.Text(nameNode)])}, nil
		})...)
	}

	return edits, nil
}

func hasTestCaseBase(t *tree.Tree, bases []*sitter.Node) bool {
	for _, b := range bases {
		text := t.Text(b)
		if text == "unittest.TestCase" || text == "TestCase" {
			return true
		}
	}
	return false
}

// callsSuperHook detects super().setUp()-style chaining, which breaks once
// the base class is removed.
func callsSuperHook(t *tree.Tree, cls *sitter.Node) bool {
	for _, call := range tree.FindAll(cls, "call") {
		fn := call.ChildByFieldName("function")
		if fn == nil || fn.Kind() != "attribute" {
			continue
		}
		obj := fn.ChildByFieldName("object")
		if obj == nil || obj.Kind() != "call" {
			continue
		}
		inner := obj.ChildByFieldName("function")
		if inner != nil && inner.Kind() == "identifier" && t.Text(inner) == "super" {
			return true
		}
	}
	return false
}

func (FixtureStage) lowerClass(t *tree.Tree, cls, supers *sitter.Node) ([]tree.Edit, error) {
	// Drop "(unittest.TestCase)" from the class header.
	edits := []tree.Edit{tree.Replace(supers, "")}

	body := cls.ChildByFieldName("body")
	if body == nil {
		return nil, fmt.Errorf("class without body")
	}
	for _, stmt := range tree.NamedChildren(body) {
		def := stmt
		if def.Kind() == "decorated_definition" {
			if inner := def.ChildByFieldName("definition"); inner != nil {
				def = inner
			}
		}
		if def.Kind() != "function_definition" {
			continue
		}
		nameNode := def.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		name := t.Text(nameNode)
		target := hookRenames[name]
		if target == "" || name == "setUpModule" || name == "tearDownModule" {
			continue
		}
		edits = append(edits, tree.Replace(nameNode, target))
		if methodHooks[name] {
			edits = append(edits, addParameter(t, def, "method")...)
		}
	}
	return edits, nil
}

func moduleHookDefs(t *tree.Tree) []*sitter.Node {
	var out []*sitter.Node
	root := t.Root()
	for i := uint(0); i < root.NamedChildCount(); i++ {
		child := root.NamedChild(i)
		if child.Kind() != "function_definition" {
			continue
		}
		name := t.FieldText(child, "name")
		if name == "setUpModule" || name == "tearDownModule" {
			out = append(out, child)
		}
	}
	return out
}
