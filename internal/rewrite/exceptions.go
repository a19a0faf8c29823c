// # internal/rewrite/exceptions.go
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

var raisesMethods = map[string]string{
	"assertRaises":      "pytest.raises",
	"assertRaisesRegex": "pytest.raises",
	"assertWarns":       "pytest.warns",
	"assertWarnsRegex":  "pytest.warns",
}

// ExceptionStage converts exception-asserting context managers (and their
// call form) to pytest.raises / pytest.warns, and rewrites later attribute
// accesses on the bound variable (cm.exception -> cm.value).
type ExceptionStage struct{}

func (ExceptionStage) Name() string { return "exceptions" }

func (s ExceptionStage) Apply(t *tree.Tree, f *facts.Facts, ctl *degrade.Controller) ([]tree.Edit, error) {
	var edits []tree.Edit
	seen := make(map[uint]bool) // context-form calls, by start offset

	for _, ws := range tree.FindAll(t.Root(), "with_statement") {
		clause := tree.ChildOfKind(ws, "with_clause")
		if clause == nil {
			continue
		}
		items := raisesItems(t, clause)
		if len(items) == 0 {
			continue
		}
		span := tree.NodeSpan(ws)
		if len(items) > 1 || nestedRaises(t, ws) {
			ctl.Skip(span, ledger.FamilyException, "multiply-nested exception blocks")
			continue
		}

		item := items[0]
		seen[item.call.StartByte()] = true
		edits = append(edits, ctl.Attempt(span, ledger.FamilyException, degrade.TierAdvanced, func() ([]tree.Edit, error) {
			return s.rewriteContext(t, ws, item)
		})...)
	}

	// Call form: self.assertRaises(E, fn, *args) as a bare statement.
	for _, call := range tree.FindAll(t.Root(), "call") {
		method, ok := facts.SelfCall(t, call)
		if !ok || raisesMethods[method] == "" || seen[call.StartByte()] {
			continue
		}
		parent := call.Parent()
		if parent == nil || parent.Kind() != "expression_statement" {
			continue
		}
		span := tree.NodeSpan(call)
		edits = append(edits, ctl.Attempt(span, ledger.FamilyException, degrade.TierAdvanced, func() ([]tree.Edit, error) {
			args := call.ChildByFieldName("arguments")
			if args == nil || args.NamedChildCount() < 2 {
				return nil, fmt.Errorf("%s call form needs a callable argument", method)
			}
			return []tree.Edit{tree.Replace(call, raisesMethods[method]+t.Text(args))}, nil
		})...)
	}

	return edits, nil
}

type raisesItem struct {
	call    *sitter.Node
	method  string
	binding string
}

func raisesItems(t *tree.Tree, clause *sitter.Node) []raisesItem {
	var out []raisesItem
	for _, item := range tree.NamedChildren(clause) {
		if item.Kind() != "with_item" {
			continue
		}
		value := item.ChildByFieldName("value")
		if value == nil {
			continue
		}
		binding := ""
		if value.Kind() == "as_pattern" {
			if alias := value.ChildByFieldName("alias"); alias != nil {
				binding = t.Text(alias)
			}
			value = value.NamedChild(0)
		}
		if value == nil || value.Kind() != "call" {
			continue
		}
		if method, ok := facts.SelfCall(t, value); ok && raisesMethods[method] != "" {
			out = append(out, raisesItem{call: value, method: method, binding: binding})
		}
	}
	return out
}

func nestedRaises(t *tree.Tree, ws *sitter.Node) bool {
	body := ws.ChildByFieldName("body")
	if body == nil {
		return false
	}
	for _, call := range tree.FindAll(body, "call") {
		if method, ok := facts.SelfCall(t, call); ok && raisesMethods[method] != "" {
			return true
		}
	}
	return false
}

func (ExceptionStage) rewriteContext(t *tree.Tree, ws *sitter.Node, item raisesItem) ([]tree.Edit, error) {
	if hasStarredArgs(item.call) {
		return nil, fmt.Errorf("%s with starred arguments", item.method)
	}
	args := facts.PositionalArgs(item.call)
	if len(args) == 0 {
		return nil, fmt.Errorf("%s without exception type", item.method)
	}

	target := raisesMethods[item.method]
	replacement := fmt.Sprintf("%s(%s)", target, t.Text(args[0]))
	if strings.HasSuffix(item.method, "Regex") {
		if len(args) < 2 {
			return nil, fmt.Errorf("%s without pattern", item.method)
		}
		replacement = fmt.Sprintf("%s(%s, match=%s)", target, t.Text(args[0]), t.Text(args[1]))
	}

	edits := []tree.Edit{tree.Replace(item.call, replacement)}

	// The bound variable exposes the exception under .value instead of
	// .exception; rewrite every later access in the enclosing function. The
	// legacy warns accessors (.warning, .filename, .lineno) have no
	// counterpart on a pytest.warns binding, so those blocks fall back.
	if item.binding != "" {
		def := enclosingFunction(ws)
		scope := def
		if scope == nil {
			scope = ws
		}
		warns := strings.HasPrefix(item.method, "assertWarns")
		for _, attr := range tree.FindAll(scope, "attribute") {
			obj := attr.ChildByFieldName("object")
			if obj == nil || obj.Kind() != "identifier" || t.Text(obj) != item.binding {
				continue
			}
			name := t.FieldText(attr, "attribute")
			if warns {
				switch name {
				case "warning", "warnings", "filename", "lineno":
					return nil, fmt.Errorf("%s binding accessor .%s has no counterpart", item.method, name)
				}
			}
			if name == "exception" {
				edits = append(edits, tree.Replace(attr, item.binding+".value"))
			}
		}
	}
	return edits, nil
}
