// # internal/rewrite/logcapture.go
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

// LogCaptureStage rewrites uses of the legacy log-capture helper
// (self.assertLogs) to the caplog fixture: the context manager becomes
// caplog.at_level(...), references through the bound alias move to caplog's
// accessors, and the enclosing test gains a caplog parameter.
type LogCaptureStage struct{}

func (LogCaptureStage) Name() string { return "logcapture" }

// alias attributes with a direct caplog accessor
var captureAccessors = map[string]string{
	"output":  "caplog.messages",
	"records": "caplog.records",
}

func (s LogCaptureStage) Apply(t *tree.Tree, f *facts.Facts, ctl *degrade.Controller) ([]tree.Edit, error) {
	var edits []tree.Edit
	granted := make(map[uint]bool) // defs (by offset) already given a caplog param

	for _, ws := range tree.FindAll(t.Root(), "with_statement") {
		clause := tree.ChildOfKind(ws, "with_clause")
		if clause == nil {
			continue
		}
		for _, item := range tree.NamedChildren(clause) {
			if item.Kind() != "with_item" {
				continue
			}
			value := item.ChildByFieldName("value")
			if value == nil {
				continue
			}
			binding := ""
			call := value
			if call.Kind() == "as_pattern" {
				if alias := call.ChildByFieldName("alias"); alias != nil {
					binding = t.Text(alias)
				}
				call = call.NamedChild(0)
			}
			if call == nil || call.Kind() != "call" {
				continue
			}
			if method, ok := facts.SelfCall(t, call); !ok || method != "assertLogs" {
				continue
			}

			span := tree.NodeSpan(ws)
			def := enclosingFunction(ws)
			if def == nil {
				ctl.Skip(span, ledger.FamilyLogCapture, "log capture outside a function body")
				continue
			}
			if bad := unsupportedAliasUse(t, def, binding); bad != "" {
				ctl.Skip(span, ledger.FamilyLogCapture, fmt.Sprintf("alias %s used as %s", binding, bad))
				continue
			}

			edits = append(edits, ctl.Attempt(span, ledger.FamilyLogCapture, degrade.TierAdvanced, func() ([]tree.Edit, error) {
				atLevel, err := atLevelText(t, call)
				if err != nil {
					return nil, err
				}
				// Replacing the whole with_item drops the "as" binding;
				// every alias use is redirected to caplog below.
				out := []tree.Edit{tree.Replace(item, atLevel)}
				out = append(out, aliasEdits(t, def, binding)...)
				if !granted[def.StartByte()] {
					out = append(out, addParameter(t, def, "caplog")...)
					granted[def.StartByte()] = true
				}
				return out, nil
			})...)
		}
	}

	// Alias established by assignment rather than a with-binding.
	for _, lc := range f.LogCaptures {
		if lc.Binding == "" {
			continue
		}
		def := findCallable(t, lc.Qual)
		if def == nil {
			continue
		}
		assign := aliasAssignment(t, def)
		if assign == nil {
			continue
		}
		span := tree.NodeSpan(assign)
		if lc.AttributeAlias {
			// State shared through an attribute may be read by another
			// scope; there is no safe local rewrite.
			ctl.Skip(span, ledger.FamilyLogCapture, "alias assigned to an attribute")
			continue
		}
		right := assign.ChildByFieldName("right")
		edits = append(edits, ctl.Attempt(span, ledger.FamilyLogCapture, degrade.TierAdvanced, func() ([]tree.Edit, error) {
			atLevel, err := atLevelText(t, right)
			if err != nil {
				return nil, err
			}
			out := []tree.Edit{tree.Replace(right, atLevel)}
			if !granted[def.StartByte()] {
				out = append(out, addParameter(t, def, "caplog")...)
				granted[def.StartByte()] = true
			}
			return out, nil
		})...)
	}

	return edits, nil
}

// atLevelText renders caplog.at_level(level, logger=...) from an assertLogs
// call. assertLogs defaults to INFO when the level is omitted.
func atLevelText(t *tree.Tree, call *sitter.Node) (string, error) {
	if call == nil || call.Kind() != "call" {
		return "", fmt.Errorf("alias source is not an assertLogs call")
	}
	if hasStarredArgs(call) {
		return "", fmt.Errorf("assertLogs with starred arguments")
	}
	args := facts.PositionalArgs(call)

	var loggerArg, levelArg *sitter.Node
	if len(args) > 0 {
		loggerArg = args[0]
	}
	if len(args) > 1 {
		levelArg = args[1]
	}
	if kw := facts.KeywordArg(t, call, "logger"); kw != nil {
		loggerArg = kw
	}
	if kw := facts.KeywordArg(t, call, "level"); kw != nil {
		levelArg = kw
	}

	level := "logging.INFO"
	if levelArg != nil {
		level = levelText(t, levelArg)
	}
	if loggerArg != nil {
		return fmt.Sprintf("caplog.at_level(%s, logger=%s)", level, t.Text(loggerArg)), nil
	}
	return fmt.Sprintf("caplog.at_level(%s)", level), nil
}

// levelText maps a level argument to a logging constant: the string 'INFO'
// becomes logging.INFO, anything else is carried verbatim.
func levelText(t *tree.Tree, arg *sitter.Node) string {
	if arg.Kind() == "string" {
		name := strings.Trim(t.Text(arg), `'"`)
		if name != "" && name == strings.ToUpper(name) {
			return "logging." + name
		}
	}
	return t.Text(arg)
}

// unsupportedAliasUse reports an alias usage with no caplog accessor, or "".
func unsupportedAliasUse(t *tree.Tree, def *sitter.Node, binding string) string {
	if binding == "" {
		return ""
	}
	for _, id := range tree.FindAll(def, "identifier") {
		if t.Text(id) != binding {
			continue
		}
		parent := id.Parent()
		if parent == nil {
			continue
		}
		switch parent.Kind() {
		case "attribute":
			obj := parent.ChildByFieldName("object")
			if obj == nil || obj.StartByte() != id.StartByte() {
				continue
			}
			attr := t.FieldText(parent, "attribute")
			if captureAccessors[attr] == "" {
				return "." + attr
			}
		case "as_pattern_target", "as_pattern":
			// the binding site itself
		default:
			return "a bare reference"
		}
	}
	return ""
}

func aliasEdits(t *tree.Tree, def *sitter.Node, binding string) []tree.Edit {
	if binding == "" {
		return nil
	}
	var out []tree.Edit
	for _, attr := range tree.FindAll(def, "attribute") {
		obj := attr.ChildByFieldName("object")
		if obj == nil || obj.Kind() != "identifier" || t.Text(obj) != binding {
			continue
		}
		if repl := captureAccessors[t.FieldText(attr, "attribute")]; repl != "" {
			out = append(out, tree.Replace(attr, repl))
		}
	}
	return out
}

// aliasAssignment finds the assignment whose right side is an assertLogs
// call inside def, or nil.
func aliasAssignment(t *tree.Tree, def *sitter.Node) *sitter.Node {
	for _, assign := range tree.FindAll(def, "assignment") {
		right := assign.ChildByFieldName("right")
		if right == nil || right.Kind() != "call" {
			continue
		}
		if method, ok := facts.SelfCall(t, right); ok && method == "assertLogs" {
			return assign
		}
	}
	return nil
}
