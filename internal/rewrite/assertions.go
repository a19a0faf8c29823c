// # internal/rewrite/assertions.go
package rewrite

import (
	"fmt"
	"regexp"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"molt/internal/degrade"
	"molt/internal/facts"
	"molt/internal/ledger"
	"molt/internal/tree"
)

// comparisonOps maps two-operand assertion methods to their plain comparison
// operator. The optional third positional argument is the failure message.
var comparisonOps = map[string]string{
	"assertEqual":          "==",
	"assertEquals":         "==",
	"assertNotEqual":       "!=",
	"assertNotEquals":      "!=",
	"assertIs":             "is",
	"assertIsNot":          "is not",
	"assertIn":             "in",
	"assertNotIn":          "not in",
	"assertGreater":        ">",
	"assertGreaterEqual":   ">=",
	"assertLess":           "<",
	"assertLessEqual":      "<=",
	"assertListEqual":      "==",
	"assertDictEqual":      "==",
	"assertSetEqual":       "==",
	"assertTupleEqual":     "==",
	"assertSequenceEqual":  "==",
	"assertMultiLineEqual": "==",
}

// essentialOps are the structurally unambiguous subset attempted even at the
// essential tier, provided no message argument is involved.
var essentialOps = map[string]bool{
	"assertEqual":     true,
	"assertEquals":    true,
	"assertNotEqual":  true,
	"assertNotEquals": true,
	"assertTrue":      true,
	"assertFalse":     true,
	"assertIsNone":    true,
	"assertIsNotNone": true,
}

// Methods owned by other families; the assertion stage never touches them.
var otherFamilies = map[string]bool{
	"assertRaises":      true,
	"assertRaisesRegex": true,
	"assertWarns":       true,
	"assertWarnsRegex":  true,
	"assertLogs":        true,
	"assertNoLogs":      true,
}

// AssertionStage converts assertion-method calls into plain assert
// statements.
type AssertionStage struct{}

func (AssertionStage) Name() string { return "assertions" }

func (s AssertionStage) Apply(t *tree.Tree, f *facts.Facts, ctl *degrade.Controller) ([]tree.Edit, error) {
	var edits []tree.Edit
	for _, call := range tree.FindAll(t.Root(), "call") {
		method, ok := facts.SelfCall(t, call)
		if !ok {
			continue
		}
		if otherFamilies[method] {
			continue
		}
		known := method == "fail" || method == "skipTest" || comparisonOps[method] != "" || unaryForm(method)
		if !known {
			// Unknown self.assert helpers may be user-defined; not ours.
			continue
		}

		span := tree.NodeSpan(call)
		parent := call.Parent()
		if parent == nil || parent.Kind() != "expression_statement" {
			ctl.Skip(span, ledger.FamilyAssertion, "assertion call embedded in a larger expression")
			continue
		}

		edits = append(edits, ctl.Attempt(span, ledger.FamilyAssertion, s.minTier(t, call, method), func() ([]tree.Edit, error) {
			text, err := s.rewrite(t, f.Config, call, method)
			if err != nil && ctl.Tier() == degrade.TierExperimental {
				text, err = textualRepair(t.Text(call), method)
			}
			if err != nil {
				return nil, err
			}
			return []tree.Edit{tree.Replace(call, text)}, nil
		})...)
	}
	return edits, nil
}

func unaryForm(method string) bool {
	switch method {
	case "assertTrue", "assertFalse", "assertIsNone", "assertIsNotNone",
		"assertIsInstance", "assertNotIsInstance", "assertCountEqual",
		"assertAlmostEqual", "assertAlmostEquals", "assertNotAlmostEqual",
		"assertRegex", "assertNotRegex":
		return true
	}
	return false
}

func (AssertionStage) minTier(t *tree.Tree, call *sitter.Node, method string) degrade.Tier {
	if !essentialOps[method] {
		return degrade.TierAdvanced
	}
	args := facts.PositionalArgs(call)
	want := 2
	switch method {
	case "assertTrue", "assertFalse", "assertIsNone", "assertIsNotNone":
		want = 1
	}
	// A message argument or an unexpected arity needs the advanced tier.
	if len(args) != want || facts.KeywordArg(t, call, "msg") != nil {
		return degrade.TierAdvanced
	}
	return degrade.TierEssential
}

func (s AssertionStage) rewrite(t *tree.Tree, cfg facts.Config, call *sitter.Node, method string) (string, error) {
	if hasStarredArgs(call) {
		return "", fmt.Errorf("%s with starred arguments", method)
	}
	args := facts.PositionalArgs(call)
	msg := facts.KeywordArg(t, call, "msg")

	expr := ""
	msgIndex := -1 // positional index where the failure message may sit

	switch {
	case comparisonOps[method] != "":
		if len(args) < 2 {
			return "", fmt.Errorf("%s needs two arguments, got %d", method, len(args))
		}
		expr = fmt.Sprintf("%s %s %s", operand(t, args[0]), comparisonOps[method], operand(t, args[1]))
		msgIndex = 2

	case method == "assertTrue":
		if len(args) < 1 {
			return "", fmt.Errorf("assertTrue without arguments")
		}
		expr = operand(t, args[0])
		msgIndex = 1

	case method == "assertFalse":
		if len(args) < 1 {
			return "", fmt.Errorf("assertFalse without arguments")
		}
		expr = "not " + operand(t, args[0])
		msgIndex = 1

	case method == "assertIsNone":
		if len(args) < 1 {
			return "", fmt.Errorf("assertIsNone without arguments")
		}
		expr = operand(t, args[0]) + " is None"
		msgIndex = 1

	case method == "assertIsNotNone":
		if len(args) < 1 {
			return "", fmt.Errorf("assertIsNotNone without arguments")
		}
		expr = operand(t, args[0]) + " is not None"
		msgIndex = 1

	case method == "assertIsInstance" || method == "assertNotIsInstance":
		if len(args) < 2 {
			return "", fmt.Errorf("%s needs two arguments", method)
		}
		expr = fmt.Sprintf("isinstance(%s, %s)", t.Text(args[0]), t.Text(args[1]))
		if method == "assertNotIsInstance" {
			expr = "not " + expr
		}
		msgIndex = 2

	case method == "assertCountEqual":
		if len(args) < 2 {
			return "", fmt.Errorf("assertCountEqual needs two arguments")
		}
		// Counter keeps multiset semantics; sorted() would raise on
		// unorderable elements.
		expr = fmt.Sprintf("collections.Counter(%s) == collections.Counter(%s)", t.Text(args[0]), t.Text(args[1]))
		msgIndex = 2

	case method == "assertAlmostEqual" || method == "assertAlmostEquals" || method == "assertNotAlmostEqual":
		if len(args) < 2 {
			return "", fmt.Errorf("%s needs two arguments", method)
		}
		approx, err := approxArgs(t, cfg, call, args)
		if err != nil {
			return "", err
		}
		op := "=="
		if method == "assertNotAlmostEqual" {
			op = "!="
		}
		expr = fmt.Sprintf("%s %s pytest.approx(%s%s)", operand(t, args[0]), op, t.Text(args[1]), approx)
		msgIndex = 3

	case method == "assertRegex" || method == "assertNotRegex":
		if len(args) < 2 {
			return "", fmt.Errorf("%s needs two arguments", method)
		}
		expr = fmt.Sprintf("re.search(%s, %s)", t.Text(args[1]), t.Text(args[0]))
		if method == "assertNotRegex" {
			expr = "not " + expr
		}
		msgIndex = 2

	case method == "fail":
		if len(args) > 0 {
			return fmt.Sprintf("pytest.fail(%s)", t.Text(args[0])), nil
		}
		return "pytest.fail()", nil

	case method == "skipTest":
		if len(args) > 0 {
			return fmt.Sprintf("pytest.skip(%s)", t.Text(args[0])), nil
		}
		return "pytest.skip()", nil

	default:
		return "", fmt.Errorf("unsupported assertion method %s", method)
	}

	if msg == nil && msgIndex >= 0 && len(args) > msgIndex {
		msg = args[msgIndex]
	}
	if msg != nil {
		return fmt.Sprintf("assert %s, %s", expr, t.Text(msg)), nil
	}
	return "assert " + expr, nil
}

// approxArgs renders the tolerance argument for pytest.approx from the
// places/delta arguments. An omitted precision defaults to the configured
// decimal places.
func approxArgs(t *tree.Tree, cfg facts.Config, call *sitter.Node, args []*sitter.Node) (string, error) {
	if delta := facts.KeywordArg(t, call, "delta"); delta != nil {
		return ", abs=" + t.Text(delta), nil
	}
	places := facts.KeywordArg(t, call, "places")
	if places == nil && len(args) > 2 {
		places = args[2]
	}
	if places == nil {
		return fmt.Sprintf(", abs=1e-%d", cfg.ApproxPlaces), nil
	}
	if places.Kind() == "integer" {
		return fmt.Sprintf(", abs=1e-%s", t.Text(places)), nil
	}
	return fmt.Sprintf(", abs=10 ** -(%s)", t.Text(places)), nil
}

var callShape = regexp.MustCompile(`^self\.(\w+)\((?s)(.*)\)$`)

// textualRepair is the experimental-tier fallback: a string-level rewrite of
// two-operand comparison assertions attempted when the structural path gave
// up. It splits the raw argument text at top-level commas only.
func textualRepair(raw, method string) (string, error) {
	op := comparisonOps[method]
	if op == "" {
		return "", fmt.Errorf("no textual repair for %s", method)
	}
	m := callShape.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", fmt.Errorf("unrecognized call shape")
	}
	parts := splitTopLevel(m[2])
	if len(parts) < 2 {
		return "", fmt.Errorf("could not split arguments")
	}
	expr := fmt.Sprintf("assert %s %s %s", strings.TrimSpace(parts[0]), op, strings.TrimSpace(parts[1]))
	if len(parts) > 2 {
		expr += ", " + strings.TrimSpace(strings.Join(parts[2:], ", "))
	}
	return expr, nil
}

// splitTopLevel splits on commas outside brackets and string quotes.
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}
