// # internal/facts/analyzer.go
package facts

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"molt/internal/tree"
)

var classHooks = []string{"setUp", "tearDown", "setUpClass", "tearDownClass"}
var moduleHooks = []string{"setUpModule", "tearDownModule"}

// TestCase machinery with no structural equivalent in the target idiom. A
// class touching any of these is left intact by the fixture stage.
var unsupportedAPIs = []string{"subTest", "addCleanup", "addTypeEqualityFunc", "countTestCases", "defaultTestResult"}

// Analyze runs the fixed sequence of read-only passes over one unit's tree.
// It never raises on parseable input: unexpected shapes become Unsupported
// records for downstream stages to skip.
func Analyze(t *tree.Tree, cfg Config) *Facts {
	f := &Facts{
		Config:     cfg,
		Hooks:      make(map[string][]string),
		Fixtures:   make(map[string]*FixtureState),
		Loops:      make(map[string][]LoopFact),
		Bindings:   make(map[string][]string),
		ClassBases: make(map[string][]string),
		ClassAPIs:  make(map[string][]string),
	}

	passes := []func(*tree.Tree, *Facts){
		discoverTests,
		discoverHooks,
		detectStateReads,
		detectLoops,
		discoverExceptions,
		discoverLogCaptures,
		scoreComplexity,
	}
	for _, pass := range passes {
		pass(t, f)
	}
	return f
}

// eachCallable visits every function defined at module scope or directly in a
// (possibly nested) class body. It does not descend into function bodies.
func eachCallable(t *tree.Tree, fn func(class string, def *sitter.Node)) {
	var walk func(n *sitter.Node, class string)
	walk = func(n *sitter.Node, class string) {
		for i := uint(0); i < n.NamedChildCount(); i++ {
			child := n.NamedChild(i)
			kind := child.Kind()
			if kind == "decorated_definition" {
				if def := child.ChildByFieldName("definition"); def != nil {
					child = def
					kind = child.Kind()
				}
			}
			switch kind {
			case "function_definition":
				fn(class, child)
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
}

func qualify(class, name string) string {
	if class == "" {
		return name
	}
	return class + "." + name
}

func discoverTests(t *tree.Tree, f *Facts) {
	eachCallable(t, func(class string, def *sitter.Node) {
		name := t.FieldText(def, "name")
		if name == "" || !f.Config.MatchesPrefix(name) {
			return
		}
		f.TestMethods = append(f.TestMethods, TestMethod{
			Qual:  qualify(class, name),
			Class: class,
			Name:  name,
			Span:  tree.NodeSpan(def),
		})
	})

	// Superclass lists and TestCase-only API usage, needed by the fixture
	// stage to judge whether class lowering is safe.
	for _, cls := range tree.FindAll(t.Root(), "class_definition") {
		name := t.FieldText(cls, "name")
		if name == "" {
			continue
		}
		if supers := cls.ChildByFieldName("superclasses"); supers != nil {
			for _, base := range tree.NamedChildren(supers) {
				f.ClassBases[name] = append(f.ClassBases[name], t.Text(base))
			}
		}
		for _, call := range tree.FindAll(cls, "call") {
			method, ok := SelfCall(t, call)
			if !ok {
				continue
			}
			for _, api := range unsupportedAPIs {
				if method == api {
					f.ClassAPIs[name] = append(f.ClassAPIs[name], api)
				}
			}
		}
	}
}

func discoverHooks(t *tree.Tree, f *Facts) {
	eachCallable(t, func(class string, def *sitter.Node) {
		name := t.FieldText(def, "name")
		hooks := moduleHooks
		if class != "" {
			hooks = classHooks
		}
		matched := false
		for _, h := range hooks {
			if name == h {
				matched = true
				break
			}
		}
		if !matched {
			return
		}

		f.Hooks[class] = append(f.Hooks[class], name)
		state := f.Fixtures[class]
		if state == nil {
			state = &FixtureState{Scope: class}
			f.Fixtures[class] = state
		}
		state.Hooks = append(state.Hooks, name)

		body := def.ChildByFieldName("body")
		if body == nil {
			return
		}
		for _, assign := range tree.FindAll(body, "assignment") {
			left := assign.ChildByFieldName("left")
			if left == nil || left.Kind() != "attribute" {
				continue
			}
			obj := left.ChildByFieldName("object")
			if obj == nil || obj.Kind() != "identifier" || t.Text(obj) != "self" {
				continue
			}
			attr := t.FieldText(left, "attribute")
			if attr != "" {
				state.Attributes = append(state.Attributes, attr)
			}
		}
	})
}

// detectStateReads marks fixture scopes whose test bodies still read hook
// state through legacy direct-attribute access.
func detectStateReads(t *tree.Tree, f *Facts) {
	eachCallable(t, func(class string, def *sitter.Node) {
		state := f.Fixtures[class]
		if state == nil || len(state.Attributes) == 0 {
			return
		}
		name := t.FieldText(def, "name")
		if !f.Config.MatchesPrefix(name) {
			return
		}
		body := def.ChildByFieldName("body")
		if body == nil {
			return
		}
		for _, attr := range tree.FindAll(body, "attribute") {
			obj := attr.ChildByFieldName("object")
			if obj == nil || obj.Kind() != "identifier" || t.Text(obj) != "self" {
				continue
			}
			read := t.FieldText(attr, "attribute")
			for _, assigned := range state.Attributes {
				if read == assigned {
					state.LegacyAttrReads = true
					return
				}
			}
		}
	})
}

func detectLoops(t *tree.Tree, f *Facts) {
	eachCallable(t, func(class string, def *sitter.Node) {
		name := t.FieldText(def, "name")
		if !f.Config.MatchesPrefix(name) {
			return
		}
		body := def.ChildByFieldName("body")
		if body == nil {
			return
		}
		qual := qualify(class, name)
		for idx, loop := range tree.FindAll(body, "for_statement") {
			fact := LoopFact{Index: idx}
			loopBody := loop.ChildByFieldName("body")
			if loopBody == nil {
				continue
			}
			fact.HasAssertion = containsAssertion(t, loopBody)
			fact.Accumulator = findAccumulator(t, loop, loopBody)
			f.Loops[qual] = append(f.Loops[qual], fact)
		}
	})
}

func containsAssertion(t *tree.Tree, body *sitter.Node) bool {
	if len(tree.FindAll(body, "assert_statement")) > 0 {
		return true
	}
	for _, call := range tree.FindAll(body, "call") {
		if method, ok := SelfCall(t, call); ok && strings.HasPrefix(method, "assert") {
			return true
		}
	}
	return false
}

// findAccumulator returns the name of a variable defined outside the loop and
// mutated inside it, or "". Mutation is an augmented assignment, a rebinding
// that reads the old value, or a mutating method call (append, add, ...).
func findAccumulator(t *tree.Tree, loop, body *sitter.Node) string {
	local := make(map[string]bool)
	if left := loop.ChildByFieldName("left"); left != nil {
		for _, id := range identifiersIn(left) {
			local[t.Text(id)] = true
		}
	}

	var mutators = map[string]bool{
		"append": true, "extend": true, "insert": true, "add": true,
		"update": true, "setdefault": true, "remove": true, "discard": true,
		"pop": true,
	}

	var found string
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if found != "" {
			return
		}
		switch n.Kind() {
		case "augmented_assignment":
			if left := n.ChildByFieldName("left"); left != nil {
				target := t.Text(left)
				if left.Kind() == "identifier" && !local[target] {
					found = target
					return
				}
				if left.Kind() == "attribute" {
					found = target
					return
				}
			}
		case "assignment":
			left := n.ChildByFieldName("left")
			right := n.ChildByFieldName("right")
			if left != nil && left.Kind() == "identifier" {
				target := t.Text(left)
				if !local[target] && right != nil && referencesName(t, right, target) {
					found = target
					return
				}
				local[target] = true
			}
		case "call":
			fn := n.ChildByFieldName("function")
			if fn != nil && fn.Kind() == "attribute" {
				obj := fn.ChildByFieldName("object")
				method := t.FieldText(fn, "attribute")
				if obj != nil && obj.Kind() == "identifier" && mutators[method] {
					target := t.Text(obj)
					if target != "self" && !local[target] {
						found = target
						return
					}
				}
			}
		}
		for i := uint(0); i < n.NamedChildCount(); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(body)
	return found
}

func referencesName(t *tree.Tree, n *sitter.Node, name string) bool {
	for _, id := range identifiersIn(n) {
		if t.Text(id) == name {
			return true
		}
	}
	return false
}

func identifiersIn(n *sitter.Node) []*sitter.Node {
	if n.Kind() == "identifier" {
		return []*sitter.Node{n}
	}
	return tree.FindAll(n, "identifier")
}

func discoverExceptions(t *tree.Tree, f *Facts) {
	eachCallable(t, func(class string, def *sitter.Node) {
		body := def.ChildByFieldName("body")
		if body == nil {
			return
		}
		qual := qualify(class, t.FieldText(def, "name"))
		for _, ws := range tree.FindAll(body, "with_statement") {
			clause := tree.ChildOfKind(ws, "with_clause")
			if clause == nil {
				continue
			}
			raisesItems := 0
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
				method, ok := SelfCall(t, value)
				if !ok || (method != "assertRaises" && method != "assertRaisesRegex" &&
					method != "assertWarns" && method != "assertWarnsRegex") {
					continue
				}
				raisesItems++

				args := PositionalArgs(value)
				ctx := ExceptionContext{
					Qual:    qual,
					Binding: binding,
					Span:    tree.NodeSpan(ws),
				}
				if len(args) > 0 {
					ctx.Type = t.Text(args[0])
				} else {
					f.Unsupported = append(f.Unsupported, Unsupported{
						Qual:   qual,
						Reason: method + " without exception type",
						Span:   tree.NodeSpan(value),
					})
					continue
				}
				if strings.HasSuffix(method, "Regex") && len(args) > 1 {
					ctx.Matcher = t.Text(args[1])
				}
				// Another raises-block nested in this one makes the pair
				// ambiguous; both fall back.
				for _, inner := range tree.FindAll(ws.ChildByFieldName("body"), "call") {
					if m, ok := SelfCall(t, inner); ok && strings.HasPrefix(m, "assertRaises") {
						ctx.Nested = true
						break
					}
				}
				f.Exceptions = append(f.Exceptions, ctx)
				if binding != "" {
					f.Bindings[qual] = append(f.Bindings[qual], binding)
				}
			}
			if raisesItems > 1 {
				for i := range f.Exceptions {
					if f.Exceptions[i].Qual == qual && f.Exceptions[i].Span == tree.NodeSpan(ws) {
						f.Exceptions[i].Nested = true
					}
				}
			}
		}
	})
}

func discoverLogCaptures(t *tree.Tree, f *Facts) {
	eachCallable(t, func(class string, def *sitter.Node) {
		body := def.ChildByFieldName("body")
		if body == nil {
			return
		}
		qual := qualify(class, t.FieldText(def, "name"))

		for _, ws := range tree.FindAll(body, "with_statement") {
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
				if value.Kind() == "as_pattern" {
					if alias := value.ChildByFieldName("alias"); alias != nil {
						binding = t.Text(alias)
					}
					value = value.NamedChild(0)
				}
				if value == nil || value.Kind() != "call" {
					continue
				}
				if method, ok := SelfCall(t, value); ok && method == "assertLogs" {
					f.LogCaptures = append(f.LogCaptures, LogCapture{
						Qual:    qual,
						Binding: binding,
						Span:    tree.NodeSpan(ws),
					})
				}
			}
		}

		// Alias established through assignment instead of a with-binding.
		for _, assign := range tree.FindAll(body, "assignment") {
			right := assign.ChildByFieldName("right")
			left := assign.ChildByFieldName("left")
			if right == nil || left == nil || right.Kind() != "call" {
				continue
			}
			if method, ok := SelfCall(t, right); ok && method == "assertLogs" {
				f.LogCaptures = append(f.LogCaptures, LogCapture{
					Qual:           qual,
					Binding:        t.Text(left),
					AttributeAlias: left.Kind() == "attribute",
					Span:           tree.NodeSpan(assign),
				})
			}
		}
	})
}

func scoreComplexity(t *tree.Tree, f *Facts) {
	nested := 0
	for _, cls := range tree.FindAll(t.Root(), "class_definition") {
		for parent := cls.Parent(); parent != nil; parent = parent.Parent() {
			if parent.Kind() == "class_definition" {
				nested++
				break
			}
		}
	}
	custom := len(f.Config.TestPrefixes) - 1
	if custom < 0 {
		custom = 0
	}
	f.Complexity = nested*2 + custom
}

// SelfCall matches calls of the form self.<method>(...) and returns the
// method name.
func SelfCall(t *tree.Tree, call *sitter.Node) (string, bool) {
	fn := call.ChildByFieldName("function")
	if fn == nil || fn.Kind() != "attribute" {
		return "", false
	}
	obj := fn.ChildByFieldName("object")
	if obj == nil || obj.Kind() != "identifier" || t.Text(obj) != "self" {
		return "", false
	}
	return t.FieldText(fn, "attribute"), true
}

// PositionalArgs returns the call's non-keyword arguments in order.
func PositionalArgs(call *sitter.Node) []*sitter.Node {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	var out []*sitter.Node
	for _, arg := range tree.NamedChildren(args) {
		if arg.Kind() == "keyword_argument" {
			continue
		}
		out = append(out, arg)
	}
	return out
}

// KeywordArg returns the value node of a named keyword argument, or nil.
func KeywordArg(t *tree.Tree, call *sitter.Node, name string) *sitter.Node {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	for _, arg := range tree.NamedChildren(args) {
		if arg.Kind() != "keyword_argument" {
			continue
		}
		if t.FieldText(arg, "name") == name {
			return arg.ChildByFieldName("value")
		}
	}
	return nil
}
