// # internal/facts/facts.go
package facts

import (
	"strings"

	"molt/internal/tree"
)

// Config is the per-unit analysis configuration consumed by the analyzer and
// read by rewrite stages. It is immutable once a unit's run starts.
type Config struct {
	// TestPrefixes are the accepted test-callable name prefixes. Must be
	// non-empty; the conventional default is just "test".
	TestPrefixes []string
	// Parametrize enables loop-to-parametrize lowering.
	Parametrize bool
	// KeepTestCaseBase leaves class-based units with a legacy TestCase base
	// structurally intact.
	KeepTestCaseBase bool
	// ApproxPlaces is the decimal-places default used when a numeric
	// tolerance assertion omits its precision argument.
	ApproxPlaces int
}

func DefaultConfig() Config {
	return Config{
		TestPrefixes: []string{"test"},
		Parametrize:  true,
		ApproxPlaces: 7,
	}
}

// MatchesPrefix reports whether name carries one of the accepted prefixes.
func (c Config) MatchesPrefix(name string) bool {
	for _, prefix := range c.TestPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// TestMethod is one discovered test callable.
type TestMethod struct {
	Qual  string // "Class.method" or bare function name
	Class string // "" for module scope
	Name  string
	Span  tree.Span
}

// FixtureState is the per-scope record standing in for legacy shared setup
// state: which hooks exist, which attributes they assign, and how tests read
// them. It is built by the hook pass and consumed by later rewrites; it does
// not outlive one unit's processing.
type FixtureState struct {
	Scope           string // class name, or "" for module scope
	Hooks           []string
	Attributes      []string // self.<attr> assigned inside hooks
	LegacyAttrReads bool     // test bodies read hook state via self.<attr>
}

func (s *FixtureState) HasHook(name string) bool {
	for _, h := range s.Hooks {
		if h == name {
			return true
		}
	}
	return false
}

// LoopFact describes one for-loop inside a test callable, identified by its
// source-order index within that callable. Indexes stay stable across text
// edits inside the function, unlike byte offsets.
type LoopFact struct {
	Index        int
	Accumulator  string // variable mutated inside the loop but defined outside
	HasAssertion bool
}

// ExceptionContext is one with-block asserting that an exception is raised.
type ExceptionContext struct {
	Qual    string
	Type    string // exception type expression text
	Matcher string // message/regex matcher argument text, if any
	Binding string // variable bound with "as", if any
	Nested  bool   // multiply-nested or multi-item block; rewrites must fall back
	Span    tree.Span
}

// LogCapture is one use of the legacy log-capture helper.
type LogCapture struct {
	Qual           string
	Binding        string
	AttributeAlias bool // alias established via attribute assignment, not local binding
	Span           tree.Span
}

// Unsupported records a parseable-but-unexpected shape. The analyzer never
// raises on such input; downstream stages decide independently to skip.
type Unsupported struct {
	Qual   string
	Reason string
	Span   tree.Span
}

// Facts is the per-unit, read-only analysis output. It is produced once
// before any rewrite and never mutated mid-pipeline.
type Facts struct {
	Config Config

	TestMethods []TestMethod
	Hooks       map[string][]string      // scope -> hook names
	Fixtures    map[string]*FixtureState // scope -> state record
	Loops       map[string][]LoopFact    // qual -> loops in source order
	Exceptions  []ExceptionContext
	Bindings    map[string][]string // qual -> exception binding names
	LogCaptures []LogCapture
	ClassBases  map[string][]string // class -> superclass expression texts
	ClassAPIs   map[string][]string // class -> TestCase-only APIs used (subTest, ...)
	Unsupported []Unsupported

	// Complexity scores nested classes and custom prefixes; it informs the
	// default tier choice when the caller does not pin one.
	Complexity int
}

// Loop returns the fact for the idx-th loop of qual, if recorded.
func (f *Facts) Loop(qual string, idx int) (LoopFact, bool) {
	for _, l := range f.Loops[qual] {
		if l.Index == idx {
			return l, true
		}
	}
	return LoopFact{}, false
}

// Fixture returns the state record for a scope, if any hook was observed.
func (f *Facts) Fixture(scope string) *FixtureState {
	return f.Fixtures[scope]
}

// UsesUnsupportedAPI reports whether a class touches TestCase machinery that
// has no structural equivalent, which forces the fixture stage to keep it.
func (f *Facts) UsesUnsupportedAPI(class string) bool {
	return len(f.ClassAPIs[class]) > 0
}
