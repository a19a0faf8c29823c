// # internal/rewrite/parametrize_test.go
package rewrite

import (
	"strings"
	"testing"

	"molt/internal/degrade"
	"molt/internal/facts"
	"molt/internal/ledger"
	"molt/internal/tree"
)

func TestParametrizeLowersSoleLoop(t *testing.T) {
	src := `class TestVals(unittest.TestCase):
    def test_values(self):
        for value in [1, 2, 3]:
            assert value > 0
`
	out, entries := runStage(t, ParametrizeStage{}, degrade.TierAdvanced, src)

	want := `class TestVals(unittest.TestCase):
    @pytest.mark.parametrize("value", [1, 2, 3])
    def test_values(self, value):
        assert value > 0
`
	if out != want {
		t.Errorf("unexpected lowering:\n%s\nwant:\n%s", out, want)
	}
	if len(entries) != 1 || entries[0].Outcome != ledger.OutcomeApplied {
		t.Errorf("expected one applied entry, got %+v", entries)
	}
}

func TestParametrizeTuplePattern(t *testing.T) {
	src := `class TestVals(unittest.TestCase):
    def test_pairs(self):
        for given, expected in [(1, 2), (2, 4)]:
            assert double(given) == expected
`
	out, _ := runStage(t, ParametrizeStage{}, degrade.TierAdvanced, src)
	wantLine(t, out, `@pytest.mark.parametrize("given,expected", [(1, 2), (2, 4)])`)
	wantLine(t, out, "def test_pairs(self, given, expected):")
	if strings.Contains(out, "for given") {
		t.Errorf("loop header survived:\n%s", out)
	}
}

func TestParametrizeModuleLevelFunction(t *testing.T) {
	src := `def test_sizes():
    for size in [0, 1, 8]:
        assert fits(size)
`
	out, _ := runStage(t, ParametrizeStage{}, degrade.TierAdvanced, src)
	want := `@pytest.mark.parametrize("size", [0, 1, 8])
def test_sizes(size):
    assert fits(size)
`
	if out != want {
		t.Errorf("unexpected lowering:\n%s\nwant:\n%s", out, want)
	}
}

func TestParametrizeKeepsDocstring(t *testing.T) {
	src := `class TestVals(unittest.TestCase):
    def test_values(self):
        """Each value is positive."""
        for value in [1, 2]:
            assert value > 0
`
	out, _ := runStage(t, ParametrizeStage{}, degrade.TierAdvanced, src)
	wantLine(t, out, `"""Each value is positive."""`)
	wantLine(t, out, `@pytest.mark.parametrize("value", [1, 2])`)
}

func TestParametrizeIdentifierSequence(t *testing.T) {
	src := `CASES = [1, 2]

class TestVals(unittest.TestCase):
    def test_values(self):
        for value in CASES:
            assert value > 0
`
	out, _ := runStage(t, ParametrizeStage{}, degrade.TierAdvanced, src)
	wantLine(t, out, `@pytest.mark.parametrize("value", CASES)`)
}

func TestParametrizeAccumulatorSkipped(t *testing.T) {
	src := `class TestAcc(unittest.TestCase):
    def test_totals(self):
        for x in [1, 2, 3]:
            self.total += x
            self.assertGreater(self.total, 0)
`
	out, entries := runStage(t, ParametrizeStage{}, degrade.TierAdvanced, src)
	if out != src {
		t.Errorf("accumulator loop must keep its structure:\n%s", out)
	}
	wantOutcome(t, entries, ledger.OutcomeSkipped, "loop-carried accumulator")
}

func TestParametrizeAccumulatorBeforeLoopSkipped(t *testing.T) {
	src := `class TestAcc(unittest.TestCase):
    def test_totals(self):
        total = 0
        for item in [1, 2, 3]:
            total += item
            self.assertTrue(item > 0)
`
	out, entries := runStage(t, ParametrizeStage{}, degrade.TierAdvanced, src)
	if out != src {
		t.Errorf("accumulator loop must keep its structure:\n%s", out)
	}
	wantOutcome(t, entries, ledger.OutcomeSkipped, `loop-carried accumulator "total"`)
}

func TestParametrizeIgnoresMultiStatementBodies(t *testing.T) {
	src := `class TestVals(unittest.TestCase):
    def test_values(self):
        prepare()
        for value in [1, 2]:
            assert value > 0
`
	out, entries := runStage(t, ParametrizeStage{}, degrade.TierAdvanced, src)
	if out != src {
		t.Errorf("only sole-statement loops are lowered:\n%s", out)
	}
	if len(entries) != 0 {
		t.Errorf("no ledger entries expected, got %+v", entries)
	}
}

func TestParametrizeLoopWithoutAssertionIgnored(t *testing.T) {
	src := `class TestVals(unittest.TestCase):
    def test_warmup(self):
        for value in [1, 2]:
            warm(value)
`
	out, entries := runStage(t, ParametrizeStage{}, degrade.TierAdvanced, src)
	if out != src || len(entries) != 0 {
		t.Errorf("loop without assertions must be left alone, got %+v:\n%s", entries, out)
	}
}

func TestParametrizeGeneratorExpressionFallsBack(t *testing.T) {
	src := `class TestVals(unittest.TestCase):
    def test_values(self):
        for value in make_cases():
            assert value > 0
`
	out, entries := runStage(t, ParametrizeStage{}, degrade.TierAdvanced, src)
	if out != src {
		t.Errorf("fallback must restore the original text:\n%s", out)
	}
	wantOutcome(t, entries, ledger.OutcomeFellBack, "unsupported sequence expression")
}

func TestParametrizeDisabledByConfig(t *testing.T) {
	src := `class TestVals(unittest.TestCase):
    def test_values(self):
        for value in [1, 2]:
            assert value > 0
`
	tr, err := tree.Parse([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	cfg := facts.DefaultConfig()
	cfg.Parametrize = false
	f := facts.Analyze(tr, cfg)
	led := ledger.New()

	edits, err := (ParametrizeStage{}).Apply(tr, f, degrade.NewController(degrade.TierAdvanced, led))
	if err != nil {
		t.Fatal(err)
	}
	if len(edits) != 0 || led.Len() != 0 {
		t.Errorf("disabled lowering must be a no-op, got %d edits, %d entries", len(edits), led.Len())
	}
}
