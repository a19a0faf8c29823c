// # internal/rewrite/rewrite_test.go
package rewrite

import (
	"strings"
	"testing"

	"molt/internal/degrade"
	"molt/internal/facts"
	"molt/internal/ledger"
	"molt/internal/tree"
)

// runStage applies one stage to src at the given tier and renders the result.
func runStage(t *testing.T, s Stage, tier degrade.Tier, src string) (string, []ledger.Entry) {
	t.Helper()
	tr, err := tree.Parse([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	f := facts.Analyze(tr, facts.DefaultConfig())
	led := ledger.New()
	ctl := degrade.NewController(tier, led)

	edits, err := s.Apply(tr, f, ctl)
	if err != nil {
		t.Fatalf("stage %s: %v", s.Name(), err)
	}
	out, err := tr.Render(edits)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	return out, led.Entries()
}

func wantLine(t *testing.T, out, line string) {
	t.Helper()
	if !strings.Contains(out, line) {
		t.Errorf("output missing %q:\n%s", line, out)
	}
}

func wantOutcome(t *testing.T, entries []ledger.Entry, outcome ledger.Outcome, reason string) {
	t.Helper()
	for _, e := range entries {
		if e.Outcome == outcome && strings.Contains(e.Reason, reason) {
			return
		}
	}
	t.Errorf("no %s entry with reason containing %q in %+v", outcome, reason, entries)
}
