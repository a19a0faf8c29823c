package ledger

import (
	"fmt"

	"molt/internal/tree"
)

// Outcome classifies one rewrite attempt.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeSkipped  Outcome = "skipped-ambiguous"
	OutcomeFellBack Outcome = "fell-back-error"
)

// Family identifies a rewrite family in ledger entries and metrics labels.
type Family string

const (
	FamilyAssertion   Family = "assertion"
	FamilyException   Family = "exception-context"
	FamilyLogCapture  Family = "log-capture"
	FamilyParametrize Family = "parametrize"
	FamilyFixture     Family = "fixture"
	FamilyImports     Family = "imports"
)

// Entry records one rewrite attempt: where, what family, how it ended, and a
// human-readable reason for anything that was not applied.
type Entry struct {
	Location tree.Span
	Family   Family
	Outcome  Outcome
	Reason   string
}

func (e Entry) String() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s %s %s", e.Location, e.Family, e.Outcome)
	}
	return fmt.Sprintf("%s %s %s: %s", e.Location, e.Family, e.Outcome, e.Reason)
}

// Ledger is the append-only record of rewrite attempts for one unit. A unit
// is processed by a single goroutine, so no locking is needed.
type Ledger struct {
	entries []Entry
}

func New() *Ledger {
	return &Ledger{}
}

func (l *Ledger) Append(e Entry) {
	l.entries = append(l.entries, e)
}

func (l *Ledger) Entries() []Entry {
	return l.entries
}

func (l *Ledger) Len() int {
	return len(l.entries)
}

// Count returns the number of entries with the given outcome.
func (l *Ledger) Count(outcome Outcome) int {
	n := 0
	for _, e := range l.entries {
		if e.Outcome == outcome {
			n++
		}
	}
	return n
}
