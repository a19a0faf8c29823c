package degrade

import (
	"fmt"

	"molt/internal/ledger"
	"molt/internal/shared/observability"
	"molt/internal/tree"
)

// Controller guards every individual rewrite attempt. A failing attempt never
// corrupts the surrounding unit: the controller drops the attempt's edits,
// records the failure in the ledger, and processing continues. The original
// text is restored by omission, since a rewrite only takes effect through the
// edits it returns.
type Controller struct {
	tier   Tier
	ledger *ledger.Ledger
}

func NewController(tier Tier, led *ledger.Ledger) *Controller {
	return &Controller{tier: tier, ledger: led}
}

func (c *Controller) Tier() Tier {
	return c.tier
}

func (c *Controller) Ledger() *ledger.Ledger {
	return c.ledger
}

// Attempt runs one rewrite under the tier policy. Rewrites below the run's
// tier are recorded as skipped. A panic or error inside fn is contained here
// and recorded as a fallback; the returned edits are nil in that case.
func (c *Controller) Attempt(span tree.Span, family ledger.Family, min Tier, fn func() ([]tree.Edit, error)) (edits []tree.Edit) {
	if c.tier < min {
		c.record(span, family, ledger.OutcomeSkipped, fmt.Sprintf("requires %s tier", min))
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			edits = nil
			c.record(span, family, ledger.OutcomeFellBack, fmt.Sprintf("rewrite panicked: %v", r))
		}
	}()

	edits, err := fn()
	if err != nil {
		c.record(span, family, ledger.OutcomeFellBack, err.Error())
		return nil
	}
	c.record(span, family, ledger.OutcomeApplied, "")
	return edits
}

// Skip records an analyzer-flagged ambiguity without attempting the rewrite.
func (c *Controller) Skip(span tree.Span, family ledger.Family, reason string) {
	c.record(span, family, ledger.OutcomeSkipped, reason)
}

func (c *Controller) record(span tree.Span, family ledger.Family, outcome ledger.Outcome, reason string) {
	c.ledger.Append(ledger.Entry{
		Location: span,
		Family:   family,
		Outcome:  outcome,
		Reason:   reason,
	})
	observability.RewritesTotal.WithLabelValues(string(family), string(outcome)).Inc()
}
