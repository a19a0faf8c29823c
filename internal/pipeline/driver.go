// # internal/pipeline/driver.go
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"molt/internal/core/errors"
	"molt/internal/degrade"
	"molt/internal/facts"
	"molt/internal/ledger"
	"molt/internal/rewrite"
	"molt/internal/shared/observability"
	"molt/internal/tree"
)

// UnitStatus is the aggregated outcome of one unit's pipeline run.
type UnitStatus string

const (
	// StatusComplete: every attempted rewrite succeeded.
	StatusComplete UnitStatus = "complete"
	// StatusPartial: at least one rewrite fell back to the original code;
	// the unit is still valid and is written.
	StatusPartial UnitStatus = "partial"
	// StatusFailed: parse error or internal invariant violation; no output.
	StatusFailed UnitStatus = "failed"
)

// UnitResult is the core's answer for one source unit.
type UnitResult struct {
	Status UnitStatus
	// Output holds the transformed source; empty when Status is failed.
	Output string
	Ledger []ledger.Entry
	Err    error
}

// Options configures a driver. The zero value is not usable; use NewDriver.
type Options struct {
	Unit facts.Config
	// Tier pins the degradation tier. When TierSet is false the tier is
	// derived from the analyzer's complexity score instead.
	Tier    degrade.Tier
	TierSet bool
}

// Driver sequences the transformer stages over one unit at a time. A driver
// is immutable after construction and safe for concurrent use; each unit run
// owns its tree, facts, controller and ledger exclusively.
type Driver struct {
	opts   Options
	stages []rewrite.Stage
}

func NewDriver(opts Options) *Driver {
	if len(opts.Unit.TestPrefixes) == 0 {
		opts.Unit.TestPrefixes = facts.DefaultConfig().TestPrefixes
	}
	if opts.Unit.ApproxPlaces <= 0 {
		opts.Unit.ApproxPlaces = facts.DefaultConfig().ApproxPlaces
	}
	return &Driver{opts: opts, stages: rewrite.DefaultStages()}
}

// TransformUnit runs the full pipeline over one unit's source text. Every
// rewrite failure is contained by the degradation controller; only a parse
// error, a broken internal invariant or context cancellation yields a failed
// result.
func (d *Driver) TransformUnit(ctx context.Context, source []byte) UnitResult {
	ctx, span := observability.Tracer.Start(ctx, "pipeline.TransformUnit")
	defer span.End()

	start := time.Now()
	defer func() {
		observability.UnitDuration.Observe(time.Since(start).Seconds())
	}()

	led := ledger.New()
	fail := func(err error) UnitResult {
		observability.UnitsTotal.WithLabelValues(string(StatusFailed)).Inc()
		return UnitResult{Status: StatusFailed, Ledger: led.Entries(), Err: err}
	}

	parseStart := time.Now()
	t, err := tree.Parse(source)
	observability.ParseDuration.Observe(time.Since(parseStart).Seconds())
	if err != nil {
		return fail(err)
	}

	f := facts.Analyze(t, d.opts.Unit)
	tier := d.tierFor(f)
	span.SetAttributes(attribute.String("tier", tier.String()))
	ctl := degrade.NewController(tier, led)

	current := source
	for _, stage := range d.stages {
		if err := ctx.Err(); err != nil {
			t.Close()
			return fail(errors.Wrap(err, errors.CodeInternal, "unit cancelled"))
		}

		stageStart := time.Now()
		_, stageSpan := observability.Tracer.Start(ctx, "stage."+stage.Name(),
			trace.WithAttributes(attribute.String("stage", stage.Name())))

		edits, err := stage.Apply(t, f, ctl)
		if err == nil && len(edits) > 0 {
			var out string
			out, err = t.Render(edits)
			if err == nil {
				// A stage must never emit syntactically invalid text; a
				// re-parse failure is a bug in the stage, not the input.
				next, perr := tree.Parse([]byte(out))
				if perr != nil {
					err = errors.Wrap(perr, errors.CodeInvariant, "stage "+stage.Name()+" produced unparseable output")
				} else {
					t.Close()
					t = next
					current = []byte(out)
				}
			}
		}

		stageSpan.End()
		observability.StageDuration.WithLabelValues(stage.Name()).Observe(time.Since(stageStart).Seconds())

		if err != nil {
			t.Close()
			slog.Error("stage failed", "stage", stage.Name(), "error", err)
			return fail(errors.AddContext(err, errors.CtxStage, stage.Name()))
		}
	}
	t.Close()

	status := StatusComplete
	if led.Count(ledger.OutcomeFellBack) > 0 {
		status = StatusPartial
	}
	observability.UnitsTotal.WithLabelValues(string(status)).Inc()

	return UnitResult{Status: status, Output: string(current), Ledger: led.Entries()}
}

// tierFor picks the run tier: the pinned one, or a conservative default when
// the analyzer scored the unit as structurally complex.
func (d *Driver) tierFor(f *facts.Facts) degrade.Tier {
	if d.opts.TierSet {
		return d.opts.Tier
	}
	if f.Complexity >= 4 {
		return degrade.TierEssential
	}
	return degrade.TierAdvanced
}
