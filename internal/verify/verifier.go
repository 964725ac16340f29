package verify

import (
	"context"
	"fmt"
	"sort"

	"veriback/internal/domain"
	"veriback/internal/errs"
	"veriback/internal/retry"
)

// Logger is the narrow logging surface the verifier needs.
type Logger interface {
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// Verifier decides whether a restored copy is an acceptable stand-in
// for its source. It reads both sides through Inspector handles and
// retains nothing beyond the report it produces.
type Verifier struct {
	logger Logger
}

func New(logger Logger) *Verifier {
	return &Verifier{logger: logger}
}

// Verify reconciles the restored dataset against the live source.
//
// The unit sets must be identical; a missing or extra unit fails the
// report immediately with no per-unit checks. Structural signatures
// must match exactly and are never retried. Cardinality is compared
// under the tolerance, retried per policy with fresh queries on both
// sides each attempt; the comparison is always against the current
// source, which may legitimately drift while capture is in flight.
//
// An error return means verification itself could not run (a query
// failed); a completed-but-failing verification returns a report with
// Success() == false and a nil error.
func (v *Verifier) Verify(ctx context.Context, source, restored domain.Inspector, tolerancePct float64, pol retry.Policy) (*Report, error) {
	srcUnits, err := source.ListUnits(ctx)
	if err != nil {
		return nil, fmt.Errorf("list source units: %w", err)
	}
	restUnits, err := restored.ListUnits(ctx)
	if err != nil {
		return nil, fmt.Errorf("list restored units: %w", err)
	}

	report := &Report{}
	report.MissingUnits, report.ExtraUnits = diffUnitSets(srcUnits, restUnits)
	if len(report.MissingUnits) > 0 || len(report.ExtraUnits) > 0 {
		v.logger.Errorf("unit sets differ: missing=%v extra=%v", report.MissingUnits, report.ExtraUnits)
		for _, u := range report.MissingUnits {
			report.Units = append(report.Units, UnitResult{
				Name: u, Check: CheckUnitSet, Status: StatusFailed,
				Reason: "missing from restored copy",
			})
		}
		for _, u := range report.ExtraUnits {
			report.Units = append(report.Units, UnitResult{
				Name: u, Check: CheckUnitSet, Status: StatusFailed,
				Reason: "not present on source",
			})
		}
		return report, nil
	}

	units := append([]string(nil), srcUnits...)
	sort.Strings(units)

	for _, unit := range units {
		result, err := v.verifyUnit(ctx, source, restored, unit, tolerancePct, pol)
		if err != nil {
			return nil, err
		}
		report.Units = append(report.Units, result)
	}

	return report, nil
}

func (v *Verifier) verifyUnit(ctx context.Context, source, restored domain.Inspector, unit string, tolerancePct float64, pol retry.Policy) (UnitResult, error) {
	srcSig, err := source.UnitSignature(ctx, unit)
	if err != nil {
		return UnitResult{}, fmt.Errorf("source signature for %s: %w", unit, err)
	}
	restSig, err := restored.UnitSignature(ctx, unit)
	if err != nil {
		return UnitResult{}, fmt.Errorf("restored signature for %s: %w", unit, err)
	}

	// Structural drift cannot be transient, so a mismatch fails the
	// unit immediately with no cardinality queries at all.
	if !srcSig.Equal(restSig) {
		v.logger.Errorf("[%s] structural signature mismatch: source(%s) restored(%s)", unit, srcSig, restSig)
		return UnitResult{
			Name:   unit,
			Check:  CheckStructure,
			Status: StatusFailed,
			Reason: fmt.Sprintf("signature mismatch: source(%s) != restored(%s)", srcSig, restSig),
		}, nil
	}

	return v.verifyCardinality(ctx, source, restored, unit, tolerancePct, pol)
}

func (v *Verifier) verifyCardinality(ctx context.Context, source, restored domain.Inspector, unit string, tolerancePct float64, pol retry.Policy) (UnitResult, error) {
	result := UnitResult{Name: unit, Check: CheckCardinality}

	err := retry.Do(ctx, pol, func() error {
		result.Attempts++

		srcCount, err := source.CountRows(ctx, unit)
		if err != nil {
			return retry.Permanent(fmt.Errorf("count source rows for %s: %w", unit, err))
		}
		restCount, err := restored.CountRows(ctx, unit)
		if err != nil {
			return retry.Permanent(fmt.Errorf("count restored rows for %s: %w", unit, err))
		}

		result.SourceCount = srcCount
		result.RestoredCount = restCount

		status, diffPct := compareCounts(srcCount, restCount, tolerancePct)
		result.Status = status
		result.DiffPct = diffPct

		if status == StatusFailed {
			v.logger.Warnf("[%s] cardinality off: source=%d restored=%d diff=%d%% tolerance=%g%% (attempt %d)",
				unit, srcCount, restCount, diffPct, tolerancePct, result.Attempts)
			return errs.New(errs.KindCardinalityTolerance,
				fmt.Sprintf("source=%d restored=%d diff=%d%%", srcCount, restCount, diffPct)).WithUnit(unit)
		}

		if status == StatusWithinTolerance {
			v.logger.Warnf("[%s] counts differ within tolerance: source=%d restored=%d diff=%d%%",
				unit, srcCount, restCount, diffPct)
		}
		return nil
	})
	if err != nil {
		if errs.KindOf(err) != errs.KindCardinalityTolerance {
			return UnitResult{}, err
		}
		result.Status = StatusFailed
		result.Reason = err.Error()
	}

	return result, nil
}

// compareCounts applies the tolerance rule. A zero-row source demands
// an exactly-zero restored count. Otherwise the relative difference is
// truncated toward zero and passes on the inclusive bound.
func compareCounts(source, restored int64, tolerancePct float64) (UnitStatus, int64) {
	if source == 0 {
		if restored == 0 {
			return StatusExact, 0
		}
		return StatusFailed, 100
	}

	diff := source - restored
	if diff < 0 {
		diff = -diff
	}
	if diff == 0 {
		return StatusExact, 0
	}

	diffPct := (100 * diff) / source
	if float64(diffPct) <= tolerancePct {
		return StatusWithinTolerance, diffPct
	}
	return StatusFailed, diffPct
}

func diffUnitSets(source, restored []string) (missing, extra []string) {
	srcSet := make(map[string]bool, len(source))
	for _, u := range source {
		srcSet[u] = true
	}
	restSet := make(map[string]bool, len(restored))
	for _, u := range restored {
		restSet[u] = true
	}

	for _, u := range source {
		if !restSet[u] {
			missing = append(missing, u)
		}
	}
	for _, u := range restored {
		if !srcSet[u] {
			extra = append(extra, u)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return missing, extra
}
