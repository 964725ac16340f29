package verify

import (
	"fmt"
	"strings"
)

// Check names the reconciliation check a unit result came from.
type Check string

const (
	CheckUnitSet     Check = "unit-set"
	CheckStructure   Check = "structure"
	CheckCardinality Check = "cardinality"
)

// UnitStatus is the three-way result of a cardinality comparison.
// Downstream consumers distinguish an exact match from a nonzero drift
// that still fell inside tolerance, so the distinction is preserved
// rather than collapsed into pass/fail.
type UnitStatus string

const (
	StatusExact           UnitStatus = "exact"
	StatusWithinTolerance UnitStatus = "within-tolerance"
	StatusFailed          UnitStatus = "failed"
)

// UnitResult is the reconciliation outcome for one table or collection.
type UnitResult struct {
	Name          string
	Check         Check
	Status        UnitStatus
	SourceCount   int64
	RestoredCount int64
	DiffPct       int64
	Attempts      int
	Reason        string
}

func (u UnitResult) Passed() bool {
	return u.Status != StatusFailed
}

// Report aggregates unit results for one BackupJob. Success holds iff
// every unit passed; the pipeline may only promote on a successful
// report.
type Report struct {
	Units        []UnitResult
	MissingUnits []string
	ExtraUnits   []string
}

func (r *Report) Success() bool {
	if len(r.MissingUnits) > 0 || len(r.ExtraUnits) > 0 {
		return false
	}
	for _, u := range r.Units {
		if !u.Passed() {
			return false
		}
	}
	return true
}

// FailedUnits returns the names of units that did not pass.
func (r *Report) FailedUnits() []string {
	var failed []string
	for _, u := range r.Units {
		if !u.Passed() {
			failed = append(failed, u.Name)
		}
	}
	return failed
}

// Summary renders a one-line digest suitable for notification events.
func (r *Report) Summary() string {
	if len(r.MissingUnits) > 0 {
		return fmt.Sprintf("validation failed: missing unit %s", strings.Join(r.MissingUnits, ", "))
	}
	if len(r.ExtraUnits) > 0 {
		return fmt.Sprintf("validation failed: unexpected unit %s", strings.Join(r.ExtraUnits, ", "))
	}

	exact, tolerated, failed := 0, 0, 0
	for _, u := range r.Units {
		switch u.Status {
		case StatusExact:
			exact++
		case StatusWithinTolerance:
			tolerated++
		default:
			failed++
		}
	}

	if failed > 0 {
		return fmt.Sprintf("validation failed: %d/%d unit(s) failed (%s)",
			failed, len(r.Units), strings.Join(r.FailedUnits(), ", "))
	}
	return fmt.Sprintf("validation passed: %d unit(s), %d exact, %d within tolerance",
		len(r.Units), exact, tolerated)
}
