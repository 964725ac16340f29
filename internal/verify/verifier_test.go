package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"veriback/internal/domain"
	"veriback/internal/retry"
)

// fakeInspector serves scripted signatures and count sequences and
// records how many queries were issued per unit.
type fakeInspector struct {
	units      []string
	sigs       map[string]domain.Signature
	counts     map[string][]int64
	countIdx   map[string]int
	countCalls map[string]int
	countErr   error
}

func newFakeInspector(units ...string) *fakeInspector {
	return &fakeInspector{
		units:      units,
		sigs:       make(map[string]domain.Signature),
		counts:     make(map[string][]int64),
		countIdx:   make(map[string]int),
		countCalls: make(map[string]int),
	}
}

func (f *fakeInspector) ListUnits(ctx context.Context) ([]string, error) {
	return f.units, nil
}

func (f *fakeInspector) UnitSignature(ctx context.Context, unit string) (domain.Signature, error) {
	return f.sigs[unit], nil
}

func (f *fakeInspector) CountRows(ctx context.Context, unit string) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	f.countCalls[unit]++

	seq := f.counts[unit]
	idx := f.countIdx[unit]
	if idx >= len(seq) {
		idx = len(seq) - 1
	}
	f.countIdx[unit]++
	return seq[idx], nil
}

func (f *fakeInspector) totalCountCalls() int {
	total := 0
	for _, n := range f.countCalls {
		total += n
	}
	return total
}

var usersSig = domain.Signature{
	{Name: "id", DataType: "bigint", Nullable: false},
	{Name: "email", DataType: "text", Nullable: false},
	{Name: "created_at", DataType: "timestamp", Nullable: true, Default: "now()"},
}

func testVerifier() *Verifier {
	return New(zap.NewNop().Sugar())
}

func noRetry() retry.Policy {
	return retry.Policy{Retries: 0, Delay: 0}
}

func TestVerifyExactMatch(t *testing.T) {
	source := newFakeInspector("users")
	source.sigs["users"] = usersSig
	source.counts["users"] = []int64{1000}

	restored := newFakeInspector("users")
	restored.sigs["users"] = usersSig
	restored.counts["users"] = []int64{1000}

	report, err := testVerifier().Verify(context.Background(), source, restored, 1.0, noRetry())
	require.NoError(t, err)

	assert.True(t, report.Success())
	require.Len(t, report.Units, 1)
	assert.Equal(t, StatusExact, report.Units[0].Status)
	assert.Equal(t, int64(0), report.Units[0].DiffPct)
}

func TestVerifyZeroSourceRequiresZeroRestored(t *testing.T) {
	for _, tc := range []struct {
		name      string
		restored  int64
		tolerance float64
		pass      bool
	}{
		{"both zero", 0, 0, true},
		{"both zero generous tolerance", 0, 100, true},
		{"restored nonzero", 5, 100, false},
		{"restored one huge tolerance", 1, 1000, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			source := newFakeInspector("t")
			source.counts["t"] = []int64{0}
			restored := newFakeInspector("t")
			restored.counts["t"] = []int64{tc.restored}

			report, err := testVerifier().Verify(context.Background(), source, restored, tc.tolerance, noRetry())
			require.NoError(t, err)
			assert.Equal(t, tc.pass, report.Success())
		})
	}
}

func TestVerifyToleranceBoundaryInclusive(t *testing.T) {
	for _, tc := range []struct {
		name     string
		source   int64
		restored int64
		pass     bool
		status   UnitStatus
	}{
		{"exact", 1000, 1000, true, StatusExact},
		{"half percent under tolerance", 1000, 995, true, StatusWithinTolerance},
		{"exactly at tolerance", 1000, 990, true, StatusWithinTolerance},
		{"truncates toward zero", 1000, 989, true, StatusWithinTolerance},
		{"two percent over", 1000, 980, false, StatusFailed},
		{"restored larger", 1000, 1020, false, StatusFailed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			source := newFakeInspector("t")
			source.counts["t"] = []int64{tc.source}
			restored := newFakeInspector("t")
			restored.counts["t"] = []int64{tc.restored}

			report, err := testVerifier().Verify(context.Background(), source, restored, 1.0, noRetry())
			require.NoError(t, err)
			assert.Equal(t, tc.pass, report.Success())
			require.Len(t, report.Units, 1)
			assert.Equal(t, tc.status, report.Units[0].Status)
		})
	}
}

func TestVerifyRetriesThenSucceeds(t *testing.T) {
	source := newFakeInspector("t")
	source.counts["t"] = []int64{1000}

	// Fails twice, then drifts back inside tolerance.
	restored := newFakeInspector("t")
	restored.counts["t"] = []int64{900, 900, 995}

	report, err := testVerifier().Verify(context.Background(), source, restored, 1.0, retry.Policy{Retries: 3})
	require.NoError(t, err)

	assert.True(t, report.Success())
	require.Len(t, report.Units, 1)
	assert.Equal(t, 3, report.Units[0].Attempts)
	// Exactly k+1 queries against each side for k failures.
	assert.Equal(t, 3, source.countCalls["t"])
	assert.Equal(t, 3, restored.countCalls["t"])
}

func TestVerifyRetriesExhausted(t *testing.T) {
	source := newFakeInspector("t")
	source.counts["t"] = []int64{1000}
	restored := newFakeInspector("t")
	restored.counts["t"] = []int64{1020}

	report, err := testVerifier().Verify(context.Background(), source, restored, 1.0, retry.Policy{Retries: 3})
	require.NoError(t, err)

	assert.False(t, report.Success())
	require.Len(t, report.Units, 1)
	assert.Equal(t, StatusFailed, report.Units[0].Status)
	assert.Equal(t, 4, report.Units[0].Attempts)
	assert.Equal(t, 4, source.countCalls["t"])
}

func TestVerifyStructuralMismatchNeverRetried(t *testing.T) {
	source := newFakeInspector("users")
	source.sigs["users"] = usersSig
	source.counts["users"] = []int64{1000}

	driftedSig := append(domain.Signature{}, usersSig...)
	driftedSig[1].DataType = "varchar(255)"

	restored := newFakeInspector("users")
	restored.sigs["users"] = driftedSig
	restored.counts["users"] = []int64{1000}

	report, err := testVerifier().Verify(context.Background(), source, restored, 1.0, retry.Policy{Retries: 5})
	require.NoError(t, err)

	assert.False(t, report.Success())
	require.Len(t, report.Units, 1)
	assert.Equal(t, CheckStructure, report.Units[0].Check)
	assert.Equal(t, StatusFailed, report.Units[0].Status)

	// Zero cardinality queries on either side.
	assert.Equal(t, 0, source.totalCountCalls())
	assert.Equal(t, 0, restored.totalCountCalls())
}

func TestVerifyScenarioMixedUnits(t *testing.T) {
	source := newFakeInspector("users", "orders")
	source.counts["users"] = []int64{1000}
	source.counts["orders"] = []int64{1000}

	restored := newFakeInspector("users", "orders")
	restored.counts["users"] = []int64{995}
	restored.counts["orders"] = []int64{1020}

	report, err := testVerifier().Verify(context.Background(), source, restored, 1.0, retry.Policy{Retries: 2})
	require.NoError(t, err)

	assert.False(t, report.Success())
	require.Len(t, report.Units, 2)

	byName := map[string]UnitResult{}
	for _, u := range report.Units {
		byName[u.Name] = u
	}
	assert.Equal(t, StatusWithinTolerance, byName["users"].Status)
	assert.Equal(t, StatusFailed, byName["orders"].Status)
	assert.Equal(t, 3, byName["orders"].Attempts)
	assert.Equal(t, []string{"orders"}, report.FailedUnits())
}

func TestVerifyMissingUnitFailsImmediately(t *testing.T) {
	source := newFakeInspector("a", "b", "c")
	restored := newFakeInspector("a", "b")

	report, err := testVerifier().Verify(context.Background(), source, restored, 1.0, retry.Policy{Retries: 3})
	require.NoError(t, err)

	assert.False(t, report.Success())
	assert.Equal(t, []string{"c"}, report.MissingUnits)
	assert.Contains(t, report.Summary(), "missing unit c")

	// No per-unit checks are performed at all; the only result is the
	// set-check failure itself.
	assert.Equal(t, 0, source.totalCountCalls())
	assert.Equal(t, 0, restored.totalCountCalls())
	require.Len(t, report.Units, 1)
	assert.Equal(t, CheckUnitSet, report.Units[0].Check)
	assert.Equal(t, StatusFailed, report.Units[0].Status)
	assert.Equal(t, []string{"c"}, report.FailedUnits())
}

func TestVerifyExtraUnitFails(t *testing.T) {
	source := newFakeInspector("a")
	restored := newFakeInspector("a", "b")

	report, err := testVerifier().Verify(context.Background(), source, restored, 1.0, noRetry())
	require.NoError(t, err)

	assert.False(t, report.Success())
	assert.Equal(t, []string{"b"}, report.ExtraUnits)
	require.Len(t, report.Units, 1)
	assert.Equal(t, CheckUnitSet, report.Units[0].Check)
	assert.Equal(t, "b", report.Units[0].Name)
}

func TestVerifyQueryFailureSurfacesAsError(t *testing.T) {
	source := newFakeInspector("t")
	source.counts["t"] = []int64{10}
	source.countErr = errors.New("connection reset")

	restored := newFakeInspector("t")
	restored.counts["t"] = []int64{10}

	report, err := testVerifier().Verify(context.Background(), source, restored, 1.0, retry.Policy{Retries: 3})
	require.Error(t, err)
	assert.Nil(t, report)
}
