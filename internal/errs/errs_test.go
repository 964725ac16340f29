package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorStringCarriesLocation(t *testing.T) {
	err := New(KindCardinalityTolerance, "source=1000 restored=1020 diff=2%").
		WithStage("VALIDATING").
		WithUnit("orders")

	msg := err.Error()
	assert.Contains(t, msg, "cardinality_tolerance")
	assert.Contains(t, msg, "[VALIDATING]")
	assert.Contains(t, msg, "unit=orders")
	assert.Contains(t, msg, "diff=2%")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("exit status 1")
	err := Wrap(KindCapture, "capture failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "exit status 1")
}

func TestIsMatchesOnKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(KindTransfer, "copy failed").WithStage("STAGED"))

	assert.True(t, errors.Is(err, &Error{Kind: KindTransfer}))
	assert.False(t, errors.Is(err, &Error{Kind: KindRestore}))
}

func TestKindOf(t *testing.T) {
	inner := New(KindInterrupted, "signal received")
	wrapped := fmt.Errorf("job aborted: %w", inner)

	assert.Equal(t, KindInterrupted, KindOf(wrapped))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestWithStageReturnsCopy(t *testing.T) {
	base := New(KindRestore, "restore failed")
	staged := base.WithStage("RESTORING")

	require.NotSame(t, base, staged)
	assert.Empty(t, base.Stage)
	assert.Equal(t, "RESTORING", staged.Stage)
}
