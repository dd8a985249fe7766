package beaconerr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapAndGetKind(t *testing.T) {
	err := New(KindTransient, "db unreachable")
	kind, ok := GetKind(err)
	require.True(t, ok)
	require.Equal(t, KindTransient, kind)
	require.True(t, Is(err, KindTransient))
	require.False(t, Is(err, KindConfig))
}

func TestUnclassifiedError(t *testing.T) {
	_, ok := GetKind(nil)
	require.False(t, ok)
}

func TestFatalAndSkipClassification(t *testing.T) {
	require.True(t, IsFatal(KindChainViolation))
	require.True(t, IsFatal(KindConfig))
	require.False(t, IsFatal(KindTransient))

	require.True(t, IsSkip(KindRandomnessFailure))
	require.True(t, IsSkip(KindSignerFatal))
	require.False(t, IsSkip(KindChainViolation))
}

func TestNewf(t *testing.T) {
	err := Newf(KindStitchFailure, "resolver %s failed", "http://example")
	require.Contains(t, err.Error(), "resolver http://example failed")
	require.True(t, Is(err, KindStitchFailure))
}
