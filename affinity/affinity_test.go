package affinity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCoresAcceptsInRangeValues(t *testing.T) {
	require.NoError(t, ParseCores([]int{0}))
}

func TestParseCoresRejectsOutOfRangeValue(t *testing.T) {
	require.Error(t, ParseCores([]int{1 << 20}))
}

func TestParseCoresRejectsNegativeValue(t *testing.T) {
	require.Error(t, ParseCores([]int{-1}))
}

func TestPinWithNegativeCoreOnlyLocksThread(t *testing.T) {
	require.NotPanics(t, func() { Pin(-1, nil) })
}
