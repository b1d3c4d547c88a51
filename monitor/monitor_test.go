package monitor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInProcessStoresLatestValue(t *testing.T) {
	c := NewInProcess()
	c.WriteMonitorPoint("latest_frequency", 75e6, "Hz")
	c.WriteMonitorPoint("latest_frequency", 80e6, "Hz")

	p, ok := c.Get("latest_frequency")
	require.True(t, ok)
	require.Equal(t, 80e6, p.Value)
	require.Equal(t, "Hz", p.Unit)
}

func TestGetUnknownPoint(t *testing.T) {
	c := NewInProcess()
	_, ok := c.Get("nope")
	require.False(t, ok)
}
