package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseQuotaSecondsLiteralWorkedExample(t *testing.T) {
	seconds, err := ParseQuotaSeconds("1w 2d 3:30")
	require.NoError(t, err)
	require.InDelta(t, 790200, seconds, 1e-6)
}

func TestParseQuotaSecondsBareIntegerIsMinutes(t *testing.T) {
	seconds, err := ParseQuotaSeconds("90")
	require.NoError(t, err)
	require.InDelta(t, 90*60, seconds, 1e-6)
}

func TestParseQuotaSecondsEmptyStringIsZero(t *testing.T) {
	seconds, err := ParseQuotaSeconds("")
	require.NoError(t, err)
	require.Equal(t, 0.0, seconds)
}

func TestParseQuotaSecondsTrailingEmptyAfterPrefixIsZero(t *testing.T) {
	seconds, err := ParseQuotaSeconds("1w 2d :")
	require.NoError(t, err)
	require.InDelta(t, (7*24+2*24)*3600, seconds, 1e-6)
}

func TestParseQuotaSecondsRejectsMalformedField(t *testing.T) {
	_, err := ParseQuotaSeconds("1w abc")
	require.Error(t, err)
}

func TestMCSIdentifierSlowMode(t *testing.T) {
	id := MCSIdentifier(false, "192.168.1.42", 7147)
	require.Equal(t, "drvs4247", id)
}

func TestMCSIdentifierFastMode(t *testing.T) {
	id := MCSIdentifier(true, "192.168.1.42", 7147)
	require.Equal(t, "drvf4247", id)
}
