package capture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileRxStatsSourceParsesGoodAndMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats")
	require.NoError(t, os.WriteFile(path, []byte("100 5\n"), 0o644))

	src := FileRxStatsSource{Path: path}
	good, missing, err := src.Sample()
	require.NoError(t, err)
	require.Equal(t, int64(100), good)
	require.Equal(t, int64(5), missing)
}

func TestFileRxStatsSourceErrorsOnMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats")
	require.NoError(t, os.WriteFile(path, []byte("not-a-number\n"), 0o644))

	src := FileRxStatsSource{Path: path}
	_, _, err := src.Sample()
	require.Error(t, err)
}

func TestConnRxStatsSourceReportsZeroMissing(t *testing.T) {
	src := ConnRxStatsSource{Source: &UDPPacketSource{}}
	good, missing, err := src.Sample()
	require.NoError(t, err)
	require.Equal(t, int64(0), good)
	require.Equal(t, int64(0), missing)
}
